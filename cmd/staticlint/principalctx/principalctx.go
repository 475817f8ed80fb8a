// Package principalctx defines an analyzer that keeps request identity out of
// ad-hoc context values. Handlers receive the authenticated principal as an
// argument; only the auth package may put it into a context, for transports
// that have no other way to pass it.
package principalctx

import (
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// allowedSuffix is the import path suffix of the package allowed to call
// context.WithValue.
const allowedSuffix = "internal/auth"

var Analyzer = &analysis.Analyzer{
	Name:     "principalctx",
	Doc:      "reports context.WithValue outside the auth package",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	if strings.HasSuffix(pass.Pkg.Path(), allowedSuffix) {
		return nil, nil
	}

	inspection := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	inspection.Preorder([]ast.Node{(*ast.CallExpr)(nil)}, func(n ast.Node) {
		call := n.(*ast.CallExpr)
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return
		}
		fn, ok := pass.TypesInfo.Uses[sel.Sel].(*types.Func)
		if !ok || fn.Pkg() == nil {
			return
		}
		if fn.Pkg().Path() == "context" && fn.Name() == "WithValue" {
			pass.Reportf(call.Pos(), "context.WithValue outside %s: pass the principal explicitly", allowedSuffix)
		}
	})

	return nil, nil
}
