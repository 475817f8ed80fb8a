// Package interceptor holds the unary interceptors of the gRPC server.
package interceptor

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/patric-chuzhbe/tasktracker/internal/auth"
	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/metrics"
)

// Authenticator resolves an "authorization" metadata value; *auth.Guard
// implements it.
type Authenticator interface {
	AuthenticateHeader(ctx context.Context, header string) (auth.Principal, error)
}

type AuthInterceptor struct {
	guard Authenticator
}

func NewAuthInterceptor(guard Authenticator) *AuthInterceptor {
	return &AuthInterceptor{guard: guard}
}

// UnaryAuthInterceptor rejects calls to protectedMethods that carry no valid
// bearer token, and stores the Principal in the context of those that do.
func (a *AuthInterceptor) UnaryAuthInterceptor(protectedMethods []string) grpc.UnaryServerInterceptor {
	protected := make(map[string]struct{}, len(protectedMethods))
	for _, m := range protectedMethods {
		protected[m] = struct{}{}
	}

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if _, ok := protected[info.FullMethod]; !ok {
			return handler(ctx, req)
		}

		header := ""
		md, _ := metadata.FromIncomingContext(ctx)
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}

		principal, err := a.guard.AuthenticateHeader(ctx, header)
		if err != nil {
			logger.Log.Debugln("Error calling the `a.guard.AuthenticateHeader()`: ", zap.Error(err))
			metrics.AuthFailures.WithLabelValues("grpc").Inc()
			return nil, status.Error(codes.Unauthenticated, auth.UnauthenticatedMessage)
		}

		return handler(auth.WithPrincipal(ctx, principal), req)
	}
}
