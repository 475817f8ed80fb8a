// Package auth resolves bearer tokens to the identity performing a request.
// Handlers never read the identity from an ambient request context: the
// Guard authenticates a request and passes the resulting Principal to the
// handler explicitly.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/metrics"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

// Principal is an authenticated (user, token) pair.
type Principal struct {
	// UserID identifies the task owner.
	UserID string

	// TokenID identifies the token the request was made with, so that the
	// token can later be revoked.
	TokenID string
}

// TokenResolver turns a raw bearer token into a Principal. Any error means
// the token must be rejected.
type TokenResolver interface {
	ResolveToken(ctx context.Context, rawToken string) (Principal, error)
}

// TokenResolverFunc adapts a function to TokenResolver.
type TokenResolverFunc func(ctx context.Context, rawToken string) (Principal, error)

func (f TokenResolverFunc) ResolveToken(ctx context.Context, rawToken string) (Principal, error) {
	return f(ctx, rawToken)
}

// ErrUnauthenticated is returned for a missing, malformed, unknown, expired or
// revoked token.
var ErrUnauthenticated = errors.New("unauthenticated")

// UnauthenticatedMessage is the error text sent to unauthenticated clients.
const UnauthenticatedMessage = "Please authenticate."

const bearerPrefix = "Bearer "

// AuthenticatedHandlerFunc is an HTTP handler that needs the caller identity.
type AuthenticatedHandlerFunc func(response http.ResponseWriter, request *http.Request, principal Principal)

// Guard authenticates requests against a TokenResolver.
type Guard struct {
	resolver TokenResolver
}

// New creates a Guard backed by resolver.
func New(resolver TokenResolver) *Guard {
	return &Guard{resolver: resolver}
}

// Authenticate resolves the request's Authorization header.
func (g *Guard) Authenticate(request *http.Request) (Principal, error) {
	return g.AuthenticateHeader(request.Context(), request.Header.Get("Authorization"))
}

// AuthenticateHeader resolves a raw "Bearer <token>" header value. It is shared
// by the HTTP and gRPC transports.
func (g *Guard) AuthenticateHeader(ctx context.Context, header string) (Principal, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return Principal{}, ErrUnauthenticated
	}
	rawToken := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if rawToken == "" {
		return Principal{}, ErrUnauthenticated
	}

	principal, err := g.resolver.ResolveToken(ctx, rawToken)
	if err != nil {
		logger.Log.Debugln("Error calling the `g.resolver.ResolveToken()`: ", zap.Error(err))
		return Principal{}, ErrUnauthenticated
	}
	if principal.UserID == "" {
		return Principal{}, ErrUnauthenticated
	}

	return principal, nil
}

// Protect runs h only for authenticated requests. Everything else gets 401
// before the body or query string is looked at.
func (g *Guard) Protect(h AuthenticatedHandlerFunc) http.HandlerFunc {
	return func(response http.ResponseWriter, request *http.Request) {
		principal, err := g.Authenticate(request)
		if err != nil {
			metrics.AuthFailures.WithLabelValues("http").Inc()
			writeUnauthenticated(response)
			return
		}

		h(response, request, principal)
	}
}

func writeUnauthenticated(response http.ResponseWriter) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusUnauthorized)
	err := json.NewEncoder(response).Encode(models.ErrorResponse{Error: UnauthenticatedMessage})
	if err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder(response).Encode()`: ", zap.Error(err))
	}
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// PrincipalKey is the context key the gRPC transport stores the Principal
// under once its interceptor has authenticated the call.
const PrincipalKey ContextKey = "principal"

// WithPrincipal returns a copy of ctx carrying principal.
func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// PrincipalFromContext extracts a Principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(PrincipalKey).(Principal)
	return principal, ok && principal.UserID != ""
}
