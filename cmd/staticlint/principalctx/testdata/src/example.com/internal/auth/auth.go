package auth

import "context"

type key string

func WithUser(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, key("user"), id)
}
