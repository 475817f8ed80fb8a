package handlers

import "context"

type key string

func Handle(ctx context.Context, userID string) context.Context {
	_ = context.Background()
	return context.WithValue(ctx, key("user"), userID) // want "context.WithValue outside internal/auth"
}
