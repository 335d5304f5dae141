package auth

import (
	"context"
	"sync/atomic"
)

type contextKey string

const requestStateKey contextKey = "authState"

type requestState struct {
	authenticated atomic.Bool
}

// WithRequestState returns a context that the API key guard can mark as
// authenticated. Handlers wrapping the guard read the mark back after the
// request completes.
func WithRequestState(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Value(requestStateKey).(*requestState); ok {
		return ctx
	}
	return context.WithValue(ctx, requestStateKey, &requestState{})
}

// Authenticated reports whether the request carried a valid API key.
func Authenticated(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	state, ok := ctx.Value(requestStateKey).(*requestState)
	if !ok {
		return false
	}
	return state.authenticated.Load()
}

func markAuthenticated(ctx context.Context) context.Context {
	state, ok := ctx.Value(requestStateKey).(*requestState)
	if !ok {
		state = &requestState{}
		ctx = context.WithValue(ctx, requestStateKey, state)
	}
	state.authenticated.Store(true)
	return ctx
}
