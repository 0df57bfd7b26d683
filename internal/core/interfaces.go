package core

import (
	"context"

	"invoicely/internal/types"
)

// Authenticator resolves a bearer token to the Actor it names.
//
// Implementations return ErrCodeAuthTokenExpired for expired tokens and
// ErrCodeAuthTokenInvalid for anything else they reject.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}
