package interfaces

import (
	"context"

	"tutorhub/pkg/types"
)

// SessionResolver recovers an already-established identity from a
// connection's opaque session token. No new identities are created here;
// the external identity flow owns enrollment.
type SessionResolver interface {
	// Resolve returns the identity behind token. Empty tokens fail with
	// ErrUnauthenticated; tokens that resolve to no stored record fail
	// with ErrUnknownIdentity. Callers must terminate the connection on
	// either failure.
	Resolve(ctx context.Context, token string) (*types.Identity, error)
}
