// Package session recovers already-established identities from the
// shared session store. The identity-provider flow that mints tokens is
// an external collaborator; nothing here creates identities.
package session

import (
	"context"
	"fmt"

	"tutorhub/pkg/interfaces"
	"tutorhub/pkg/types"
)

// Resolver resolves opaque session tokens against the shared store.
type Resolver struct {
	store interfaces.ConversationStore
}

// NewResolver creates a resolver backed by store.
func NewResolver(store interfaces.ConversationStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the identity behind token. An empty token fails with
// ErrUnauthenticated; a token or email that resolves to no stored record
// fails with ErrUnknownIdentity. The caller must terminate the
// connection on either failure without retaining partial state.
func (r *Resolver) Resolve(ctx context.Context, token string) (*types.Identity, error) {
	if token == "" {
		return nil, interfaces.ErrUnauthenticated
	}

	email, err := r.store.ResolveToken(ctx, token)
	if err != nil {
		return nil, err
	}

	identity, err := r.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("session resolved to missing user %s: %w", email, err)
	}
	return identity, nil
}
