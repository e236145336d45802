package testutil

import (
	"context"
	"net/http"

	bridge "github.com/relayhq/bridge/internal"
)

// FakeAuth always authenticates successfully.
type FakeAuth struct{}

// Authenticate returns a fixed test identity.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*bridge.Identity, error) {
	return &bridge.Identity{KeyID: "test-key", KeyPrefix: "sk-test"}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*bridge.Identity, error) {
	return nil, bridge.ErrUnauthorized
}
