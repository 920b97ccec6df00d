package engine

import (
	"context"
	"errors"

	"github.com/satchelhq/satchel/internal/record"
	"github.com/satchelhq/satchel/internal/store"
)

// Gateway is the engine's view of the remote source of truth. The
// engine calls it exactly twice per entity group: once to fetch the
// authoritative state before conflict detection, and once to push the
// winning state after a non-remote resolution.
//
// Implementations must tolerate repeated pushes of the same state;
// a group whose push succeeded but whose local adoption failed is
// retried on the next pass.
type Gateway interface {
	// FetchProgress returns the authoritative progress for one entity,
	// or nil when the remote side has none.
	FetchProgress(ctx context.Context, courseID, moduleID string) (*record.Progress, error)

	// PushProgress uploads a resolved progress row.
	PushProgress(ctx context.Context, p *record.Progress) error
}

// StoreGateway resolves sync against locally durable state. It stands
// in for a real network client: fetches read the store's current
// progress row and pushes are accepted without transfer. A production
// deployment replaces it with a Gateway backed by the platform API.
type StoreGateway struct {
	Store *store.Store
}

// FetchProgress implements Gateway.FetchProgress.
func (g *StoreGateway) FetchProgress(ctx context.Context, courseID, moduleID string) (*record.Progress, error) {
	p, err := g.Store.GetProgressContext(ctx, courseID, moduleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PushProgress implements Gateway.PushProgress.
func (g *StoreGateway) PushProgress(ctx context.Context, p *record.Progress) error {
	return nil
}
