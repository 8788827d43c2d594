// Package store defines the document store the game core coordinates
// through, plus a Postgres implementation for multi-instance deployments.
// The in-memory implementation lives in package hub.
package store

import (
	"context"

	"github.com/DoyleJ11/fake-tasker-backend/internal/document"
	"github.com/DoyleJ11/fake-tasker-backend/internal/engine"
)

var (
	ErrNotFound = document.ErrNotFound
	ErrExists   = document.ErrExists
	ErrConflict = document.ErrConflict
)

// Store holds one document per game code.
//
// Update applies a partial-field write atomically. Subscribe delivers the
// current snapshot first, then converges on the latest snapshot after each
// change; intermediate versions may be skipped. A deleted document yields
// a snapshot with Exists=false, after which the channel is closed.
type Store interface {
	Create(ctx context.Context, code string, fields map[string]any) error
	Get(ctx context.Context, code string) (document.Snapshot, error)
	Update(ctx context.Context, code string, u engine.Update) (document.Snapshot, error)
	Delete(ctx context.Context, code string) error
	Subscribe(ctx context.Context, code string) (<-chan document.Snapshot, func(), error)
}
