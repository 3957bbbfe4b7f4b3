package storage

import (
	"context"
	"errors"
	"time"

	"regionscan/internal/remote"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty or "none", the memory driver is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store persists resource descriptors. Implementations are safe for
// concurrent use by many workers.
type Store interface {
	// PutResource inserts or replaces r, keyed by r.Target and r.ID.
	PutResource(ctx context.Context, r remote.Resource) error
	// ListResources returns the target's resources ordered by id.
	ListResources(ctx context.Context, t remote.Target) ([]remote.Resource, error)
	// DeleteTarget drops every resource of t and reports how many were removed.
	DeleteTarget(ctx context.Context, t remote.Target) (int, error)
	Close() error
}
