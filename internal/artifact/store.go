// Package artifact provides access to the objects whose arrival triggers a dispatch.
package artifact

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for an absent artifact.
var ErrNotFound = errors.New("artifact not found")

// Object describes one stored artifact.
type Object struct {
	Name    string
	Size    uint64
	ModTime time.Time
}

// Store addresses artifacts by name.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete removes name. Deleting an absent artifact succeeds.
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	// Watch reports every present artifact followed by new arrivals until ctx ends.
	Watch(ctx context.Context) (<-chan Object, error)
}
