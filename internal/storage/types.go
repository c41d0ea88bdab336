package storage

import (
	"context"
	"time"

	"contentpilot/internal/content"
	"contentpilot/internal/schedule"
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the dispatcher, workflows and notifier.
type Store interface {
	schedule.Store
	content.Repository

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}
