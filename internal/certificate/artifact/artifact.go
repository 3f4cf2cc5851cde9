// Package artifact stores rendered certificate documents. Every backend hands
// out opaque locations on Put and treats Delete of an absent document as done.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrForeignLocation is returned when a location was not issued by the store
// asked to act on it.
var ErrForeignLocation = errors.New("artifact location does not belong to this store")

// Store is the read-write view of an artifact backend.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Delete(ctx context.Context, location string) error
}

// Backend names accepted by Open.
const (
	BackendFilesystem = "filesystem"
	BackendGCS        = "gcs"
	BackendBadger     = "badger"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Dir is the filesystem root, or the badger directory. An empty badger
	// directory opens an in-memory database.
	Dir             string
	Bucket          string
	CredentialsFile string
	Logger          *slog.Logger
}

// Open builds the configured backend. The returned close function releases
// its client or database and is never nil.
func Open(ctx context.Context, cfg Config) (Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case BackendFilesystem, "":
		store, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case BackendGCS:
		var opts []GCSOption
		if cfg.CredentialsFile != "" {
			opts = append(opts, WithCredentialsFile(cfg.CredentialsFile))
		}
		store, err := NewGCSStore(ctx, cfg.Bucket, opts...)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case BackendBadger:
		store, err := OpenBadgerStore(cfg.Dir, cfg.Logger)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}
