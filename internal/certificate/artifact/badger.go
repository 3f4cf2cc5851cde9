package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"certledger/pkg/platform/sentinel"
)

const (
	badgerScheme    = "badger:"
	badgerKeyPrefix = "artifact/"
)

// BadgerStore keeps documents in an embedded badger database, for single-node
// deployments without shared storage. Locations are "badger:<name>".
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerStore opens a database in dir, or in memory when dir is empty.
func OpenBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = strings.TrimPrefix(name, "/")
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(name), data)
	})
	if err != nil {
		return "", fmt.Errorf("store artifact %s: %w", name, err)
	}
	return badgerScheme + name, nil
}

// Get returns the stored document, or sentinel.ErrNotFound.
func (s *BadgerStore) Get(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := badgerName(location)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	return data, nil
}

// Delete removes the document. Badger deletes of missing keys succeed.
func (s *BadgerStore) Delete(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := badgerName(location)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(name))
	})
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", name, err)
	}
	return nil
}

func badgerName(location string) (string, error) {
	name, ok := strings.CutPrefix(location, badgerScheme)
	if !ok || name == "" {
		return "", fmt.Errorf("%q: %w", location, ErrForeignLocation)
	}
	return name, nil
}

func badgerKey(name string) []byte {
	return []byte(badgerKeyPrefix + name)
}
