// Package memorystorage is a non-persistent storage used when neither a
// database DSN nor a storage file is configured. It shares the in-memory
// engine of jsondb.
package memorystorage

import (
	"context"

	"github.com/patric-chuzhbe/tasktracker/internal/db/jsondb"
)

type MemoryStorage struct {
	*jsondb.JSONDB
}

func New() (*MemoryStorage, error) {
	return &MemoryStorage{
		JSONDB: &jsondb.JSONDB{
			Cache: jsondb.NewCache(),
		},
	}, nil
}

func (theStorage *MemoryStorage) Close() error {
	return nil
}

func (theStorage *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}
