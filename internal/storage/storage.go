// Package storage defines the record store and blob store contracts plus the
// table layout shared by every relational backend.
//
// Stores are append-only. Duplicates produced by re-crawls or re-flushes are
// removed by Reconcile, which keeps the most recently inserted row per
// natural key and is idempotent.
package storage

import (
	"context"
	"io"

	"github.com/JakeFAU/appstore-crawler/internal/model"
)

// Store persists extracted records.
type Store interface {
	// Append writes records of one kind in a single transaction. Either all
	// rows land or none do.
	Append(ctx context.Context, kind model.Kind, records []model.Record) error
	// Reconcile removes all but the newest row per natural key.
	Reconcile(ctx context.Context) (ReconcileResult, error)
	Close() error
}

// Reader loads every row of a table, oldest first.
type Reader interface {
	Load(ctx context.Context, kind model.Kind) ([]model.Record, error)
}

// ReadStore is a Store that can also be read back.
type ReadStore interface {
	Store
	Reader
}

// ReconcileResult reports the rows removed per table.
type ReconcileResult struct {
	Removed map[string]int64 `json:"removed"`
	Pruned  map[string]int64 `json:"pruned,omitempty"`
	// Skipped lists tables whose pass failed or that do not exist yet.
	Skipped []string `json:"skipped,omitempty"`
}

// Total returns the number of rows removed across all tables.
func (r ReconcileResult) Total() int64 {
	var n int64
	for _, v := range r.Removed {
		n += v
	}
	for _, v := range r.Pruned {
		n += v
	}
	return n
}

// BlobStore writes whole objects such as table exports.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}
