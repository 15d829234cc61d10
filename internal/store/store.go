// Package store provides the backing-store interfaces and SQLite
// implementation. Records and links are read-only from this service's
// perspective; only policies are written.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/slicegate/internal/model"
)

// Errors surfaced by store implementations.
var (
	// ErrRecordNotFound reports a missing record id.
	ErrRecordNotFound = errors.New("record not found")
	// ErrUnavailable reports a backing-store failure the caller may retry.
	ErrUnavailable = errors.New("store unavailable")
)

// RecordReader is the read-only record store adapter consumed by the
// slice builder and the health probe loop.
type RecordReader interface {
	// GetRecord fetches a single record by id.
	GetRecord(ctx context.Context, id string) (*model.Record, error)

	// GetNeighbors returns all records of a thread with timestamps in
	// [from, to], ordered by timestamp then id. Zero from/to bounds are
	// open on that side.
	GetNeighbors(ctx context.Context, threadID string, from, to time.Time) ([]model.Record, error)

	// CountThread returns the total number of records in a thread,
	// ignoring any time window.
	CountThread(ctx context.Context, threadID string) (int, error)

	// GetLinked returns records explicitly linked to the given record,
	// in either direction, one hop.
	GetLinked(ctx context.Context, id string) ([]model.Record, error)

	// Ping probes backing-store connectivity.
	Ping(ctx context.Context) error
}

// PolicyStore persists registered policy versions. Append-only: a
// committed (id, version) row is never updated or deleted.
type PolicyStore interface {
	// SavePolicy appends a new policy version.
	SavePolicy(ctx context.Context, p model.Policy) error

	// LoadPolicies returns all policy versions in registration order.
	LoadPolicies(ctx context.Context) ([]model.Policy, error)
}
