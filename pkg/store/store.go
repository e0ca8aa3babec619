// Package store provides the persistence backends for call records, alerts,
// and insight aggregates. Call updates go exclusively through a
// compare-and-set contract on the record version; there is no blind write.
package store

import (
	"context"
	"time"

	"callinsight-server/pkg/call"
)

// CallStore is the call record persistence contract. Implementations must
// make CompareAndSet atomic with respect to concurrent writers: the update
// applies only if the stored version still equals expectedVersion.
type CallStore interface {
	// Create inserts a new call record. A reused call_id yields
	// errors.ErrCallAlreadyExists.
	Create(ctx context.Context, c *call.Call) error

	// Get returns the current record or errors.ErrCallNotFound.
	Get(ctx context.Context, callID string) (*call.Call, error)

	// CompareAndSet applies the patch and bumps the version iff the stored
	// version equals expectedVersion; otherwise it returns
	// errors.ErrVersionMismatch and leaves the record untouched. The
	// updated record is returned on success.
	CompareAndSet(ctx context.Context, callID string, expectedVersion int64, patch call.Patch) (*call.Call, error)

	// ListByStatus returns calls in the given status whose updated_at falls
	// in [from, to). A zero "to" means no upper bound.
	ListByStatus(ctx context.Context, status call.Status, from, to time.Time) ([]*call.Call, error)

	// ListStale returns calls sitting in one of the given statuses with
	// updated_at older than the cutoff, for the staleness sweep.
	ListStale(ctx context.Context, statuses []call.Status, olderThan time.Time) ([]*call.Call, error)
}
