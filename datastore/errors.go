package datastore

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchEntity is returned when no entity exists for a key.
	ErrNoSuchEntity = errors.New("strata: no such entity")

	// ErrInvalidKey is returned for keys that cannot be encoded losslessly.
	ErrInvalidKey = errors.New("strata: invalid key")

	// ErrInvalidEntity is returned for entities that cannot be stored as given.
	ErrInvalidEntity = errors.New("strata: invalid entity")

	// ErrUnsupportedType is returned when a property value cannot be
	// represented in the backend without ambiguity.
	ErrUnsupportedType = errors.New("strata: unsupported property value type")

	// ErrUnsupportedQuery is returned for query shapes the backend cannot
	// serve: bad operands, too many components, or inequality filters on
	// multiple properties without a covering index.
	ErrUnsupportedQuery = errors.New("strata: unsupported query shape")

	// ErrIndexMissing is returned in strict index mode when a query needs a
	// composite index and none matching its shape is declared.
	ErrIndexMissing = errors.New("strata: no matching composite index declared")

	// ErrCrossGroup is returned when a transactional operation targets a
	// different entity group than the one the transaction is pinned to.
	ErrCrossGroup = errors.New("strata: transaction crosses entity groups")

	// ErrTxnDone is returned for operations on a committed or rolled-back
	// transaction.
	ErrTxnDone = errors.New("strata: transaction already committed or rolled back")

	// ErrInvalidCursor is returned for cursor tokens this store did not issue
	// or that do not match the query they are applied to.
	ErrInvalidCursor = errors.New("strata: invalid cursor")

	// ErrBackendUnavailable is returned when the backend cannot be reached or
	// the operation's context expired. Operations are never retried here;
	// retry policy belongs to the caller.
	ErrBackendUnavailable = errors.New("strata: backend unavailable")

	// Done is returned by Iterator.Next when the result set is exhausted.
	Done = errors.New("strata: query has no more results")
)

// PartialCommitError reports a best-effort transaction commit that failed part
// way through. Operations before Index were applied and are not rolled back;
// operations from Index on were not attempted.
type PartialCommitError struct {
	// Txn is the handle of the failed transaction.
	Txn string

	// Index is the position of the first failed operation in commit order.
	Index int

	// Applied is the number of operations applied before the failure.
	Applied int

	// Err is the failure of the operation at Index.
	Err error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("strata: transaction %s commit failed at operation %d (%d applied, not rolled back): %v",
		e.Txn, e.Index, e.Applied, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }
