// Package datastore provides a hierarchical-key, typed-property persistence
// layer backed by MongoDB.
//
// Strata lets application code written against a datastore abstraction
// (entities with typed properties and ancestor-path keys) run against a
// single-node document store. Entities of each kind live in one collection;
// the full ancestor path is flattened into the document id, so ancestor
// queries are prefix matches on the id and need no index of their own.
//
// # Keys and entities
//
// A [Key] is a final (kind, identifier) pair beneath an optional chain of
// ancestors. Identifiers are either application-assigned names or numeric
// ids allocated by the store. An [Entity] is a key plus a bag of typed
// [Value] properties; every supported type survives a write-then-read cycle
// exactly, except timestamps, which are truncated to millisecond precision
// on write.
//
// # Ids
//
// Numeric ids come from a durable per-kind counter updated with an atomic
// backend increment. Allocation is strictly increasing across restarts and
// concurrent allocators, and ids are never reused.
//
// # Queries
//
// [Query] supports property filters, sort orders, ancestor constraints,
// offsets, limits and opaque pagination cursors. Every query runs with a key
// tie-break appended to its sort order, so cursors resume deterministically
// even under ties. Range filters on more than one property need a declared
// composite index; with Config.StrictIndexes set, such queries fail with
// [ErrIndexMissing] before reaching the backend unless the index is declared
// (see [Registry] and [LoadIndexFile]).
//
// # Transactions
//
// The backend has no multi-document transactions on a single node.
// [Transaction] batches put/delete operations against one entity group and
// applies them sequentially on Commit, best-effort: a warning is logged per
// commit, and a mid-batch failure surfaces as [PartialCommitError] naming the
// failing operation. Applied operations are not rolled back.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNoSuchEntity] - no entity stored under the key
//   - [ErrUnsupportedType] - property value the codec cannot represent
//   - [ErrUnsupportedQuery] - query shape the backend cannot serve
//   - [ErrIndexMissing] - strict mode, no matching index declared
//   - [ErrCrossGroup] - transaction spans entity groups
//   - [ErrBackendUnavailable] - connection or timeout failure, never retried
//   - [PartialCommitError] - non-atomic commit partially failed
package datastore
