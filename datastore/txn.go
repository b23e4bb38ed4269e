package datastore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// txnState tracks the transaction lifecycle: idle before any use, open while
// accepting operations, then committing or rolled back.
type txnState uint8

const (
	txnOpen txnState = iota
	txnCommitting
	txnCommitted
	txnRolledBack
)

type txnOpKind uint8

const (
	opPut txnOpKind = iota
	opDelete
)

type txnOp struct {
	kind   txnOpKind
	key    *Key
	entity *Entity
}

// Transaction batches operations against a single entity group and applies
// them on Commit — sequentially, best-effort, with no atomicity and no
// isolation. The backend has no multi-document transactions on a single
// node, and this layer does not pretend otherwise: the weakened contract is
// explicit, surfaced as a commit-time warning and, on partial failure, a
// PartialCommitError instead of a rollback.
//
// A Transaction is not safe for concurrent use.
type Transaction struct {
	store *Store
	id    uuid.UUID
	state txnState
	group *Key
	ops   []txnOp
}

// NewTransaction opens a transaction. All operations inside it must target
// one entity group; the first keyed operation pins the group.
func (s *Store) NewTransaction() *Transaction {
	return &Transaction{store: s, id: uuid.New()}
}

// ID returns the transaction handle used in log events and errors.
func (t *Transaction) ID() string { return t.id.String() }

// checkGroup pins the entity group on first use and rejects keys from any
// other group afterwards.
func (t *Transaction) checkGroup(key *Key) error {
	root := key.Root()
	if t.group == nil {
		t.group = root
		return nil
	}
	if !t.group.Equal(root) {
		return fmt.Errorf("%w: transaction %s is on group %s, operation targets %s",
			ErrCrossGroup, t.ID(), t.group, root)
	}
	return nil
}

// Get reads an entity inside the transaction. The read goes straight to the
// backend — there is no snapshot isolation — but the key must belong to the
// transaction's entity group.
func (t *Transaction) Get(ctx context.Context, key *Key) (*Entity, error) {
	if t.state != txnOpen {
		return nil, ErrTxnDone
	}
	if err := validateKeyForWrite(key); err != nil {
		return nil, err
	}
	// Reject before checkGroup so a bad key does not pin the group.
	if key.Incomplete() {
		return nil, fmt.Errorf("%w: get with incomplete key %s,?", ErrInvalidKey, key.Kind)
	}
	if err := t.checkGroup(key); err != nil {
		return nil, err
	}
	return t.store.Get(ctx, key)
}

// Put queues an entity write. An incomplete key is completed immediately via
// the allocator so the caller holds the final key before commit.
func (t *Transaction) Put(ctx context.Context, e *Entity) (*Key, error) {
	if t.state != txnOpen {
		return nil, ErrTxnDone
	}
	if e == nil || e.Key == nil {
		return nil, fmt.Errorf("%w: nil entity or key", ErrInvalidEntity)
	}
	key, err := t.store.completeKey(ctx, e.Key)
	if err != nil {
		return nil, err
	}
	if err := t.checkGroup(key); err != nil {
		return nil, err
	}
	// Encode now so a bad entity fails its own Put call, not the commit.
	if _, err := docForEntity(&Entity{Key: key, Properties: e.Properties}); err != nil {
		return nil, err
	}
	t.ops = append(t.ops, txnOp{kind: opPut, key: key, entity: &Entity{Key: key, Properties: e.Properties}})
	return key, nil
}

// Delete queues an entity removal.
func (t *Transaction) Delete(key *Key) error {
	if t.state != txnOpen {
		return ErrTxnDone
	}
	if err := validateKeyForWrite(key); err != nil {
		return err
	}
	if key.Incomplete() {
		return fmt.Errorf("%w: delete with incomplete key %s,?", ErrInvalidKey, key.Kind)
	}
	if err := t.checkGroup(key); err != nil {
		return err
	}
	t.ops = append(t.ops, txnOp{kind: opDelete, key: key})
	return nil
}

// Commit applies the queued operations in order. One warning is logged per
// commit stating that the batch runs without transactional guarantees. If an
// operation fails, the preceding operations stay applied and the failure is
// reported as a *PartialCommitError carrying the failing index; the caller
// must reconcile.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state != txnOpen {
		return ErrTxnDone
	}
	t.state = txnCommitting

	t.store.log.Warn().
		Str("txn", t.ID()).
		Str("group", t.group.String()).
		Int("ops", len(t.ops)).
		Msg("committing without transactional guarantees")

	for i, op := range t.ops {
		var err error
		switch op.kind {
		case opPut:
			_, err = t.store.Put(ctx, op.entity)
		case opDelete:
			err = t.store.Delete(ctx, op.key)
		}
		if err != nil {
			t.state = txnCommitted
			return &PartialCommitError{Txn: t.ID(), Index: i, Applied: i, Err: err}
		}
	}
	t.state = txnCommitted
	return nil
}

// Rollback discards the queued operations. Ids allocated for queued puts are
// not returned to the counter; they are simply never used.
func (t *Transaction) Rollback() error {
	if t.state != txnOpen {
		return ErrTxnDone
	}
	t.state = txnRolledBack
	t.ops = nil
	return nil
}

// RunInTransaction opens a transaction, runs f, and commits if f returns
// nil. A non-nil error from f rolls the queued operations back (nothing has
// touched the backend yet at that point).
func (s *Store) RunInTransaction(ctx context.Context, f func(*Transaction) error) error {
	t := s.NewTransaction()
	if err := f(t); err != nil {
		_ = t.Rollback()
		return err
	}
	return t.Commit(ctx)
}
