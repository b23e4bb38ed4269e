package datastore

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Cursor is an opaque token marking a position in a query's result order. A
// cursor from one page resumes the same query deterministically, including
// under ties on the sort property, because every query runs with a key
// tie-break appended to its sort order.
type Cursor string

func (c Cursor) String() string { return string(c) }

// DecodeCursor validates an externally supplied token.
func DecodeCursor(s string) (Cursor, error) {
	if _, err := decodeCursorPayload(Cursor(s)); err != nil {
		return "", err
	}
	return Cursor(s), nil
}

// cursorPayload is what a token encodes: the last-seen document id and the
// last-seen backend values of each non-key sort field, in sort order.
type cursorPayload struct {
	ID   string `bson:"id"`
	Sort bson.A `bson:"sv"`
}

func encodeCursorPayload(p cursorPayload) (Cursor, error) {
	raw, err := bson.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return Cursor(base64.RawURLEncoding.EncodeToString(raw)), nil
}

func decodeCursorPayload(c Cursor) (cursorPayload, error) {
	var p cursorPayload
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if err := bson.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if p.ID == "" {
		return p, fmt.Errorf("%w: token carries no position", ErrInvalidCursor)
	}
	return p, nil
}

// Iterator walks a query's results.
type Iterator struct {
	docs docCursor
	spec *querySpec
	err  error
	done bool

	lastID   string
	lastSort bson.A
}

// emptyIterator serves queries proven empty before reaching the backend.
func emptyIterator(spec *querySpec) *Iterator {
	return &Iterator{spec: spec, done: true}
}

// Next returns the next entity, or Done when the result set is exhausted.
func (it *Iterator) Next(ctx context.Context) (*Entity, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.done {
		return nil, Done
	}

	doc, ok, err := it.docs.next(ctx)
	if err != nil {
		it.err = fmt.Errorf("%w: iterating %s query: %v", ErrBackendUnavailable, it.spec.kind, err)
		return nil, it.err
	}
	if !ok {
		it.done = true
		return nil, Done
	}

	e, err := entityForDoc(doc)
	if err != nil {
		it.err = err
		return nil, err
	}

	// Track the position for Cursor. Sort values come from the raw document
	// so list sort keys and class-tagged values stay in backend form.
	id, _ := docString(doc, docID)
	it.lastID = id
	it.lastSort = it.lastSort[:0]
	for _, sf := range it.spec.sortFields[:len(it.spec.sortFields)-1] {
		v, _ := lookupPath(doc, sf.path)
		it.lastSort = append(it.lastSort, v)
	}
	return e, nil
}

// Cursor returns a token resuming the query immediately after the last
// entity returned by Next. Calling it before any result was returned is an
// error.
func (it *Iterator) Cursor() (Cursor, error) {
	if it.lastID == "" {
		return "", fmt.Errorf("%w: no results consumed yet", ErrInvalidCursor)
	}
	return encodeCursorPayload(cursorPayload{ID: it.lastID, Sort: it.lastSort})
}

// Close releases the backend cursor. Iterators drained to Done are closed
// implicitly.
func (it *Iterator) Close(ctx context.Context) error {
	if it.docs == nil {
		return nil
	}
	return it.docs.close(ctx)
}

// lookupPath resolves a dotted document path against an order-preserving
// document.
func lookupPath(doc bson.D, path string) (interface{}, bool) {
	segs := strings.Split(path, ".")
	var cur interface{} = doc
	for _, seg := range segs {
		d, ok := cur.(bson.D)
		if !ok {
			return nil, false
		}
		cur, ok = docField(d, seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
