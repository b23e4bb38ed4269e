package datastore

import (
	"fmt"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/quarrylabs/strata/internal/keypath"
)

// KeyProperty is the pseudo-property naming the entity key in filters and
// sort orders.
const KeyProperty = "__key__"

// FilterOperator is a comparison in a property filter.
type FilterOperator string

const (
	OpEqual     FilterOperator = "="
	OpNotEqual  FilterOperator = "!="
	OpLess      FilterOperator = "<"
	OpLessEq    FilterOperator = "<="
	OpGreater   FilterOperator = ">"
	OpGreaterEq FilterOperator = ">="
	OpIn        FilterOperator = "in"
)

// Limits on query size.
const (
	maxQueryComponents = 100
	maxQueryOffset     = 1000
)

type filter struct {
	property string
	op       FilterOperator
	value    Value
}

type order struct {
	property   string
	descending bool
}

// Query describes a structured query over one kind. Methods mutate and
// return the query for chaining.
type Query struct {
	kind     string
	ancestor *Key
	filters  []filter
	orders   []order
	limit    int
	offset   int
	start    Cursor
}

// NewQuery creates a query over the given kind.
func NewQuery(kind string) *Query {
	return &Query{kind: kind}
}

// Ancestor restricts results to the ancestor's entity group: the ancestor
// itself and everything beneath it.
func (q *Query) Ancestor(k *Key) *Query {
	q.ancestor = k
	return q
}

// Filter adds a property filter. Use KeyProperty with a key value to filter
// on the entity key; OpIn takes a list value naming the permitted set.
func (q *Query) Filter(property string, op FilterOperator, v Value) *Query {
	q.filters = append(q.filters, filter{property: property, op: op, value: v})
	return q
}

// Order adds a sort order. A "-" prefix sorts descending.
func (q *Query) Order(property string) *Query {
	o := order{property: property}
	if strings.HasPrefix(property, "-") {
		o.property = property[1:]
		o.descending = true
	}
	q.orders = append(q.orders, o)
	return q
}

// Limit caps the number of results. Zero means no limit.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Offset skips n results. When resuming from a cursor the skip applies after
// the cursor position, not instead of it.
func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

// Start resumes the query from a cursor previously issued for the same query
// shape.
func (q *Query) Start(c Cursor) *Query {
	q.start = c
	return q
}

// querySpec is a translated query: the backend filter and sort documents
// plus result truncation, ready to execute.
type querySpec struct {
	kind   string
	filter bson.D
	sort   bson.D
	skip   int64
	limit  int64

	// sortFields mirrors sort and records, per position, the document path
	// sorted on and the application property behind it. The final entry is
	// always the key tie-break on _id.
	sortFields []sortField

	// none marks a query proven unsatisfiable at translation time; it runs
	// against nothing and returns no results.
	none bool
}

type sortField struct {
	path       string
	property   string
	descending bool
}

// translateOpts carries per-collection knowledge into translation.
type translateOpts struct {
	// listProps names properties stored as tagged list documents, learned
	// from a sampled document of the kind. List properties filter on their
	// elements and sort on their min/max sort keys.
	listProps map[string]bool

	// indexCovered reports that a declared composite index covers this
	// query's shape, lifting the single-inequality-property restriction.
	indexCovered bool
}

// condition accumulates all filter terms addressing one document path.
type condition struct {
	path    string
	eq      []interface{}
	ops     bson.D
	pattern string
}

// translateQuery converts a structured query into a backend query
// specification. It is pure: all backend knowledge arrives via opts.
func translateQuery(q *Query, opts translateOpts) (*querySpec, error) {
	if q.kind == "" {
		return nil, fmt.Errorf("%w: query has no kind", ErrUnsupportedQuery)
	}
	if q.offset > maxQueryOffset {
		return nil, fmt.Errorf("%w: offset %d exceeds maximum %d", ErrUnsupportedQuery, q.offset, maxQueryOffset)
	}
	components := len(q.filters) + len(q.orders)
	if q.ancestor != nil {
		components++
	}
	if components > maxQueryComponents {
		return nil, fmt.Errorf("%w: %d filters, sort orders and ancestor exceed maximum %d",
			ErrUnsupportedQuery, components, maxQueryComponents)
	}

	spec := &querySpec{
		kind:  q.kind,
		skip:  int64(q.offset),
		limit: int64(q.limit),
	}

	var (
		conds     []*condition
		byPath    = map[string]*condition{}
		rangeSeen = map[string]bool{}
	)
	cond := func(path string) *condition {
		if c, ok := byPath[path]; ok {
			return c
		}
		c := &condition{path: path}
		byPath[path] = c
		conds = append(conds, c)
		return c
	}

	if q.ancestor != nil {
		enc, err := EncodeKey(q.ancestor)
		if err != nil {
			return nil, err
		}
		cond(docID).pattern = keypath.AncestorPattern(enc)
	}

	for _, f := range q.filters {
		path, err := filterPath(f.property, opts.listProps)
		if err != nil {
			return nil, err
		}
		c := cond(path)

		switch f.op {
		case OpEqual:
			enc, err := encodeFilterValue(f.property, f.value)
			if err != nil {
				return nil, err
			}
			// Repeating the same equality is redundant, not contradictory.
			if !containsOperand(c.eq, enc) {
				c.eq = append(c.eq, enc)
			}
		case OpNotEqual:
			enc, err := encodeFilterValue(f.property, f.value)
			if err != nil {
				return nil, err
			}
			c.ops = append(c.ops, bson.E{Key: "$ne", Value: enc})
		case OpIn:
			if f.value.Type() != TypeList {
				return nil, fmt.Errorf("%w: %q in-filter needs a list value, got %s",
					ErrUnsupportedQuery, f.property, f.value.Type())
			}
			set := make(bson.A, 0, len(f.value.List()))
			for _, el := range f.value.List() {
				enc, err := encodeFilterValue(f.property, el)
				if err != nil {
					return nil, err
				}
				set = append(set, enc)
			}
			c.ops = append(c.ops, bson.E{Key: "$in", Value: set})
		case OpLess, OpLessEq, OpGreater, OpGreaterEq:
			enc, err := encodeFilterValue(f.property, f.value)
			if err != nil {
				return nil, err
			}
			rangeSeen[f.property] = true
			c.ops = append(c.ops, bson.E{Key: rangeOperator(f.op), Value: enc})
		default:
			return nil, fmt.Errorf("%w: unknown operator %q", ErrUnsupportedQuery, f.op)
		}
	}

	// Range filters on more than one property need a composite index over
	// exactly that shape.
	if len(rangeSeen) > 1 && !opts.indexCovered {
		props := make([]string, 0, len(rangeSeen))
		for p := range rangeSeen {
			props = append(props, p)
		}
		return nil, fmt.Errorf("%w: inequality filters on multiple properties (%s) without a covering composite index",
			ErrUnsupportedQuery, strings.Join(props, ", "))
	}

	base := bson.D{}
	var split bson.A
	for _, c := range conds {
		term, extra, ok := c.render()
		if !ok {
			// Contradictory equality constraints on a scalar property; the
			// query matches nothing.
			spec.none = true
			continue
		}
		base = append(base, term)
		for _, e := range extra {
			split = append(split, bson.D{e})
		}
	}
	if len(split) > 0 {
		base = bson.D{{Key: "$and", Value: append(bson.A{base}, split...)}}
	}

	if err := translateOrders(q, spec, opts.listProps); err != nil {
		return nil, err
	}

	if q.start != "" {
		keyset, err := cursorPredicate(q.start, spec.sortFields)
		if err != nil {
			return nil, err
		}
		if len(base) == 0 {
			base = keyset
		} else {
			base = bson.D{{Key: "$and", Value: bson.A{base, keyset}}}
		}
	}
	spec.filter = base
	return spec, nil
}

// render collapses a condition into one primary filter term, or reports the
// query unsatisfiable. A repeated operator cannot share the primary operator
// document (duplicate keys resolve last-wins on the backend), so every repeat
// after the first comes back in extra and is carried as its own $and clause.
func (c *condition) render() (term bson.E, extra []bson.E, ok bool) {
	doc := bson.D{}
	seen := map[string]bool{}
	for _, op := range c.ops {
		if seen[op.Key] {
			extra = append(extra, bson.E{Key: c.path, Value: bson.D{op}})
			continue
		}
		seen[op.Key] = true
		doc = append(doc, op)
	}

	switch {
	case len(c.eq) == 1 && len(doc) == 0 && len(extra) == 0 && c.pattern == "":
		return bson.E{Key: c.path, Value: c.eq[0]}, nil, true
	case len(c.eq) == 1:
		doc = append(bson.D{{Key: "$eq", Value: c.eq[0]}}, doc...)
	case len(c.eq) > 1:
		if !strings.HasSuffix(c.path, "."+listField) {
			return bson.E{}, nil, false
		}
		// A list can hold all required elements at once.
		doc = append(bson.D{{Key: "$all", Value: bson.A(c.eq)}}, doc...)
	}
	if c.pattern != "" {
		doc = append(doc, bson.E{Key: "$regex", Value: primitive.Regex{Pattern: c.pattern}})
	}
	return bson.E{Key: c.path, Value: doc}, extra, true
}

// containsOperand reports whether an encoded filter operand is already in the
// set.
func containsOperand(set []interface{}, v interface{}) bool {
	for _, s := range set {
		if reflect.DeepEqual(s, v) {
			return true
		}
	}
	return false
}

// filterPath maps a property to the document path its filters address.
func filterPath(property string, listProps map[string]bool) (string, error) {
	if property == "" {
		return "", fmt.Errorf("%w: filter with empty property", ErrUnsupportedQuery)
	}
	if property == KeyProperty {
		return docID, nil
	}
	if listProps[property] {
		return property + "." + listField, nil
	}
	return property, nil
}

// encodeFilterValue encodes a filter operand; key operands become encoded
// document identifiers so they compare against _id.
func encodeFilterValue(property string, v Value) (interface{}, error) {
	if property == KeyProperty {
		if v.Type() != TypeKey {
			return nil, fmt.Errorf("%w: %s filter needs a key value, got %s",
				ErrUnsupportedQuery, KeyProperty, v.Type())
		}
		return EncodeKey(v.Key())
	}
	enc, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	if _, ok := enc.(primitive.Null); ok {
		return nil, nil
	}
	return enc, nil
}

func rangeOperator(op FilterOperator) string {
	switch op {
	case OpLess:
		return "$lt"
	case OpLessEq:
		return "$lte"
	case OpGreater:
		return "$gt"
	case OpGreaterEq:
		return "$gte"
	}
	return ""
}

// translateOrders maps sort orders to backend sort fields and appends the
// key tie-break. The tie-break gives every execution a total order, which is
// what makes pagination cursors deterministic under ties.
func translateOrders(q *Query, spec *querySpec, listProps map[string]bool) error {
	for _, o := range q.orders {
		sf := sortField{property: o.property, descending: o.descending}
		switch {
		case o.property == "":
			return fmt.Errorf("%w: sort order with empty property", ErrUnsupportedQuery)
		case o.property == KeyProperty:
			sf.path = docID
		case listProps[o.property] && o.descending:
			sf.path = o.property + "." + listDscKey
		case listProps[o.property]:
			sf.path = o.property + "." + listAscKey
		default:
			sf.path = o.property
		}
		spec.sortFields = append(spec.sortFields, sf)
	}

	n := len(spec.sortFields)
	if n == 0 || spec.sortFields[n-1].path != docID {
		spec.sortFields = append(spec.sortFields, sortField{path: docID, property: KeyProperty})
	}

	for _, sf := range spec.sortFields {
		dir := 1
		if sf.descending {
			dir = -1
		}
		spec.sort = append(spec.sort, bson.E{Key: sf.path, Value: dir})
	}
	return nil
}

// cursorPredicate builds the keyset filter "strictly after the last-seen
// tuple in sort order". For sort fields s1..sn (the last being the key) and
// last-seen values v1..vn it expands to
//
//	(s1 > v1) OR (s1 = v1 AND s2 > v2) OR ... OR (s1 = v1 AND ... AND sn > vn)
//
// with > flipped to < for descending fields.
func cursorPredicate(start Cursor, sortFields []sortField) (bson.D, error) {
	last, err := decodeCursorPayload(start)
	if err != nil {
		return nil, err
	}
	if len(last.Sort) != len(sortFields)-1 {
		return nil, fmt.Errorf("%w: cursor carries %d sort values, query sorts on %d properties",
			ErrInvalidCursor, len(last.Sort), len(sortFields)-1)
	}

	values := make([]interface{}, len(sortFields))
	copy(values, last.Sort)
	values[len(values)-1] = last.ID

	clauses := make(bson.A, 0, len(sortFields))
	for i, sf := range sortFields {
		clause := bson.D{}
		for j := 0; j < i; j++ {
			clause = append(clause, bson.E{Key: sortFields[j].path, Value: values[j]})
		}
		op := "$gt"
		if sf.descending {
			op = "$lt"
		}
		clause = append(clause, bson.E{Key: sf.path, Value: bson.D{{Key: op, Value: values[i]}}})
		clauses = append(clauses, clause)
	}
	if len(clauses) == 1 {
		return clauses[0].(bson.D), nil
	}
	return bson.D{{Key: "$or", Value: clauses}}, nil
}
