package datastore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

// IndexProperty is one (property, direction) component of an index.
type IndexProperty struct {
	Name string `yaml:"name"`

	// Direction is "asc" (default) or "desc".
	Direction string `yaml:"direction,omitempty"`
}

func (p IndexProperty) descending() bool { return p.Direction == "desc" }

// IndexDescriptor declares a query shape that should be servable
// efficiently: a kind and an ordered property/direction sequence, optionally
// scoped to ancestor queries. The ancestor flag never reaches the backend as
// an index component: ancestor constraints are prefix matches on the
// document id and need no index of their own.
type IndexDescriptor struct {
	Kind       string          `yaml:"kind"`
	Ancestor   bool            `yaml:"ancestor,omitempty"`
	Properties []IndexProperty `yaml:"properties"`
}

// String renders the descriptor for error messages.
func (d *IndexDescriptor) String() string {
	props := make([]string, 0, len(d.Properties))
	for _, p := range d.Properties {
		if p.descending() {
			props = append(props, "-"+p.Name)
		} else {
			props = append(props, p.Name)
		}
	}
	s := d.Kind + "(" + strings.Join(props, ", ") + ")"
	if d.Ancestor {
		s += " [ancestor]"
	}
	return s
}

type indexFile struct {
	Indexes []IndexDescriptor `yaml:"indexes"`
}

// ParseIndexYAML reads index declarations from an index.yaml document:
//
//	indexes:
//	- kind: Task
//	  ancestor: yes
//	  properties:
//	  - name: done
//	  - name: priority
//	    direction: desc
func ParseIndexYAML(data []byte) ([]IndexDescriptor, error) {
	var f indexFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing index declarations: %w", err)
	}
	for i, d := range f.Indexes {
		if d.Kind == "" {
			return nil, fmt.Errorf("index declaration %d: missing kind", i)
		}
		for _, p := range d.Properties {
			if p.Name == "" {
				return nil, fmt.Errorf("index declaration %d (%s): property without name", i, d.Kind)
			}
			if p.Direction != "" && p.Direction != "asc" && p.Direction != "desc" {
				return nil, fmt.Errorf("index declaration %d (%s): bad direction %q for %s",
					i, d.Kind, p.Direction, p.Name)
			}
		}
	}
	return f.Indexes, nil
}

// LoadIndexFile reads index declarations from a file.
func LoadIndexFile(path string) ([]IndexDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index declarations: %w", err)
	}
	return ParseIndexYAML(data)
}

// Registry holds the declared index descriptors consulted by strict-mode
// queries and realized by EnsureIndexes.
type Registry struct {
	descriptors []IndexDescriptor
	byKind      map[string][]IndexDescriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[string][]IndexDescriptor)}
}

// Register adds a descriptor to the registry.
func (r *Registry) Register(d IndexDescriptor) {
	r.descriptors = append(r.descriptors, d)
	r.byKind[d.Kind] = append(r.byKind[d.Kind], d)
}

// ForKind returns the descriptors declared for a kind.
func (r *Registry) ForKind(kind string) []IndexDescriptor {
	return r.byKind[kind]
}

// All returns every registered descriptor.
func (r *Registry) All() []IndexDescriptor {
	return r.descriptors
}

// Covers reports whether a declared descriptor matches the required shape
// exactly: same kind and the same property/direction sequence. The ancestor
// flag is ignored on both sides (see IndexDescriptor).
func (r *Registry) Covers(required *IndexDescriptor) bool {
	for _, d := range r.byKind[required.Kind] {
		if len(d.Properties) != len(required.Properties) {
			continue
		}
		match := true
		for i, p := range d.Properties {
			want := required.Properties[i]
			if p.Name != want.Name || p.descending() != want.descending() {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// requiredIndex computes the composite index a query needs, or nil when the
// backend serves the shape with built-in per-field indexes: a single range
// property with at most a matching sort, or equality-only filters with at
// most one sort order. Inequality here means the range operators; != and in
// translate to native backend operators and carry no index requirement.
func requiredIndex(q *Query) *IndexDescriptor {
	var eqProps, rangeProps []string
	seenEq := map[string]bool{}
	seenRange := map[string]bool{}
	for _, f := range q.filters {
		switch f.op {
		case OpEqual, OpIn:
			if !seenEq[f.property] {
				seenEq[f.property] = true
				eqProps = append(eqProps, f.property)
			}
		case OpLess, OpLessEq, OpGreater, OpGreaterEq:
			if !seenRange[f.property] {
				seenRange[f.property] = true
				rangeProps = append(rangeProps, f.property)
			}
		}
	}

	var sorts []order
	for _, o := range q.orders {
		if o.property != KeyProperty {
			sorts = append(sorts, o)
		}
	}

	needed := len(rangeProps) > 1 ||
		len(sorts) > 1 ||
		(len(rangeProps) == 1 && len(sorts) == 1 && sorts[0].property != rangeProps[0])
	if !needed {
		return nil
	}

	d := &IndexDescriptor{Kind: q.kind, Ancestor: q.ancestor != nil}
	inIndex := map[string]bool{}
	add := func(name string, desc bool) {
		if inIndex[name] {
			return
		}
		inIndex[name] = true
		p := IndexProperty{Name: name}
		if desc {
			p.Direction = "desc"
		}
		d.Properties = append(d.Properties, p)
	}

	for _, p := range eqProps {
		add(p, false)
	}
	for _, p := range rangeProps {
		desc := false
		for _, o := range sorts {
			if o.property == p {
				desc = o.descending
				break
			}
		}
		add(p, desc)
	}
	for _, o := range sorts {
		add(o.property, o.descending)
	}
	return d
}

// EnsureIndexes realizes every registered descriptor as a backend index,
// synchronously, skipping ones that already exist. This is the development-
// time path behind strict index mode; callers absorb the creation latency.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if s.registry == nil {
		return nil
	}
	for _, d := range s.registry.All() {
		if err := s.ensureIndex(ctx, &d); err != nil {
			return err
		}
	}
	return nil
}

// ensureIndex creates the backend index matching a descriptor's
// property/direction sequence if no equivalent index exists.
func (s *Store) ensureIndex(ctx context.Context, d *IndexDescriptor) error {
	if len(d.Properties) == 0 {
		return nil
	}
	keys := bson.D{}
	nameParts := []string{"strata"}
	for _, p := range d.Properties {
		dir := 1
		part := p.Name + "_1"
		if p.descending() {
			dir = -1
			part = p.Name + "_-1"
		}
		keys = append(keys, bson.E{Key: p.Name, Value: dir})
		nameParts = append(nameParts, part)
	}

	existing, err := s.backend.listIndexKeys(ctx, d.Kind)
	if err != nil {
		return fmt.Errorf("%w: listing indexes for %s: %v", ErrBackendUnavailable, d.Kind, err)
	}
	for _, have := range existing {
		if indexKeysEqual(have, keys) {
			return nil
		}
	}

	if err := s.backend.createIndex(ctx, d.Kind, strings.Join(nameParts, "_"), keys); err != nil {
		return fmt.Errorf("%w: creating index %s: %v", ErrBackendUnavailable, d, err)
	}
	return nil
}

// indexKeysEqual compares index key specifications, tolerating the numeric
// widths the backend reports directions in.
func indexKeysEqual(a, b bson.D) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || indexDir(a[i].Value) != indexDir(b[i].Value) {
			return false
		}
	}
	return true
}

func indexDir(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
