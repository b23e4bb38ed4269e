package datastore

import (
	"fmt"

	"github.com/quarrylabs/strata/internal/keypath"
)

// Key identifies an entity: a final (kind, identifier) pair beneath an
// optional chain of ancestor keys. Keys are immutable once an entity is
// stored, and the zero identifier marks an incomplete key whose numeric id is
// assigned on first Put.
type Key struct {
	// Kind is the entity type, analogous to a collection name.
	Kind string

	// ID is the backend-assigned numeric identifier. Zero when Name is set or
	// the key is incomplete.
	ID int64

	// Name is the application-assigned identifier. Empty when ID is used.
	Name string

	// Parent is the immediately enclosing ancestor, nil for root entities.
	Parent *Key
}

// NewKey creates a complete key. Exactly one of name and id should be set.
func NewKey(kind, name string, id int64, parent *Key) *Key {
	return &Key{Kind: kind, ID: id, Name: name, Parent: parent}
}

// IncompleteKey creates a key whose numeric id will be allocated on Put.
func IncompleteKey(kind string, parent *Key) *Key {
	return &Key{Kind: kind, Parent: parent}
}

// Incomplete reports whether the key still needs a backend-assigned id.
func (k *Key) Incomplete() bool {
	return k.ID == 0 && k.Name == ""
}

// Equal reports whether two keys name the same entity, including the full
// ancestor chain.
func (k *Key) Equal(o *Key) bool {
	for k != nil && o != nil {
		if k.Kind != o.Kind || k.ID != o.ID || k.Name != o.Name {
			return false
		}
		k, o = k.Parent, o.Parent
	}
	return k == nil && o == nil
}

// Root returns the topmost ancestor, the key that names this key's entity
// group.
func (k *Key) Root() *Key {
	for k.Parent != nil {
		k = k.Parent
	}
	return k
}

// path returns the key's elements in root-first order.
func (k *Key) path() []keypath.Element {
	var n int
	for p := k; p != nil; p = p.Parent {
		n++
	}
	path := make([]keypath.Element, n)
	for p := k; p != nil; p = p.Parent {
		n--
		path[n] = keypath.Element{Kind: p.Kind, ID: p.ID, Name: p.Name}
	}
	return path
}

// String renders the key path for log and error messages.
func (k *Key) String() string {
	if k == nil {
		return ""
	}
	s := k.Parent.String()
	if s != "" {
		s += "/"
	}
	if k.Name != "" {
		return s + fmt.Sprintf("%s,%s", k.Kind, k.Name)
	}
	return s + fmt.Sprintf("%s,%d", k.Kind, k.ID)
}

// Property is one named, typed value of an entity.
type Property struct {
	Name  string
	Value Value
}

// Entity is a key plus its property bag. Properties are stored and returned
// in slice order, though the order carries no meaning.
type Entity struct {
	Key        *Key
	Properties []Property
}

// NewEntity creates an entity for the given key with no properties.
func NewEntity(key *Key) *Entity {
	return &Entity{Key: key}
}

// Set adds or replaces the named property.
func (e *Entity) Set(name string, v Value) {
	for i := range e.Properties {
		if e.Properties[i].Name == name {
			e.Properties[i].Value = v
			return
		}
	}
	e.Properties = append(e.Properties, Property{Name: name, Value: v})
}

// Get returns the named property value and whether it is present.
func (e *Entity) Get(name string) (Value, bool) {
	for _, p := range e.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return Value{}, false
}
