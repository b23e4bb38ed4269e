package datastore

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// docID is the reserved document field holding the encoded key.
const docID = "_id"

// validatePropertyName rejects names the backend reserves or cannot address.
func validatePropertyName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty property name", ErrInvalidEntity)
	case name == docID:
		return fmt.Errorf("%w: property name %q is reserved", ErrInvalidEntity, name)
	case strings.HasPrefix(name, "$"):
		return fmt.Errorf("%w: property name %q starts with '$'", ErrInvalidEntity, name)
	case strings.Contains(name, "."):
		return fmt.Errorf("%w: property name %q contains '.'", ErrInvalidEntity, name)
	}
	return nil
}

// docForEntity converts an entity with a complete key into its backend
// document. The document is self-describing: the key round-trips through _id
// and every property value decodes back to its exact type.
func docForEntity(e *Entity) (bson.D, error) {
	if e == nil || e.Key == nil {
		return nil, fmt.Errorf("%w: nil entity or key", ErrInvalidEntity)
	}
	id, err := EncodeKey(e.Key)
	if err != nil {
		return nil, err
	}

	doc := bson.D{{Key: docID, Value: id}}
	seen := make(map[string]bool, len(e.Properties))
	for _, p := range e.Properties {
		if err := validatePropertyName(p.Name); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate property %q", ErrInvalidEntity, p.Name)
		}
		seen[p.Name] = true

		v, err := encodeValue(p.Value)
		if err != nil {
			return nil, fmt.Errorf("property %q of %s: %w", p.Name, e.Key, err)
		}
		doc = append(doc, bson.E{Key: p.Name, Value: v})
	}
	return doc, nil
}

// entityForDoc is the inverse of docForEntity.
func entityForDoc(doc bson.D) (*Entity, error) {
	id, ok := docString(doc, docID)
	if !ok {
		return nil, fmt.Errorf("%w: document without string _id", ErrInvalidEntity)
	}
	key, err := DecodeKey(id)
	if err != nil {
		return nil, err
	}

	e := &Entity{Key: key}
	for _, f := range doc {
		if f.Key == docID {
			continue
		}
		v, err := decodeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("property %q of %s: %w", f.Key, key, err)
		}
		e.Properties = append(e.Properties, Property{Name: f.Key, Value: v})
	}
	return e, nil
}
