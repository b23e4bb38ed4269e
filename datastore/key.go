package datastore

import (
	"fmt"

	"github.com/quarrylabs/strata/internal/keypath"
)

// EncodeKey flattens a complete key into the document identifier used as the
// backend's native id. The identifier embeds the full ancestor path, so two
// entities with the same final (kind, identifier) under different ancestors
// never collide, and keys stored as references inside other entities survive
// a round trip exactly.
func EncodeKey(k *Key) (string, error) {
	if k == nil {
		return "", fmt.Errorf("%w: nil key", ErrInvalidKey)
	}
	id, err := keypath.Encode(k.path())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return id, nil
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(id string) (*Key, error) {
	path, err := keypath.Decode(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	var k *Key
	for _, el := range path {
		k = &Key{Kind: el.Kind, ID: el.ID, Name: el.Name, Parent: k}
	}
	return k, nil
}

// encodeKeyID is EncodeKey for internal callers that already hold a key.
func encodeKeyID(k *Key) (string, error) {
	return EncodeKey(k)
}

// collectionForKey returns the backend collection holding the keyed entity.
// Entities live in one collection per kind, named after the final path
// element's kind.
func collectionForKey(k *Key) string {
	return k.Kind
}

// validateKeyForWrite checks everything but completeness: ancestors must be
// complete, and every element must encode losslessly.
func validateKeyForWrite(k *Key) error {
	if k == nil {
		return fmt.Errorf("%w: nil key", ErrInvalidKey)
	}
	if !keypath.ValidKind(k.Kind) {
		return fmt.Errorf("%w: invalid kind %q", ErrInvalidKey, k.Kind)
	}
	if k.Name != "" {
		if k.ID != 0 {
			return fmt.Errorf("%w: key %s has both id and name", ErrInvalidKey, k)
		}
		if !keypath.ValidName(k.Name) {
			return fmt.Errorf("%w: invalid name %q", ErrInvalidKey, k.Name)
		}
	} else if k.ID < 0 {
		return fmt.Errorf("%w: negative id %d", ErrInvalidKey, k.ID)
	}
	for p := k.Parent; p != nil; p = p.Parent {
		if p.Incomplete() {
			return fmt.Errorf("%w: incomplete ancestor %s,? in key %s", ErrInvalidKey, p.Kind, k)
		}
	}
	if k.Parent == nil {
		return nil
	}
	// Encoding validates the rest of the chain.
	if _, err := keypath.Encode(k.Parent.path()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}
