// Package keypath encodes hierarchical entity key paths as flat document identifiers.
package keypath

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Sep joins path segments inside an encoded identifier.
const Sep = "\x08"

// NumPrefix marks an identifier segment as a numeric id rather than a name.
const NumPrefix = "\t"

// Element is one (kind, identifier) step of a key path. Exactly one of ID and
// Name must be set.
type Element struct {
	Kind string
	ID   int64
	Name string
}

// ValidKind reports whether kind is usable as a path element kind.
func ValidKind(kind string) bool {
	return kind != "" && !strings.Contains(kind, Sep)
}

// ValidName reports whether name is usable as a path element name. Names that
// start with NumPrefix or contain Sep would not survive a decode round trip.
func ValidName(name string) bool {
	return name != "" && !strings.HasPrefix(name, NumPrefix) && !strings.Contains(name, Sep)
}

// Encode flattens a key path into a single document identifier. Two entities
// with the same final (kind, identifier) but different ancestors encode to
// different identifiers, and Decode recovers the exact path.
func Encode(path []Element) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("empty key path")
	}
	segs := make([]string, 0, 2*len(path))
	for i, el := range path {
		if !ValidKind(el.Kind) {
			return "", fmt.Errorf("element %d: invalid kind %q", i, el.Kind)
		}
		switch {
		case el.Name != "" && el.ID != 0:
			return "", fmt.Errorf("element %d: both id and name set", i)
		case el.Name != "":
			if !ValidName(el.Name) {
				return "", fmt.Errorf("element %d: invalid name %q", i, el.Name)
			}
			segs = append(segs, el.Kind, el.Name)
		case el.ID > 0:
			segs = append(segs, el.Kind, NumPrefix+strconv.FormatInt(el.ID, 10))
		default:
			return "", fmt.Errorf("element %d: incomplete (no id or name)", i)
		}
	}
	return strings.Join(segs, Sep), nil
}

// Decode is the inverse of Encode. It is total over Encode output and rejects
// anything Encode could not have produced.
func Decode(id string) ([]Element, error) {
	segs := strings.Split(id, Sep)
	if len(segs) < 2 || len(segs)%2 != 0 {
		return nil, fmt.Errorf("identifier %q: odd or empty segment list", id)
	}
	path := make([]Element, 0, len(segs)/2)
	for i := 0; i < len(segs); i += 2 {
		el := Element{Kind: segs[i]}
		if !ValidKind(el.Kind) {
			return nil, fmt.Errorf("identifier %q: invalid kind segment %q", id, segs[i])
		}
		ident := segs[i+1]
		if strings.HasPrefix(ident, NumPrefix) {
			digits := ident[len(NumPrefix):]
			n, err := strconv.ParseInt(digits, 10, 64)
			if err != nil || n <= 0 || strconv.FormatInt(n, 10) != digits {
				return nil, fmt.Errorf("identifier %q: bad numeric id segment %q", id, ident)
			}
			el.ID = n
		} else {
			if !ValidName(ident) {
				return nil, fmt.Errorf("identifier %q: bad name segment %q", id, ident)
			}
			el.Name = ident
		}
		path = append(path, el)
	}
	return path, nil
}

// AncestorPattern returns a regular expression matching the encoded ancestor
// itself and every identifier beneath it. Matching continues only across a
// segment boundary, so an ancestor id that is a string prefix of a sibling id
// does not match it.
func AncestorPattern(encoded string) string {
	return "^" + regexp.QuoteMeta(encoded) + "(" + Sep + "|$)"
}
