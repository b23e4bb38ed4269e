package datastore

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ValueType identifies which member of the Value union is set.
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeTime
	TypeBytes
	TypeString
	TypeKey
	TypeList
)

// String returns the type name for log and error messages.
func (t ValueType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeTime:
		return "time"
	case TypeBytes:
		return "bytes"
	case TypeString:
		return "string"
	case TypeKey:
		return "key"
	case TypeList:
		return "list"
	}
	return fmt.Sprintf("ValueType(%d)", uint8(t))
}

// Value is a tagged union over the supported property types. The zero Value
// is null. Its type survives a write-then-read cycle exactly, with one
// documented exception: timestamps are truncated to millisecond precision on
// write.
type Value struct {
	typ  ValueType
	b    bool
	num  int64
	fl   float64
	t    time.Time
	str  string
	raw  []byte
	key  *Key
	list []Value
}

// NullValue returns the explicit null value, distinct from an absent property.
func NullValue() Value { return Value{} }

func BoolValue(b bool) Value     { return Value{typ: TypeBool, b: b} }
func IntValue(n int64) Value     { return Value{typ: TypeInt, num: n} }
func FloatValue(f float64) Value { return Value{typ: TypeFloat, fl: f} }
func StringValue(s string) Value { return Value{typ: TypeString, str: s} }
func BytesValue(p []byte) Value  { return Value{typ: TypeBytes, raw: p} }
func KeyValue(k *Key) Value      { return Value{typ: TypeKey, key: k} }
func ListValue(vs []Value) Value { return Value{typ: TypeList, list: vs} }

// TimeValue returns a timestamp value truncated to millisecond precision, the
// resolution the backend stores.
func TimeValue(t time.Time) Value {
	return Value{typ: TypeTime, t: t.UTC().Truncate(time.Millisecond)}
}

func (v Value) Type() ValueType { return v.typ }
func (v Value) Bool() bool      { return v.b }
func (v Value) Int() int64      { return v.num }
func (v Value) Float() float64  { return v.fl }
func (v Value) Time() time.Time { return v.t }
func (v Value) Bytes() []byte   { return v.raw }
func (v Value) Key() *Key       { return v.key }
func (v Value) List() []Value   { return v.list }

// String renders the tagged value. String values render as their payload
// itself, so String doubles as their accessor.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "null"
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeInt:
		return strconv.FormatInt(v.num, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.fl, 'g', -1, 64)
	case TypeTime:
		return v.t.Format(time.RFC3339Nano)
	case TypeBytes:
		return fmt.Sprintf("%x", v.raw)
	case TypeString:
		return v.str
	case TypeKey:
		return v.key.String()
	case TypeList:
		parts := make([]string, len(v.list))
		for i, el := range v.list {
			parts[i] = el.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return v.typ.String()
}

// Equal reports deep equality, including type identity. Lists compare
// element-wise in order.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeNull:
		return true
	case TypeBool:
		return v.b == o.b
	case TypeInt:
		return v.num == o.num
	case TypeFloat:
		return v.fl == o.fl
	case TypeTime:
		return v.t.Equal(o.t)
	case TypeBytes:
		return bytes.Equal(v.raw, o.raw)
	case TypeString:
		return v.str == o.str
	case TypeKey:
		return v.key.Equal(o.key)
	case TypeList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// compareValues imposes a deterministic total order over scalar values so a
// list can carry a stable min/max sort key. Values of different types order
// by type tag; int and float compare numerically within their own type only.
func compareValues(a, b Value) int {
	if a.typ != b.typ {
		if a.typ < b.typ {
			return -1
		}
		return 1
	}
	switch a.typ {
	case TypeBool:
		switch {
		case a.b == b.b:
			return 0
		case b.b:
			return -1
		default:
			return 1
		}
	case TypeInt:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
	case TypeFloat:
		switch {
		case a.fl < b.fl:
			return -1
		case a.fl > b.fl:
			return 1
		}
	case TypeTime:
		switch {
		case a.t.Before(b.t):
			return -1
		case a.t.After(b.t):
			return 1
		}
	case TypeBytes:
		return bytes.Compare(a.raw, b.raw)
	case TypeString:
		return strings.Compare(a.str, b.str)
	case TypeKey:
		ae, aerr := encodeKeyID(a.key)
		be, berr := encodeKeyID(b.key)
		if aerr == nil && berr == nil {
			return strings.Compare(ae, be)
		}
	}
	return 0
}

// Class markers tag backend representations that would otherwise be ambiguous
// with plain scalars, so decoding never needs an external schema.
const (
	classField = "class"
	classKey   = "key"
	classList  = "list"

	listField  = "list"
	listAscKey = "ascending_sort_key"
	listDscKey = "descending_sort_key"
)

// encodeValue maps a Value to its backend representation. Scalars map to
// native BSON types; key references and lists become class-tagged
// subdocuments. Lists additionally carry their min and max element so sort
// orders over list properties have a single comparable field per direction.
func encodeValue(v Value) (interface{}, error) {
	switch v.typ {
	case TypeNull:
		return primitive.Null{}, nil
	case TypeBool:
		return v.b, nil
	case TypeInt:
		return v.num, nil
	case TypeFloat:
		return v.fl, nil
	case TypeTime:
		return primitive.NewDateTimeFromTime(v.t), nil
	case TypeBytes:
		return primitive.Binary{Subtype: 0x00, Data: v.raw}, nil
	case TypeString:
		return v.str, nil
	case TypeKey:
		id, err := encodeKeyID(v.key)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: classField, Value: classKey}, {Key: "path", Value: id}}, nil
	case TypeList:
		return encodeList(v.list)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, v.typ)
}

func encodeList(list []Value) (interface{}, error) {
	arr := make(bson.A, 0, len(list))
	var min, max Value
	for i, el := range list {
		if el.typ == TypeList {
			return nil, fmt.Errorf("%w: nested list", ErrUnsupportedType)
		}
		enc, err := encodeValue(el)
		if err != nil {
			return nil, err
		}
		arr = append(arr, enc)
		if i == 0 {
			min, max = el, el
			continue
		}
		if compareValues(el, min) < 0 {
			min = el
		}
		if compareValues(el, max) > 0 {
			max = el
		}
	}

	doc := bson.D{
		{Key: classField, Value: classList},
		{Key: listField, Value: arr},
	}
	// An empty list has no sort keys; it still round-trips as a list.
	if len(list) > 0 {
		ascEnc, err := encodeValue(min)
		if err != nil {
			return nil, err
		}
		dscEnc, err := encodeValue(max)
		if err != nil {
			return nil, err
		}
		doc = append(doc,
			bson.E{Key: listAscKey, Value: ascEnc},
			bson.E{Key: listDscKey, Value: dscEnc})
	}
	return doc, nil
}

// decodeValue recovers a Value from its backend representation. The mapping
// is self-describing: the BSON type plus the class marker disambiguates every
// supported type.
func decodeValue(raw interface{}) (Value, error) {
	switch rv := raw.(type) {
	case nil, primitive.Null:
		return NullValue(), nil
	case bool:
		return BoolValue(rv), nil
	case int64:
		return IntValue(rv), nil
	case int32:
		return IntValue(int64(rv)), nil
	case float64:
		return FloatValue(rv), nil
	case string:
		return StringValue(rv), nil
	case primitive.DateTime:
		return TimeValue(rv.Time()), nil
	case primitive.Binary:
		return BytesValue(rv.Data), nil
	case bson.D:
		return decodeTagged(rv)
	}
	return Value{}, fmt.Errorf("%w: backend value of type %T", ErrUnsupportedType, raw)
}

func decodeTagged(doc bson.D) (Value, error) {
	class, ok := docString(doc, classField)
	if !ok {
		return Value{}, fmt.Errorf("%w: subdocument without class marker", ErrUnsupportedType)
	}
	switch class {
	case classKey:
		id, ok := docString(doc, "path")
		if !ok {
			return Value{}, fmt.Errorf("%w: key marker without path", ErrUnsupportedType)
		}
		k, err := DecodeKey(id)
		if err != nil {
			return Value{}, err
		}
		return KeyValue(k), nil
	case classList:
		rawList, ok := docField(doc, listField)
		if !ok {
			return Value{}, fmt.Errorf("%w: list marker without elements", ErrUnsupportedType)
		}
		arr, ok := rawList.(bson.A)
		if !ok {
			return Value{}, fmt.Errorf("%w: list elements of type %T", ErrUnsupportedType, rawList)
		}
		list := make([]Value, 0, len(arr))
		for _, el := range arr {
			v, err := decodeValue(el)
			if err != nil {
				return Value{}, err
			}
			list = append(list, v)
		}
		return ListValue(list), nil
	}
	return Value{}, fmt.Errorf("%w: unknown class marker %q", ErrUnsupportedType, class)
}

// docField returns the named field of an order-preserving BSON document.
func docField(doc bson.D, name string) (interface{}, bool) {
	for _, e := range doc {
		if e.Key == name {
			return e.Value, true
		}
	}
	return nil, false
}

func docString(doc bson.D, name string) (string, bool) {
	v, ok := docField(doc, name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
