package datastore

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestValueRoundTrip_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		value Value
	}{
		{"null", NullValue()},
		{"bool true", BoolValue(true)},
		{"bool false", BoolValue(false)},
		{"int", IntValue(42)},
		{"int negative", IntValue(-7)},
		{"int zero", IntValue(0)},
		{"float", FloatValue(3.25)},
		{"string", StringValue("hello")},
		{"string empty", StringValue("")},
		{"bytes", BytesValue([]byte{0x00, 0x08, 0xff})},
		{"time", TimeValue(time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC))},
		{"key", KeyValue(NewKey("Task", "", 7, NewKey("Project", "infra", 0, nil)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := encodeValue(tt.value)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			dec, err := decodeValue(enc)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !dec.Equal(tt.value) {
				t.Errorf("round trip changed value: got %+v, want %+v", dec, tt.value)
			}
		})
	}
}

func TestValueRoundTrip_TimeTruncatesToMillisecond(t *testing.T) {
	in := time.Date(2026, 8, 28, 12, 30, 0, 123456789, time.UTC)
	v := TimeValue(in)

	if got := v.Time().Nanosecond(); got != 123000000 {
		t.Errorf("expected nanoseconds truncated to 123000000, got %d", got)
	}

	enc, err := encodeValue(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := decodeValue(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dec.Time().Equal(in.Truncate(time.Millisecond)) {
		t.Errorf("expected %v, got %v", in.Truncate(time.Millisecond), dec.Time())
	}
}

func TestValueRoundTrip_Lists(t *testing.T) {
	tests := []struct {
		name  string
		value Value
	}{
		{"empty list", ListValue(nil)},
		{"int list", ListValue([]Value{IntValue(3), IntValue(1), IntValue(2)})},
		{"mixed list", ListValue([]Value{StringValue("a"), IntValue(1), BoolValue(true), NullValue()})},
		{"key list", ListValue([]Value{KeyValue(NewKey("Task", "", 1, nil)), KeyValue(NewKey("Task", "x", 0, nil))})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := encodeValue(tt.value)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			dec, err := decodeValue(enc)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !dec.Equal(tt.value) {
				t.Errorf("round trip changed value: got %+v, want %+v", dec, tt.value)
			}
		})
	}
}

func TestEncodeValue_ListSortKeys(t *testing.T) {
	enc, err := encodeValue(ListValue([]Value{IntValue(3), IntValue(1), IntValue(2)}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	doc, ok := enc.(bson.D)
	if !ok {
		t.Fatalf("expected tagged document, got %T", enc)
	}
	if asc, _ := docField(doc, listAscKey); asc != int64(1) {
		t.Errorf("expected ascending sort key 1, got %v", asc)
	}
	if dsc, _ := docField(doc, listDscKey); dsc != int64(3) {
		t.Errorf("expected descending sort key 3, got %v", dsc)
	}
}

func TestEncodeValue_EmptyListHasNoSortKeys(t *testing.T) {
	enc, err := encodeValue(ListValue(nil))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	doc := enc.(bson.D)
	if _, ok := docField(doc, listAscKey); ok {
		t.Error("empty list should carry no ascending sort key")
	}
	if _, ok := docField(doc, listDscKey); ok {
		t.Error("empty list should carry no descending sort key")
	}
}

func TestEncodeValue_KeyIsTagged(t *testing.T) {
	// A key reference and a string must have distinguishable encodings.
	enc, err := encodeValue(KeyValue(NewKey("Task", "weekly", 0, nil)))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	doc, ok := enc.(bson.D)
	if !ok {
		t.Fatalf("expected tagged document, got %T", enc)
	}
	if class, _ := docString(doc, classField); class != classKey {
		t.Errorf("expected class %q, got %q", classKey, class)
	}
}

func TestEncodeValue_NestedListRejected(t *testing.T) {
	nested := ListValue([]Value{ListValue([]Value{IntValue(1)})})
	if _, err := encodeValue(nested); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestDecodeValue_UnknownClassRejected(t *testing.T) {
	doc := bson.D{{Key: classField, Value: "geopt"}, {Key: "lat", Value: 1.5}}
	if _, err := decodeValue(doc); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestDecodeValue_UnsupportedBackendType(t *testing.T) {
	if _, err := decodeValue(primitive.ObjectID{}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestDecodeValue_Int32Widens(t *testing.T) {
	v, err := decodeValue(int32(9))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Type() != TypeInt || v.Int() != 9 {
		t.Errorf("expected int 9, got %s %v", v.Type(), v)
	}
}

func TestValue_StringRendersEveryType(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{NullValue(), "null"},
		{BoolValue(true), "true"},
		{IntValue(-3), "-3"},
		{FloatValue(0.5), "0.5"},
		{StringValue("plain"), "plain"},
		{BytesValue([]byte{0xde, 0xad}), "dead"},
		{KeyValue(NewKey("Task", "", 7, nil)), "Task,7"},
		{ListValue([]Value{IntValue(1), StringValue("a")}), "[1 a]"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%s value: String() = %q, want %q", tt.v.Type(), got, tt.want)
		}
	}
}

func TestCompareValues_TotalOrder(t *testing.T) {
	// Ascending by type rank, then by payload within each type.
	ordered := []Value{
		NullValue(),
		BoolValue(false), BoolValue(true),
		IntValue(-1), IntValue(10),
		FloatValue(0.5),
		TimeValue(time.Unix(0, 0)), TimeValue(time.Unix(100, 0)),
		BytesValue([]byte{0x01}), BytesValue([]byte{0x02}),
		StringValue("a"), StringValue("b"),
	}
	for i := range ordered {
		for j := range ordered {
			got := compareValues(ordered[i], ordered[j])
			switch {
			case i < j && got >= 0:
				t.Errorf("compareValues(%d, %d) = %d, want < 0", i, j, got)
			case i > j && got <= 0:
				t.Errorf("compareValues(%d, %d) = %d, want > 0", i, j, got)
			case i == j && got != 0:
				t.Errorf("compareValues(%d, %d) = %d, want 0", i, j, got)
			}
		}
	}
}
