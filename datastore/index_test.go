package datastore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"
)

const sampleIndexYAML = `
indexes:
- kind: Task
  ancestor: true
  properties:
  - name: done
  - name: priority
    direction: desc
- kind: Invoice
  properties:
  - name: customer
  - name: issued
`

func TestParseIndexYAML(t *testing.T) {
	got, err := ParseIndexYAML([]byte(sampleIndexYAML))
	if err != nil {
		t.Fatalf("ParseIndexYAML: %v", err)
	}
	want := []IndexDescriptor{
		{
			Kind:     "Task",
			Ancestor: true,
			Properties: []IndexProperty{
				{Name: "done"},
				{Name: "priority", Direction: "desc"},
			},
		},
		{
			Kind: "Invoice",
			Properties: []IndexProperty{
				{Name: "customer"},
				{Name: "issued"},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("descriptors (-want +got):\n%s", diff)
	}
}

func TestParseIndexYAML_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing kind", "indexes:\n- properties:\n  - name: done\n"},
		{"unnamed property", "indexes:\n- kind: Task\n  properties:\n  - direction: desc\n"},
		{"bad direction", "indexes:\n- kind: Task\n  properties:\n  - name: done\n    direction: sideways\n"},
		{"not yaml", ": {"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseIndexYAML([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestIndexDescriptor_String(t *testing.T) {
	d := &IndexDescriptor{
		Kind:     "Task",
		Ancestor: true,
		Properties: []IndexProperty{
			{Name: "done"},
			{Name: "priority", Direction: "desc"},
		},
	}
	if got, want := d.String(), "Task(done, -priority) [ancestor]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRegistry_Covers(t *testing.T) {
	r := NewRegistry()
	r.Register(IndexDescriptor{
		Kind: "Task",
		Properties: []IndexProperty{
			{Name: "done"},
			{Name: "priority", Direction: "desc"},
		},
	})

	tests := []struct {
		name     string
		required IndexDescriptor
		want     bool
	}{
		{
			"exact match",
			IndexDescriptor{Kind: "Task", Properties: []IndexProperty{
				{Name: "done"}, {Name: "priority", Direction: "desc"},
			}},
			true,
		},
		{
			"ancestor flag ignored",
			IndexDescriptor{Kind: "Task", Ancestor: true, Properties: []IndexProperty{
				{Name: "done"}, {Name: "priority", Direction: "desc"},
			}},
			true,
		},
		{
			"direction mismatch",
			IndexDescriptor{Kind: "Task", Properties: []IndexProperty{
				{Name: "done"}, {Name: "priority"},
			}},
			false,
		},
		{
			"order matters",
			IndexDescriptor{Kind: "Task", Properties: []IndexProperty{
				{Name: "priority", Direction: "desc"}, {Name: "done"},
			}},
			false,
		},
		{
			"wrong kind",
			IndexDescriptor{Kind: "Invoice", Properties: []IndexProperty{
				{Name: "done"}, {Name: "priority", Direction: "desc"},
			}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Covers(&tt.required); got != tt.want {
				t.Errorf("Covers = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequiredIndex(t *testing.T) {
	tests := []struct {
		name string
		q    *Query
		want *IndexDescriptor
	}{
		{
			"equality only",
			NewQuery("Task").Filter("done", OpEqual, BoolValue(true)),
			nil,
		},
		{
			"single range with matching sort",
			NewQuery("Task").Filter("priority", OpGreater, IntValue(1)).Order("-priority"),
			nil,
		},
		{
			"not-equal carries no requirement",
			NewQuery("Task").
				Filter("state", OpNotEqual, StringValue("closed")).
				Filter("priority", OpGreater, IntValue(1)),
			nil,
		},
		{
			"key sort carries no requirement",
			NewQuery("Task").Filter("priority", OpGreater, IntValue(1)).Order(KeyProperty),
			nil,
		},
		{
			"two range properties",
			NewQuery("Task").
				Filter("priority", OpGreater, IntValue(1)).
				Filter("cost", OpLess, FloatValue(9.5)),
			&IndexDescriptor{Kind: "Task", Properties: []IndexProperty{
				{Name: "priority"}, {Name: "cost"},
			}},
		},
		{
			"range plus foreign sort",
			NewQuery("Task").Filter("priority", OpGreater, IntValue(1)).Order("-due"),
			&IndexDescriptor{Kind: "Task", Properties: []IndexProperty{
				{Name: "priority"}, {Name: "due", Direction: "desc"},
			}},
		},
		{
			"equality prefix then range then sorts",
			NewQuery("Task").
				Filter("done", OpEqual, BoolValue(false)).
				Filter("priority", OpGreaterEq, IntValue(1)).
				Order("-priority").
				Order("due"),
			&IndexDescriptor{Kind: "Task", Properties: []IndexProperty{
				{Name: "done"},
				{Name: "priority", Direction: "desc"},
				{Name: "due"},
			}},
		},
		{
			"two sorts",
			NewQuery("Task").Order("done").Order("-priority"),
			&IndexDescriptor{Kind: "Task", Properties: []IndexProperty{
				{Name: "done"}, {Name: "priority", Direction: "desc"},
			}},
		},
		{
			"ancestor recorded",
			NewQuery("Task").
				Ancestor(NewKey("Project", "infra", 0, nil)).
				Order("done").
				Order("priority"),
			&IndexDescriptor{Kind: "Task", Ancestor: true, Properties: []IndexProperty{
				{Name: "done"}, {Name: "priority"},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := requiredIndex(tt.q)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("requiredIndex (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIndexKeysEqual(t *testing.T) {
	asc := bson.D{{Key: "done", Value: 1}, {Key: "priority", Value: -1}}

	// The backend reports directions in whatever numeric width it likes.
	wide := bson.D{{Key: "done", Value: int32(1)}, {Key: "priority", Value: float64(-1)}}
	if !indexKeysEqual(asc, wide) {
		t.Error("numeric width should not affect equality")
	}
	if indexKeysEqual(asc, bson.D{{Key: "done", Value: 1}, {Key: "priority", Value: 1}}) {
		t.Error("direction mismatch should not be equal")
	}
	if indexKeysEqual(asc, bson.D{{Key: "done", Value: 1}}) {
		t.Error("length mismatch should not be equal")
	}
}
