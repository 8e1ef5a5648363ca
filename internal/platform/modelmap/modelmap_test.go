package modelmap

import (
	"errors"
	"slices"
	"testing"
)

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("built-in model map invalid: %v", err)
	}
}

func TestAggregateMapping_FixedTables(t *testing.T) {
	tests := []struct {
		typ   AggregateType
		table string
	}{
		{GenericAlias, "generic_aliases"},
		{GenericRoute, "generic_routes"},
		{GenericApproval, "generic_approvals"},
	}
	for _, tt := range tests {
		a, err := Default().Aggregate(tt.typ)
		if err != nil {
			t.Fatalf("Aggregate(%s): %v", tt.typ, err)
		}
		if a.TableName != tt.table {
			t.Errorf("%s: expected table %s, got %s", tt.typ, tt.table, a.TableName)
		}
		if a.ForeignKey != "generic_uid" {
			t.Errorf("%s: expected foreign key generic_uid, got %s", tt.typ, a.ForeignKey)
		}
	}
}

func TestEntityMapping_FixedTables(t *testing.T) {
	g, err := Default().Entity(GenericDrug)
	if err != nil {
		t.Fatal(err)
	}
	if g.TableName != "generic_drugs" || g.KeyField != "uid" {
		t.Errorf("unexpected generic drug mapping: %s/%s", g.TableName, g.KeyField)
	}
	m, err := Default().Entity(ManuDrug)
	if err != nil {
		t.Fatal(err)
	}
	if m.TableName != "manu_drugs" || m.ParentKey != "generic_uid" {
		t.Errorf("unexpected manu drug mapping: %s/%s", m.TableName, m.ParentKey)
	}
}

func TestEntityAllTableNames_OwnTablePlusAggregates(t *testing.T) {
	mm := Default()
	for _, ent := range mm.Entities() {
		et := ent.Type
		names, err := mm.EntityAllTableNames(et)
		if err != nil {
			t.Fatalf("%s: %v", et, err)
		}
		e, _ := mm.Entity(et)
		if len(names) == 0 || names[0] != e.TableName {
			t.Fatalf("%s: expected own table first, got %v", et, names)
		}
		seen := map[string]bool{}
		for _, n := range names {
			if seen[n] {
				t.Errorf("%s: duplicate table %s in %v", et, n, names)
			}
			seen[n] = true
		}
		aggs, _ := mm.AggregatesOf(et)
		for _, a := range aggs {
			if !seen[a.TableName] {
				t.Errorf("%s: aggregate table %s missing from %v", et, a.TableName, names)
			}
		}
		if len(names) != 1+len(aggs) {
			t.Errorf("%s: expected %d tables, got %v", et, 1+len(aggs), names)
		}
	}
}

func TestEntityAllTableNames_NoDuplicatesWhenAggregatesShareTable(t *testing.T) {
	mm, err := New(
		[]EntityMapping{{
			Type: "Parent", TableName: "parents", KeyField: "uid", DisplayProperty: "name",
			Properties: []PropertyMapping{
				{Property: "uid", Column: "uid"},
				{Property: "name", Column: "name"},
			},
			Aggregates: []AggregateType{"A", "A"},
		}},
		[]AggregateMapping{{
			Type: "A", TableName: "a_rows", KeyField: "uid", ForeignKey: "parent_uid", ParentType: "Parent",
			Properties: []PropertyMapping{
				{Property: "uid", Column: "uid"},
				{Property: "parentUid", Column: "parent_uid"},
			},
		}},
	)
	if err != nil {
		t.Fatal(err)
	}
	names, err := mm.EntityAllTableNames("Parent")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"parents", "a_rows"}) {
		t.Errorf("unexpected tables: %v", names)
	}
}

func TestEntityAllTableNames_UnknownType(t *testing.T) {
	_, err := Default().EntityAllTableNames("Nope")
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestCascadeTables_GenericDrug(t *testing.T) {
	tables, err := Default().CascadeTables(GenericDrug)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"generic_aliases", "generic_routes", "generic_approvals",
		RelationshipsTable, "manu_drugs", "generic_drugs",
	}
	if !slices.Equal(tables, want) {
		t.Errorf("expected %v, got %v", want, tables)
	}
}

func TestResolveProperty(t *testing.T) {
	table, col, err := Default().ResolveProperty("GenericDrug", "mechOfAction")
	if err != nil {
		t.Fatal(err)
	}
	if table != "generic_drugs" || col != "mech_of_action" {
		t.Errorf("got %s.%s", table, col)
	}

	table, col, err = Default().ResolveProperty("GenericRoute", "loadDose")
	if err != nil {
		t.Fatal(err)
	}
	if table != "generic_routes" || col != "load_dose" {
		t.Errorf("got %s.%s", table, col)
	}
}

func TestResolveProperty_Unknown(t *testing.T) {
	if _, _, err := Default().ResolveProperty("GenericDrug", "colour"); !errors.Is(err, ErrUnknownProperty) {
		t.Errorf("expected ErrUnknownProperty, got %v", err)
	}
	if _, _, err := Default().ResolveProperty("Vaccine", "name"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestParseTypes(t *testing.T) {
	if _, err := Default().ParseEntityType("ManuDrug"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := Default().ParseEntityType("GenericAlias"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("aggregate name must not parse as entity, got %v", err)
	}
	if _, err := Default().ParseAggregateType("GenericAlias"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTableColumns(t *testing.T) {
	cols, ok := Default().TableColumns("generic_routes")
	if !ok {
		t.Fatal("expected generic_routes to be mapped")
	}
	if cols[0].Column != "uid" {
		t.Errorf("expected ordinal order starting with uid, got %s", cols[0].Column)
	}
	if _, ok := Default().TableColumns("pg_authid"); ok {
		t.Error("unmapped table must not resolve")
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	e, _ := Default().Entity(GenericDrug)
	e.Properties[0].Column = "mutated"
	again, _ := Default().Entity(GenericDrug)
	if again.Properties[0].Column == "mutated" {
		t.Error("Entity must not expose internal slices")
	}
}

func TestNew_RejectsInconsistentMaps(t *testing.T) {
	_, err := New(nil, []AggregateMapping{{
		Type: "Orphan", TableName: "orphans", KeyField: "uid", ForeignKey: "parent_uid", ParentType: "Missing",
		Properties: []PropertyMapping{{Property: "uid", Column: "uid"}, {Property: "p", Column: "parent_uid"}},
	}})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType for missing parent, got %v", err)
	}

	_, err = New([]EntityMapping{{
		Type: "X", TableName: "xs", KeyField: "id", DisplayProperty: "name",
		Properties: []PropertyMapping{{Property: "name", Column: "name"}},
	}}, nil)
	if err == nil {
		t.Error("expected error for unmapped key field")
	}
}
