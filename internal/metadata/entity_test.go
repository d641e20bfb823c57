package metadata

import (
	"testing"
)

func testPageEntity() *Entity {
	return &Entity{
		Name:       "page",
		Table:      "pages",
		PrimaryKey: PrimaryKey{Field: "id", Type: "int", Generated: true},
		Fields: []Field{
			{Name: "id", Type: "int"},
			{Name: "title", Type: "string", Required: true},
			{Name: "topic", Type: "string", Required: true},
			{Name: "body", Type: "text", Required: true, Nullable: true},
			{Name: "status", Type: "string", Required: true, Default: "draft"},
			{Name: "created_at", Type: "timestamp", Required: true, Auto: "create"},
			{Name: "userId", Type: "int"},
		},
	}
}

func TestMandatoryFields_ExcludesPKDefaultsAutoAndNullable(t *testing.T) {
	got := testPageEntity().MandatoryFields()
	if len(got) != 2 || got[0] != "title" || got[1] != "topic" {
		t.Fatalf("expected [title topic], got %v", got)
	}
}

func TestPrimaryKeys(t *testing.T) {
	e := testPageEntity()
	if pks := e.PrimaryKeys(); len(pks) != 1 || pks[0] != "id" {
		t.Fatalf("expected [id], got %v", pks)
	}
	if !e.IsPrimaryKey("id") || e.IsPrimaryKey("title") {
		t.Fatal("IsPrimaryKey mismatch")
	}
	if (&Entity{Name: "x"}).PrimaryKeys() != nil {
		t.Fatal("expected nil primary keys for entity without a key")
	}
}

func TestParseEntities_DefaultsTableToName(t *testing.T) {
	docs := []any{
		map[string]any{
			"name":        "page",
			"primary_key": map[string]any{"field": "id", "type": "int", "generated": true},
			"fields": []any{
				map[string]any{"name": "id", "type": "int"},
				map[string]any{"name": "title", "type": "string", "required": true},
			},
		},
	}
	entities, err := ParseEntities(docs)
	if err != nil {
		t.Fatalf("parse entities: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(entities))
	}
	if entities[0].Table != "page" {
		t.Fatalf("expected table=page, got %s", entities[0].Table)
	}
	if !entities[0].GetField("title").NotNull() {
		t.Fatal("expected title to be NOT NULL")
	}
}

func TestParseEntities_MissingName(t *testing.T) {
	if _, err := ParseEntities([]any{map[string]any{"table": "x"}}); err == nil {
		t.Fatal("expected error for entity without name")
	}
}

func TestUserContext_ClaimCaseInsensitive(t *testing.T) {
	u := &UserContext{Claims: map[string]any{"X-User-Id": "42", "sub": "u-1"}}
	v, ok := u.Claim("X-USER-ID")
	if !ok || v != "42" {
		t.Fatalf("expected 42, got %v (%v)", v, ok)
	}
	if u.ID() != "u-1" {
		t.Fatalf("expected id u-1, got %s", u.ID())
	}
	var nilUser *UserContext
	if _, ok := nilUser.Claim("sub"); ok {
		t.Fatal("nil user must not resolve claims")
	}
}

func TestRegistry_LoadAndLookup(t *testing.T) {
	reg := NewRegistry()
	reg.Load([]*Entity{testPageEntity(), {Name: "comment", Table: "comments"}})
	if reg.GetEntity("page") == nil {
		t.Fatal("expected page entity")
	}
	names := reg.EntityNames()
	if len(names) != 2 || names[0] != "comment" || names[1] != "page" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}
