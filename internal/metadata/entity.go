package metadata

import "sort"

type Entity struct {
	Name       string     `json:"name"`
	Table      string     `json:"table"`
	PrimaryKey PrimaryKey `json:"primary_key"`
	Fields     []Field    `json:"fields"`
}

type PrimaryKey struct {
	Field     string `json:"field"`
	Type      string `json:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *Entity) HasField(name string) bool {
	return e.GetField(name) != nil
}

// FieldNames returns all field names in declaration order.
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// PrimaryKeys returns the primary-key field set.
func (e *Entity) PrimaryKeys() []string {
	if e.PrimaryKey.Field == "" {
		return nil
	}
	return []string{e.PrimaryKey.Field}
}

// IsPrimaryKey reports whether name is part of the primary key.
func (e *Entity) IsPrimaryKey(name string) bool {
	for _, pk := range e.PrimaryKeys() {
		if pk == name {
			return true
		}
	}
	return false
}

// MandatoryFields returns the non-nullable, non-primary-key fields a client
// must supply on create, sorted by name. Fields with a database default or
// an auto-managed value are not mandatory.
func (e *Entity) MandatoryFields() []string {
	var names []string
	for _, f := range e.Fields {
		if e.IsPrimaryKey(f.Name) {
			continue
		}
		if !f.NotNull() || f.Default != nil || f.IsAuto() {
			continue
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// WritableFields returns fields that can be set by the client.
// Excludes auto-generated PKs and auto-timestamp fields.
func (e *Entity) WritableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field && e.PrimaryKey.Generated {
			continue
		}
		if f.IsAuto() {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}
