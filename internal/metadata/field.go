package metadata

type Field struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Required  bool   `json:"required,omitempty"`
	Unique    bool   `json:"unique,omitempty"`
	Default   any    `json:"default,omitempty"`
	Nullable  bool   `json:"nullable,omitempty"`
	Precision int    `json:"precision,omitempty"`
	Auto      string `json:"auto,omitempty"` // "create" or "update"
}

// IsAuto returns true if the field is auto-managed by the store.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}

// NotNull returns true if the column is declared NOT NULL.
func (f Field) NotNull() bool {
	return f.Required && !f.Nullable
}

// IsBoolean returns true for boolean columns; SQLite stores these as integers.
func (f Field) IsBoolean() bool {
	return f.Type == "boolean"
}
