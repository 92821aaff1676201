package schema

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var typeMap = pgtype.NewMap()

// Schema is the result of a full inspection pass
type Schema struct {
	Tables []Table

	// Dependencies holds the referenced tables of each table, keyed by FullName
	Dependencies map[string][]Table
}

// Table represents a database table
type Table struct {
	Schema    string
	Name      string
	Columns   []Column
	Sequences []Sequence
	Size      int64 // statistical row estimate, 0 when unknown
}

// NewTable creates a table with no columns, sequences or size attached
func NewTable(schemaName, name string) Table {
	return Table{Schema: schemaName, Name: name}
}

// FullName returns schema.name without quoting
func (t Table) FullName() string {
	return t.Schema + "." + t.Name
}

// QuotedFullName returns the schema-qualified name quoted as an SQL identifier
func (t Table) QuotedFullName() string {
	return pgx.Identifier{t.Schema, t.Name}.Sanitize()
}

// Column represents a table column
type Column struct {
	Name     string
	Position int32 // 1-based ordinal position
	DataType string
	TypeOID  uint32
}

// TypeName returns the name pgx registers for the column's type OID, falling back to
// the declared data type for types pgx does not know (domains, enums, extensions)
func (c Column) TypeName() string {
	if t, ok := typeMap.TypeForOID(c.TypeOID); ok {
		return t.Name
	}
	return c.DataType
}

// Sequence is a sequence backing a serial or identity column
type Sequence struct {
	FullName string
}

// ForeignKey is a foreign key edge read from the catalog
type ForeignKey struct {
	ConstraintName string
	Schema         string
	Table          string
	Column         string
	ForeignSchema  string
	ForeignTable   string
	ForeignColumn  string
}

// Referenced returns a fresh table for the referenced side of the key
func (fk ForeignKey) Referenced() Table {
	return NewTable(fk.ForeignSchema, fk.ForeignTable)
}
