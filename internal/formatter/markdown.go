package formatter

import (
	"fmt"
	"io"

	"github.com/tordrt/pgmask/internal/schema"
)

// MarkdownFormatter formats schema as markdown
type MarkdownFormatter struct {
	writer io.Writer
}

// NewMarkdownFormatter creates a new markdown formatter
func NewMarkdownFormatter(w io.Writer) *MarkdownFormatter {
	return &MarkdownFormatter{writer: w}
}

// Format writes the schema in markdown format
func (f *MarkdownFormatter) Format(s *schema.Schema) error {
	if _, err := fmt.Fprintln(f.writer, "# Database Schema"); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(f.writer)

	for _, table := range s.Tables {
		if err := f.FormatTable(table, s.Dependencies[table.FullName()]); err != nil {
			return err
		}
	}
	return nil
}

// FormatTable formats a single table (exported for use by multifile formatter)
func (f *MarkdownFormatter) FormatTable(table schema.Table, deps []schema.Table) error {
	if _, err := fmt.Fprintf(f.writer, "## %s\n\n", table.FullName()); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(f.writer, "Estimated size: %s\n\n", formatSize(table.Size))

	f.formatColumns(table.Columns)
	f.formatSequences(table.Sequences)
	f.formatDependencies(deps)

	return nil
}

func (f *MarkdownFormatter) formatColumns(columns []schema.Column) {
	if len(columns) == 0 {
		return
	}

	_, _ = fmt.Fprintln(f.writer, "### Columns")
	_, _ = fmt.Fprintln(f.writer)
	_, _ = fmt.Fprintln(f.writer, "| # | Name | Type | OID |")
	_, _ = fmt.Fprintln(f.writer, "|---|------|------|-----|")
	for _, col := range columns {
		typeStr := col.TypeName()
		if col.DataType != "" && col.DataType != typeStr {
			typeStr = fmt.Sprintf("%s (%s)", typeStr, col.DataType)
		}
		_, _ = fmt.Fprintf(f.writer, "| %d | %s | %s | %d |\n", col.Position, col.Name, typeStr, col.TypeOID)
	}
	_, _ = fmt.Fprintln(f.writer)
}

func (f *MarkdownFormatter) formatSequences(sequences []schema.Sequence) {
	if len(sequences) == 0 {
		return
	}

	_, _ = fmt.Fprintln(f.writer, "### Sequences")
	_, _ = fmt.Fprintln(f.writer)
	for _, seq := range sequences {
		_, _ = fmt.Fprintf(f.writer, "- `%s`\n", seq.FullName)
	}
	_, _ = fmt.Fprintln(f.writer)
}

func (f *MarkdownFormatter) formatDependencies(deps []schema.Table) {
	if len(deps) == 0 {
		return
	}

	_, _ = fmt.Fprintln(f.writer, "### References")
	_, _ = fmt.Fprintln(f.writer)
	for _, dep := range deps {
		_, _ = fmt.Fprintf(f.writer, "- %s → %s\n", dep.FullName(), formatSize(dep.Size))
	}
	_, _ = fmt.Fprintln(f.writer)
}
