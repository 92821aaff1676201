package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/pgmask/internal/schema"
)

// TextFormatter formats schema as compact text
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// Format writes the schema in compact text format
func (f *TextFormatter) Format(s *schema.Schema) error {
	for i, table := range s.Tables {
		if i > 0 {
			_, _ = fmt.Fprintln(f.writer) // Blank line between tables
		}

		if err := f.formatTable(table, s.Dependencies[table.FullName()]); err != nil {
			return err
		}
	}
	return nil
}

func (f *TextFormatter) formatTable(table schema.Table, deps []schema.Table) error {
	_, err := fmt.Fprintf(f.writer, "TABLE %s (%s)\n", table.FullName(), formatSize(table.Size))
	if err != nil {
		return err
	}

	for _, col := range table.Columns {
		_, _ = fmt.Fprintf(f.writer, "  %s\n", f.formatColumn(col))
	}

	if len(table.Sequences) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  SEQUENCES:")
		for _, seq := range table.Sequences {
			_, _ = fmt.Fprintf(f.writer, "    %s\n", seq.FullName)
		}
	}

	if len(deps) > 0 {
		_, _ = fmt.Fprintln(f.writer)
		_, _ = fmt.Fprintln(f.writer, "  DEPENDS ON:")
		for _, dep := range deps {
			_, _ = fmt.Fprintf(f.writer, "    → %s (%s)\n", dep.FullName(), formatSize(dep.Size))
		}
	}

	return nil
}

func (f *TextFormatter) formatColumn(col schema.Column) string {
	parts := []string{fmt.Sprintf("%d", col.Position), col.Name + ":", col.TypeName()}

	// Declared type differs for arrays and user-defined types
	if col.DataType != "" && col.DataType != col.TypeName() {
		parts = append(parts, fmt.Sprintf("[%s]", col.DataType))
	}
	parts = append(parts, fmt.Sprintf("oid=%d", col.TypeOID))

	return strings.Join(parts, " ")
}

// formatSize renders a size estimate; estimates of zero or less are unknown
func formatSize(size int64) string {
	if size <= 0 {
		return "size unknown"
	}
	return fmt.Sprintf("~%d rows", size)
}
