package formatter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tordrt/pgmask/internal/schema"
)

const (
	formatMarkdown = "markdown"
	formatText     = "text"
)

// MultiFileFormatter writes schema to multiple files in a directory
type MultiFileFormatter struct {
	OutputDir    string
	OutputFormat string // "text" or "markdown"
}

// NewMultiFileFormatter creates a new multi-file formatter
func NewMultiFileFormatter(outputDir, format string) *MultiFileFormatter {
	return &MultiFileFormatter{
		OutputDir:    outputDir,
		OutputFormat: format,
	}
}

// Format writes an overview plus one file per table, named schema.table
func (f *MultiFileFormatter) Format(s *schema.Schema) error {
	if f.OutputFormat != formatMarkdown && f.OutputFormat != formatText {
		return fmt.Errorf("invalid format: %s (must be 'text' or 'markdown')", f.OutputFormat)
	}

	if err := os.MkdirAll(f.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := f.writeFile("_overview", func(w io.Writer) error { return f.writeOverview(w, s) }); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}

	referencedBy := incomingReferences(s)
	for _, table := range s.Tables {
		name := table.FullName()
		err := f.writeFile(name, func(w io.Writer) error {
			return f.writeTable(w, table, s.Dependencies[name], referencedBy[name])
		})
		if err != nil {
			return fmt.Errorf("failed to write table file for %s: %w", name, err)
		}
	}

	return nil
}

func (f *MultiFileFormatter) writeFile(base string, write func(io.Writer) error) error {
	file, err := os.Create(filepath.Join(f.OutputDir, base+f.getFileExtension()))
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (f *MultiFileFormatter) writeOverview(w io.Writer, s *schema.Schema) error {
	sortedTables := make([]schema.Table, len(s.Tables))
	copy(sortedTables, s.Tables)
	sort.Slice(sortedTables, func(i, j int) bool {
		return sortedTables[i].FullName() < sortedTables[j].FullName()
	})

	if f.OutputFormat == formatMarkdown {
		_, _ = fmt.Fprintf(w, "# Schema Overview\n\n")
		_, _ = fmt.Fprintf(w, "Each table has a corresponding file: `<schema>.<table>%s`\n\n", f.getFileExtension())
		_, _ = fmt.Fprintf(w, "## Tables\n\n")
	} else {
		_, _ = fmt.Fprintf(w, "SCHEMA OVERVIEW\n")
		_, _ = fmt.Fprintf(w, "Each table has a file: <schema>.<table>%s\n\n", f.getFileExtension())
	}

	for _, table := range sortedTables {
		line := table.FullName()
		if f.OutputFormat == formatMarkdown {
			line = "- **" + line + "**"
		}
		line += " (" + formatSize(table.Size) + ")"

		if deps := s.Dependencies[table.FullName()]; len(deps) > 0 {
			targets := make([]string, len(deps))
			for i, dep := range deps {
				targets[i] = dep.FullName()
			}
			line += fmt.Sprintf(" (references: %s)", strings.Join(targets, ", "))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	return nil
}

func (f *MultiFileFormatter) writeTable(w io.Writer, table schema.Table, deps []schema.Table, incoming []string) error {
	if f.OutputFormat == formatMarkdown {
		if err := NewMarkdownFormatter(w).FormatTable(table, deps); err != nil {
			return err
		}
		if len(incoming) > 0 {
			_, _ = fmt.Fprintf(w, "### Referenced by\n\n")
			for _, name := range incoming {
				_, _ = fmt.Fprintf(w, "- %s\n", name)
			}
			_, _ = fmt.Fprintln(w)
		}
		return nil
	}

	if err := NewTextFormatter(w).formatTable(table, deps); err != nil {
		return err
	}
	if len(incoming) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "  REFERENCED BY:")
		for _, name := range incoming {
			_, _ = fmt.Fprintf(w, "    ← %s\n", name)
		}
	}
	return nil
}

// incomingReferences inverts the dependency map: for each referenced table the
// sorted names of the tables referencing it
func incomingReferences(s *schema.Schema) map[string][]string {
	incoming := make(map[string][]string)
	for from, deps := range s.Dependencies {
		seen := make(map[string]bool, len(deps))
		for _, dep := range deps {
			to := dep.FullName()
			if seen[to] {
				continue
			}
			seen[to] = true
			incoming[to] = append(incoming[to], from)
		}
	}
	for _, names := range incoming {
		sort.Strings(names)
	}
	return incoming
}

func (f *MultiFileFormatter) getFileExtension() string {
	if f.OutputFormat == formatMarkdown {
		return ".md"
	}
	return ".txt"
}
