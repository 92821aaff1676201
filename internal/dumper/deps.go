package dumper

import (
	"context"
	"fmt"
	"sort"

	"github.com/tordrt/pgmask/internal/db"
	"github.com/tordrt/pgmask/internal/schema"
)

// Inspector is the part of the schema inspector a dump needs
type Inspector interface {
	ListTables(ctx context.Context, conn db.Catalog) ([]schema.Table, error)
	GetDependencies(ctx context.Context, conn db.Catalog, table schema.Table) ([]schema.Table, error)
}

// Graph maps a table's full name to the full names of the tables it references
type Graph map[string][]string

// Closure returns roots followed by every table reachable from them through foreign
// keys, each once, in discovery order. Self references and cycles are tolerated
func Closure(ctx context.Context, insp Inspector, conn db.Catalog, roots []schema.Table) ([]schema.Table, Graph, error) {
	seen := make(map[string]bool, len(roots))
	result := make([]schema.Table, 0, len(roots))
	for _, t := range roots {
		if seen[t.FullName()] {
			continue
		}
		seen[t.FullName()] = true
		result = append(result, t)
	}

	graph := Graph{}
	for i := 0; i < len(result); i++ {
		table := result[i]
		deps, err := insp.GetDependencies(ctx, conn, table)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve dependencies of %s: %w", table.FullName(), err)
		}

		edges := make(map[string]bool, len(deps))
		for _, dep := range deps {
			name := dep.FullName()
			if !edges[name] {
				edges[name] = true
				graph[table.FullName()] = append(graph[table.FullName()], name)
			}
			if !seen[name] {
				seen[name] = true
				result = append(result, dep)
			}
		}
	}

	return result, graph, nil
}

// Order sorts tables so that referenced tables come before the tables referencing
// them. When only cycles remain, the lexically smallest remaining table is emitted
// next. Edges to tables outside the slice are ignored
func Order(tables []schema.Table, graph Graph) []schema.Table {
	byName := make(map[string]schema.Table, len(tables))
	for _, t := range tables {
		byName[t.FullName()] = t
	}

	pending := make(map[string]int, len(byName))
	dependents := make(map[string][]string, len(byName))
	for name := range byName {
		pending[name] = 0
	}
	for name := range byName {
		for _, dep := range graph[name] {
			if _, ok := byName[dep]; !ok || dep == name {
				continue
			}
			pending[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	remaining := make([]string, 0, len(byName))
	for name := range byName {
		remaining = append(remaining, name)
	}
	sort.Strings(remaining)

	ordered := make([]schema.Table, 0, len(byName))
	emitted := make(map[string]bool, len(byName))
	for len(ordered) < len(byName) {
		next := ""
		for _, name := range remaining {
			if !emitted[name] && pending[name] == 0 {
				next = name
				break
			}
		}
		if next == "" {
			// cycle
			for _, name := range remaining {
				if !emitted[name] {
					next = name
					break
				}
			}
		}

		emitted[next] = true
		ordered = append(ordered, byName[next])
		for _, d := range dependents[next] {
			pending[d]--
		}
	}

	return ordered
}
