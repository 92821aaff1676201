package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/tordrt/pgmask/internal/schema"
)

// ErrorPolicy decides whether a failed size estimate aborts the call that needed it.
// Column and sequence attachment is always best effort
type ErrorPolicy struct {
	// FatalListSize aborts ListTables when a table's size cannot be estimated
	FatalListSize bool
	// FatalDependencySize aborts GetDependencies when a referenced table's size
	// cannot be estimated
	FatalDependencySize bool
}

// DefaultErrorPolicy fails the top-level listing on size errors and only logs them
// during dependency resolution
func DefaultErrorPolicy() ErrorPolicy {
	return ErrorPolicy{FatalListSize: true, FatalDependencySize: false}
}

// Inspector reads the relational model of a PostgreSQL database from its catalog
type Inspector struct {
	policy ErrorPolicy
	log    logrus.FieldLogger
}

// NewInspector creates a new schema inspector
func NewInspector(policy ErrorPolicy, log logrus.FieldLogger) *Inspector {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	return &Inspector{policy: policy, log: log}
}

// ListTables returns every table outside pg_catalog and information_schema with
// columns, sequences and size attached
func (i *Inspector) ListTables(ctx context.Context, conn Catalog) ([]schema.Table, error) {
	rows, err := conn.Query(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	tables, err := collectRows(rows, scanTable)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	for idx := range tables {
		if err := i.populate(ctx, conn, &tables[idx], i.policy.FatalListSize); err != nil {
			return nil, err
		}
	}

	return tables, nil
}

// GetColumns returns the columns of table ordered by ordinal position
func (i *Inspector) GetColumns(ctx context.Context, conn Catalog, table schema.Table) ([]schema.Column, error) {
	rows, err := conn.Query(ctx, columnsQuery, table.Schema, table.Name)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanColumn)
}

// GetTableSize estimates the size of table from planner statistics without scanning it
func (i *Inspector) GetTableSize(ctx context.Context, conn Catalog, table schema.Table) (int64, error) {
	return scanSize(conn.QueryRow(ctx, tableSizeQuery, table.Name, table.Schema))
}

// GetSequences returns the sequences backing the columns of table. The table's
// columns must already be attached
func (i *Inspector) GetSequences(ctx context.Context, conn Catalog, table schema.Table) ([]schema.Sequence, error) {
	sequences := []schema.Sequence{}
	for _, col := range table.Columns {
		seq, ok, err := scanSequence(conn.QueryRow(ctx, serialSequenceQuery, table.QuotedFullName(), col.Name))
		if err != nil {
			return nil, err
		}
		if ok {
			sequences = append(sequences, seq)
		}
	}
	return sequences, nil
}

// GetForeignKeys returns the foreign keys owned by table
func (i *Inspector) GetForeignKeys(ctx context.Context, conn Catalog, table schema.Table) ([]schema.ForeignKey, error) {
	rows, err := conn.Query(ctx, foreignKeysQuery, table.Name, table.Schema)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, scanForeignKey)
}

// GetDependencies returns a new table for every foreign key owned by table, in
// constraint order. A table referenced by several keys appears once per key
func (i *Inspector) GetDependencies(ctx context.Context, conn Catalog, table schema.Table) ([]schema.Table, error) {
	fkeys, err := i.GetForeignKeys(ctx, conn, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys of %s: %w", table.FullName(), err)
	}

	tables := make([]schema.Table, 0, len(fkeys))
	for _, fk := range fkeys {
		dep := fk.Referenced()
		if err := i.populate(ctx, conn, &dep, i.policy.FatalDependencySize); err != nil {
			return nil, err
		}
		tables = append(tables, dep)
	}

	return tables, nil
}

// populate attaches columns, sequences and size to table. Column and sequence
// failures leave the fields empty; a size failure is returned only if fatalSize
func (i *Inspector) populate(ctx context.Context, conn Catalog, table *schema.Table, fatalSize bool) error {
	log := i.log.WithField("table", table.FullName())

	columns, err := bestEffort(ctx, conn, func(c Catalog) ([]schema.Column, error) {
		return i.GetColumns(ctx, c, *table)
	})
	if err == nil {
		table.Columns = columns
	} else {
		log.WithError(err).Debug("columns not attached")
	}

	sequences, err := bestEffort(ctx, conn, func(c Catalog) ([]schema.Sequence, error) {
		return i.GetSequences(ctx, c, *table)
	})
	if err == nil {
		table.Sequences = sequences
	} else {
		log.WithError(err).Debug("sequences not attached")
	}

	size, err := bestEffort(ctx, conn, func(c Catalog) (int64, error) {
		return i.GetTableSize(ctx, c, *table)
	})
	if err != nil {
		if fatalSize {
			return fmt.Errorf("failed to estimate size of %s: %w", table.FullName(), err)
		}
		log.WithError(err).Warn("size not estimated")
		return nil
	}
	table.Size = size

	return nil
}

// bestEffort runs fn inside a savepoint when conn is a transaction, so a failed
// query leaves the enclosing transaction usable
func bestEffort[T any](ctx context.Context, conn Catalog, fn func(Catalog) (T, error)) (T, error) {
	tx, ok := conn.(pgx.Tx)
	if !ok {
		return fn(conn)
	}

	var zero T
	sp, err := tx.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to create savepoint: %w", err)
	}
	v, err := fn(sp)
	if err != nil {
		if rerr := sp.Rollback(ctx); rerr != nil {
			return zero, errors.Join(err, fmt.Errorf("failed to roll back to savepoint: %w", rerr))
		}
		return zero, err
	}
	if err := sp.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to release savepoint: %w", err)
	}
	return v, nil
}
