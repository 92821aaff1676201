package db

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeCatalog serves scripted answers for the inspector's catalog queries.
// Keys are "schema.table"; sequence keys are the quoted table name, a dot and the
// column name
type fakeCatalog struct {
	tables    [][]any
	columns   map[string][][]any
	fkeys     map[string][][]any
	sizes     map[string]int64
	sequences map[string]string

	tablesErr   error
	columnsErr  map[string]error
	fkeysErr    map[string]error
	sizeErr     map[string]error
	sequenceErr map[string]error

	queries []string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		columns:     map[string][][]any{},
		fkeys:       map[string][][]any{},
		sizes:       map[string]int64{},
		sequences:   map[string]string{},
		columnsErr:  map[string]error{},
		fkeysErr:    map[string]error{},
		sizeErr:     map[string]error{},
		sequenceErr: map[string]error{},
	}
}

func (f *fakeCatalog) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queries = append(f.queries, sql)

	switch sql {
	case tablesQuery:
		if f.tablesErr != nil {
			return nil, f.tablesErr
		}
		return &fakeRows{rows: f.tables}, nil
	case columnsQuery:
		key := fmt.Sprintf("%s.%s", args[0], args[1])
		if err := f.columnsErr[key]; err != nil {
			return nil, err
		}
		return &fakeRows{rows: f.columns[key]}, nil
	case foreignKeysQuery:
		key := fmt.Sprintf("%s.%s", args[1], args[0])
		if err := f.fkeysErr[key]; err != nil {
			return nil, err
		}
		return &fakeRows{rows: f.fkeys[key]}, nil
	}
	return nil, fmt.Errorf("unexpected query: %s", sql)
}

func (f *fakeCatalog) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, sql)

	switch sql {
	case tableSizeQuery:
		key := fmt.Sprintf("%s.%s", args[1], args[0])
		if err := f.sizeErr[key]; err != nil {
			return &fakeRow{err: err}
		}
		size, ok := f.sizes[key]
		if !ok {
			return &fakeRow{err: pgx.ErrNoRows}
		}
		return &fakeRow{values: []any{size}}
	case serialSequenceQuery:
		key := fmt.Sprintf("%s.%s", args[0], args[1])
		if err := f.sequenceErr[key]; err != nil {
			return &fakeRow{err: err}
		}
		if name, ok := f.sequences[key]; ok {
			return &fakeRow{values: []any{name}}
		}
		return &fakeRow{values: []any{nil}}
	}
	return &fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
}

type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type fakeRows struct {
	rows   [][]any
	pos    int
	closed bool
	err    error
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.closed || r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(r.rows[r.pos-1], dest)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.pos-1], nil
}

// assign copies values into dest pointers the way pgx would for matching types,
// allocating when dest points to a pointer
func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("number of field descriptions must equal number of destinations, got %d and %d", len(values), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return errors.New("destination must be a non-nil pointer")
		}
		target := dv.Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if target.Kind() == reflect.Pointer && v.Type() != target.Type() {
			p := reflect.New(target.Type().Elem())
			p.Elem().Set(v.Convert(target.Type().Elem()))
			target.Set(p)
			continue
		}
		if !v.Type().ConvertibleTo(target.Type()) {
			return fmt.Errorf("cannot scan %T into %s", values[i], target.Type())
		}
		target.Set(v.Convert(target.Type()))
	}
	return nil
}

// fakeTx runs fakeCatalog queries with PostgreSQL's transaction semantics: after a
// failed query every further query fails until the savepoint is rolled back
type fakeTx struct {
	pgx.Tx
	cat   *fakeCatalog
	state *fakeTxState
	depth int
}

type fakeTxState struct {
	aborted             bool
	savepoints          int
	rollbacks, releases int
}

var errTxAborted = &pgconn.PgError{Code: "25P02", Message: "current transaction is aborted, commands ignored until end of transaction block"}

func newFakeTx(cat *fakeCatalog) *fakeTx {
	return &fakeTx{cat: cat, state: &fakeTxState{}}
}

func (tx *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	if tx.state.aborted {
		return nil, errTxAborted
	}
	tx.state.savepoints++
	return &fakeTx{cat: tx.cat, state: tx.state, depth: tx.depth + 1}, nil
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.state.aborted {
		return errTxAborted
	}
	tx.state.releases++
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if tx.depth > 0 {
		tx.state.aborted = false
		tx.state.rollbacks++
	}
	return nil
}

func (tx *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx.state.aborted {
		return nil, errTxAborted
	}
	rows, err := tx.cat.Query(ctx, sql, args...)
	if err != nil {
		tx.state.aborted = true
	}
	return rows, err
}

func (tx *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx.state.aborted {
		return &fakeRow{err: errTxAborted}
	}
	row := tx.cat.QueryRow(ctx, sql, args...).(*fakeRow)
	if row.err != nil && !errors.Is(row.err, pgx.ErrNoRows) {
		tx.state.aborted = true
	}
	return row
}
