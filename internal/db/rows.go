package db

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tordrt/pgmask/internal/schema"
)

// Row mappers turn one catalog row into one model value. They are used with
// collectRows, which keeps the row order.

func scanTable(row pgx.Row) (schema.Table, error) {
	var t schema.Table
	err := row.Scan(&t.Name, &t.Schema)
	return t, err
}

func scanColumn(row pgx.Row) (schema.Column, error) {
	var c schema.Column
	err := row.Scan(&c.Name, &c.Position, &c.DataType, &c.TypeOID)
	return c, err
}

func scanForeignKey(row pgx.Row) (schema.ForeignKey, error) {
	var fk schema.ForeignKey
	err := row.Scan(
		&fk.Schema,
		&fk.ConstraintName,
		&fk.Table,
		&fk.Column,
		&fk.ForeignSchema,
		&fk.ForeignTable,
		&fk.ForeignColumn,
	)
	return fk, err
}

// scanSequence returns ok=false when the column has no backing sequence
func scanSequence(row pgx.Row) (seq schema.Sequence, ok bool, err error) {
	var fullName *string
	if err := row.Scan(&fullName); err != nil {
		return schema.Sequence{}, false, err
	}
	if fullName == nil {
		return schema.Sequence{}, false, nil
	}
	return schema.Sequence{FullName: *fullName}, true, nil
}

func scanSize(row pgx.Row) (int64, error) {
	var size int64
	err := row.Scan(&size)
	return size, err
}

// collectRows maps every row of rows with fn and closes rows
func collectRows[T any](rows pgx.Rows, fn func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		item, err := fn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}
