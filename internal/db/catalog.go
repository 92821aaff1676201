package db

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Catalog runs metadata queries. *pgx.Conn and pgx.Tx both satisfy it
type Catalog interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const tablesQuery = `
	SELECT tablename::text, schemaname::text
	FROM pg_catalog.pg_tables
	WHERE schemaname != 'pg_catalog'
		AND schemaname != 'information_schema'
	ORDER BY schemaname, tablename
`

const columnsQuery = `
	SELECT cc.column_name::text, cc.ordinal_position::int, cc.data_type::text, pt.oid
	FROM information_schema.columns AS cc
	JOIN pg_catalog.pg_type AS pt
		ON cc.udt_name = pt.typname
	WHERE cc.table_schema = $1 AND cc.table_name = $2
	ORDER BY cc.ordinal_position ASC
`

const foreignKeysQuery = `
	SELECT
		tc.table_schema::text,
		tc.constraint_name::text,
		tc.table_name::text,
		kcu.column_name::text,
		ccu.table_schema::text AS foreign_table_schema,
		ccu.table_name::text AS foreign_table_name,
		ccu.column_name::text AS foreign_column_name
	FROM information_schema.table_constraints AS tc
	JOIN information_schema.key_column_usage AS kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage AS ccu
		ON ccu.constraint_name = tc.constraint_name
		AND ccu.table_schema = tc.table_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_name = $1
		AND tc.table_schema = $2
`

// reltuples/relpages is the average row density; a table never vacuumed or analyzed
// reports zero pages, which is floored to one
const tableSizeQuery = `
	SELECT
		(pg_catalog.pg_class.reltuples / COALESCE(NULLIF(pg_catalog.pg_class.relpages, 0), 1))::bigint * (
			pg_relation_size(pg_catalog.pg_class.oid)::bigint /
			current_setting('block_size')::bigint
		)::bigint AS len
	FROM pg_catalog.pg_class
	INNER JOIN pg_catalog.pg_namespace ON pg_catalog.pg_class.relnamespace = pg_catalog.pg_namespace.oid
	WHERE pg_catalog.pg_class.relname = $1 AND pg_catalog.pg_namespace.nspname = $2
`

const serialSequenceQuery = `SELECT pg_catalog.pg_get_serial_sequence($1, $2)`
