// Package dumper runs pg_dump against a consistent snapshot of the database
package dumper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/tordrt/pgmask/internal/db"
	"github.com/tordrt/pgmask/internal/engine"
	"github.com/tordrt/pgmask/internal/indicator"
	"github.com/tordrt/pgmask/internal/schema"
)

// NoTransaction runs the dump without a wrapping transaction
const NoTransaction pgx.TxIsoLevel = ""

// ErrNothingSelected is returned when an only filter leaves no table to dump.
// pg_dump without --table flags would export the whole database instead
var ErrNothingSelected = errors.New("only filter matches no tables")

// Dumper exports a database
type Dumper interface {
	Dump(ctx context.Context, conn *db.Connection) error
}

// CommandRunner runs pg_dump with args, streaming its standard output to stdout
type CommandRunner func(ctx context.Context, path string, args []string, stdout io.Writer) error

// PgDumper exports through pg_dump
type PgDumper struct {
	engine     *engine.Engine
	isolation  pgx.TxIsoLevel
	pgDumpPath string
	sink       io.Writer
	indicator  indicator.Indicator
	pgDumpArgs []string

	inspector Inspector
	run       CommandRunner
	log       logrus.FieldLogger
}

// Option customizes a PgDumper
type Option func(*PgDumper)

// WithInspector replaces the catalog inspector
func WithInspector(insp Inspector) Option {
	return func(d *PgDumper) { d.inspector = insp }
}

// WithCommandRunner replaces how pg_dump is started
func WithCommandRunner(run CommandRunner) Option {
	return func(d *PgDumper) { d.run = run }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *PgDumper) { d.log = log }
}

// New creates a dumper. pgDumpArgs are passed to pg_dump after the arguments the
// dumper sets itself; they must not redirect pg_dump's output
func New(
	eng *engine.Engine,
	isolation pgx.TxIsoLevel,
	pgDumpPath string,
	sink io.Writer,
	ind indicator.Indicator,
	pgDumpArgs []string,
	opts ...Option,
) (*PgDumper, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if pgDumpPath == "" {
		return nil, errors.New("pg_dump location is required")
	}
	for _, arg := range pgDumpArgs {
		if arg == "-f" || arg == "--file" || strings.HasPrefix(arg, "--file=") || (strings.HasPrefix(arg, "-f") && len(arg) > 2) {
			return nil, fmt.Errorf("pg_dump argument %q conflicts with the dump output", arg)
		}
	}
	if ind == nil {
		ind = indicator.Silent{}
	}

	d := &PgDumper{
		engine:     eng,
		isolation:  isolation,
		pgDumpPath: pgDumpPath,
		sink:       sink,
		indicator:  ind,
		pgDumpArgs: pgDumpArgs,
		run:        runPgDump,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = logrus.StandardLogger()
	}
	if d.inspector == nil {
		d.inspector = db.NewInspector(db.DefaultErrorPolicy(), d.log)
	}

	return d, nil
}

// Plan is what a dump exports
type Plan struct {
	// Tables in dependency order
	Tables []schema.Table
	// Excluded tables are left out by the engine filter
	Excluded []schema.Table
	// Filtered is set when only a subset of tables is exported
	Filtered bool
}

// TotalSize sums the row estimates of the planned tables
func (p *Plan) TotalSize() int64 {
	var total int64
	for _, t := range p.Tables {
		if t.Size > 0 {
			total += t.Size
		}
	}
	return total
}

// Dump exports the database reachable through conn
func (d *PgDumper) Dump(ctx context.Context, conn *db.Connection) error {
	var catalog db.Catalog = conn.GetConnection()
	snapshot := ""

	if d.isolation != NoTransaction {
		tx, err := conn.GetConnection().BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   d.isolation,
			AccessMode: pgx.ReadOnly,
		})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := tx.QueryRow(ctx, "SELECT pg_catalog.pg_export_snapshot()").Scan(&snapshot); err != nil {
			return fmt.Errorf("failed to export snapshot: %w", err)
		}
		catalog = tx
	}

	plan, err := d.Plan(ctx, catalog)
	if err != nil {
		return err
	}

	args := d.Args(conn.URL(), snapshot, plan)
	d.log.WithFields(logrus.Fields{
		"tables":    len(plan.Tables),
		"isolation": string(d.isolation),
		"snapshot":  snapshot,
	}).Info("starting pg_dump")

	d.indicator.Start(plan.TotalSize())
	err = d.run(ctx, d.pgDumpPath, args, &progressWriter{w: d.sink, ind: d.indicator})
	d.indicator.Finish()

	return err
}

// Plan selects and orders the tables to export
func (d *PgDumper) Plan(ctx context.Context, conn db.Catalog) (*Plan, error) {
	tables, err := d.inspector.ListTables(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect schema: %w", err)
	}

	roots := make([]schema.Table, 0, len(tables))
	for _, t := range tables {
		if d.engine.Selects(t) {
			roots = append(roots, t)
		}
	}

	closure, graph, err := Closure(ctx, d.inspector, conn, roots)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Filtered: d.engine.HasOnlyFilter()}
	kept := make([]schema.Table, 0, len(closure))
	for _, t := range closure {
		if d.engine.Excludes(t) {
			plan.Excluded = append(plan.Excluded, t)
			continue
		}
		kept = append(kept, t)
	}
	plan.Tables = Order(kept, graph)
	if plan.Filtered && len(plan.Tables) == 0 {
		return nil, ErrNothingSelected
	}

	for _, t := range plan.Tables {
		d.log.WithFields(logrus.Fields{
			"table": t.FullName(),
			"size":  t.Size,
			"rules": len(d.engine.Rules(t)),
		}).Debug("planned table")
	}

	return plan, nil
}

// Args builds the pg_dump command line for plan
func (d *PgDumper) Args(url, snapshot string, plan *Plan) []string {
	args := []string{"--dbname=" + url}
	if snapshot != "" {
		args = append(args, "--snapshot="+snapshot)
	}
	if plan.Filtered {
		for _, t := range plan.Tables {
			args = append(args, "--table="+t.QuotedFullName())
		}
	} else {
		for _, t := range plan.Excluded {
			args = append(args, "--exclude-table="+t.QuotedFullName())
		}
	}
	return append(args, d.pgDumpArgs...)
}

func runPgDump(ctx context.Context, path string, args []string, stdout io.Writer) error {
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pg_dump failed: %w", err)
	}
	return nil
}

// progressWriter advances an indicator by the lines written through it. In plain
// format every COPY data row is one line
type progressWriter struct {
	w   io.Writer
	ind indicator.Indicator
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if lines := bytes.Count(b[:n], []byte{'\n'}); lines > 0 {
		p.ind.Inc(int64(lines))
	}
	return n, err
}
