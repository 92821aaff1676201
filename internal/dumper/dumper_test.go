package dumper

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tordrt/pgmask/internal/engine"
)

type countingIndicator struct {
	total    int64
	progress int64
	started  bool
	finished bool
}

func (c *countingIndicator) Start(total int64) { c.total, c.started = total, true }
func (c *countingIndicator) Inc(n int64)       { c.progress += n }
func (c *countingIndicator) Finish()           { c.finished = true }

func shopInspector() *fakeInspector {
	f := newFakeInspector("public.audit_log", "public.order_items", "public.orders", "public.products", "public.users")
	f.deps["public.order_items"] = []string{"public.orders", "public.products"}
	f.deps["public.orders"] = []string{"public.users"}
	f.sizes["public.users"] = 100
	f.sizes["public.orders"] = 300
	f.sizes["public.order_items"] = 900
	f.sizes["public.products"] = 50
	f.sizes["public.audit_log"] = 7000
	return f
}

func newTestDumper(t *testing.T, config string, insp Inspector) *PgDumper {
	t.Helper()
	settings, err := engine.ParseSettings([]byte(config))
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	d, err := New(engine.New(settings), pgx.RepeatableRead, "pg_dump", &bytes.Buffer{}, nil, nil,
		WithInspector(insp), WithLogger(logger))
	require.NoError(t, err)
	return d
}

func TestNewValidation(t *testing.T) {
	eng := engine.New(nil)
	sink := &bytes.Buffer{}

	tests := []struct {
		name    string
		eng     *engine.Engine
		path    string
		args    []string
		wantErr bool
	}{
		{name: "valid", eng: eng, path: "pg_dump", args: []string{"--no-owner"}},
		{name: "missing engine", path: "pg_dump", wantErr: true},
		{name: "missing pg_dump", eng: eng, wantErr: true},
		{name: "file flag", eng: eng, path: "pg_dump", args: []string{"-f", "out.sql"}, wantErr: true},
		{name: "long file flag", eng: eng, path: "pg_dump", args: []string{"--file=out.sql"}, wantErr: true},
		{name: "joined short file flag", eng: eng, path: "pg_dump", args: []string{"-fout.sql"}, wantErr: true},
		{name: "format flag is fine", eng: eng, path: "pg_dump", args: []string{"--format=plain", "-Fp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.eng, pgx.ReadCommitted, tt.path, sink, nil, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}

	_, err := New(eng, pgx.ReadCommitted, "pg_dump", nil, nil, nil)
	require.Error(t, err)
}

func TestPlanWithoutFilter(t *testing.T) {
	d := newTestDumper(t, "", shopInspector())

	plan, err := d.Plan(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, plan.Filtered)
	assert.Empty(t, plan.Excluded)
	assert.Equal(t, []string{
		"public.audit_log",
		"public.products",
		"public.users",
		"public.orders",
		"public.order_items",
	}, names(plan.Tables))
	assert.Equal(t, int64(8350), plan.TotalSize())
}

func TestPlanOnlyPullsInDependencies(t *testing.T) {
	d := newTestDumper(t, "filter:\n  only: [order_items]\n", shopInspector())

	plan, err := d.Plan(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, plan.Filtered)
	assert.Equal(t, []string{
		"public.products",
		"public.users",
		"public.orders",
		"public.order_items",
	}, names(plan.Tables))
	assert.Equal(t, int64(1350), plan.TotalSize())

	args := d.Args("postgres://app@localhost/shop", "00000003-0000001B-1", plan)
	assert.Equal(t, []string{
		"--dbname=postgres://app@localhost/shop",
		"--snapshot=00000003-0000001B-1",
		`--table="public"."products"`,
		`--table="public"."users"`,
		`--table="public"."orders"`,
		`--table="public"."order_items"`,
	}, args)
}

func TestPlanOnlyMatchingNothing(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{name: "unknown table", config: "filter:\n  only: [public.typo]\n"},
		{name: "unknown schema", config: "filter:\n  only: [billing.users]\n"},
		{name: "excepted away", config: "filter:\n  only: [users]\n  except: [public.users]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDumper(t, tt.config, shopInspector())

			plan, err := d.Plan(context.Background(), nil)
			require.ErrorIs(t, err, ErrNothingSelected)
			assert.Nil(t, plan)
		})
	}
}

func TestPlanExcept(t *testing.T) {
	d := newTestDumper(t, "filter:\n  except: [public.audit_log]\n", shopInspector())

	plan, err := d.Plan(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"public.audit_log"}, names(plan.Excluded))
	assert.NotContains(t, names(plan.Tables), "public.audit_log")

	d.pgDumpArgs = []string{"--no-owner"}
	args := d.Args("postgres://app@localhost/shop", "", plan)
	assert.Equal(t, []string{
		"--dbname=postgres://app@localhost/shop",
		`--exclude-table="public"."audit_log"`,
		"--no-owner",
	}, args)
}

func TestPlanListError(t *testing.T) {
	f := shopInspector()
	f.listErr = errors.New("permission denied for schema public")

	_, err := newTestDumper(t, "", f).Plan(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to inspect schema")
}

func TestPlanIgnoresNegativeSizes(t *testing.T) {
	f := newFakeInspector("public.fresh")
	f.sizes["public.fresh"] = -1

	plan, err := newTestDumper(t, "", f).Plan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), plan.TotalSize())
}

func TestProgressWriter(t *testing.T) {
	var out bytes.Buffer
	ind := &countingIndicator{}
	w := &progressWriter{w: &out, ind: ind}

	_, err := w.Write([]byte("COPY public.users (id) FROM stdin;\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("1\n\\.\n"))
	require.NoError(t, err)

	assert.Equal(t, int64(3), ind.progress)
}

func TestDefaultLoggerAndInspector(t *testing.T) {
	d, err := New(engine.New(nil), NoTransaction, "pg_dump", &bytes.Buffer{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.StandardLogger(), d.log)
	assert.NotNil(t, d.inspector)
}
