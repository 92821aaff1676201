//go:build integration
// +build integration

package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/tordrt/pgmask/internal/dumper"
	"github.com/tordrt/pgmask/internal/engine"
	"github.com/tordrt/pgmask/internal/indicator"
	"github.com/tordrt/pgmask/internal/sink"
	"github.com/tordrt/pgmask/internal/storage"
)

func TestRunDumpsAndUploads(t *testing.T) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("shop"),
		postgres.WithUsername("pgmask"),
		postgres.WithPassword("pgmask"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dir := t.TempDir()
	out := filepath.Join(dir, "shop.sql")
	logger, _ := test.NewNullLogger()

	a := FromOptions(Options{
		URL:             dsn,
		File:            out,
		DumpTransaction: RepeatableRead,
		PgDumpArgs:      []string{"--no-owner"},
		S3:              storage.S3Config{Bucket: "dumps"},
	}, logger)

	var gotIsolation pgx.TxIsoLevel
	var gotIndicator indicator.Indicator
	a.newDumper = func(eng *engine.Engine, isolation pgx.TxIsoLevel, pgDumpPath string, s *sink.Sink, ind indicator.Indicator, args []string) (dumper.Dumper, error) {
		gotIsolation, gotIndicator = isolation, ind
		run := func(_ context.Context, _ string, args []string, stdout io.Writer) error {
			_, err := io.WriteString(stdout, "-- "+strings.Join(args[1:], " ")+"\n")
			return err
		}
		return dumper.New(eng, isolation, pgDumpPath, s, indicator.Silent{}, args,
			dumper.WithCommandRunner(run), dumper.WithLogger(logger))
	}
	up := &recordingUploader{}
	a.newUploader = func(context.Context, storage.S3Config) (Uploader, error) {
		return up, nil
	}

	require.NoError(t, a.Run(ctx))

	assert.Equal(t, pgx.RepeatableRead, gotIsolation)
	assert.IsType(t, &indicator.Console{}, gotIndicator)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "--snapshot=")
	assert.Contains(t, string(data), "--no-owner")

	assert.Equal(t, out, up.path)
	assert.Equal(t, a.RunID()+"/shop.sql", up.key)
}

func TestRunRemovesOutputWhenPlanningFails(t *testing.T) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("shop"),
		postgres.WithUsername("pgmask"),
		postgres.WithPassword("pgmask"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dir := t.TempDir()
	config := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(config, []byte("filter:\n  only: [public.typo]\n"), 0o644))
	out := filepath.Join(dir, "shop.sql")
	logger, _ := test.NewNullLogger()

	a := FromOptions(Options{
		URL:             dsn,
		File:            out,
		ConfigPath:      config,
		DumpTransaction: RepeatableRead,
	}, logger)
	ran := false
	a.newDumper = func(eng *engine.Engine, isolation pgx.TxIsoLevel, pgDumpPath string, s *sink.Sink, ind indicator.Indicator, args []string) (dumper.Dumper, error) {
		run := func(context.Context, string, []string, io.Writer) error {
			ran = true
			return nil
		}
		return dumper.New(eng, isolation, pgDumpPath, s, ind, args,
			dumper.WithCommandRunner(run), dumper.WithLogger(logger))
	}

	err = a.Run(ctx)
	require.ErrorIs(t, err, dumper.ErrNothingSelected)
	assert.False(t, ran)
	assert.NoFileExists(t, out)
}
