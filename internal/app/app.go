package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/tordrt/pgmask/internal/db"
	"github.com/tordrt/pgmask/internal/dumper"
	"github.com/tordrt/pgmask/internal/engine"
	"github.com/tordrt/pgmask/internal/indicator"
	"github.com/tordrt/pgmask/internal/sink"
	"github.com/tordrt/pgmask/internal/storage"
)

// Uploader ships a finished dump file
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// App runs a single dump
type App struct {
	opts  Options
	runID string
	log   logrus.FieldLogger

	newUploader func(ctx context.Context, cfg storage.S3Config) (Uploader, error)
	newDumper   func(eng *engine.Engine, isolation pgx.TxIsoLevel, pgDumpPath string, out *sink.Sink, ind indicator.Indicator, args []string) (dumper.Dumper, error)
}

// FromOptions creates an app. A nil logger uses the logrus standard logger
func FromOptions(opts Options, log logrus.FieldLogger) *App {
	if log == nil {
		log = logrus.StandardLogger()
	}
	runID := uuid.NewString()

	a := &App{
		opts:  opts,
		runID: runID,
		log:   log.WithField("run_id", runID),
	}
	a.newUploader = func(ctx context.Context, cfg storage.S3Config) (Uploader, error) {
		return storage.NewS3Uploader(ctx, cfg)
	}
	a.newDumper = func(eng *engine.Engine, isolation pgx.TxIsoLevel, pgDumpPath string, out *sink.Sink, ind indicator.Indicator, args []string) (dumper.Dumper, error) {
		return dumper.New(eng, isolation, pgDumpPath, out, ind, args, dumper.WithLogger(a.log))
	}
	return a
}

// RunID identifies this run in logs and upload keys
func (a *App) RunID() string {
	return a.runID
}

// DumpIsolationLevel is the isolation level the dump transaction uses
func (a *App) DumpIsolationLevel() pgx.TxIsoLevel {
	return a.opts.DumpTransaction.IsolationLevel()
}

// Output opens the sink for file and picks the matching progress indicator: a
// console bar for files, nothing when the dump itself streams to stdout
func Output(file string, compression sink.Compression) (*sink.Sink, indicator.Indicator, error) {
	out, err := sink.Open(file, compression)
	if err != nil {
		return nil, nil, err
	}
	if out.IsFile() {
		return out, indicator.NewConsole(), nil
	}
	return out, indicator.Silent{}, nil
}

// Engine builds the transformation engine from the settings file
func (a *App) Engine() (*engine.Engine, error) {
	path := a.opts.ConfigPath
	if path == "" {
		return engine.New(engine.DefaultSettings()), nil
	}

	settings, err := engine.LoadSettings(path)
	if errors.Is(err, fs.ErrNotExist) && !a.opts.ConfigRequired {
		a.log.WithField("config", path).Debug("config file not found, using defaults")
		return engine.New(engine.DefaultSettings()), nil
	}
	if err != nil {
		return nil, err
	}
	return engine.New(settings), nil
}

// Run performs the dump and, when configured, uploads the result. The dump's
// own error is returned unchanged
func (a *App) Run(ctx context.Context) error {
	if err := a.opts.Validate(); err != nil {
		return err
	}
	u, err := a.opts.DatabaseURL()
	if err != nil {
		return err
	}

	eng, err := a.Engine()
	if err != nil {
		return err
	}

	var uploader Uploader
	if a.opts.S3.Enabled() {
		uploader, err = a.newUploader(ctx, a.opts.S3)
		if err != nil {
			return err
		}
	}

	out, ind, err := Output(a.opts.File, a.opts.Compression)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			a.discardOutput(out)
		}
	}()

	d, err := a.newDumper(eng, a.DumpIsolationLevel(), a.pgDumpPath(), out, ind, a.opts.PgDumpArgs)
	if err != nil {
		return err
	}

	conn, err := db.NewConnector(u, a.opts.AcceptInvalidHostnames, a.opts.AcceptInvalidCerts).Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(context.Background()); cerr != nil {
			a.log.WithError(cerr).Warn("failed to close PostgreSQL connection")
		}
	}()

	if err := d.Dump(ctx, conn); err != nil {
		return err
	}

	closed = true
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}

	if uploader != nil {
		return a.upload(ctx, uploader, out.Path())
	}
	return nil
}

// discardOutput closes out after a failed run and removes the file if the dump
// never wrote to it. Partial output is kept.
func (a *App) discardOutput(out *sink.Sink) {
	if err := out.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close output file")
	}
	if !out.IsFile() || out.Written() > 0 {
		return
	}
	if err := os.Remove(out.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		a.log.WithError(err).WithField("file", out.Path()).Warn("failed to remove empty output file")
	}
}

func (a *App) upload(ctx context.Context, uploader Uploader, localPath string) error {
	key := a.opts.S3.Key
	if key == "" {
		key = storage.DefaultKey(a.runID, localPath)
	}
	if err := uploader.Upload(ctx, localPath, key); err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{
		"bucket": a.opts.S3.Bucket,
		"key":    key,
	}).Info("uploaded dump")
	return nil
}

func (a *App) pgDumpPath() string {
	if a.opts.PgDumpPath == "" {
		return "pg_dump"
	}
	return a.opts.PgDumpPath
}
