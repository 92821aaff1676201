package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tordrt/pgmask"
	"github.com/tordrt/pgmask/internal/app"
	"github.com/tordrt/pgmask/internal/sink"
)

// urlEnv is read when no database URL is given on the command line
const urlEnv = "PGMASK_DATABASE_URL"

type cliOptions struct {
	app.Options
	compress  string
	logLevel  string
	logFormat string
}

type inspectOptions struct {
	output    string
	outputDir string
	tables    string
	exclude   string
	format    string
}

func newRootCmd() (*cobra.Command, *cliOptions) {
	o := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "pgmask [flags] <database-url> [-- pg_dump args]",
		Short: "Dump a PostgreSQL database for anonymization",
		Long: `pgmask dumps a PostgreSQL database with pg_dump inside a single snapshot,
pulling in every table the selected tables reference through foreign keys.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(o.logLevel, o.logFormat)
			if err != nil {
				return err
			}
			if err := o.resolve(cmd, args); err != nil {
				return err
			}

			a := app.FromOptions(o.Options, log)
			log.WithFields(logrus.Fields{
				"run_id":      a.RunID(),
				"transaction": o.DumpTransaction.String(),
				"file":        o.File,
			}).Debug("starting dump")
			return a.Run(cmd.Context())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&o.ConfigPath, "config", "c", "./config.yml", "Engine settings file")
	flags.StringVarP(&o.File, "file", "f", "", "Output file (default: stdout)")
	flags.StringVar(&o.PgDumpPath, "pg_dump", "pg_dump", "pg_dump location")
	flags.StringVar(&o.Host, "host", "", "Database host, overrides the URL")
	flags.Uint16VarP(&o.Port, "port", "p", 0, "Database port, overrides the URL")
	flags.StringVarP(&o.Username, "username", "U", "", "Database user, overrides the URL")
	flags.StringVarP(&o.Password, "password", "W", "", "Database password, overrides the URL")
	flags.Var(&o.DumpTransaction, "dump-transaction",
		"Transaction isolation of the dump: NoTransaction, ReadUncommitted, ReadCommitted, RepeatableRead or Serializable")
	flags.StringVar(&o.compress, "compress", string(sink.CompressionNone), "Output file compression: none or snappy")
	flags.StringVar(&o.S3.Bucket, "s3-bucket", "", "Upload the output file to this S3 bucket")
	flags.StringVar(&o.S3.Key, "s3-key", "", "Object key of the upload (default: <run_id>/<file name>)")
	flags.StringVar(&o.S3.Region, "s3-region", "", "AWS region of the bucket")
	flags.StringVar(&o.S3.Endpoint, "s3-endpoint", "", "Custom S3 endpoint (MinIO, LocalStack)")

	persistent := rootCmd.PersistentFlags()
	persistent.BoolVar(&o.AcceptInvalidHostnames, "accept_invalid_hostnames", false, "Accept server certificates issued for other hosts")
	persistent.BoolVar(&o.AcceptInvalidCerts, "accept_invalid_certs", false, "Accept any server certificate")
	persistent.StringVar(&o.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	persistent.StringVar(&o.logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(newInspectCmd(o))
	return rootCmd, o
}

// resolve fills the database URL and pg_dump pass-through arguments from the
// positional arguments. Everything after -- goes to pg_dump
func (o *cliOptions) resolve(cmd *cobra.Command, args []string) error {
	positional, passThrough := args, []string(nil)
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		positional, passThrough = args[:dash], args[dash:]
	}

	url, err := databaseURL(positional)
	if err != nil {
		return err
	}
	o.URL = url
	o.PgDumpArgs = passThrough
	o.Compression = sink.Compression(o.compress)
	o.ConfigRequired = cmd.Flags().Changed("config")
	return nil
}

func databaseURL(positional []string) (string, error) {
	switch len(positional) {
	case 0:
		if url := os.Getenv(urlEnv); url != "" {
			return url, nil
		}
		return "", fmt.Errorf("database URL is required (argument or %s)", urlEnv)
	case 1:
		return positional[0], nil
	default:
		return "", fmt.Errorf("expected one database URL, got %d arguments (pass pg_dump arguments after --)", len(positional))
	}
}

func newInspectCmd(root *cliOptions) *cobra.Command {
	o := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect [database-url]",
		Short: "Print the tables, columns, sequences and references pgmask sees",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(root.logLevel, root.logFormat)
			if err != nil {
				return err
			}
			url, err := databaseURL(args)
			if err != nil {
				return err
			}

			s, err := pgmask.InspectSchema(cmd.Context(), url, &pgmask.Options{
				Tables:                 parseTableList(o.tables),
				ExcludeTables:          parseTableList(o.exclude),
				AcceptInvalidHostnames: root.AcceptInvalidHostnames,
				AcceptInvalidCerts:     root.AcceptInvalidCerts,
				Logger:                 log,
			})
			if err != nil {
				return err
			}

			if o.outputDir != "" && o.output != "" {
				return fmt.Errorf("cannot use both --output-dir and --output flags")
			}

			out := &pgmask.OutputOptions{OutputDir: o.outputDir, Format: o.format, Writer: os.Stdout}
			if o.output != "" {
				f, err := os.Create(o.output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() {
					if err := f.Close(); err != nil {
						fmt.Fprintf(os.Stderr, "warning: failed to close output file: %v\n", err)
					}
				}()
				out.Writer = f
			}

			if err := pgmask.FormatSchema(s, out); err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVarP(&o.outputDir, "output-dir", "d", "", "Output directory for one file per table")
	cmd.Flags().StringVarP(&o.tables, "tables", "t", "", "Specific tables (comma-separated, optional)")
	cmd.Flags().StringVar(&o.exclude, "exclude", "", "Tables to leave out (comma-separated)")
	cmd.Flags().StringVar(&o.format, "format", "text", "Output format: text or markdown")
	return cmd
}

func parseTableList(tables string) []string {
	if tables == "" {
		return nil
	}
	list := strings.Split(tables, ",")
	for i, t := range list {
		list[i] = strings.TrimSpace(t)
	}
	return list
}

// newLogger logs to stderr; stdout may be carrying the dump
func newLogger(level, format string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)

	switch format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", format)
	}
	return log, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd, _ := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
