// Package app wires command line options into a complete dump run
package app

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/tordrt/pgmask/internal/dumper"
	"github.com/tordrt/pgmask/internal/sink"
	"github.com/tordrt/pgmask/internal/storage"
)

// ErrInvalidURL is returned for database URLs that are not PostgreSQL URLs
var ErrInvalidURL = errors.New("invalid database URL")

// TransactionConfig is the transaction a dump runs in
type TransactionConfig string

const (
	NoTransaction   TransactionConfig = "NoTransaction"
	ReadUncommitted TransactionConfig = "ReadUncommitted"
	ReadCommitted   TransactionConfig = "ReadCommitted"
	RepeatableRead  TransactionConfig = "RepeatableRead"
	Serializable    TransactionConfig = "Serializable"
)

// DefaultTransaction is used when no transaction is configured
const DefaultTransaction = ReadCommitted

// TransactionConfigs lists every accepted value
var TransactionConfigs = []TransactionConfig{
	NoTransaction,
	ReadUncommitted,
	ReadCommitted,
	RepeatableRead,
	Serializable,
}

// IsolationLevel maps the configuration onto the isolation level of the dump
// transaction. The empty value resolves to read committed
func (t TransactionConfig) IsolationLevel() pgx.TxIsoLevel {
	switch t {
	case NoTransaction:
		return dumper.NoTransaction
	case ReadUncommitted:
		return pgx.ReadUncommitted
	case RepeatableRead:
		return pgx.RepeatableRead
	case Serializable:
		return pgx.Serializable
	default:
		return pgx.ReadCommitted
	}
}

// String implements pflag.Value
func (t *TransactionConfig) String() string {
	if *t == "" {
		return string(DefaultTransaction)
	}
	return string(*t)
}

// Set implements pflag.Value. Names are matched case-insensitively
func (t *TransactionConfig) Set(value string) error {
	for _, c := range TransactionConfigs {
		if strings.EqualFold(value, string(c)) {
			*t = c
			return nil
		}
	}
	names := make([]string, len(TransactionConfigs))
	for i, c := range TransactionConfigs {
		names[i] = string(c)
	}
	return fmt.Errorf("invalid transaction %q (must be one of %s)", value, strings.Join(names, ", "))
}

// Type implements pflag.Value
func (t *TransactionConfig) Type() string {
	return "transaction"
}

// Options are the settings of one dump run
type Options struct {
	// URL is the database URL
	URL string
	// Host, Port, Username and Password override the matching URL parts
	Host     string
	Port     uint16
	Username string
	Password string

	AcceptInvalidHostnames bool
	AcceptInvalidCerts     bool

	// ConfigPath is the engine settings file
	ConfigPath string
	// ConfigRequired makes a missing settings file an error instead of falling
	// back to the defaults
	ConfigRequired bool

	// File is the destination file; empty writes to stdout
	File        string
	Compression sink.Compression

	PgDumpPath      string
	PgDumpArgs      []string
	DumpTransaction TransactionConfig

	S3 storage.S3Config
}

// DatabaseURL parses URL and applies the host, port and credential overrides
func (o *Options) DatabaseURL() (*url.URL, error) {
	if o.URL == "" {
		return nil, fmt.Errorf("%w: database URL is required", ErrInvalidURL)
	}

	u, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("%w: scheme must be postgres:// or postgresql://", ErrInvalidURL)
	}

	if o.Host != "" || o.Port != 0 {
		host, port := u.Hostname(), u.Port()
		if o.Host != "" {
			host = o.Host
		}
		if o.Port != 0 {
			port = strconv.Itoa(int(o.Port))
		}
		if port == "" {
			u.Host = host
			if strings.Contains(host, ":") {
				u.Host = "[" + host + "]"
			}
		} else {
			u.Host = net.JoinHostPort(host, port)
		}
	}

	if o.Username != "" || o.Password != "" {
		username := u.User.Username()
		if o.Username != "" {
			username = o.Username
		}
		password, hasPassword := u.User.Password()
		if o.Password != "" {
			password, hasPassword = o.Password, true
		}
		if hasPassword {
			u.User = url.UserPassword(username, password)
		} else {
			u.User = url.User(username)
		}
	}

	return u, nil
}

// Validate checks option combinations that do not need a database
func (o *Options) Validate() error {
	if o.S3.Enabled() && o.File == "" {
		return errors.New("uploading to S3 requires an output file (-f)")
	}
	if o.Compression == sink.CompressionSnappy && o.File == "" {
		return errors.New("compression requires an output file (-f)")
	}
	_, err := o.DatabaseURL()
	return err
}
