package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
)

// ErrInvalidTLSPolicy is returned when certificate or hostname checks are relaxed on
// a connection that does not use TLS at all
var ErrInvalidTLSPolicy = errors.New("invalid TLS policy")

// Connector opens connections to a database URL with an optional relaxed TLS policy
type Connector struct {
	URL                    *url.URL
	AcceptInvalidHostnames bool
	AcceptInvalidCerts     bool
}

// NewConnector creates a new connector
func NewConnector(u *url.URL, acceptInvalidHostnames, acceptInvalidCerts bool) *Connector {
	return &Connector{
		URL:                    u,
		AcceptInvalidHostnames: acceptInvalidHostnames,
		AcceptInvalidCerts:     acceptInvalidCerts,
	}
}

// Config parses the URL and applies the TLS policy to every connection attempt
func (c *Connector) Config() (*pgx.ConnConfig, error) {
	config, err := pgx.ParseConfig(c.URL.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if !c.AcceptInvalidCerts && !c.AcceptInvalidHostnames {
		return config, nil
	}

	usesTLS := false
	if config.TLSConfig != nil {
		config.TLSConfig = c.relax(config.TLSConfig)
		usesTLS = true
	}
	for _, fb := range config.Fallbacks {
		if fb.TLSConfig != nil {
			fb.TLSConfig = c.relax(fb.TLSConfig)
			usesTLS = true
		}
	}
	if !usesTLS {
		return nil, fmt.Errorf("%w: certificate checks relaxed but sslmode disables TLS", ErrInvalidTLSPolicy)
	}

	return config, nil
}

// Connect opens a single connection
func (c *Connector) Connect(ctx context.Context) (*Connection, error) {
	config, err := c.Config()
	if err != nil {
		return nil, err
	}
	return NewConnection(ctx, c.URL.String(), config)
}

func (c *Connector) relax(base *tls.Config) *tls.Config {
	cfg := base.Clone()

	if c.AcceptInvalidCerts {
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = nil
		cfg.VerifyConnection = nil
		return cfg
	}

	// Hostnames only: verify the chain, skip the name check
	roots := cfg.RootCAs
	cfg.InsecureSkipVerify = true
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		return verifyChain(cs.PeerCertificates, roots)
	}
	return cfg
}

func verifyChain(certs []*x509.Certificate, roots *x509.CertPool) error {
	if len(certs) == 0 {
		return errors.New("server presented no certificate")
	}
	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range certs[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(opts)
	return err
}
