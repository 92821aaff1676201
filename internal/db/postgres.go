package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Connection is a single PostgreSQL connection together with the URL it was opened
// from, which pg_dump needs to reach the same database
type Connection struct {
	conn *pgx.Conn
	url  string
}

// NewConnection connects with config and checks the server answers
func NewConnection(ctx context.Context, url string, config *pgx.ConnConfig) (*Connection, error) {
	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{conn: conn, url: url}, nil
}

// Close closes the database connection
func (c *Connection) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// GetConnection returns the underlying connection
func (c *Connection) GetConnection() *pgx.Conn {
	return c.conn
}

// URL returns the connection URL
func (c *Connection) URL() string {
	return c.url
}
