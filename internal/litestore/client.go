package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/giantswarm/dbsandbox/internal/core"
	"github.com/giantswarm/dbsandbox/internal/sentinel"
)

const (
	// ErrNoServer is returned by Connect when no store listens on the
	// address of the connection string.
	ErrNoServer = sentinel.Error("no litestore registered at address")

	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = sentinel.Error("litestore client is closed")
)

// Connector resolves mongodb:// connection strings to started stores.
type Connector struct{}

var _ core.Connector = Connector{}

// Connect returns a client for the store registered at the host:port of
// connString.
//
//nolint:ireturn // core.Client is the collaborator contract.
func (Connector) Connect(_ context.Context, connString string) (core.Client, error) {
	u, err := url.Parse(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if u.Scheme != "mongodb" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	store, ok := lookup(u.Host)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoServer, u.Host)
	}
	return &Client{store: store}, nil
}

// Client is a handle on a store. Closing it does not stop the store.
type Client struct {
	store  *Topology
	closed atomic.Bool
}

var _ core.Client = (*Client)(nil)

func (c *Client) withDB(fn func(db *sql.DB) error) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.store.withDB(fn)
}

// Collections lists the collections of database in name order.
func (c *Client) Collections(ctx context.Context, database string) ([]core.Collection, error) {
	var out []core.Collection
	err := c.withDB(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, `SELECT name FROM collections WHERE db = ? ORDER BY name`, database)
		if err != nil {
			return fmt.Errorf("query collections: %w", err)
		}
		defer rows.Close() //nolint:errcheck // rows.Err() below catches read errors

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("scan collection row: %w", err)
			}
			out = append(out, &Collection{client: c, db: database, name: name})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertDocument stores doc as JSON, creating the collection if needed.
func (c *Client) InsertDocument(ctx context.Context, database, collection string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return c.withDB(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin insert: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO collections (db, name) VALUES (?, ?)`, database, collection); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (db, coll, body) VALUES (?, ?, ?)`, database, collection, string(body)); err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit insert: %w", err)
		}
		return nil
	})
}

// Close marks the client closed. It is idempotent.
func (c *Client) Close(_ context.Context) error {
	c.closed.Store(true)
	return nil
}

// Collection is a handle on one collection.
type Collection struct {
	client *Client
	db     string
	name   string
}

var _ core.Collection = (*Collection)(nil)

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// CountDocuments returns the number of documents.
func (c *Collection) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	err := c.client.withDB(func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE db = ? AND coll = ?`, c.db, c.name)
		if err := row.Scan(&n); err != nil {
			return fmt.Errorf("count %s: %w", c.name, err)
		}
		return nil
	})
	return n, err
}

// DeleteAll removes every document and keeps the collection.
func (c *Collection) DeleteAll(ctx context.Context) error {
	return c.client.withDB(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM documents WHERE db = ? AND coll = ?`, c.db, c.name); err != nil {
			return fmt.Errorf("delete from %s: %w", c.name, err)
		}
		return nil
	})
}
