package mongoclient

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/giantswarm/dbsandbox/internal/core"
)

// DefaultServerSelectionTimeout bounds how long a connect waits for the
// server to become selectable.
const DefaultServerSelectionTimeout = 10 * time.Second

// DefaultAppName identifies sandbox connections in server logs.
const DefaultAppName = "dbsandbox"

// Connector opens driver clients. The zero value is usable.
type Connector struct {
	// ServerSelectionTimeout defaults to DefaultServerSelectionTimeout.
	ServerSelectionTimeout time.Duration
	// AppName defaults to DefaultAppName.
	AppName string
}

var _ core.Connector = Connector{}

// Connect opens a client for connString and pings the primary, so that a
// returned client is known to reach the server.
//
//nolint:ireturn // core.Client is the collaborator contract.
func (c Connector) Connect(ctx context.Context, connString string) (core.Client, error) {
	timeout := c.ServerSelectionTimeout
	if timeout <= 0 {
		timeout = DefaultServerSelectionTimeout
	}
	appName := c.AppName
	if appName == "" {
		appName = DefaultAppName
	}

	opts := options.Client().
		ApplyURI(connString).
		SetAppName(appName).
		SetServerSelectionTimeout(timeout)
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("client options: %w", err)
	}

	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := mc.Ping(ctx, readpref.Primary()); err != nil {
		_ = mc.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Client{client: mc}, nil
}

// Client wraps a driver client.
type Client struct {
	client *mongo.Client
}

var _ core.Client = (*Client)(nil)

// Driver exposes the underlying driver client for callers needing the full
// driver API.
func (c *Client) Driver() *mongo.Client {
	return c.client
}

// Collections lists every collection of database.
func (c *Client) Collections(ctx context.Context, database string) ([]core.Collection, error) {
	db := c.client.Database(database)
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections of %s: %w", database, err)
	}
	out := make([]core.Collection, 0, len(names))
	for _, name := range names {
		out = append(out, &Collection{coll: db.Collection(name)})
	}
	return out, nil
}

// InsertDocument inserts doc into database.collection.
func (c *Client) InsertDocument(ctx context.Context, database, collection string, doc map[string]any) error {
	if _, err := c.client.Database(database).Collection(collection).InsertOne(ctx, bson.M(doc)); err != nil {
		return fmt.Errorf("insert into %s.%s: %w", database, collection, err)
	}
	return nil
}

// Close disconnects the client.
func (c *Client) Close(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Collection wraps a driver collection.
type Collection struct {
	coll *mongo.Collection
}

var _ core.Collection = (*Collection)(nil)

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.coll.Name()
}

// CountDocuments returns the exact number of documents.
func (c *Collection) CountDocuments(ctx context.Context) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// DeleteAll removes every document, keeping the collection and its indexes.
func (c *Collection) DeleteAll(ctx context.Context) error {
	if _, err := c.coll.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}
