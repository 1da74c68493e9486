// Package mongodb backs the OIDC protocol state — grant sessions and
// authentication sessions — with MongoDB.
//
// Sessions are stored as envelope documents: the library session is JSON
// inside the payload field, while the fields the managers look up by are
// lifted into indexed top-level fields. TTL indexes on expires_at reap
// abandoned sessions.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var errNotFound = errors.New("entity not found")

// Connect opens a client for the given URI and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	return client, nil
}
