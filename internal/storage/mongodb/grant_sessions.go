package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luikyv/go-oidc/pkg/goidc"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type grantSessionDoc struct {
	ID                string    `bson:"_id"`
	TokenID           string    `bson:"token_id"`
	RefreshToken      string    `bson:"refresh_token,omitempty"`
	AuthorizationCode string    `bson:"authorization_code,omitempty"`
	ExpiresAt         time.Time `bson:"expires_at"`
	Payload           []byte    `bson:"payload"`
}

type GrantSessionManager struct {
	collection *mongo.Collection
}

func NewGrantSessionManager(ctx context.Context, database *mongo.Database) (*GrantSessionManager, error) {
	collection := database.Collection("grant_sessions")

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "token_id", Value: 1}}},
		{Keys: bson.D{{Key: "refresh_token", Value: 1}}},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating grant session indexes: %w", err)
	}

	return &GrantSessionManager{collection: collection}, nil
}

func (m *GrantSessionManager) Save(ctx context.Context, grantSession *goidc.GrantSession) error {
	doc, err := newGrantSessionDoc(grantSession)
	if err != nil {
		return err
	}

	shouldUpsert := true
	filter := bson.D{{Key: "_id", Value: grantSession.ID}}
	_, err = m.collection.ReplaceOne(ctx, filter, doc, &options.ReplaceOptions{Upsert: &shouldUpsert})
	return err
}

func (m *GrantSessionManager) SessionByTokenID(ctx context.Context, tokenID string) (*goidc.GrantSession, error) {
	return m.sessionWithFilter(ctx, bson.D{{Key: "token_id", Value: tokenID}})
}

func (m *GrantSessionManager) SessionByRefreshToken(ctx context.Context, refreshToken string) (*goidc.GrantSession, error) {
	return m.sessionWithFilter(ctx, bson.D{{Key: "refresh_token", Value: refreshToken}})
}

func (m *GrantSessionManager) Delete(ctx context.Context, id string) error {
	filter := bson.D{{Key: "_id", Value: id}}
	_, err := m.collection.DeleteOne(ctx, filter)
	return err
}

// DeleteByAuthorizationCode removes the grant session minted from an
// authorization code. A missing session is not an error: the code may
// never have been exchanged.
func (m *GrantSessionManager) DeleteByAuthorizationCode(ctx context.Context, code string) error {
	filter := bson.D{{Key: "authorization_code", Value: code}}
	_, err := m.collection.DeleteMany(ctx, filter)
	return err
}

func (m *GrantSessionManager) sessionWithFilter(ctx context.Context, filter any) (*goidc.GrantSession, error) {
	result := m.collection.FindOne(ctx, filter)
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errNotFound
		}
		return nil, err
	}

	var doc grantSessionDoc
	if err := result.Decode(&doc); err != nil {
		return nil, err
	}

	var grantSession goidc.GrantSession
	if err := json.Unmarshal(doc.Payload, &grantSession); err != nil {
		return nil, fmt.Errorf("decoding grant session %s: %w", doc.ID, err)
	}
	return &grantSession, nil
}

func newGrantSessionDoc(grantSession *goidc.GrantSession) (*grantSessionDoc, error) {
	payload, err := json.Marshal(grantSession)
	if err != nil {
		return nil, fmt.Errorf("encoding grant session %s: %w", grantSession.ID, err)
	}

	return &grantSessionDoc{
		ID:                grantSession.ID,
		TokenID:           grantSession.TokenID,
		RefreshToken:      grantSession.RefreshToken,
		AuthorizationCode: grantSession.AuthorizationCode,
		ExpiresAt:         time.Unix(int64(grantSession.ExpiresAtTimestamp), 0).UTC(),
		Payload:           payload,
	}, nil
}
