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

type authnSessionDoc struct {
	ID              string    `bson:"_id"`
	CallbackID      string    `bson:"callback_id,omitempty"`
	AuthCode        string    `bson:"auth_code,omitempty"`
	PushedAuthReqID string    `bson:"pushed_auth_req_id,omitempty"`
	CIBAAuthID      string    `bson:"ciba_auth_id,omitempty"`
	ExpiresAt       time.Time `bson:"expires_at"`
	Payload         []byte    `bson:"payload"`
}

type AuthnSessionManager struct {
	collection *mongo.Collection
}

func NewAuthnSessionManager(ctx context.Context, database *mongo.Database) (*AuthnSessionManager, error) {
	collection := database.Collection("authn_sessions")

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "callback_id", Value: 1}}},
		{Keys: bson.D{{Key: "auth_code", Value: 1}}},
		{Keys: bson.D{{Key: "pushed_auth_req_id", Value: 1}}},
		{Keys: bson.D{{Key: "ciba_auth_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating authn session indexes: %w", err)
	}

	return &AuthnSessionManager{collection: collection}, nil
}

func (m *AuthnSessionManager) Save(ctx context.Context, session *goidc.AuthnSession) error {
	doc, err := newAuthnSessionDoc(session)
	if err != nil {
		return err
	}

	shouldUpsert := true
	filter := bson.D{{Key: "_id", Value: session.ID}}
	_, err = m.collection.ReplaceOne(ctx, filter, doc, &options.ReplaceOptions{Upsert: &shouldUpsert})
	return err
}

func (m *AuthnSessionManager) SessionByCallbackID(ctx context.Context, callbackID string) (*goidc.AuthnSession, error) {
	return m.sessionWithFilter(ctx, bson.D{{Key: "callback_id", Value: callbackID}})
}

func (m *AuthnSessionManager) SessionByAuthCode(ctx context.Context, authorizationCode string) (*goidc.AuthnSession, error) {
	return m.sessionWithFilter(ctx, bson.D{{Key: "auth_code", Value: authorizationCode}})
}

func (m *AuthnSessionManager) SessionByPushedAuthReqID(ctx context.Context, requestURI string) (*goidc.AuthnSession, error) {
	return m.sessionWithFilter(ctx, bson.D{{Key: "pushed_auth_req_id", Value: requestURI}})
}

func (m *AuthnSessionManager) SessionByCIBAAuthID(ctx context.Context, id string) (*goidc.AuthnSession, error) {
	return m.sessionWithFilter(ctx, bson.D{{Key: "ciba_auth_id", Value: id}})
}

func (m *AuthnSessionManager) Delete(ctx context.Context, id string) error {
	filter := bson.D{{Key: "_id", Value: id}}
	_, err := m.collection.DeleteOne(ctx, filter)
	return err
}

func (m *AuthnSessionManager) sessionWithFilter(ctx context.Context, filter any) (*goidc.AuthnSession, error) {
	result := m.collection.FindOne(ctx, filter)
	if err := result.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errNotFound
		}
		return nil, err
	}

	var doc authnSessionDoc
	if err := result.Decode(&doc); err != nil {
		return nil, err
	}

	var session goidc.AuthnSession
	if err := json.Unmarshal(doc.Payload, &session); err != nil {
		return nil, fmt.Errorf("decoding authn session %s: %w", doc.ID, err)
	}
	return &session, nil
}

func newAuthnSessionDoc(session *goidc.AuthnSession) (*authnSessionDoc, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encoding authn session %s: %w", session.ID, err)
	}

	return &authnSessionDoc{
		ID:              session.ID,
		CallbackID:      session.CallbackID,
		AuthCode:        session.AuthCode,
		PushedAuthReqID: session.PushedAuthReqID,
		CIBAAuthID:      session.CIBAAuthID,
		ExpiresAt:       time.Unix(int64(session.ExpiresAtTimestamp), 0).UTC(),
		Payload:         payload,
	}, nil
}
