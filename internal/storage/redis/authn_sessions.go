// Package redis backs the short-lived authentication sessions of the
// interactive flow with Redis, letting several provider replicas share
// login state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luikyv/go-oidc/pkg/goidc"
	"github.com/redis/go-redis/v9"
)

var errNotFound = errors.New("entity not found")

const (
	sessionKeyPrefix  = "authn:session:"
	callbackKeyPrefix = "authn:callback:"
	codeKeyPrefix     = "authn:code:"
	parKeyPrefix      = "authn:par:"
	cibaKeyPrefix     = "authn:ciba:"
)

// Connect parses a Redis URL, opens a client and verifies the connection.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// AuthnSessionManager keeps each session under its own key and small
// index keys for the lookup handles (callback id, authorization code,
// pushed request id, CIBA id). Everything expires with the session.
type AuthnSessionManager struct {
	client *redis.Client
	// defaultTTL caps sessions that carry no expiry of their own.
	defaultTTL time.Duration
}

func NewAuthnSessionManager(client *redis.Client, defaultTTL time.Duration) *AuthnSessionManager {
	return &AuthnSessionManager{client: client, defaultTTL: defaultTTL}
}

func (m *AuthnSessionManager) Save(ctx context.Context, session *goidc.AuthnSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding authn session %s: %w", session.ID, err)
	}

	ttl := m.defaultTTL
	if session.ExpiresAtTimestamp > 0 {
		until := time.Until(time.Unix(int64(session.ExpiresAtTimestamp), 0))
		if until <= 0 {
			return fmt.Errorf("authn session %s is already expired", session.ID)
		}
		ttl = until
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+session.ID, payload, ttl)
	for _, index := range indexKeys(session) {
		pipe.Set(ctx, index, session.ID, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving authn session %s: %w", session.ID, err)
	}
	return nil
}

func (m *AuthnSessionManager) SessionByCallbackID(ctx context.Context, callbackID string) (*goidc.AuthnSession, error) {
	return m.sessionByIndex(ctx, callbackKeyPrefix+callbackID, func(s *goidc.AuthnSession) bool {
		return s.CallbackID == callbackID
	})
}

func (m *AuthnSessionManager) SessionByAuthCode(ctx context.Context, authorizationCode string) (*goidc.AuthnSession, error) {
	return m.sessionByIndex(ctx, codeKeyPrefix+authorizationCode, func(s *goidc.AuthnSession) bool {
		return s.AuthCode == authorizationCode
	})
}

func (m *AuthnSessionManager) SessionByPushedAuthReqID(ctx context.Context, requestURI string) (*goidc.AuthnSession, error) {
	return m.sessionByIndex(ctx, parKeyPrefix+requestURI, func(s *goidc.AuthnSession) bool {
		return s.PushedAuthReqID == requestURI
	})
}

func (m *AuthnSessionManager) SessionByCIBAAuthID(ctx context.Context, id string) (*goidc.AuthnSession, error) {
	return m.sessionByIndex(ctx, cibaKeyPrefix+id, func(s *goidc.AuthnSession) bool {
		return s.CIBAAuthID == id
	})
}

func (m *AuthnSessionManager) Delete(ctx context.Context, id string) error {
	session, err := m.session(ctx, id)
	if errors.Is(err, errNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	keys := append(indexKeys(session), sessionKeyPrefix+id)
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting authn session %s: %w", id, err)
	}
	return nil
}

func (m *AuthnSessionManager) session(ctx context.Context, id string) (*goidc.AuthnSession, error) {
	payload, err := m.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading authn session %s: %w", id, err)
	}

	var session goidc.AuthnSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("decoding authn session %s: %w", id, err)
	}
	return &session, nil
}

// sessionByIndex resolves an index key to a session and checks the session
// still carries the handle, so a lookup can never follow a stale index to
// the wrong artifact.
func (m *AuthnSessionManager) sessionByIndex(ctx context.Context, indexKey string, matches func(*goidc.AuthnSession) bool) (*goidc.AuthnSession, error) {
	id, err := m.client.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving authn session index: %w", err)
	}

	session, err := m.session(ctx, id)
	if err != nil {
		return nil, err
	}
	if !matches(session) {
		return nil, errNotFound
	}
	return session, nil
}

func indexKeys(session *goidc.AuthnSession) []string {
	var keys []string
	if session.CallbackID != "" {
		keys = append(keys, callbackKeyPrefix+session.CallbackID)
	}
	if session.AuthCode != "" {
		keys = append(keys, codeKeyPrefix+session.AuthCode)
	}
	if session.PushedAuthReqID != "" {
		keys = append(keys, parKeyPrefix+session.PushedAuthReqID)
	}
	if session.CIBAAuthID != "" {
		keys = append(keys, cibaKeyPrefix+session.CIBAAuthID)
	}
	return keys
}
