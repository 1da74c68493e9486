package authn

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// UserSession is a server-side login session. The browser only ever
// holds its id.
type UserSession struct {
	ID        string
	Subject   string
	AuthTime  time.Time
	ExpiresAt time.Time
}

// SessionStore keeps login sessions in memory with an absolute TTL.
// Sessions are small and loss on restart only costs users a re-login.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]UserSession
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		sessions: make(map[string]UserSession),
	}
}

// Save upserts a session. An empty id starts a new session; a known id
// keeps it while refreshing the subject, auth time and expiry.
func (s *SessionStore) Save(id, subject string, authTime time.Time) UserSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	session := UserSession{
		ID:        id,
		Subject:   subject,
		AuthTime:  authTime,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	s.sessions[id] = session
	return session
}

// Session returns a live session. Expired entries are dropped on
// lookup.
func (s *SessionStore) Session(id string) (UserSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return UserSession{}, false
	}
	if time.Now().After(session.ExpiresAt) {
		delete(s.sessions, id)
		return UserSession{}, false
	}
	return session, true
}

func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}
