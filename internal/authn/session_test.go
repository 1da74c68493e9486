package authn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_SaveAndLookup(t *testing.T) {
	// Given.
	store := NewSessionStore(time.Hour)
	authTime := time.Now().Add(-time.Minute)

	// When.
	created := store.Save("", "acct_1", authTime)

	// Then.
	require.NotEmpty(t, created.ID)
	got, ok := store.Session(created.ID)
	require.True(t, ok)
	assert.Equal(t, "acct_1", got.Subject)
	assert.True(t, got.AuthTime.Equal(authTime))
}

func TestSessionStore_SaveKeepsID(t *testing.T) {
	// Given.
	store := NewSessionStore(time.Hour)
	created := store.Save("", "acct_1", time.Now())

	// When.
	updated := store.Save(created.ID, "acct_1", time.Now())

	// Then.
	assert.Equal(t, created.ID, updated.ID)
}

func TestSessionStore_ExpiredSessionIsGone(t *testing.T) {
	// Given.
	store := NewSessionStore(-time.Second)
	created := store.Save("", "acct_1", time.Now())

	// When.
	_, ok := store.Session(created.ID)

	// Then.
	assert.False(t, ok)
}

func TestSessionStore_Delete(t *testing.T) {
	// Given.
	store := NewSessionStore(time.Hour)
	created := store.Save("", "acct_1", time.Now())

	// When.
	store.Delete(created.ID)

	// Then.
	_, ok := store.Session(created.ID)
	assert.False(t, ok)
}
