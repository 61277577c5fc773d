package credstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveAndLookup(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("s1", Credential{
		ParticipantID:    "p1",
		ParticipantToken: "tok1",
	}))

	cred, err := s.Lookup("s1")
	require.NoError(t, err)
	assert.Equal(t, "p1", cred.ParticipantID)
	assert.Equal(t, "tok1", cred.ParticipantToken)
}

func TestStore_LookupMissingSession(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Lookup("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SaveIsWriteOnce(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("s1", Credential{ParticipantID: "p1", ParticipantToken: "tok1"}))
	require.NoError(t, s.Save("s1", Credential{ParticipantID: "p2", ParticipantToken: "tok2"}))

	cred, err := s.Lookup("s1")
	require.NoError(t, err)
	assert.Equal(t, "p1", cred.ParticipantID)
	assert.Equal(t, "tok1", cred.ParticipantToken)
}

func TestStore_CredentialsAreScopedPerSession(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("s1", Credential{ParticipantID: "p1", ParticipantToken: "tok1"}))
	require.NoError(t, s.Save("s2", Credential{ParticipantID: "p2", ParticipantToken: "tok2"}))

	cred, err := s.Lookup("s2")
	require.NoError(t, err)
	assert.Equal(t, "p2", cred.ParticipantID)
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("s1", Credential{ParticipantID: "p1", ParticipantToken: "tok1"}))
	require.NoError(t, s.Delete("s1"))

	_, err := s.Lookup("s1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an already-cleared session is fine.
	assert.NoError(t, s.Delete("s1"))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save("s1", Credential{ParticipantID: "p1", ParticipantToken: "tok1"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	cred, err := s.Lookup("s1")
	require.NoError(t, err)
	assert.Equal(t, "tok1", cred.ParticipantToken)
}
