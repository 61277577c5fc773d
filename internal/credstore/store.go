// Package credstore persists join credentials per session on the local
// device. A credential is written once after a successful join, looked up
// by session id on reconnect or relaunch, and cleared when the session
// ends.
package credstore

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound means no credential is stored for the session.
var ErrNotFound = errors.New("credential not found")

// Credential is the (participant-id, participant-token) pair obtained at
// join time. Immutable once stored.
type Credential struct {
	ParticipantID    string
	ParticipantToken string
}

// Store is a SQLite-backed credential store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS session_credential (
    session_id TEXT PRIMARY KEY,
    participant_id TEXT NOT NULL,
    participant_token TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Open opens (and if needed creates) the store at path. ":memory:" works
// for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	// A single connection keeps :memory: databases coherent and avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Save stores the credential for a session. Write-once: saving again for
// the same session is a no-op, preserving the original pair.
func (s *Store) Save(sessionID string, cred Credential) error {
	_, err := s.db.Exec(`
		INSERT INTO session_credential (session_id, participant_id, participant_token)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, cred.ParticipantID, cred.ParticipantToken)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Lookup returns the stored credential for a session.
func (s *Store) Lookup(sessionID string) (Credential, error) {
	var cred Credential
	err := s.db.QueryRow(`
		SELECT participant_id, participant_token
		FROM session_credential
		WHERE session_id = $1
	`, sessionID).Scan(&cred.ParticipantID, &cred.ParticipantToken)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("failed to look up credential: %w", err)
	}
	return cred, nil
}

// Delete clears the credential for a session. Deleting a missing row is
// not an error.
func (s *Store) Delete(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM session_credential WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
