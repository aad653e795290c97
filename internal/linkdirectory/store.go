// Package linkdirectory is the broker's accept/reject authority for
// incoming link handshakes: a SQLite table of known link names, their
// allowed capabilities, and a bcrypt hash of their shared secret.
package linkdirectory

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

// Store is a SQLite-backed link directory.
type Store struct {
	db *sql.DB
}

// Entry is one registered link.
type Entry struct {
	Name        string
	IsRequester bool
	IsResponder bool
	CreatedAt   time.Time
}

// Open opens (creating if necessary) the directory database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS links (
		name         TEXT PRIMARY KEY,
		is_requester BOOLEAN NOT NULL,
		is_responder BOOLEAN NOT NULL,
		secret_hash  BLOB NOT NULL,
		created_at   TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Register adds or replaces a link's directory entry, hashing secret
// with bcrypt before it ever reaches disk.
func (s *Store) Register(name string, isRequester, isResponder bool, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash secret: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO links (name, is_requester, is_responder, secret_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			is_requester = excluded.is_requester,
			is_responder = excluded.is_responder,
			secret_hash  = excluded.secret_hash
	`, name, isRequester, isResponder, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("register link: %w", err)
	}
	return nil
}

// Revoke removes a link's directory entry, denying it on its next attach.
func (s *Store) Revoke(name string) error {
	_, err := s.db.Exec(`DELETE FROM links WHERE name = ?`, name)
	return err
}

// Authenticate reports whether name is registered for the requested
// capabilities and secret. It satisfies transport.Authenticator.
func (s *Store) Authenticate(name string, isRequester, isResponder bool, secret string) bool {
	var hash []byte
	var allowRequester, allowResponder bool
	row := s.db.QueryRow(`
		SELECT secret_hash, is_requester, is_responder FROM links WHERE name = ?
	`, name)
	if err := row.Scan(&hash, &allowRequester, &allowResponder); err != nil {
		return false
	}
	if isRequester && !allowRequester {
		return false
	}
	if isResponder && !allowResponder {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}

// List returns every registered link, for status/diagnostic display.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT name, is_requester, is_responder, created_at FROM links ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.IsRequester, &e.IsResponder, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
