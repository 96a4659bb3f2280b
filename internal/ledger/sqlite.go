package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed session store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		card_number     TEXT NOT NULL,
		package_type    TEXT NOT NULL,
		start_time      DATETIME NOT NULL,
		checked_out     INTEGER NOT NULL DEFAULT 0,
		checkout_time   DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_checked_out ON sessions(checked_out);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertSession(sess *Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, card_number, package_type, start_time, checked_out, checkout_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.CardNumber, sess.PackageType, sess.StartTime,
		sess.CheckedOut, sess.CheckoutTime,
	)
	return err
}

func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRow(`SELECT id, card_number, package_type, start_time, checked_out, checkout_time
		FROM sessions WHERE id = ?`, id).Scan(
		&sess.ID, &sess.CardNumber, &sess.PackageType, &sess.StartTime,
		&sess.CheckedOut, &sess.CheckoutTime,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// ListSessions returns sessions in insertion order (rowid ascending), which
// matches creation order since sessions are only ever inserted once.
func (s *SQLiteStore) ListSessions(filter SessionFilter) ([]*Session, error) {
	where := ""
	args := []interface{}{}
	if filter.CheckedOut != nil {
		where = " WHERE checked_out = ?"
		args = append(args, *filter.CheckedOut)
	}

	query := "SELECT id, card_number, package_type, start_time, checked_out, checkout_time FROM sessions" + where + " ORDER BY rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.ID, &sess.CardNumber, &sess.PackageType,
			&sess.StartTime, &sess.CheckedOut, &sess.CheckoutTime); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateCheckout(id string, checkoutTime time.Time) error {
	res, err := s.db.Exec("UPDATE sessions SET checked_out = 1, checkout_time = ? WHERE id = ?", checkoutTime, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(id string) error {
	res, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}
