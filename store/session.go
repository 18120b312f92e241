package store

import (
	"database/sql"
	"fmt"
)

// Session is the scoped transactional window mutations happen inside
// (spec §4.6 "Transactional session"): commit on success, rollback on
// any error, always close. It is the only way writers obtain a
// connection, mirroring the teacher's PGSessionStore's per-call
// transaction discipline.
type Session struct {
	tx *sql.Tx
}

// WithSession opens a transaction, runs fn, and commits if fn returns
// nil or rolls back otherwise. The transaction is always closed.
func (s *Store) WithSession(fn func(*Session) error) (err error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return fmt.Errorf("store: begin session: %w", err)
	}

	sess := &Session{tx: tx}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(sess); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit session: %w", err)
	}
	return nil
}
