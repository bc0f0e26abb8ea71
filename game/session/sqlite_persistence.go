package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/wricardo/worldsync/game/engine"
)

const identitiesSchema = `
CREATE TABLE IF NOT EXISTS identities (
	uuid       TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	state_json TEXT,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore implements IdentityStore on a SQLite database
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// One connection keeps every statement on the same database handle
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(identitiesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create identities table: %w", err)
	}

	return &SQLiteStore{db: db, log: log.Named("sqlitestore")}, nil
}

// Load reads every identity row. Query failures yield an empty set; a row
// with an unreadable state keeps its username.
func (s *SQLiteStore) Load() Identities {
	rows, err := s.db.Query("SELECT uuid, username, state_json FROM identities")
	if err != nil {
		s.log.Error("failed to query identities, starting empty", zap.Error(err))
		return Identities{}
	}
	defer rows.Close()

	ids := Identities{}
	for rows.Next() {
		var (
			id, username string
			stateJSON    sql.NullString
		)
		if err := rows.Scan(&id, &username, &stateJSON); err != nil {
			s.log.Error("failed to scan identity row, starting empty", zap.Error(err))
			return Identities{}
		}

		ident := Identity{Username: username}
		if stateJSON.Valid && stateJSON.String != "" {
			var st engine.PlayerState
			if err := json.Unmarshal([]byte(stateJSON.String), &st); err != nil {
				s.log.Warn("dropping unreadable stored state", zap.String("uuid", id), zap.Error(err))
			} else {
				st.UUID = id
				st.Username = username
				ident.State = &st
			}
		}
		ids[id] = ident
	}
	if err := rows.Err(); err != nil {
		s.log.Error("failed to iterate identities, starting empty", zap.Error(err))
		return Identities{}
	}

	s.log.Info("loaded identities", zap.Int("identities", len(ids)))
	return ids
}

// Save replaces the whole table in one transaction
func (s *SQLiteStore) Save(ids Identities) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM identities"); err != nil {
		return fmt.Errorf("failed to clear identities: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO identities (uuid, username, state_json, updated_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for id, ident := range ids {
		var stateJSON sql.NullString
		if ident.State != nil {
			data, err := json.Marshal(ident.State)
			if err != nil {
				return fmt.Errorf("failed to marshal state for %s: %w", id, err)
			}
			stateJSON = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.Exec(id, ident.Username, stateJSON, now); err != nil {
			return fmt.Errorf("failed to insert identity %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit identities: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
