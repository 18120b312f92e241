package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection pool backing the relational event
// store (spec §4.6). Bounded pool sizing (5 open, overflow to 10 via
// MaxIdleConns headroom) mirrors the teacher's PGSessionStore pooling.
type Store struct {
	DB   *sql.DB
	Path string
}

// InitResult is the structured outcome of InitializeDatabase (spec §7
// "Configuration/initialization errors are returned as a structured
// result"), generalizing the teacher's tools.Result idiom.
type InitResult struct {
	Success bool
	Error   error
	Path    string
	Created bool
}

// ResolveDBPath implements spec §4.6's precedence: explicit arg > test
// env var (CYLESTIO_TEST_DB_DIR) > platform user-data dir.
func ResolveDBPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if dir := os.Getenv("CYLESTIO_TEST_DB_DIR"); dir != "" {
		return filepath.Join(dir, "sentryflect.db"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("store: resolve user data dir: %w", err)
	}
	return filepath.Join(dir, "sentryflect", "sentryflect.db"), nil
}

// InitializeDatabase resolves the DB path, ensures its directory exists
// and is writable, opens a bounded connection pool, and creates or
// updates the schema (spec §4.6 Initialize).
func InitializeDatabase(explicitPath string) InitResult {
	path, err := ResolveDBPath(explicitPath)
	if err != nil {
		return InitResult{Error: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return InitResult{Error: fmt.Errorf("store: create db dir: %w", err)}
	}
	if err := checkWritable(filepath.Dir(path)); err != nil {
		return InitResult{Error: err}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return InitResult{Error: fmt.Errorf("store: open db: %w", err)}
	}
	db.SetMaxOpenConns(5 + 10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Second)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return InitResult{Error: fmt.Errorf("store: enable foreign keys: %w", err)}
	}

	existed, err := anyTableExists(db)
	if err != nil {
		db.Close()
		return InitResult{Error: err}
	}

	if !existed {
		if err := createSchema(db); err != nil {
			db.Close()
			return InitResult{Error: err}
		}
		slog.Info("store: schema created", "path", path)
	} else {
		result, err := verifySchema(db)
		if err != nil {
			db.Close()
			return InitResult{Error: err}
		}
		if !result.Matches {
			slog.Info("store: schema drift detected on open",
				"missing_tables", result.MissingTables,
				"missing_columns", result.MissingColumns)
			if _, err := applyMissingTables(db, result.MissingTables); err != nil {
				db.Close()
				return InitResult{Error: err}
			}
		}
	}

	db.Close()
	return InitResult{Success: true, Path: path, Created: !existed}
}

// Open opens an existing database at path without running schema setup
// (tests and CloseConversationIfTerminated-style helpers use this once
// InitializeDatabase has already run once).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	db.SetMaxOpenConns(15)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db, Path: path}, nil
}

func checkWritable(dir string) error {
	probe := filepath.Join(dir, ".sentryflect_write_check")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("store: directory not writable: %w", err)
	}
	f.Close()
	return os.Remove(probe)
}

func createSchema(db *sql.DB) error {
	for _, t := range schemaTables {
		if _, err := db.Exec(t.DDL); err != nil {
			return fmt.Errorf("store: create table %s: %w", t.Name, err)
		}
	}
	for _, idx := range schemaIndexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("store: create index: %w", err)
		}
	}
	return nil
}

func anyTableExists(db *sql.DB) (bool, error) {
	row := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, schemaTables[0].Name)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("store: check existing tables: %w", err)
	}
	return n > 0, nil
}

// ResetDatabase refuses unless force=true; it copies the live file to a
// timestamped backup, drops it, and reinitializes (spec §4.6 Reset).
func ResetDatabase(path string, force bool) (InitResult, string, error) {
	if !force {
		return InitResult{}, "", fmt.Errorf("store: reset refused without force=true")
	}

	backupPath := fmt.Sprintf("%s_backup_%s.db", path, time.Now().UTC().Format("20060102_150405"))
	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, backupPath); err != nil {
			return InitResult{}, "", fmt.Errorf("store: backup before reset: %w", err)
		}
		if err := os.Remove(path); err != nil {
			return InitResult{}, "", fmt.Errorf("store: remove db before reset: %w", err)
		}
	}

	result := InitializeDatabase(path)
	return result, backupPath, result.Error
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
