package store

import (
	"database/sql"
	"fmt"
)

// VerifyResult is the comparison of actual vs expected schema (spec
// §4.6 Verify). It never indicates failure via an error for a mere
// mismatch — the caller decides what to do with Matches=false.
type VerifyResult struct {
	Matches        bool
	MissingTables  []string
	MissingColumns map[string][]string
	ExtraTables    []string
	ExtraColumns   map[string][]string
}

// VerifySchema compares db's live schema against the model metadata.
// sqlite_sequence (SQLite's autoincrement bookkeeping table) is ignored.
func VerifySchema(db *sql.DB) (VerifyResult, error) {
	return verifySchema(db)
}

func verifySchema(db *sql.DB) (VerifyResult, error) {
	actualTables, err := liveTables(db)
	if err != nil {
		return VerifyResult{}, err
	}

	expected := make(map[string]bool, len(schemaTables))
	for _, t := range schemaTables {
		expected[t.Name] = true
	}

	result := VerifyResult{
		MissingColumns: map[string][]string{},
		ExtraColumns:   map[string][]string{},
	}

	for _, t := range schemaTables {
		if !actualTables[t.Name] {
			result.MissingTables = append(result.MissingTables, t.Name)
			continue
		}
		liveCols, err := liveColumns(db, t.Name)
		if err != nil {
			return VerifyResult{}, err
		}
		expectedCols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			expectedCols[c.Name] = true
			if !liveCols[c.Name] {
				result.MissingColumns[t.Name] = append(result.MissingColumns[t.Name], c.Name)
			}
		}
		for col := range liveCols {
			if !expectedCols[col] {
				result.ExtraColumns[t.Name] = append(result.ExtraColumns[t.Name], col)
			}
		}
	}

	for name := range actualTables {
		if name == "sqlite_sequence" {
			continue
		}
		if !expected[name] {
			result.ExtraTables = append(result.ExtraTables, name)
		}
	}

	result.Matches = len(result.MissingTables) == 0 && len(result.MissingColumns) == 0
	return result, nil
}

func liveTables(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	if err != nil {
		return nil, fmt.Errorf("store: list tables: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func liveColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, fmt.Errorf("store: table_info(%s): %w", table, err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// UpdateSchema adds missing tables and columns in a single transaction
// using ALTER TABLE ADD COLUMN; it never drops or renames (spec §4.6
// Update).
func UpdateSchema(db *sql.DB) (VerifyResult, error) {
	before, err := verifySchema(db)
	if err != nil {
		return VerifyResult{}, err
	}
	if before.Matches {
		return before, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("store: begin update tx: %w", err)
	}
	defer tx.Rollback()

	for _, name := range before.MissingTables {
		t, ok := tableByName(name)
		if !ok {
			continue
		}
		if _, err := tx.Exec(t.DDL); err != nil {
			return VerifyResult{}, fmt.Errorf("store: create missing table %s: %w", name, err)
		}
	}

	for table, cols := range before.MissingColumns {
		t, ok := tableByName(table)
		if !ok {
			continue
		}
		colByName := map[string]columnDef{}
		for _, c := range t.Columns {
			colByName[c.Name] = c
		}
		for _, colName := range cols {
			c, ok := colByName[colName]
			if !ok {
				continue
			}
			stmt := fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %q %s`, table, c.Name, c.Type)
			if _, err := tx.Exec(stmt); err != nil {
				return VerifyResult{}, fmt.Errorf("store: add column %s.%s: %w", table, colName, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return VerifyResult{}, fmt.Errorf("store: commit update tx: %w", err)
	}

	return applyMissingTables(db, nil)
}

// applyMissingTables is InitializeDatabase's narrower path: it only
// creates whatever tables are named (columns are never missing on a
// freshly-created table), then re-verifies.
func applyMissingTables(db *sql.DB, missing []string) (VerifyResult, error) {
	for _, name := range missing {
		t, ok := tableByName(name)
		if !ok {
			continue
		}
		if _, err := db.Exec(t.DDL); err != nil {
			return VerifyResult{}, fmt.Errorf("store: create missing table %s: %w", name, err)
		}
	}
	for _, idx := range schemaIndexes {
		db.Exec(idx)
	}
	return verifySchema(db)
}
