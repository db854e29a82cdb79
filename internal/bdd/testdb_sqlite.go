package bdd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chirino/resume-chat/internal/plugin/store/sqlite"
	"github.com/chirino/resume-chat/internal/testutil/cucumber"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteTestDB implements cucumber.TestDB for a file-backed SQLite store.
type SQLiteTestDB struct {
	DBURL string
}

var _ cucumber.TestDB = (*SQLiteTestDB)(nil)

func (d *SQLiteTestDB) open() (*sql.DB, error) {
	return sql.Open("sqlite3", sqlite.DSN(d.DBURL))
}

func (d *SQLiteTestDB) ClearAll(ctx context.Context) error {
	db, err := d.open()
	if err != nil {
		return fmt.Errorf("cleanup: failed to open: %w", err)
	}
	defer db.Close()

	for _, table := range resumeTables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("cleanup: failed to delete from %s: %w", table, err)
		}
	}
	return nil
}

func (d *SQLiteTestDB) ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	db, err := d.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("SQL query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalizeSQLValue(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
