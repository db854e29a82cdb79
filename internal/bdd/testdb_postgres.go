package bdd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/resume-chat/internal/testutil/cucumber"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresTestDB implements cucumber.TestDB for Postgres.
type PostgresTestDB struct {
	DBURL string
}

var _ cucumber.TestDB = (*PostgresTestDB)(nil)

// resumeTables lists tables in delete order.
var resumeTables = []string{"resume_versions", "conversation_threads"}

func (p *PostgresTestDB) conn(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, p.DBURL)
	if err != nil {
		return nil, fmt.Errorf("connect to test database: %w", err)
	}
	return conn, nil
}

func (p *PostgresTestDB) ClearAll(ctx context.Context) error {
	conn, err := p.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	for _, table := range resumeTables {
		if _, err := conn.Exec(ctx, "DELETE FROM "+table); err != nil {
			// 42P01: the schema has not been created yet
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
				continue
			}
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func (p *PostgresTestDB) ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	conn, err := p.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	for _, row := range result {
		for k, v := range row {
			row[k] = normalizeSQLValue(v)
		}
	}
	return result, nil
}

// normalizeSQLValue renders driver values the way they appear in API
// responses so features can compare them as text.
func normalizeSQLValue(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	case []byte:
		return string(t)
	}
	return v
}
