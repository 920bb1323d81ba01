package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DBIdempotencyChecker answers dedup lookups from the operation log, which
// carries a unique (command_kind, idempotency_key) constraint.
type DBIdempotencyChecker struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
}

func NewDBIdempotencyChecker(db *sql.DB, dialect Dialect) *DBIdempotencyChecker {
	return &DBIdempotencyChecker{
		db:      db,
		dialect: dialect,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate reports whether (kind, key) was already logged.
func (c *DBIdempotencyChecker) IsDuplicate(kind string, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT 1
		FROM %s
		WHERE command_kind = $1 AND idempotency_key = $2
		LIMIT 1
	`, c.dialect.Table("event_log", "operations"))

	var exists int
	err := c.db.QueryRowContext(ctx, query, kind, key).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
