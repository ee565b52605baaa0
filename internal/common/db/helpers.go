package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

// IsNoRows checks if the error is sql.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// DuplicateKey reports whether err is a MySQL duplicate entry error and
// returns the violated key, e.g. "PRIMARY" or "uk_task_version".
func DuplicateKey(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return duplicateKeyName(myErr.Message), true
	}
	return "", false
}

func duplicateKeyName(message string) string {
	const marker = "for key "
	idx := strings.LastIndex(message, marker)
	if idx == -1 {
		return ""
	}
	key := strings.Trim(strings.TrimSpace(message[idx+len(marker):]), " `\"'")
	// MySQL 8 qualifies the key with its table.
	if dot := strings.LastIndex(key, "."); dot >= 0 {
		key = key[dot+1:]
	}
	return key
}

// ApplySchema runs DDL statements in order and stops at the first failure.
func ApplySchema(ctx context.Context, q Querier, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
