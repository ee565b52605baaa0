package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestDuplicateKey(t *testing.T) {
	cases := []struct {
		name string
		err  error
		key  string
		ok   bool
	}{
		{"plain key", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 't1-3' for key 'uk_task_version'"}, "uk_task_version", true},
		{"qualified key", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'oracle_task.PRIMARY'"}, "PRIMARY", true},
		{"wrapped", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a' for key `PRIMARY`"}), "PRIMARY", true},
		{"no marker", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, "", true},
		{"other error number", &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}, "", false},
		{"not mysql", errors.New("boom"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, ok := DuplicateKey(tc.err)
			if key != tc.key || ok != tc.ok {
				t.Fatalf("DuplicateKey() = %q, %v, want %q, %v", key, ok, tc.key, tc.ok)
			}
		})
	}
}

func TestIsNoRowsThroughWrap(t *testing.T) {
	if !IsNoRows(fmt.Errorf("scan failed: %w", sql.ErrNoRows)) {
		t.Fatalf("wrapped ErrNoRows should be detected")
	}
}

type recordingQuerier struct {
	stmts  []string
	failOn int
}

func (q *recordingQuerier) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	return nil, errors.New("unexpected query")
}

func (q *recordingQuerier) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return nil
}

func (q *recordingQuerier) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	q.stmts = append(q.stmts, query)
	if len(q.stmts) == q.failOn {
		return nil, errors.New("syntax error")
	}
	return nil, nil
}

func TestApplySchemaStopsAtFailure(t *testing.T) {
	q := &recordingQuerier{failOn: 2}
	err := ApplySchema(context.Background(), q, []string{"CREATE A", "CREATE B", "CREATE C"})
	if err == nil || !strings.Contains(err.Error(), "statement 2") {
		t.Fatalf("expected failure on statement 2, got %v", err)
	}
	if len(q.stmts) != 2 {
		t.Fatalf("expected execution to stop, ran %d statements", len(q.stmts))
	}
}
