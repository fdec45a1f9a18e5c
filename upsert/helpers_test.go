package upsert

import (
	"database/sql"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

const (
	updatedMessage = "Updated Message 1"
	updatedAt      = "2015-09-21 10:40:00"
)

// updateRequest mirrors the fixture's update of one message.
func updateRequest(key string) Request {
	fields := Fields{"message": updatedMessage, "last_status_change": updatedAt}
	return Request{NaturalKey: key, Insert: fields, Update: fields}
}

// updateArgs are the bind arguments of updateRequest in placeholder order.
func updateArgs(key string) []any {
	return []any{key, updatedAt, updatedMessage, updatedAt, updatedMessage}
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newTestResolver(t *testing.T, d Dialect, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(d, DefaultTable(), opts...)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func driverArgs(args []any) []driver.Value {
	out := make([]driver.Value, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
