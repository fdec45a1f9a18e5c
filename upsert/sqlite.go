package upsert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite targets SQLite through modernc.org/sqlite. changes() is 1 for both
// branches of an upsert, so SQLite cannot classify and the resolver probes
// for the natural key first. Foreign keys are only enforced when the
// connection enables them (_pragma=foreign_keys(1) in the DSN).
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) QuoteIdent(name string) (string, error) { return quoteIdentifier(name, '"') }

func (SQLite) Placeholder(int) string { return "?" }

func (s SQLite) UpsertSQL(st Statement) string {
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s RETURNING %s",
		insertSQL(s, st), st.KeyColumn, setClauses(s, st), st.IDColumn)
}

func (s SQLite) Upsert(ctx context.Context, ex Executor, st Statement) (StatementResult, error) {
	var id int64
	if err := ex.QueryRowContext(ctx, s.UpsertSQL(st), st.Args()...).Scan(&id); err != nil {
		return StatementResult{}, fmt.Errorf("exec upsert: %w", err)
	}
	return StatementResult{RowsAffected: 1, GeneratedKey: id, HasKey: true, Scope: ScopeStatement, Kind: WriteUnknown}, nil
}

func (SQLite) InsertReturningID(ctx context.Context, ex Executor, query, idColumn string, args ...any) (int64, error) {
	var id int64
	if err := ex.QueryRowContext(ctx, query+" RETURNING "+idColumn, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert returning id: %w", err)
	}
	return id, nil
}

func (SQLite) Classifies() bool { return false }

func (SQLite) ClassifyError(err error) Classified {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return Classified{}
	}
	msg := sqlErr.Error()
	c := Classified{Constraint: sqliteConstraint(msg)}
	code := sqlErr.Code()
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		c.Failure = FailureUnique
		return c
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		c.Failure = FailureForeignKey
		return c
	}
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		c.Failure = FailureConflict
	case sqlite3.SQLITE_CONSTRAINT:
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed"):
			c.Failure = FailureUnique
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			c.Failure = FailureForeignKey
		}
	}
	return c
}

// sqliteConstraint extracts "table.column" from "UNIQUE constraint failed: table.column".
func sqliteConstraint(msg string) string {
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	rest := msg[i+len(marker):]
	if j := strings.IndexAny(rest, " )"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func (s SQLite) SchemaSQL(t Table, dt DependentTable) ([]string, error) {
	q, err := quoteSchema(s, t, dt)
	if err != nil {
		return nil, err
	}
	entity := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY AUTOINCREMENT, %s VARCHAR(255) NOT NULL%s)",
		q.table, q.id, q.key, payloadDDL(q.payload))
	index := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)", q.index, q.table, q.key)
	dependent := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY AUTOINCREMENT, %s INTEGER NOT NULL, %s VARCHAR(255), %s DATETIME, CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s))",
		q.depTable, q.depID, q.ref, q.status, q.changedAt, q.fk, q.ref, q.table, q.id)
	return []string{entity, index, dependent}, nil
}
