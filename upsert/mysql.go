package upsert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MySQL targets MySQL and MariaDB through go-sql-driver/mysql.
//
// ON DUPLICATE KEY UPDATE reports 1 affected row for an insert, 2 for an
// update that changed the row and 0 for one that did not. The DSN must leave
// clientFoundRows off, otherwise an unchanged update also reports 1. The
// insert id is the connection's LAST_INSERT_ID(), which is not bound to the
// matched row.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) QuoteIdent(name string) (string, error) { return quoteIdentifier(name, '`') }

func (MySQL) Placeholder(int) string { return "?" }

func (m MySQL) UpsertSQL(s Statement) string {
	return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", insertSQL(m, s), setClauses(m, s))
}

func (m MySQL) Upsert(ctx context.Context, ex Executor, s Statement) (StatementResult, error) {
	res, err := ex.ExecContext(ctx, m.UpsertSQL(s), s.Args()...)
	if err != nil {
		return StatementResult{}, fmt.Errorf("exec upsert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return StatementResult{}, fmt.Errorf("rows affected: %w", err)
	}

	out := StatementResult{RowsAffected: n, Scope: ScopeConnection}
	switch n {
	case 0:
		out.Kind = WriteUnchanged
	case 1:
		out.Kind = WriteInserted
	case 2:
		out.Kind = WriteUpdated
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		out.GeneratedKey = id
		out.HasKey = true
	}
	return out, nil
}

// InsertReturningID reads LastInsertId right after the insert on the same
// executor, so the value belongs to this statement.
func (MySQL) InsertReturningID(ctx context.Context, ex Executor, query, _ string, args ...any) (int64, error) {
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

func (MySQL) Classifies() bool { return true }

func (MySQL) ClassifyError(err error) Classified {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return Classified{}
	}
	c := Classified{}
	switch myErr.Number {
	case 1062:
		c.Failure = FailureUnique
		c.Constraint = mysqlKeyName(myErr.Message)
	case 1216, 1217, 1451, 1452:
		c.Failure = FailureForeignKey
	case 1205, 1213:
		c.Failure = FailureConflict
	}
	return c
}

// mysqlKeyName extracts the key from "Duplicate entry 'x' for key 'name'".
func mysqlKeyName(msg string) string {
	const marker = "for key '"
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	rest := msg[i+len(marker):]
	if j := strings.IndexByte(rest, '\''); j >= 0 {
		return rest[:j]
	}
	return rest
}

func (m MySQL) SchemaSQL(t Table, dt DependentTable) ([]string, error) {
	q, err := quoteSchema(m, t, dt)
	if err != nil {
		return nil, err
	}
	entity := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGINT NOT NULL AUTO_INCREMENT, %s VARCHAR(255) NOT NULL%s, PRIMARY KEY (%s), UNIQUE KEY %s (%s)) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		q.table, q.id, q.key, payloadDDL(q.payload), q.id, q.index, q.key)
	dependent := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGINT NOT NULL AUTO_INCREMENT, %s BIGINT NOT NULL, %s VARCHAR(255), %s DATETIME, PRIMARY KEY (%s), CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		q.depTable, q.depID, q.ref, q.status, q.changedAt, q.depID, q.fk, q.ref, q.table, q.id)
	return []string{entity, dependent}, nil
}
