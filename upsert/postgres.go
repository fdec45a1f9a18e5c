package upsert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres targets PostgreSQL through lib/pq or pgx's database/sql driver. The upsert returns the row id
// and whether the row was freshly inserted (xmax is zero only for a tuple
// created by this statement).
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) QuoteIdent(name string) (string, error) { return quoteIdentifier(name, '"') }

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (p Postgres) UpsertSQL(s Statement) string {
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s RETURNING %s, (xmax = 0) AS inserted",
		insertSQL(p, s), s.KeyColumn, setClauses(p, s), s.IDColumn)
}

func (p Postgres) Upsert(ctx context.Context, ex Executor, s Statement) (StatementResult, error) {
	var (
		id       int64
		inserted bool
	)
	if err := ex.QueryRowContext(ctx, p.UpsertSQL(s), s.Args()...).Scan(&id, &inserted); err != nil {
		return StatementResult{}, fmt.Errorf("exec upsert: %w", err)
	}
	kind := WriteUpdated
	if inserted {
		kind = WriteInserted
	}
	return StatementResult{RowsAffected: 1, GeneratedKey: id, HasKey: true, Scope: ScopeStatement, Kind: kind}, nil
}

func (Postgres) InsertReturningID(ctx context.Context, ex Executor, query, idColumn string, args ...any) (int64, error) {
	var id int64
	if err := ex.QueryRowContext(ctx, query+" RETURNING "+idColumn, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert returning id: %w", err)
	}
	return id, nil
}

func (Postgres) Classifies() bool { return true }

func (Postgres) ClassifyError(err error) Classified {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code), pqErr.Constraint)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code, pgErr.ConstraintName)
	}
	return Classified{}
}

func classifySQLState(code, constraint string) Classified {
	c := Classified{Constraint: constraint}
	switch code {
	case "23505":
		c.Failure = FailureUnique
	case "23503":
		c.Failure = FailureForeignKey
	case "40001", "40P01", "55P03":
		c.Failure = FailureConflict
	}
	return c
}

func (p Postgres) SchemaSQL(t Table, dt DependentTable) ([]string, error) {
	q, err := quoteSchema(p, t, dt)
	if err != nil {
		return nil, err
	}
	entity := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGSERIAL PRIMARY KEY, %s VARCHAR(255) NOT NULL%s)",
		q.table, q.id, q.key, payloadDDL(q.payload))
	index := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)", q.index, q.table, q.key)
	dependent := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGSERIAL PRIMARY KEY, %s BIGINT NOT NULL, %s VARCHAR(255), %s TIMESTAMP, CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s))",
		q.depTable, q.depID, q.ref, q.status, q.changedAt, q.fk, q.ref, q.table, q.id)
	return []string{entity, index, dependent}, nil
}

func payloadDDL(cols []string) string {
	var b strings.Builder
	for _, col := range cols {
		b.WriteString(", ")
		b.WriteString(col)
		b.WriteString(" TEXT")
	}
	return b.String()
}
