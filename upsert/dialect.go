package upsert

import (
	"context"
	"fmt"
	"strings"
)

// WriteKind is what the store reports an upsert statement did.
type WriteKind int

const (
	// WriteUnknown means the store's outcome code cannot tell an insert from
	// an update.
	WriteUnknown WriteKind = iota
	WriteInserted
	WriteUpdated
	// WriteUnchanged is a conflict whose update left every column as it was.
	WriteUnchanged
)

func (k WriteKind) String() string {
	switch k {
	case WriteInserted:
		return "inserted"
	case WriteUpdated:
		return "updated"
	case WriteUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// KeyScope says how far a driver-reported generated key can be trusted.
type KeyScope int

const (
	ScopeNone KeyScope = iota
	// ScopeStatement keys are produced by the statement itself (RETURNING).
	ScopeStatement
	// ScopeConnection keys come from a per-connection counter such as
	// LAST_INSERT_ID(); earlier statements in the transaction can advance it
	// without touching the row the upsert matched.
	ScopeConnection
)

func (s KeyScope) String() string {
	switch s {
	case ScopeStatement:
		return "statement"
	case ScopeConnection:
		return "connection"
	default:
		return "none"
	}
}

// StatementResult is the raw outcome of one upsert statement.
type StatementResult struct {
	RowsAffected int64
	GeneratedKey int64
	HasKey       bool
	Scope        KeyScope
	Kind         WriteKind
}

// Statement is a fully quoted upsert. Columns holds the insert columns with
// their Values; UpdateColumns are assigned UpdateValues on conflict. Update
// values are bound separately and never refer back to the insert values.
type Statement struct {
	Table         string
	IDColumn      string
	KeyColumn     string
	Columns       []string
	Values        []any
	UpdateColumns []string
	UpdateValues  []any
}

// Args returns the bind arguments in placeholder order.
func (s Statement) Args() []any {
	args := make([]any, 0, len(s.Values)+len(s.UpdateValues))
	args = append(args, s.Values...)
	return append(args, s.UpdateValues...)
}

// Dialect is the single target store's upsert syntax and error vocabulary.
type Dialect interface {
	Name() string
	QuoteIdent(name string) (string, error)
	Placeholder(n int) string
	UpsertSQL(s Statement) string
	Upsert(ctx context.Context, ex Executor, s Statement) (StatementResult, error)
	// InsertReturningID runs a plain INSERT and returns the id the
	// statement itself generated.
	InsertReturningID(ctx context.Context, ex Executor, query, idColumn string, args ...any) (int64, error)
	// Classifies reports whether Upsert sets StatementResult.Kind.
	Classifies() bool
	ClassifyError(err error) Classified
	SchemaSQL(t Table, dt DependentTable) ([]string, error)
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pq", "pgx":
		return Postgres{}, nil
	case "mysql", "mariadb":
		return MySQL{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func insertSQL(d Dialect, s Statement) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.Table,
		strings.Join(s.Columns, ", "),
		strings.Join(placeholders(d, 1, len(s.Columns)), ", "),
	)
}

func setClauses(d Dialect, s Statement) string {
	clauses := make([]string, len(s.UpdateColumns))
	next := len(s.Columns) + 1
	for i, col := range s.UpdateColumns {
		clauses[i] = fmt.Sprintf("%s = %s", col, d.Placeholder(next+i))
	}
	return strings.Join(clauses, ", ")
}
