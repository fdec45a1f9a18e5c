package upsert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// KeyExtractor determines the primary key of the row an upsert touched.
//
// Identity is re-derived from the natural key on the upsert's own executor
// unless the statement itself returned the key. A connection-scoped key
// (LAST_INSERT_ID and friends) is never returned as is: it only serves as a
// cross-check, since earlier inserts in the same transaction advance it.
type KeyExtractor struct {
	dialect Dialect
	lookup  string
	verify  bool
	logger  *slog.Logger
}

// NewKeyExtractor prepares the natural-key lookup for t.
func NewKeyExtractor(d Dialect, t Table, opts ...Option) (*KeyExtractor, error) {
	o := newOptions(opts)
	tableIdent, err := d.QuoteIdent(t.Name)
	if err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	idIdent, err := d.QuoteIdent(t.IDColumn)
	if err != nil {
		return nil, fmt.Errorf("id column: %w", err)
	}
	keyIdent, err := d.QuoteIdent(t.KeyColumn)
	if err != nil {
		return nil, fmt.Errorf("key column: %w", err)
	}
	return &KeyExtractor{
		dialect: d,
		lookup:  fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", idIdent, tableIdent, keyIdent, d.Placeholder(1)),
		verify:  o.verifyKeys,
		logger:  o.logger,
	}, nil
}

// Lookup returns the id of the row carrying naturalKey as seen by ex.
func (k *KeyExtractor) Lookup(ctx context.Context, ex Executor, naturalKey string) (int64, bool, error) {
	var id int64
	switch err := ex.QueryRowContext(ctx, k.lookup, naturalKey).Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("lookup natural key: %w", err)
	}
	return id, true, nil
}

// Resolve returns the authoritative id for the row res touched. ex must be
// the executor the upsert ran on.
func (k *KeyExtractor) Resolve(ctx context.Context, ex Executor, res StatementResult, naturalKey string) (int64, error) {
	if res.HasKey && res.Scope == ScopeStatement && !k.verify {
		return res.GeneratedKey, nil
	}

	reported := int64(0)
	if res.HasKey {
		reported = res.GeneratedKey
	}

	id, found, err := k.Lookup(ctx, ex, naturalKey)
	if err != nil {
		return 0, wrapExec(k.dialect, "resolve key", naturalKey, reported, ErrExecutor, err)
	}
	if !found {
		return 0, &Error{Kind: ErrKeyResolution, Op: "resolve key", NaturalKey: naturalKey, AffectedID: reported}
	}

	if res.HasKey && res.GeneratedKey != id {
		k.logger.Warn("discarding generated key",
			"natural_key", naturalKey,
			"reported", res.GeneratedKey,
			"resolved", id,
			"scope", res.Scope.String(),
			"write", res.Kind.String(),
		)
	}
	return id, nil
}
