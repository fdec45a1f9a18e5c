package upsert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Resolver issues upserts against one entity table and returns the id of the
// affected row. It keeps no state between calls; concurrent upserts of the
// same natural key are serialized by the store's unique constraint alone.
type Resolver struct {
	dialect   Dialect
	table     Table
	tableSQL  string
	idSQL     string
	keySQL    string
	extractor *KeyExtractor
	logger    *slog.Logger
}

var _ Upserter = (*Resolver)(nil)

// NewResolver returns a Resolver for t in dialect d.
func NewResolver(d Dialect, t Table, opts ...Option) (*Resolver, error) {
	o := newOptions(opts)
	extractor, err := NewKeyExtractor(d, t, opts...)
	if err != nil {
		return nil, err
	}
	// NewKeyExtractor validated these.
	tableIdent, _ := d.QuoteIdent(t.Name)
	idIdent, _ := d.QuoteIdent(t.IDColumn)
	keyIdent, _ := d.QuoteIdent(t.KeyColumn)

	return &Resolver{
		dialect:   d,
		table:     t,
		tableSQL:  tableIdent,
		idSQL:     idIdent,
		keySQL:    keyIdent,
		extractor: extractor,
		logger:    o.logger,
	}, nil
}

// Dialect returns the resolver's dialect.
func (r *Resolver) Dialect() Dialect { return r.dialect }

// Table returns the entity table the resolver writes.
func (r *Resolver) Table() Table { return r.table }

// Upsert inserts req or, when its natural key exists, updates that row. All
// statements run on ex, which should be the caller's transaction. Calling it
// again with the same natural key targets the same row.
func (r *Resolver) Upsert(ctx context.Context, ex Executor, req Request) (Outcome, error) {
	const op = "upsert"

	st, err := r.statement(req)
	if err != nil {
		return Outcome{}, &Error{Kind: ErrInvalidRequest, Op: op, NaturalKey: req.NaturalKey, Err: err}
	}

	var existing int64
	probed := !r.dialect.Classifies()
	if probed {
		id, _, err := r.extractor.Lookup(ctx, ex, req.NaturalKey)
		if err != nil {
			return Outcome{}, wrapExec(r.dialect, op, req.NaturalKey, 0, ErrExecutor, err)
		}
		existing = id
	}

	res, err := r.dialect.Upsert(ctx, ex, st)
	if err != nil {
		return Outcome{}, wrapExec(r.dialect, op, req.NaturalKey, existing, ErrIntegrity, err)
	}
	if probed {
		res.Kind = WriteInserted
		if existing != 0 {
			res.Kind = WriteUpdated
		}
	}

	id, err := r.extractor.Resolve(ctx, ex, res, req.NaturalKey)
	if err != nil {
		return Outcome{}, err
	}
	if existing != 0 && existing != id {
		return Outcome{}, &Error{
			Kind:       ErrKeyResolution,
			Op:         op,
			NaturalKey: req.NaturalKey,
			AffectedID: id,
			Err:        fmt.Errorf("natural key moved from id %d", existing),
		}
	}

	out := classify(res, id)
	r.logger.Debug("upsert resolved",
		"table", r.table.Name,
		"natural_key", req.NaturalKey,
		"id", out.AffectedID,
		"inserted", out.WasInsert,
		"rows_touched", out.RowsTouched,
	)
	return out, nil
}

// classify normalizes the dialect's outcome code. Any conflict-triggered
// path counts as an update, including one that changed no column.
func classify(res StatementResult, id int64) Outcome {
	switch res.Kind {
	case WriteInserted:
		return Outcome{AffectedID: id, RowsTouched: 1, WasInsert: true}
	case WriteUnchanged:
		return Outcome{AffectedID: id, RowsTouched: 1}
	default:
		return Outcome{AffectedID: id, RowsTouched: 2}
	}
}

// Insert adds req as a new row without a conflict clause and returns the
// generated id. An existing natural key is a constraint violation.
func (r *Resolver) Insert(ctx context.Context, ex Executor, req Request) (int64, error) {
	const op = "insert"

	st, err := r.statement(req)
	if err != nil {
		return 0, &Error{Kind: ErrInvalidRequest, Op: op, NaturalKey: req.NaturalKey, Err: err}
	}
	id, err := r.dialect.InsertReturningID(ctx, ex, insertSQL(r.dialect, st), r.idSQL, st.Values...)
	if err != nil {
		return 0, wrapExec(r.dialect, op, req.NaturalKey, 0, ErrConstraintViolation, err)
	}
	return id, nil
}

// InsertWithID adds req with an explicit primary key, bypassing the upsert
// path. Collisions on either the id or the natural key are returned as
// ErrConstraintViolation and are never retried.
func (r *Resolver) InsertWithID(ctx context.Context, ex Executor, id int64, req Request) error {
	const op = "insert with id"

	if id <= 0 {
		return &Error{Kind: ErrInvalidRequest, Op: op, NaturalKey: req.NaturalKey, Err: fmt.Errorf("id must be positive, got %d", id)}
	}
	st, err := r.statement(req)
	if err != nil {
		return &Error{Kind: ErrInvalidRequest, Op: op, NaturalKey: req.NaturalKey, Err: err}
	}
	st.Columns = append([]string{r.idSQL}, st.Columns...)
	st.Values = append([]any{id}, st.Values...)

	if _, err := ex.ExecContext(ctx, insertSQL(r.dialect, st), st.Values...); err != nil {
		return wrapExec(r.dialect, op, req.NaturalKey, id, ErrConstraintViolation, err)
	}
	return nil
}

// Lookup returns the id of the row with the natural key, as visible to ex.
func (r *Resolver) Lookup(ctx context.Context, ex Executor, naturalKey string) (int64, bool, error) {
	id, found, err := r.extractor.Lookup(ctx, ex, naturalKey)
	if err != nil {
		return 0, false, wrapExec(r.dialect, "lookup", naturalKey, 0, ErrExecutor, err)
	}
	return id, found, nil
}

// statement validates req and builds its quoted upsert. The natural key is
// always the first insert column.
func (r *Resolver) statement(req Request) (Statement, error) {
	if strings.TrimSpace(req.NaturalKey) == "" {
		return Statement{}, errors.New("natural key is required")
	}

	st := Statement{
		Table:     r.tableSQL,
		IDColumn:  r.idSQL,
		KeyColumn: r.keySQL,
		Columns:   []string{r.keySQL},
		Values:    []any{req.NaturalKey},
	}

	for _, col := range req.Insert.columns() {
		quoted, err := r.payloadColumn(col)
		if err != nil {
			return Statement{}, fmt.Errorf("insert %w", err)
		}
		st.Columns = append(st.Columns, quoted)
		st.Values = append(st.Values, req.Insert[col])
	}

	if len(req.Update) == 0 {
		st.UpdateColumns = []string{r.keySQL}
		st.UpdateValues = []any{req.NaturalKey}
		return st, nil
	}
	for _, col := range req.Update.columns() {
		quoted, err := r.payloadColumn(col)
		if err != nil {
			return Statement{}, fmt.Errorf("update %w", err)
		}
		st.UpdateColumns = append(st.UpdateColumns, quoted)
		st.UpdateValues = append(st.UpdateValues, req.Update[col])
	}
	return st, nil
}

func (r *Resolver) payloadColumn(col string) (string, error) {
	if strings.EqualFold(col, r.table.IDColumn) {
		return "", fmt.Errorf("column %q: primary key is assigned by the store", col)
	}
	if strings.EqualFold(col, r.table.KeyColumn) {
		return "", fmt.Errorf("column %q: natural key is set from the request", col)
	}
	quoted, err := r.dialect.QuoteIdent(col)
	if err != nil {
		return "", fmt.Errorf("column %q: %w", col, err)
	}
	return quoted, nil
}
