package upsert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DependentPayload is the content of a dependent row. A zero ChangedAt is
// filled from the coordinator's clock.
type DependentPayload struct {
	Status    string
	ChangedAt time.Time
}

// DependentRecord is a dependent row referencing an entity by id.
type DependentRecord struct {
	ID        int64
	EntityID  int64
	Status    string
	ChangedAt time.Time
}

// Coordinator upserts an entity and inserts a dependent row that references
// the resolved id, as one unit of one transaction.
type Coordinator struct {
	db        TxBeginner
	upserter  Upserter
	dialect   Dialect
	insertSQL string
	idSQL     string
	isolation sql.IsolationLevel
	now       func() time.Time
	logger    *slog.Logger
}

// NewCoordinator returns a Coordinator writing dependent rows to dt. db is
// only needed by Apply and may be nil otherwise.
func NewCoordinator(db TxBeginner, r *Resolver, dt DependentTable, opts ...Option) (*Coordinator, error) {
	if r == nil {
		return nil, errors.New("resolver is required")
	}
	o := newOptions(opts)
	d := r.Dialect()

	tableIdent, err := d.QuoteIdent(dt.Name)
	if err != nil {
		return nil, fmt.Errorf("dependent table: %w", err)
	}
	idIdent, err := d.QuoteIdent(dt.IDColumn)
	if err != nil {
		return nil, fmt.Errorf("dependent id column: %w", err)
	}
	cols, err := quoteAll(d, []string{dt.RefColumn, dt.StatusColumn, dt.ChangedAtColumn})
	if err != nil {
		return nil, fmt.Errorf("dependent table: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableIdent,
		strings.Join(cols, ", "),
		strings.Join(placeholders(d, 1, len(cols)), ", "),
	)

	return &Coordinator{
		db:        db,
		upserter:  r,
		dialect:   d,
		insertSQL: insert,
		idSQL:     idIdent,
		isolation: o.isolation,
		now:       o.now,
		logger:    o.logger,
	}, nil
}

// UpsertThenAttach upserts req on tx and inserts a dependent row referencing
// the resolved id on the same tx. On any failure tx is rolled back before the
// error is returned; a failed dependent insert is reported as
// ErrDependentWrite. The caller commits tx on success.
func (c *Coordinator) UpsertThenAttach(ctx context.Context, tx Tx, req Request, payload DependentPayload) (Outcome, DependentRecord, error) {
	out, err := c.upserter.Upsert(ctx, tx, req)
	if err != nil {
		rollback(c.logger, tx)
		return Outcome{}, DependentRecord{}, err
	}

	rec, err := c.Attach(ctx, tx, out.AffectedID, payload)
	if err != nil {
		rollback(c.logger, tx)
		c.logger.Warn("dependent write failed, transaction rolled back",
			"natural_key", req.NaturalKey,
			"id", out.AffectedID,
			"error", err,
		)
		return Outcome{}, DependentRecord{}, &Error{
			Kind:       ErrDependentWrite,
			Op:         "upsert then attach",
			NaturalKey: req.NaturalKey,
			AffectedID: out.AffectedID,
			Err:        err,
		}
	}
	return out, rec, nil
}

// Apply runs UpsertThenAttach in a transaction of its own at the configured
// isolation level and commits it.
func (c *Coordinator) Apply(ctx context.Context, req Request, payload DependentPayload) (Outcome, DependentRecord, error) {
	if c.db == nil {
		return Outcome{}, DependentRecord{}, errors.New("coordinator has no database to begin transactions on")
	}
	var (
		out Outcome
		rec DependentRecord
	)
	err := runInTx(ctx, c.db, c.isolation, c.logger, func(tx *sql.Tx) error {
		var err error
		out, rec, err = c.UpsertThenAttach(ctx, tx, req, payload)
		return err
	})
	if err != nil {
		return Outcome{}, DependentRecord{}, err
	}
	return out, rec, nil
}

// Attach inserts a dependent row referencing entityID.
func (c *Coordinator) Attach(ctx context.Context, ex Executor, entityID int64, payload DependentPayload) (DependentRecord, error) {
	changedAt := payload.ChangedAt
	if changedAt.IsZero() {
		changedAt = c.now().UTC()
	}
	id, err := c.dialect.InsertReturningID(ctx, ex, c.insertSQL, c.idSQL, entityID, payload.Status, changedAt)
	if err != nil {
		return DependentRecord{}, wrapExec(c.dialect, "attach", "", entityID, ErrConstraintViolation, err)
	}
	return DependentRecord{ID: id, EntityID: entityID, Status: payload.Status, ChangedAt: changedAt}, nil
}
