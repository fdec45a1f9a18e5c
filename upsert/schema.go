package upsert

import (
	"context"
	"fmt"
)

// Table describes the entity table: an auto-assigned primary key, a unique
// natural key and free payload columns.
type Table struct {
	Name      string
	IDColumn  string
	KeyColumn string
	Payload   []string
}

// DependentTable describes the table whose rows reference Table by id.
type DependentTable struct {
	Name            string
	IDColumn        string
	RefColumn       string
	StatusColumn    string
	ChangedAtColumn string
}

// DefaultTable is the message table of the status-tracking fixture.
func DefaultTable() Table {
	return Table{
		Name:      "message",
		IDColumn:  "id",
		KeyColumn: "message_id",
		Payload:   []string{"message", "last_status_change"},
	}
}

// DefaultDependentTable is the status table referencing DefaultTable.
func DefaultDependentTable() DependentTable {
	return DependentTable{
		Name:            "status",
		IDColumn:        "id",
		RefColumn:       "message_id",
		StatusColumn:    "status",
		ChangedAtColumn: "last_change",
	}
}

// CreateSchema creates both tables, the unique natural-key index and the
// foreign key. It is idempotent.
func CreateSchema(ctx context.Context, ex Executor, d Dialect, t Table, dt DependentTable) error {
	stmts, err := d.SchemaSQL(t, dt)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

type quotedSchema struct {
	table, id, key, index string
	payload               []string

	depTable, depID, ref, status, changedAt, fk string
}

func quoteSchema(d Dialect, t Table, dt DependentTable) (quotedSchema, error) {
	var q quotedSchema
	var err error
	quote := func(dst *string, what, name string) {
		if err != nil {
			return
		}
		if *dst, err = d.QuoteIdent(name); err != nil {
			err = fmt.Errorf("%s: %w", what, err)
		}
	}

	quote(&q.table, "table", t.Name)
	quote(&q.id, "id column", t.IDColumn)
	quote(&q.key, "key column", t.KeyColumn)
	quote(&q.index, "index name", deriveIndexName(t.Name, []string{t.KeyColumn}, "natural_key"))
	quote(&q.depTable, "dependent table", dt.Name)
	quote(&q.depID, "dependent id column", dt.IDColumn)
	quote(&q.ref, "reference column", dt.RefColumn)
	quote(&q.status, "status column", dt.StatusColumn)
	quote(&q.changedAt, "changed-at column", dt.ChangedAtColumn)
	quote(&q.fk, "foreign key name", "fk_"+dt.Name+"_"+t.Name)
	if err != nil {
		return quotedSchema{}, err
	}

	if q.payload, err = quoteAll(d, t.Payload); err != nil {
		return quotedSchema{}, fmt.Errorf("payload: %w", err)
	}
	return q, nil
}
