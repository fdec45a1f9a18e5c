// Package upsert resolves the primary key of the row an "insert, or update
// on natural-key conflict" statement touched, and attaches dependent rows to
// it inside the same transaction.
package upsert

import (
	"context"
	"sort"
)

// Upserter writes one request and reports the row it touched.
type Upserter interface {
	Upsert(ctx context.Context, ex Executor, req Request) (Outcome, error)
}

// Fields maps column names to values. Columns are emitted in sorted order.
type Fields map[string]any

func (f Fields) columns() []string {
	cols := make([]string, 0, len(f))
	for col := range f {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Request is one upsert. Insert holds the payload of a fresh row; Update the
// columns assigned when NaturalKey already exists. An empty Update still
// targets the existing row without changing it.
type Request struct {
	NaturalKey string
	Insert     Fields
	Update     Fields
}

// Outcome is the row an upsert touched. RowsTouched is 1 for an insert or an
// update that changed nothing and 2 for an update that changed the row.
type Outcome struct {
	AffectedID  int64
	RowsTouched int
	WasInsert   bool
}

// Entity is a row of the entity table.
type Entity struct {
	ID         int64
	NaturalKey string
}
