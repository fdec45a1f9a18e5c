package upsert

import (
	"context"
	"fmt"
	"time"
)

// FixtureEntry is one seeded entity with the statuses attached to it.
type FixtureEntry struct {
	NaturalKey string
	Message    string
	Statuses   []string
}

// FixtureTime is the timestamp of every seeded row.
var FixtureTime = time.Date(2015, time.September, 21, 10, 34, 9, 0, time.UTC)

// Fixture is the four-message data set: two statuses for the first two
// messages, one for the others.
var Fixture = []FixtureEntry{
	{NaturalKey: "abcd1234", Message: "Test Message 1", Statuses: []string{"RECEIVED", "DELIVERED"}},
	{NaturalKey: "abcd1235", Message: "Test Message 2", Statuses: []string{"RECEIVED", "DELIVERED"}},
	{NaturalKey: "abcd1236", Message: "Test Message 3", Statuses: []string{"RECEIVED"}},
	{NaturalKey: "abcd1237", Message: "Test Message 4", Statuses: []string{"RECEIVED"}},
}

// Seed inserts Fixture through plain inserts on ex, which must use the
// default payload columns of DefaultTable.
func Seed(ctx context.Context, ex Executor, r *Resolver, c *Coordinator) ([]Entity, error) {
	entities := make([]Entity, 0, len(Fixture))
	for _, entry := range Fixture {
		id, err := r.Insert(ctx, ex, Request{
			NaturalKey: entry.NaturalKey,
			Insert: Fields{
				"message":            entry.Message,
				"last_status_change": FixtureTime.Format(time.DateTime),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", entry.NaturalKey, err)
		}
		for _, status := range entry.Statuses {
			if _, err := c.Attach(ctx, ex, id, DependentPayload{Status: status, ChangedAt: FixtureTime}); err != nil {
				return nil, fmt.Errorf("seed %s status %s: %w", entry.NaturalKey, status, err)
			}
		}
		entities = append(entities, Entity{ID: id, NaturalKey: entry.NaturalKey})
	}
	return entities, nil
}
