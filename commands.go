package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cantart/upsert-resolver/upsert"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the entity and dependent tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := upsert.CreateSchema(commandContext(cmd), env.db, env.dialect, env.cfg.Table, env.cfg.Dependent); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema ready: %s, %s\n", env.cfg.Table.Name, env.cfg.Dependent.Name)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert the four fixture messages and their statuses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		var entities []upsert.Entity
		err := upsert.RunInTx(ctx, env.db, env.cfg.Isolation, func(tx *sql.Tx) error {
			var err error
			entities, err = upsert.Seed(ctx, tx, env.resolver, env.coordinator)
			return err
		})
		if err != nil {
			return err
		}
		for _, e := range entities {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", e.ID, e.NaturalKey)
		}
		return nil
	},
}

var (
	upsertKey    string
	upsertSet    []string
	upsertUpdate []string
	upsertStatus string
)

var upsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Upsert a row by natural key and attach a status record to it",
	Long: `Upsert a row by natural key and attach a status record referencing the
resolved id, in one transaction. Transaction conflicts are retried up to
max_attempts times.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		insert, err := parseFields(upsertSet)
		if err != nil {
			return err
		}
		update, err := parseFields(upsertUpdate)
		if err != nil {
			return err
		}
		if len(update) == 0 {
			update = insert
		}
		key := upsertKey
		if key == "" {
			key = uuid.NewString()
		}

		req := upsert.Request{NaturalKey: key, Insert: insert, Update: update}
		payload := upsert.DependentPayload{Status: upsertStatus}

		ctx := commandContext(cmd)
		var (
			out upsert.Outcome
			rec upsert.DependentRecord
		)
		err = retryConflicts(ctx, env.logger.With("natural_key", key), env.cfg.MaxAttempts, retryBackoff, func() error {
			var err error
			out, rec, err = env.coordinator.Apply(ctx, req, payload)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key=%s id=%d inserted=%t rows=%d status_id=%d\n",
			key, out.AffectedID, out.WasInsert, out.RowsTouched, rec.ID)
		return nil
	},
}

// retryBackoff is the pause before the second attempt; later attempts wait
// proportionally longer.
var retryBackoff = 50 * time.Millisecond

// retryConflicts runs fn until it succeeds, fails with a non-retryable
// error, or maxAttempts attempts have been made.
func retryConflicts(ctx context.Context, logger *slog.Logger, maxAttempts int, backoff time.Duration, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !upsert.Retryable(err) || attempt >= maxAttempts {
			return err
		}
		logger.Warn("retrying after transaction conflict", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * backoff):
		}
	}
}

var (
	insertKey string
	insertID  int64
	insertSet []string
)

var insertCmd = &cobra.Command{
	Use:   "insert",
	Short: "Insert a row without a conflict clause",
	Long: `Insert a row without a conflict clause. With --id the primary key is
supplied explicitly; a collision on the id or the natural key is reported as a
constraint violation and is not retried.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(insertSet)
		if err != nil {
			return err
		}
		key := insertKey
		if key == "" {
			key = uuid.NewString()
		}
		req := upsert.Request{NaturalKey: key, Insert: fields}
		ctx := commandContext(cmd)

		id := insertID
		if id > 0 {
			err = env.resolver.InsertWithID(ctx, env.db, id, req)
		} else {
			id, err = env.resolver.Insert(ctx, env.db, req)
		}
		if err != nil {
			if errors.Is(err, upsert.ErrConstraintViolation) {
				return fmt.Errorf("%s already exists: %w", key, err)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "key=%s id=%d\n", key, id)
		return nil
	},
}

var countCmd = &cobra.Command{
	Use:   "count [natural-key]",
	Short: "Count entities, or the dependent records of one entity",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		d := env.dialect

		if len(args) == 0 {
			table, err := d.QuoteIdent(env.cfg.Table.Name)
			if err != nil {
				return err
			}
			var n int64
			if err := env.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
				return fmt.Errorf("count %s: %w", env.cfg.Table.Name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		}

		id, found, err := env.resolver.Lookup(ctx, env.db, args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no %s with %s %q", env.cfg.Table.Name, env.cfg.Table.KeyColumn, args[0])
		}
		table, err := d.QuoteIdent(env.cfg.Dependent.Name)
		if err != nil {
			return err
		}
		ref, err := d.QuoteIdent(env.cfg.Dependent.RefColumn)
		if err != nil {
			return err
		}
		var n int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s", table, ref, d.Placeholder(1))
		if err := env.db.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
			return fmt.Errorf("count %s: %w", env.cfg.Dependent.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "id=%d %s=%d\n", id, env.cfg.Dependent.Name, n)
		return nil
	},
}

func init() {
	upsertCmd.Flags().StringVar(&upsertKey, "key", "", "natural key (default: a new UUID)")
	upsertCmd.Flags().StringArrayVar(&upsertSet, "set", nil, "column=value assigned on insert, repeatable")
	upsertCmd.Flags().StringArrayVar(&upsertUpdate, "update", nil, "column=value assigned on conflict (default: the --set values)")
	upsertCmd.Flags().StringVar(&upsertStatus, "status", "UPDATED", "status of the attached record")

	insertCmd.Flags().StringVar(&insertKey, "key", "", "natural key (default: a new UUID)")
	insertCmd.Flags().Int64Var(&insertID, "id", 0, "explicit primary key")
	insertCmd.Flags().StringArrayVar(&insertSet, "set", nil, "column=value, repeatable")
}

// parseFields turns column=value pairs into upsert fields.
func parseFields(pairs []string) (upsert.Fields, error) {
	fields := make(upsert.Fields, len(pairs))
	for _, pair := range pairs {
		col, val, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(col) == "" {
			return nil, fmt.Errorf("invalid field %q, want column=value", pair)
		}
		fields[strings.TrimSpace(col)] = val
	}
	return fields, nil
}
