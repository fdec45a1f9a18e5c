package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/cantart/upsert-resolver/upsert"
)

var (
	// configFile is set by the --config flag.
	configFile string
	verbose    bool

	// env is initialized by PersistentPreRunE for every subcommand.
	env *environment
)

// environment holds the open database and the components built on it.
type environment struct {
	cfg         config
	db          *sql.DB
	dialect     upsert.Dialect
	resolver    *upsert.Resolver
	coordinator *upsert.Coordinator
	logger      *slog.Logger
}

func main() {
	err := rootCmd.Execute()
	// PersistentPostRunE is skipped when a command fails.
	if cerr := closeEnvironment(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "upsertkey",
	Short: "Upsert rows by natural key and attach dependent records to the resolved id",
	Long: `upsertkey performs "insert, or update on natural-key conflict" writes and
resolves the primary key of the touched row from the natural key, inside the
same transaction, before inserting a dependent status record that references it.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: openEnvironment,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeEnvironment()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./upsertkey.yaml)")
	rootCmd.PersistentFlags().String("driver", "", "database driver: postgres, pgx, mysql or sqlite")
	rootCmd.PersistentFlags().String("dsn", "", "data source name")
	rootCmd.PersistentFlags().String("isolation", "", "transaction isolation level, e.g. read-uncommitted")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(schemaCmd, seedCmd, upsertCmd, insertCmd, countCmd)
}

func openEnvironment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile, cmd.Root().PersistentFlags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	dialect, err := upsert.DialectFor(cfg.Driver)
	if err != nil {
		return err
	}

	driver := sqlDriver(cfg.Driver, dialect)
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect.Name() == "sqlite" {
		// One writer at a time; a second connection would only see SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(commandContext(cmd)); err != nil {
		db.Close()
		return fmt.Errorf("ping %s: %w", driver, err)
	}

	opts := []upsert.Option{
		upsert.WithLogger(logger),
		upsert.WithKeyVerification(cfg.VerifyKeys),
		upsert.WithIsolation(cfg.Isolation),
	}
	resolver, err := upsert.NewResolver(dialect, cfg.Table, opts...)
	if err != nil {
		db.Close()
		return fmt.Errorf("resolver: %w", err)
	}
	coordinator, err := upsert.NewCoordinator(db, resolver, cfg.Dependent, opts...)
	if err != nil {
		db.Close()
		return fmt.Errorf("coordinator: %w", err)
	}

	env = &environment{
		cfg:         cfg,
		db:          db,
		dialect:     dialect,
		resolver:    resolver,
		coordinator: coordinator,
		logger:      logger,
	}
	logger.Debug("database opened", "driver", driver, "isolation", cfg.Isolation.String())
	return nil
}

// sqlDriver returns the registered database/sql driver for the configured
// name. Postgres is served by lib/pq unless pgx is asked for.
func sqlDriver(name string, d upsert.Dialect) string {
	if strings.EqualFold(name, "pgx") {
		return "pgx"
	}
	return d.Name()
}

func closeEnvironment() error {
	if env == nil {
		return nil
	}
	err := env.db.Close()
	env = nil
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
