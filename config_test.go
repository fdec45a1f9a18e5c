package main

import (
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cantart/upsert-resolver/upsert"
)

func TestParseIsolation(t *testing.T) {
	tests := []struct {
		in   string
		want sql.IsolationLevel
	}{
		{in: "", want: sql.LevelDefault},
		{in: "default", want: sql.LevelDefault},
		{in: "read-uncommitted", want: sql.LevelReadUncommitted},
		{in: "READ_UNCOMMITTED", want: sql.LevelReadUncommitted},
		{in: "read committed", want: sql.LevelReadCommitted},
		{in: " Serializable ", want: sql.LevelSerializable},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseIsolation(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := parseIsolation("dirty")
	assert.ErrorContains(t, err, "unknown isolation level")
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Driver)
	assert.Equal(t, defaultSQLiteDSN, cfg.DSN)
	assert.Equal(t, sql.LevelDefault, cfg.Isolation)
	assert.False(t, cfg.VerifyKeys)
	assert.Equal(t, defaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, upsert.DefaultTable(), cfg.Table)
	assert.Equal(t, upsert.DefaultDependentTable(), cfg.Dependent)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upsertkey.yaml")
	content := `driver: postgres
dsn: postgres://localhost/messages
isolation: READ_UNCOMMITTED
verify_keys: true
max_attempts: 5
log_level: debug
table:
  name: msg
  key_column: msg_id
  payload: [body]
dependent:
  name: msg_status
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := loadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, "postgres://localhost/messages", cfg.DSN)
	assert.Equal(t, sql.LevelReadUncommitted, cfg.Isolation)
	assert.True(t, cfg.VerifyKeys)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, upsert.Table{Name: "msg", IDColumn: "id", KeyColumn: "msg_id", Payload: []string{"body"}}, cfg.Table)
	assert.Equal(t, "msg_status", cfg.Dependent.Name)
	assert.Equal(t, "message_id", cfg.Dependent.RefColumn)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.ErrorContains(t, err, "read config")
}

func TestLoadConfigPrecedence(t *testing.T) {
	t.Setenv("UPSERTKEY_DRIVER", "postgres")
	t.Setenv("UPSERTKEY_DSN", "postgres://env/messages")
	t.Setenv("UPSERTKEY_TABLE_NAME", "env_message")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("driver", "", "")
	flags.String("dsn", "", "")
	flags.String("isolation", "", "")
	require.NoError(t, flags.Parse([]string{"--driver", "mysql", "--isolation", "serializable"}))

	cfg, err := loadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Driver, "flag beats env")
	assert.Equal(t, "postgres://env/messages", cfg.DSN, "env beats default")
	assert.Equal(t, sql.LevelSerializable, cfg.Isolation)
	assert.Equal(t, "env_message", cfg.Table.Name)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Run("maxAttempts", func(t *testing.T) {
		t.Setenv("UPSERTKEY_MAX_ATTEMPTS", "0")
		_, err := loadConfig("", nil)
		assert.ErrorContains(t, err, "max_attempts")
	})
	t.Run("logLevel", func(t *testing.T) {
		t.Setenv("UPSERTKEY_LOG_LEVEL", "chatty")
		_, err := loadConfig("", nil)
		assert.ErrorContains(t, err, "log level")
	})
	t.Run("isolation", func(t *testing.T) {
		t.Setenv("UPSERTKEY_ISOLATION", "dirty")
		_, err := loadConfig("", nil)
		assert.ErrorContains(t, err, "isolation")
	})
}
