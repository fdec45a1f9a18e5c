package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cantart/upsert-resolver/upsert"
)

const (
	envPrefix = "UPSERTKEY"

	cfgKeyDriver      = "driver"
	cfgKeyDSN         = "dsn"
	cfgKeyIsolation   = "isolation"
	cfgKeyVerifyKeys  = "verify_keys"
	cfgKeyMaxAttempts = "max_attempts"
	cfgKeyLogLevel    = "log_level"

	cfgKeyTableName      = "table.name"
	cfgKeyTableID        = "table.id_column"
	cfgKeyTableKey       = "table.key_column"
	cfgKeyTablePayload   = "table.payload"
	cfgKeyDepName        = "dependent.name"
	cfgKeyDepID          = "dependent.id_column"
	cfgKeyDepRef         = "dependent.ref_column"
	cfgKeyDepStatus      = "dependent.status_column"
	cfgKeyDepChangedAt   = "dependent.changed_at_column"
	defaultSQLiteDSN     = "file:upsertkey.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	defaultMaxAttempts   = 3
	defaultLogLevelValue = "info"
)

// config is the resolved configuration of one CLI invocation.
type config struct {
	Driver      string
	DSN         string
	Isolation   sql.IsolationLevel
	VerifyKeys  bool
	MaxAttempts int
	LogLevel    slog.Level
	Table       upsert.Table
	Dependent   upsert.DependentTable
}

// loadConfig layers defaults, the optional config file, UPSERTKEY_* env
// vars and the given flags, in increasing precedence.
func loadConfig(path string, flags *pflag.FlagSet) (config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range map[string]string{cfgKeyDriver: "driver", cfgKeyDSN: "dsn", cfgKeyIsolation: "isolation"} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("upsertkey")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return decodeConfig(v)
}

func setDefaults(v *viper.Viper) {
	t := upsert.DefaultTable()
	dt := upsert.DefaultDependentTable()

	v.SetDefault(cfgKeyDriver, "sqlite")
	v.SetDefault(cfgKeyDSN, defaultSQLiteDSN)
	v.SetDefault(cfgKeyIsolation, "default")
	v.SetDefault(cfgKeyVerifyKeys, false)
	v.SetDefault(cfgKeyMaxAttempts, defaultMaxAttempts)
	v.SetDefault(cfgKeyLogLevel, defaultLogLevelValue)

	v.SetDefault(cfgKeyTableName, t.Name)
	v.SetDefault(cfgKeyTableID, t.IDColumn)
	v.SetDefault(cfgKeyTableKey, t.KeyColumn)
	v.SetDefault(cfgKeyTablePayload, t.Payload)
	v.SetDefault(cfgKeyDepName, dt.Name)
	v.SetDefault(cfgKeyDepID, dt.IDColumn)
	v.SetDefault(cfgKeyDepRef, dt.RefColumn)
	v.SetDefault(cfgKeyDepStatus, dt.StatusColumn)
	v.SetDefault(cfgKeyDepChangedAt, dt.ChangedAtColumn)
}

func decodeConfig(v *viper.Viper) (config, error) {
	isolation, err := parseIsolation(v.GetString(cfgKeyIsolation))
	if err != nil {
		return config{}, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(cfgKeyLogLevel))); err != nil {
		return config{}, fmt.Errorf("log level: %w", err)
	}

	attempts := v.GetInt(cfgKeyMaxAttempts)
	if attempts < 1 {
		return config{}, fmt.Errorf("%s must be at least 1, got %d", cfgKeyMaxAttempts, attempts)
	}

	return config{
		Driver:      v.GetString(cfgKeyDriver),
		DSN:         v.GetString(cfgKeyDSN),
		Isolation:   isolation,
		VerifyKeys:  v.GetBool(cfgKeyVerifyKeys),
		MaxAttempts: attempts,
		LogLevel:    level,
		Table: upsert.Table{
			Name:      v.GetString(cfgKeyTableName),
			IDColumn:  v.GetString(cfgKeyTableID),
			KeyColumn: v.GetString(cfgKeyTableKey),
			Payload:   v.GetStringSlice(cfgKeyTablePayload),
		},
		Dependent: upsert.DependentTable{
			Name:            v.GetString(cfgKeyDepName),
			IDColumn:        v.GetString(cfgKeyDepID),
			RefColumn:       v.GetString(cfgKeyDepRef),
			StatusColumn:    v.GetString(cfgKeyDepStatus),
			ChangedAtColumn: v.GetString(cfgKeyDepChangedAt),
		},
	}, nil
}

var isolationLevels = map[string]sql.IsolationLevel{
	"default":          sql.LevelDefault,
	"read-uncommitted": sql.LevelReadUncommitted,
	"read-committed":   sql.LevelReadCommitted,
	"write-committed":  sql.LevelWriteCommitted,
	"repeatable-read":  sql.LevelRepeatableRead,
	"snapshot":         sql.LevelSnapshot,
	"serializable":     sql.LevelSerializable,
	"linearizable":     sql.LevelLinearizable,
}

// parseIsolation accepts names like "read-uncommitted", "READ_UNCOMMITTED"
// or "read uncommitted".
func parseIsolation(s string) (sql.IsolationLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.NewReplacer("_", "-", " ", "-").Replace(name)
	if name == "" {
		return sql.LevelDefault, nil
	}
	level, ok := isolationLevels[name]
	if !ok {
		return 0, fmt.Errorf("unknown isolation level %q", s)
	}
	return level, nil
}
