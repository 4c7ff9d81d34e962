package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

// stubEnv swaps the env loader for one test so config parsing can be driven
// without mutating the process environment.
func stubEnv(t *testing.T, fn func(context.Context, any) error) {
	t.Helper()
	orig := envProcess
	envProcess = func(ctx context.Context, v any, _ ...envconfig.Mutator) error { return fn(ctx, v) }
	t.Cleanup(func() { envProcess = orig })
}

func fillConfig(cfg *Config) {
	cfg.User = "migrateq"
	cfg.Password = "migrateq"
	cfg.Host = "postgres"
	cfg.Port = "5432"
	cfg.Database = "migrateq"
	cfg.MaxRetries = 10
	cfg.RetryDelay = 2 * time.Second
	cfg.ConnectTimeout = 5
	cfg.LogLevelString = "warn"
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Run("parses defaults and resolves log level", func(t *testing.T) {
		stubEnv(t, func(ctx context.Context, v any) error {
			fillConfig(v.(*Config))
			return nil
		})

		cfg, err := LoadConfigFromEnv(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "migrateq", cfg.Database)
		assert.Equal(t, "postgres", cfg.Host)
		assert.Equal(t, 10, cfg.MaxRetries)
		assert.Equal(t, 2*time.Second, cfg.RetryDelay)
		assert.Equal(t, logger.Warn, cfg.LogLevel)
	})

	t.Run("env processing failure is wrapped", func(t *testing.T) {
		stubEnv(t, func(ctx context.Context, v any) error {
			return errors.New("env: DB_RETRY_DELAY is not a duration")
		})

		cfg, err := LoadConfigFromEnv(context.Background())

		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "failed to process env config")
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		stubEnv(t, func(ctx context.Context, v any) error {
			cfg := v.(*Config)
			fillConfig(cfg)
			cfg.Database = ""
			return nil
		})

		cfg, err := LoadConfigFromEnv(context.Background())

		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "POSTGRES_DB is required")
	})
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		fillConfig(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "all fields valid", mutate: func(*Config) {}},
		{
			name:    "blank user",
			mutate:  func(c *Config) { c.User = "  " },
			wantErr: "POSTGRES_USER is required",
		},
		{
			name:    "blank database",
			mutate:  func(c *Config) { c.Database = "" },
			wantErr: "POSTGRES_DB is required",
		},
		{
			name:    "blank host",
			mutate:  func(c *Config) { c.Host = "" },
			wantErr: "POSTGRES_HOST is required",
		},
		{
			name:    "non numeric port",
			mutate:  func(c *Config) { c.Port = "pg" },
			wantErr: "POSTGRES_PORT must be a valid number",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Port = "70000" },
			wantErr: "POSTGRES_PORT must be between 1 and 65535",
		},
		{
			name:    "negative retry budget",
			mutate:  func(c *Config) { c.MaxRetries = -1 },
			wantErr: "DB_MAX_RETRIES must be non-negative",
		},
		{
			name:    "zero retry delay",
			mutate:  func(c *Config) { c.RetryDelay = 0 },
			wantErr: "DB_RETRY_DELAY must be positive",
		},
		{
			name:    "retry delay too large",
			mutate:  func(c *Config) { c.RetryDelay = 11 * time.Minute },
			wantErr: "DB_RETRY_DELAY must not exceed 10 minutes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := validateConfig(cfg)

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("multiple failures are joined", func(t *testing.T) {
		cfg := valid()
		cfg.User = ""
		cfg.Port = ""

		err := validateConfig(cfg)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "POSTGRES_USER is required")
		assert.Contains(t, err.Error(), "POSTGRES_PORT is required")
	})
}

func TestSimplifyDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "bad credentials",
			err:  errors.New(`pq: password authentication failed for user "migrateq"`),
			want: "invalid database credentials",
		},
		{
			name: "server unreachable",
			err:  errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"),
			want: "cannot reach database server",
		},
		{
			name: "slow network",
			err:  errors.New("read tcp: i/o timeout"),
			want: "database connection timed out",
		},
		{
			name: "sasl handshake",
			err:  errors.New("SASL auth failed"),
			want: "authentication error",
		},
		{
			name: "anything else",
			err:  errors.New("pq: relation does not exist"),
			want: "database error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, simplifyDBError(tt.err))
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.LogLevel
	}{
		{in: "silent", want: logger.Silent},
		{in: "error", want: logger.Error},
		{in: "warn", want: logger.Warn},
		{in: "info", want: logger.Info},
		{in: "INFO", want: logger.Info},
		{in: "verbose", want: logger.Warn},
		{in: "", want: logger.Warn},
	}

	for _, tt := range tests {
		t.Run("level "+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.in))
		})
	}
}

func TestConnectDB_RespectsContext(t *testing.T) {
	cfg := &Config{}
	fillConfig(cfg)
	cfg.Host = "203.0.113.1" // unroutable test address
	cfg.Port = "1"
	cfg.MaxRetries = 3
	cfg.RetryDelay = 50 * time.Millisecond
	cfg.ConnectTimeout = 1

	t.Run("already cancelled context aborts before dialing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		db, err := ConnectDB(ctx, cfg)

		require.Error(t, err)
		assert.Nil(t, db)
		assert.Contains(t, err.Error(), "database connection aborted")
	})

	t.Run("deadline cuts the retry loop short", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		db, err := ConnectDB(ctx, cfg)

		require.Error(t, err)
		assert.Nil(t, db)
		// The loop must observe the deadline rather than sleeping through
		// the whole retry budget.
		assert.Less(t, time.Since(start), 3*time.Second)
	})
}

func TestConnectDB_DSNShape(t *testing.T) {
	cfg := &Config{}
	fillConfig(cfg)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable connect_timeout=%d",
		cfg.Host, cfg.User, cfg.Password, cfg.Database, cfg.Port, cfg.ConnectTimeout,
	)

	assert.Equal(t,
		"host=postgres user=migrateq password=migrateq dbname=migrateq port=5432 sslmode=disable connect_timeout=5",
		dsn)
}
