package callback_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/liujh2010/callback"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), *cfg)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "callback.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[pool]
size = 8
nonblocking = true

[log]
level = "debug"
format = "json"

[mediator]
sendtimeout = "250ms"
`), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Pool.Size)
		assert.True(t, cfg.Pool.Nonblocking)
		assert.Equal(t, time.Second, cfg.Pool.Expiry)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, 250*time.Millisecond, cfg.Mediator.SendTimeout)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "callback.toml")
		require.NoError(t, os.WriteFile(path, []byte("[pool]\nsize = 8\n"), 0o600))
		t.Setenv("CALLBACK_POOL_SIZE", "3")
		t.Setenv("CALLBACK_REGISTRY_CACHESIZE", "16")
		t.Setenv("CALLBACK_LOG_LEVEL", "error")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Pool.Size)
		assert.Equal(t, 16, cfg.Registry.CandidateCacheSize)
		assert.Equal(t, "error", cfg.Log.Level)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
		assert.Error(t, err)
	})
}

func TestConfigBuilders(t *testing.T) {
	t.Run("logger", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Log.Format = "json"
		logger, err := cfg.NewLogger()
		require.NoError(t, err)
		assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
		assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

		cfg.Log.Level = "loud"
		_, err = cfg.NewLogger()
		assert.Error(t, err)

		cfg.Log.Level, cfg.Log.Format = "info", "xml"
		_, err = cfg.NewLogger()
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("mediator", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Pool.Size = 2
		cfg.Mediator.SendTimeout = 20 * time.Millisecond
		builder, pool, err := NewFromConfig(&cfg)
		require.NoError(t, err)
		defer pool.Release()

		m := builder.(*Mediator)
		block := make(chan struct{})
		defer close(block)
		bind(t)(m.Registry().RegisterHandles(func(l *ledger, d *deposit) int {
			l.balance += d.amount
			return l.balance
		}))
		bind(t)(m.Registry().RegisterHandles(func(l *ledger, w *withdraw) int {
			<-block
			return 0
		}))
		mediator := builder.RegisterHandler(&ledger{}).Build()

		v, err := mediator.Send(context.Background(), &deposit{amount: 4})
		require.NoError(t, err)
		assert.Equal(t, 4, v)

		_, err = mediator.Send(context.Background(), &withdraw{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
