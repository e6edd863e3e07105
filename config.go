package callback

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes environment overrides: CALLBACK_POOL_SIZE -> pool.size.
const EnvPrefix = "CALLBACK_"

// Config is the runtime configuration of a Mediator and its parts.
type Config struct {
	Pool     PoolConfig     `koanf:"pool"`
	Log      LogConfig      `koanf:"log"`
	Registry RegistryConfig `koanf:"registry"`
	Mediator MediatorConfig `koanf:"mediator"`
}

// PoolConfig ...
type PoolConfig struct {
	Size        int           `koanf:"size"`
	Nonblocking bool          `koanf:"nonblocking"`
	Expiry      time.Duration `koanf:"expiry"`
}

// LogConfig ...
type LogConfig struct {
	// Level is a logrus level name.
	Level string `koanf:"level"`
	// Format is "text" or "json".
	Format string `koanf:"format"`
}

// RegistryConfig ...
type RegistryConfig struct {
	CandidateCacheSize int `koanf:"cachesize"`
}

// MediatorConfig ...
type MediatorConfig struct {
	SendTimeout time.Duration `koanf:"sendtimeout"`
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		Pool:     PoolConfig{Size: 64, Expiry: time.Second},
		Log:      LogConfig{Level: "warn", Format: "text"},
		Registry: RegistryConfig{CandidateCacheSize: defaultCandidateCacheSize},
	}
}

// LoadConfig merges defaults, the TOML file at path when not empty, and
// CALLBACK_* environment variables, in that order.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "config defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "config file %s", path)
		}
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: envKeyTransform,
	}), nil); err != nil {
		return nil, errors.Wrap(err, "config env")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "config decode")
	}
	return &cfg, nil
}

// envKeyTransform maps CALLBACK_LOG_LEVEL to log.level.
func envKeyTransform(k, v string) (string, any) {
	s := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	return strings.ReplaceAll(s, "_", "."), v
}

// NewLogger builds a logrus logger from the log section.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	logger.SetLevel(level)
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Wrapf(ErrInvalidArgument, "log format %q", c.Log.Format)
	}
	return logger, nil
}

// NewPool builds the routine pool of the pool section.
func (c *Config) NewPool(logger logrus.FieldLogger) (*RoutinePool, error) {
	opts := []PoolOption{WithExpiry(c.Pool.Expiry), WithPoolLogger(logger)}
	if c.Pool.Nonblocking {
		opts = append(opts, Nonblocking())
	}
	return NewRoutinePool(c.Pool.Size, opts...)
}

// NewRegistry builds an empty registry of the registry section.
func (c *Config) NewRegistry(logger logrus.FieldLogger) *Registry {
	return NewRegistry(WithLogger(logger), WithCandidateCacheSize(c.Registry.CandidateCacheSize))
}

// NewFromConfig builds a mediator builder with its own registry, pool and
// logger. The caller owns the returned pool and releases it when done.
func NewFromConfig(c *Config, opts ...Option) (IMediatorBuilder, *RoutinePool, error) {
	logger, err := c.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	pool, err := c.NewPool(logger)
	if err != nil {
		return nil, nil, err
	}
	base := []Option{
		WithRegistry(c.NewRegistry(logger)),
		WithMediatorLogger(logger),
		WithSendTimeout(c.Mediator.SendTimeout),
	}
	return New(pool, append(base, opts...)...), pool, nil
}
