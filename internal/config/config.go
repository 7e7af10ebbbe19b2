// Package config loads service settings from flags, DIGIMATE_* environment
// variables, an optional config file and a .env file, in that precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/digimate-ai/digimate/internal/llm"
)

const envPrefix = "DIGIMATE"

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type Config struct {
	HTTP  HTTPConfig
	Store StoreConfig
	LLM   LLMConfig
	Chat  ChatConfig
	Log   LogConfig
}

type HTTPConfig struct {
	Addr string
}

type StoreConfig struct {
	Driver     string
	SQLitePath string
	RedisURL   string
}

type LLMConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

type ChatConfig struct {
	ContextWindow     int
	CompletionTimeout time.Duration
}

type LogConfig struct {
	Level       string
	Development bool
}

// flags maps each command-line flag onto its configuration key.
var flags = map[string]string{
	"addr":               "http.addr",
	"store":              "store.driver",
	"sqlite-path":        "store.sqlite_path",
	"redis-url":          "store.redis_url",
	"provider":           "llm.provider",
	"base-url":           "llm.base_url",
	"api-key":            "llm.api_key",
	"model":              "llm.model",
	"context-window":     "chat.context_window",
	"completion-timeout": "chat.completion_timeout",
	"log-level":          "log.level",
	"log-development":    "log.development",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a config file (yaml, json or toml)")
	fs.String("addr", ":8100", "HTTP listen address")
	fs.String("store", DriverSQLite, "conversation store: sqlite, redis or memory")
	fs.String("sqlite-path", "digimate.db", "SQLite database file")
	fs.String("redis-url", "redis://localhost:6379/0", "Redis URL for the redis store")
	fs.String("provider", llm.ProviderGoogleAI, "completion provider: googleai or openai")
	fs.String("base-url", "http://localhost:11434/v1/", "base URL of an OpenAI-compatible endpoint")
	fs.String("api-key", "", "completion API key")
	fs.String("model", "", "completion model (provider default when empty)")
	fs.Int("context-window", 10, "recent messages sent with each turn")
	fs.Duration("completion-timeout", 60*time.Second, "timeout for one completion call")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.Bool("log-development", false, "human readable development logging")
}

// NewViper returns a viper instance with defaults and environment binding.
// Keys map to DIGIMATE_<SECTION>_<NAME>, for example DIGIMATE_STORE_DRIVER.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("http.addr", ":8100")
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "digimate.db")
	v.SetDefault("store.redis_url", "redis://localhost:6379/0")
	v.SetDefault("llm.provider", llm.ProviderGoogleAI)
	v.SetDefault("llm.base_url", "http://localhost:11434/v1/")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("chat.context_window", 10)
	v.SetDefault("chat.completion_timeout", 60*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Provider-specific key variables, consulted when llm.api_key is empty.
	_ = v.BindEnv("llm.gemini_api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("llm.openai_api_key", "OPENAI_API_KEY")
	return v
}

// BindFlags makes explicitly set flags override every other source.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flags {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.Wrapf(err, "binding flag %q", name)
		}
	}
	return nil
}

// LoadDotEnv loads variables from path into the process environment. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "loading %s", path)
	}
	return nil
}

// Load reads configFile, when set, and resolves the final configuration.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", configFile)
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{Addr: v.GetString("http.addr")},
		Store: StoreConfig{
			Driver:     strings.ToLower(v.GetString("store.driver")),
			SQLitePath: v.GetString("store.sqlite_path"),
			RedisURL:   v.GetString("store.redis_url"),
		},
		LLM: LLMConfig{
			Provider: strings.ToLower(v.GetString("llm.provider")),
			BaseURL:  v.GetString("llm.base_url"),
			APIKey:   v.GetString("llm.api_key"),
			Model:    v.GetString("llm.model"),
		},
		Chat: ChatConfig{
			ContextWindow:     v.GetInt("chat.context_window"),
			CompletionTimeout: v.GetDuration("chat.completion_timeout"),
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
		},
	}

	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case llm.ProviderGoogleAI:
			cfg.LLM.APIKey = v.GetString("llm.gemini_api_key")
		case llm.ProviderOpenAI:
			cfg.LLM.APIKey = v.GetString("llm.openai_api_key")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite store")
		}
	case DriverRedis:
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis store")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.LLM.Provider {
	case llm.ProviderGoogleAI, llm.ProviderOpenAI:
	default:
		return errors.Errorf("unknown completion provider %q", c.LLM.Provider)
	}

	if c.Chat.ContextWindow < 1 {
		return errors.Errorf("chat.context_window must be at least 1, got %d", c.Chat.ContextWindow)
	}
	if c.Chat.CompletionTimeout <= 0 {
		return errors.Errorf("chat.completion_timeout must be positive, got %s", c.Chat.CompletionTimeout)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}

// NewLogger builds the process logger.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log.level")
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
