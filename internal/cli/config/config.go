// Package config loads the ojkit configuration file and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ojkit/internal/common/retry"
	"ojkit/internal/judge/model"
	"ojkit/internal/judge/sandbox/engine"
	"ojkit/internal/judge/sandbox/runner"
	"ojkit/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCacheDir     = "ojkit/testcases"
	DefaultStateFile    = "ojkit/cookies.json"
	DefaultPollInterval = 2 * time.Second
	DefaultPollMaxWait  = 5 * time.Minute
	DefaultHTTPTimeout  = 30 * time.Second

	envPrefix = "OJKIT_"
)

// Config holds CLI configuration.
type Config struct {
	Log    logger.Config `yaml:"log"`
	Cache  CacheConfig   `yaml:"cache"`
	Runner runner.Config `yaml:"runner"`
	Engine engine.Config `yaml:"engine"`
	Retry  retry.Policy  `yaml:"retry"`
	HTTP   HTTPConfig    `yaml:"http"`
	Poll   PollConfig    `yaml:"poll"`
	// Judges is keyed by judge name, e.g. "atcoder".
	Judges  map[string]JudgeConfig `yaml:"judges"`
	Redis   RedisConfig            `yaml:"redis"`
	State   StateConfig            `yaml:"state"`
	Metrics MetricsConfig          `yaml:"metrics"`
}

type CacheConfig struct {
	Root string `yaml:"root"`
}

type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"userAgent"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxWait  time.Duration `yaml:"maxWait"`
}

// JudgeConfig configures one judge. Secrets never live here; they come from the environment.
type JudgeConfig struct {
	Username string `yaml:"username"`
	// Language is the default language id used by submit.
	Language string `yaml:"language"`
	// Options are passed to the adapter, e.g. base_url or min_interval.
	Options map[string]interface{} `yaml:"options"`
}

// RedisConfig enables the shared rate limit window, poll lock and verdict cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// StateConfig controls cookie persistence between runs.
type StateConfig struct {
	PersistCookies bool   `yaml:"persistCookies"`
	Path           string `yaml:"path"`
}

// MetricsConfig exposes runner metrics over HTTP when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads path. A missing file yields the defaults. A .env file in the working directory
// is loaded into the environment first; variables already set win.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env failed: %w", err)
	}

	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file failed: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read config file failed: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envPrefix + "CACHE_DIR"); v != "" {
		cfg.Cache.Root = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(envPrefix + "REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv(envPrefix + "REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Cache.Root == "" {
		cfg.Cache.Root = filepath.Join(userCacheDir(), DefaultCacheDir)
	}
	if cfg.State.Path == "" {
		cfg.State.Path = filepath.Join(userConfigDir(), DefaultStateFile)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = DefaultHTTPTimeout
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = DefaultPollInterval
	}
	if cfg.Poll.MaxWait == 0 {
		cfg.Poll.MaxWait = DefaultPollMaxWait
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.Judges == nil {
		cfg.Judges = make(map[string]JudgeConfig)
	}
	for _, judge := range model.AllJudges {
		if _, ok := cfg.Judges[string(judge)]; !ok {
			cfg.Judges[string(judge)] = JudgeConfig{}
		}
	}
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return os.TempDir()
}

// Judge returns the settings of judge.
func (c Config) Judge(judge model.Judge) JudgeConfig {
	return c.Judges[string(judge)]
}

// Credentials reads the secrets of judge from the environment, e.g. OJKIT_ATCODER_PASSWORD
// or OJKIT_YUKICODER_API_KEY. The username falls back to the config file.
func (c Config) Credentials(judge model.Judge) model.Credentials {
	prefix := envPrefix + strings.ToUpper(string(judge)) + "_"
	creds := model.Credentials{
		Username: os.Getenv(prefix + "USERNAME"),
		Password: os.Getenv(prefix + "PASSWORD"),
		APIKey:   os.Getenv(prefix + "API_KEY"),
	}
	if creds.Username == "" {
		creds.Username = c.Judge(judge).Username
	}
	return creds
}
