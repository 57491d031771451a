package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "APIGW_AUTHORIZER"

type Config struct {
	Server struct {
		Addr         string        `mapstructure:"addr"`
		Mode         string        `mapstructure:"mode"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`

	Redis struct {
		URL      string `mapstructure:"url"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Auth struct {
		JWKS struct {
			URL                string        `mapstructure:"url"`
			FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
			CacheTTL           time.Duration `mapstructure:"cache_ttl"`
			MinRefreshInterval time.Duration `mapstructure:"min_refresh_interval"`
			Breaker            struct {
				Enabled          bool          `mapstructure:"enabled"`
				FailureThreshold uint32        `mapstructure:"failure_threshold"`
				OpenTimeout      time.Duration `mapstructure:"open_timeout"`
			} `mapstructure:"breaker"`
		} `mapstructure:"jwks"`
		Audience    string        `mapstructure:"audience"`
		Algorithms  []string      `mapstructure:"algorithms"`
		Leeway      time.Duration `mapstructure:"leeway"`
		FailureMode string        `mapstructure:"failure_mode"`
	} `mapstructure:"auth"`

	Observability struct {
		MetricsEnabled     bool   `mapstructure:"metrics_enabled"`
		TraceEnabled       bool   `mapstructure:"trace_enabled"`
		TracingEndpointURL string `mapstructure:"tracing_endpoint_url"`
		LogLevel           string `mapstructure:"log_level"`
		Format             string `mapstructure:"log_format"`
		LogSource          bool   `mapstructure:"log_source"`
	} `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("auth.jwks.url", "")
	v.SetDefault("auth.jwks.fetch_timeout", 5*time.Second)
	v.SetDefault("auth.jwks.cache_ttl", 10*time.Minute)
	v.SetDefault("auth.jwks.min_refresh_interval", 30*time.Second)
	v.SetDefault("auth.jwks.breaker.enabled", false)
	v.SetDefault("auth.jwks.breaker.failure_threshold", 5)
	v.SetDefault("auth.jwks.breaker.open_timeout", 30*time.Second)
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.algorithms", []string{"RS256"})
	v.SetDefault("auth.leeway", time.Duration(0))
	v.SetDefault("auth.failure_mode", "deny")

	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.trace_enabled", false)
	v.SetDefault("observability.tracing_endpoint_url", "")
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.log_source", false)
}

// Load reads config.yaml from searchPaths (./config and . when none are
// given), overlays config.$APP_ENV.yaml and APIGW_AUTHORIZER_* variables,
// and validates the result. A missing config file is not an error.
func Load(searchPaths ...string) (*Config, error) {
	v := viper.New()
	logger := slog.Default()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"./config", "."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Info("No config file found, using defaults and environment")
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		if err := v.MergeInConfig(); err != nil {
			logger.Info("No environment-specific config (optional)", slog.String("env", env))
		} else {
			logger.Info("Environment-specific config loaded", slog.String("env", env))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Default().Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	return cfg
}

var supportedAlgorithms = []string{"RS256", "RS384", "RS512"}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWKS.URL == "" {
		errs = append(errs, errors.New("auth.jwks.url is required"))
	} else if err := c.checkJWKSURL(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.Audience == "" {
		errs = append(errs, errors.New("auth.audience is required"))
	}
	if c.Auth.JWKS.FetchTimeout < 0 || c.Auth.JWKS.CacheTTL < 0 || c.Auth.JWKS.MinRefreshInterval < 0 {
		errs = append(errs, errors.New("auth.jwks durations must not be negative"))
	}
	if c.Auth.Leeway < 0 {
		errs = append(errs, errors.New("auth.leeway must not be negative"))
	}
	for _, alg := range c.Auth.Algorithms {
		if !slices.Contains(supportedAlgorithms, alg) {
			errs = append(errs, fmt.Errorf("auth.algorithms: %q is not one of %v", alg, supportedAlgorithms))
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Auth.FailureMode)) {
	case "", "deny", "error":
	default:
		errs = append(errs, fmt.Errorf("auth.failure_mode: unknown mode %q", c.Auth.FailureMode))
	}
	if c.Auth.JWKS.Breaker.Enabled && c.Auth.JWKS.Breaker.FailureThreshold == 0 {
		errs = append(errs, errors.New("auth.jwks.breaker.failure_threshold must be positive"))
	}

	return errors.Join(errs...)
}

// checkJWKSURL requires an absolute https URL. Plain http is accepted only
// outside release mode.
func (c *Config) checkJWKSURL() error {
	u, err := url.Parse(c.Auth.JWKS.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("auth.jwks.url: %q is not an absolute URL", c.Auth.JWKS.URL)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if c.Server.Mode == "debug" || c.Server.Mode == "test" {
			return nil
		}
		return fmt.Errorf("auth.jwks.url: http is only allowed in debug or test mode, got mode %q", c.Server.Mode)
	default:
		return fmt.Errorf("auth.jwks.url: scheme %q is not supported, use https", u.Scheme)
	}
}
