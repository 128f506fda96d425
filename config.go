package qprep

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

/*
Config holds the tunables shared by the loader, the batch pool and the
engine guards. Zero values fall back to the defaults from NewConfig.
*/
type Config struct {
	// Tolerance is the absolute slack allowed on the sum (probabilities)
	// or the L2 norm (amplitudes).
	Tolerance    float64
	DefaultBound float64

	SchedulingTimeout time.Duration
	ResultTTL         time.Duration
	MinWorkers        int
	MaxWorkers        int

	EngineRetries       int
	EngineBackoff       time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	BreakerHalfOpenMax  int
	EngineRateTokens    int
	EngineRefill        time.Duration
}

func NewConfig() *Config {
	return &Config{
		Tolerance:           DefaultTolerance,
		DefaultBound:        0,
		SchedulingTimeout:   10 * time.Second,
		ResultTTL:           time.Minute,
		MinWorkers:          2,
		MaxWorkers:          8,
		EngineRetries:       3,
		EngineBackoff:       100 * time.Millisecond,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,
		BreakerHalfOpenMax:  1,
		EngineRateTokens:    100,
		EngineRefill:        10 * time.Millisecond,
	}
}

/*
LoadConfig reads an optional config file (any format viper understands) and
QPREP_* environment variables on top of the defaults. An empty path only
consults the environment.
*/
func LoadConfig(path string) (*Config, error) {
	def := NewConfig()

	v := viper.New()
	v.SetEnvPrefix("QPREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("tolerance", def.Tolerance)
	v.SetDefault("default_bound", def.DefaultBound)
	v.SetDefault("scheduling_timeout", def.SchedulingTimeout)
	v.SetDefault("result_ttl", def.ResultTTL)
	v.SetDefault("min_workers", def.MinWorkers)
	v.SetDefault("max_workers", def.MaxWorkers)
	v.SetDefault("engine.retries", def.EngineRetries)
	v.SetDefault("engine.backoff", def.EngineBackoff)
	v.SetDefault("engine.rate_tokens", def.EngineRateTokens)
	v.SetDefault("engine.refill", def.EngineRefill)
	v.SetDefault("breaker.max_failures", def.BreakerMaxFailures)
	v.SetDefault("breaker.reset_timeout", def.BreakerResetTimeout)
	v.SetDefault("breaker.half_open_max", def.BreakerHalfOpenMax)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Tolerance:           v.GetFloat64("tolerance"),
		DefaultBound:        v.GetFloat64("default_bound"),
		SchedulingTimeout:   v.GetDuration("scheduling_timeout"),
		ResultTTL:           v.GetDuration("result_ttl"),
		MinWorkers:          v.GetInt("min_workers"),
		MaxWorkers:          v.GetInt("max_workers"),
		EngineRetries:       v.GetInt("engine.retries"),
		EngineBackoff:       v.GetDuration("engine.backoff"),
		EngineRateTokens:    v.GetInt("engine.rate_tokens"),
		EngineRefill:        v.GetDuration("engine.refill"),
		BreakerMaxFailures:  v.GetInt("breaker.max_failures"),
		BreakerResetTimeout: v.GetDuration("breaker.reset_timeout"),
		BreakerHalfOpenMax:  v.GetInt("breaker.half_open_max"),
	}

	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) check() error {
	if c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %g", c.Tolerance)
	}
	if c.DefaultBound < 0 {
		return fmt.Errorf("default_bound must not be negative, got %g", c.DefaultBound)
	}
	if c.MinWorkers < 1 || c.MaxWorkers < c.MinWorkers {
		return fmt.Errorf("invalid worker range [%d, %d]", c.MinWorkers, c.MaxWorkers)
	}
	return nil
}

func (c *Config) tolerance() float64 {
	if c == nil || c.Tolerance <= 0 {
		return DefaultTolerance
	}
	return c.Tolerance
}
