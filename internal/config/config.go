package config

import (
	"math"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/EVOLVR/internal/optimization"
	"github.com/copyleftdev/EVOLVR/internal/optimization/runtime"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		Parallel           bool          `env:"OPT_PARALLEL" envDefault:"false"`
		Workers            int           `env:"OPT_WORKERS" envDefault:"4"`
		StartCount         int           `env:"OPT_START_COUNT" envDefault:"1"`
		PerGeneration      int           `env:"OPT_PER_GENERATION" envDefault:"1"`
		ReportingFrequency int           `env:"OPT_REPORTING_FREQUENCY" envDefault:"100"`
		TimeoutEvaluations int64         `env:"OPT_TIMEOUT_EVALUATIONS" envDefault:"10000"`
		TimeoutDuration    time.Duration `env:"OPT_TIMEOUT_DURATION" envDefault:"10m"`
		// ConvergenceTolerance stops a run once the population's fitness
		// range is at most this value. Zero disables the check.
		ConvergenceTolerance float64 `env:"OPT_CONVERGENCE_TOLERANCE" envDefault:"0"`
	}
	NelderMead struct {
		StepSize float64 `env:"NM_STEP_SIZE" envDefault:"0.1"`
	}
	Bayesian struct {
		InitialPoints int `env:"BO_INITIAL_POINTS" envDefault:"10"`
	}
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from environment instead of the process
// environment.
func LoadFrom(environment map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environment})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, optimization.WrapError(err, optimization.KindArgument, "parsing environment").
			WithComponent("config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Runtime returns the runner settings.
func (c *Config) Runtime() runtime.Config {
	o := c.Optimization
	return runtime.Config{
		StartCount:         o.StartCount,
		PerGeneration:      o.PerGeneration,
		ReportingFrequency: o.ReportingFrequency,
		TimeoutEvaluations: o.TimeoutEvaluations,
		TimeoutDuration:    o.TimeoutDuration,
		Workers:            o.Workers,
	}
}

// Validate checks the runner settings, including the timeout floors, and
// the algorithm parameters.
func (c *Config) Validate() error {
	if err := c.Runtime().Validate(); err != nil {
		return optimization.WrapError(err, optimization.KindUnknown, "invalid optimization settings").
			WithComponent("config")
	}
	switch {
	case !(c.Optimization.ConvergenceTolerance >= 0) || math.IsInf(c.Optimization.ConvergenceTolerance, 1):
		return optimization.NewErrorf(optimization.KindOutOfRange,
			"OPT_CONVERGENCE_TOLERANCE must be a finite non-negative number, got %v", c.Optimization.ConvergenceTolerance).
			WithComponent("config")
	case c.NelderMead.StepSize == 0:
		return optimization.NewError(optimization.KindArgument, "NM_STEP_SIZE must be non-zero").
			WithComponent("config")
	case c.Bayesian.InitialPoints < 1:
		return optimization.NewErrorf(optimization.KindOutOfRange, "BO_INITIAL_POINTS must be at least 1, got %d", c.Bayesian.InitialPoints).
			WithComponent("config")
	case c.HTTP.Port < 0 || c.HTTP.Port > 65535:
		return optimization.NewErrorf(optimization.KindOutOfRange, "HTTP_PORT %d is not a valid port", c.HTTP.Port).
			WithComponent("config")
	}
	return nil
}
