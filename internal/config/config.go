// Package config defines service configuration and its loading layers.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/okian/receval/internal/domain/split"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`
	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"gte=1024"`

	// WorkerCount shards per-user metric computation.
	WorkerCount int `koanf:"worker_count" validate:"gte=1"`
	// BatchConcurrency bounds how many models of a batch are scored at once.
	BatchConcurrency int `koanf:"batch_concurrency" validate:"gte=1"`
	// DefaultK is the cutoff used when a request does not name one.
	DefaultK int `koanf:"default_k" validate:"gte=1"`

	// ResultsDir is where experiments are persisted. Empty keeps them in memory.
	ResultsDir string `koanf:"results_dir"`

	// Split defaults.
	TimeColumn       string  `koanf:"time_column" validate:"required"`
	UserColumn       string  `koanf:"user_column" validate:"required"`
	ItemColumn       string  `koanf:"item_column" validate:"required"`
	MinTrainRatings  int     `koanf:"min_train_ratings" validate:"gte=0"`
	MinTestUserTrain int     `koanf:"min_test_user_train" validate:"gte=0"`
	MinTestUserTest  int     `koanf:"min_test_user_test" validate:"gte=0"`
	Quantile         float64 `koanf:"quantile" validate:"gte=0,lte=1"`

	// MatrixThreshold is the rating an interaction must exceed to enter the matrix.
	MatrixThreshold float64 `koanf:"matrix_threshold"`
}

// New returns a Config populated with defaults.
func New() *Config {
	d := split.DefaultOptions()
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		MaxBodyBytes:     64 << 20,
		WorkerCount:      runtime.NumCPU(),
		BatchConcurrency: 4,
		DefaultK:         10,
		TimeColumn:       d.TimeColumn,
		UserColumn:       d.UserColumn,
		ItemColumn:       d.ItemColumn,
		MinTrainRatings:  d.MinTrainRatings,
		MinTestUserTrain: d.MinTestUserTrain,
		MinTestUserTest:  d.MinTestUserTest,
		Quantile:         d.Quantile,
		MatrixThreshold:  0,
	}
}

// SplitOptions returns the configured split defaults.
func (c *Config) SplitOptions() split.Options {
	return split.Options{
		TimeColumn:       c.TimeColumn,
		UserColumn:       c.UserColumn,
		ItemColumn:       c.ItemColumn,
		MinTrainRatings:  c.MinTrainRatings,
		MinTestUserTrain: c.MinTestUserTrain,
		MinTestUserTest:  c.MinTestUserTest,
		Quantile:         c.Quantile,
	}
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s=%v fails %s%s", fe.Field(), fe.Value(), fe.Tag(), param(fe.Param())))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func param(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}
