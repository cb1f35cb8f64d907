// Package application loads experiments and runs them: it turns experiment
// directories into validated variants, schedules every (input, model, run)
// triple, grades responses, and stores summarized runs.
package application

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ahrav/go-promptlab/internal/domain"
	"github.com/ahrav/go-promptlab/internal/ports"
)

// ExperimentFile is the front matter of experiment.md. Keys not listed here
// are kept in Extra and surface as ExperimentConfig.Metadata.
type ExperimentFile struct {
	// Name defaults to the experiment directory name.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Hypothesis  string `yaml:"hypothesis"`

	// Models lists the "provider:model" ids every variant runs against
	// unless its prompt.md overrides them.
	Models []string `yaml:"models" validate:"required,min=1,dive,modelid"`

	// Runs is the default number of runs per input; nil selects
	// domain.DefaultRuns.
	Runs *int `yaml:"runs" validate:"omitempty,min=1"`

	// KeyRefs maps a provider to the environment variable holding its key.
	KeyRefs map[string]string `yaml:"key_refs" validate:"omitempty,dive,keys,required,endkeys,required"`

	Extra map[string]any `yaml:",inline"`
}

// PromptFile is the front matter of a variant's prompt.md.
type PromptFile struct {
	// Models replaces the experiment model list for this variant.
	Models []string `yaml:"models" validate:"omitempty,dive,modelid"`

	// System is an optional system prompt template.
	System string `yaml:"system"`

	Temperature *float64 `yaml:"temperature" validate:"omitempty,min=0,max=2"`
	MaxTokens   int      `yaml:"max_tokens" validate:"omitempty,min=1"`
}

// JudgeFile is the front matter of judge.md. Exactly one of Model and
// Models may be set.
type JudgeFile struct {
	Model  string   `yaml:"model" validate:"omitempty,modelid,excluded_with=Models"`
	Models []string `yaml:"models" validate:"omitempty,min=1,dive,modelid"`

	// Aggregation applies to Models only.
	Aggregation string `yaml:"aggregation" validate:"omitempty,aggregation"`

	// ScoreRange is [min, max]; ScoreMin and ScoreMax are the long form.
	ScoreRange []int `yaml:"score_range" validate:"omitempty,len=2"`
	ScoreMin   *int  `yaml:"score_min"`
	ScoreMax   *int  `yaml:"score_max"`

	Temperature    *float64 `yaml:"temperature" validate:"omitempty,min=0,max=2"`
	ChainOfThought *bool    `yaml:"chain_of_thought"`
}

// JudgeConfig converts the front matter and rubric into a domain config.
func (f JudgeFile) JudgeConfig(template string) (domain.JudgeConfig, error) {
	var mode domain.JudgeMode
	switch {
	case len(f.Models) > 0:
		agg, err := domain.ParseAggregation(f.Aggregation)
		if err != nil {
			return domain.JudgeConfig{}, err
		}
		mode = domain.MultiJudge{Models: f.Models, Aggregation: agg}
	case f.Model != "":
		mode = domain.SingleJudge{Model: f.Model}
	default:
		mode = domain.SingleJudge{Model: domain.DefaultJudgeModel}
	}

	cfg := domain.NewJudgeConfig(template, mode)
	switch {
	case len(f.ScoreRange) == 2:
		cfg.Range = domain.ScoreRange{Min: f.ScoreRange[0], Max: f.ScoreRange[1]}
	default:
		if f.ScoreMin != nil {
			cfg.Range.Min = *f.ScoreMin
		}
		if f.ScoreMax != nil {
			cfg.Range.Max = *f.ScoreMax
		}
	}
	if f.Temperature != nil {
		cfg.Temperature = *f.Temperature
	}
	if f.ChainOfThought != nil {
		cfg.ChainOfThought = *f.ChainOfThought
	}
	return cfg, cfg.Validate()
}

// Settings are process-wide options. They come from promptlab.yaml,
// PROMPTLAB_* environment variables, and command-line flags, in increasing
// order of precedence.
type Settings struct {
	// CachePath is the SQLite response cache file.
	CachePath string `mapstructure:"cache_path" validate:"required"`

	// Concurrency bounds in-flight triples per variant run.
	Concurrency int `mapstructure:"concurrency" validate:"min=1,max=256"`

	// RequestsPerSecond limits calls per provider; zero disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"min=0"`
	Burst             int     `mapstructure:"burst" validate:"min=1"`

	MaxRetries     int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`

	// RequestTimeout bounds each provider attempt; zero disables it.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	CircuitFailureThreshold int           `mapstructure:"circuit_failure_threshold" validate:"min=1"`
	CircuitResetTimeout     time.Duration `mapstructure:"circuit_reset_timeout"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`
}

// Setting keys shared by viper, flags, and the environment.
const (
	KeyCachePath               = "cache_path"
	KeyConcurrency             = "concurrency"
	KeyRequestsPerSecond       = "requests_per_second"
	KeyBurst                   = "burst"
	KeyMaxRetries              = "max_retries"
	KeyRetryBaseDelay          = "retry_base_delay"
	KeyRetryMaxDelay           = "retry_max_delay"
	KeyRequestTimeout          = "request_timeout"
	KeyCircuitFailureThreshold = "circuit_failure_threshold"
	KeyCircuitResetTimeout     = "circuit_reset_timeout"
	KeyMetricsAddr             = "metrics_addr"
	KeyLogLevel                = "log_level"
	KeyLogFormat               = "log_format"
)

// DefaultConcurrency is the default number of in-flight triples.
const DefaultConcurrency = 8

// SetSettingsDefaults registers default values on v.
func SetSettingsDefaults(v *viper.Viper) {
	v.SetDefault(KeyCachePath, ".promptlab-cache.db")
	v.SetDefault(KeyConcurrency, DefaultConcurrency)
	v.SetDefault(KeyRequestsPerSecond, 5.0)
	v.SetDefault(KeyBurst, 5)
	v.SetDefault(KeyMaxRetries, 3)
	v.SetDefault(KeyRetryBaseDelay, time.Second)
	v.SetDefault(KeyRetryMaxDelay, 30*time.Second)
	v.SetDefault(KeyRequestTimeout, 2*time.Minute)
	v.SetDefault(KeyCircuitFailureThreshold, 5)
	v.SetDefault(KeyCircuitResetTimeout, 30*time.Second)
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "text")
}

// LoadSettings reads settings from v. When configFile is empty,
// promptlab.yaml in the working directory is used if present.
func LoadSettings(v *viper.Viper, configFile string) (Settings, error) {
	SetSettingsDefaults(v)
	v.SetEnvPrefix("PROMPTLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("promptlab")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Settings{}, ports.NewConfigError("config_file", fmt.Errorf("failed to load config: %w", err))
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, ports.NewConfigError("settings", fmt.Errorf("unmarshal config: %w", err))
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks settings with struct tags plus duration ordering.
func (s Settings) Validate() error {
	verr := domain.NewValidationError("settings")
	if err := validate.Struct(s); err != nil {
		appendFieldErrors(verr, err)
	}
	if s.RetryBaseDelay < 0 || s.RetryMaxDelay < s.RetryBaseDelay {
		verr.AddErrorf("retry delays must satisfy 0 <= base (%s) <= max (%s)", s.RetryBaseDelay, s.RetryMaxDelay)
	}
	if s.RequestTimeout < 0 {
		verr.AddErrorf("request_timeout must be >= 0, got %s", s.RequestTimeout)
	}
	if s.CircuitResetTimeout <= 0 {
		verr.AddErrorf("circuit_reset_timeout must be > 0, got %s", s.CircuitResetTimeout)
	}
	return verr.ErrOrNil()
}

// appendFieldErrors flattens validator errors into readable messages.
func appendFieldErrors(verr *domain.ValidationError, err error) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.AddError(err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.AddError(describeFieldError(fe))
	}
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "modelid":
		return fmt.Sprintf("%s: invalid model id %q: expected format 'provider:model'", field, fe.Value())
	case "aggregation":
		return fmt.Sprintf("%s: unsupported aggregation %q (want mean, median, or majority)", field, fe.Value())
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "min", "max", "len":
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
}
