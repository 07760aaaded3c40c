package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validatePool(&cfg.Pool)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "", "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	switch cfg.Format {
	case "", "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validatePool(cfg *PoolConfig) {
	if cfg.Size < 0 {
		v.addError("pool.size", cfg.Size, "must be zero (CPU count) or positive")
	}
	if cfg.MemoryLimitMB < 0 {
		v.addError("pool.memory_limit_mb", cfg.MemoryLimitMB, "must be zero (disabled) or positive")
	}
	if cfg.TaskTimeout != "" {
		if _, err := time.ParseDuration(cfg.TaskTimeout); err != nil {
			v.addError("pool.task_timeout", cfg.TaskTimeout, "must be a duration like 2m or 30s")
		}
	}
	if cfg.ShutdownGrace != "" {
		if _, err := time.ParseDuration(cfg.ShutdownGrace); err != nil {
			v.addError("pool.shutdown_grace", cfg.ShutdownGrace, "must be a duration like 5s")
		}
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 0 and 65535")
	}
}

// PoolDurations parses the pool duration strings, applying defaults for
// empty values.
func PoolDurations(cfg *PoolConfig) (taskTimeout, shutdownGrace time.Duration, err error) {
	taskTimeout = 2 * time.Minute
	shutdownGrace = 5 * time.Second
	if cfg.TaskTimeout != "" {
		taskTimeout, err = time.ParseDuration(cfg.TaskTimeout)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing pool.task_timeout: %w", err)
		}
	}
	if cfg.ShutdownGrace != "" {
		shutdownGrace, err = time.ParseDuration(cfg.ShutdownGrace)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing pool.shutdown_grace: %w", err)
		}
	}
	return taskTimeout, shutdownGrace, nil
}
