package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// An empty financial API key is allowed; keys may come from the key provider.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateFinancial(cfg, ve)
	validateCache(cfg, ve)
	validateStream(cfg, ve)
	validateSessions(cfg, ve)
	validateScheduler(cfg, ve)
	validateGateway(cfg, ve)
	validateJournal(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateFinancial(cfg *Config, ve *ValidationError) {
	f := cfg.Financial
	if f.BaseURL == "" {
		ve.Add("financial.base_url must not be empty")
	} else if u, err := url.Parse(f.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("financial.base_url %q must be an absolute http(s) URL", f.BaseURL)
	}
	if f.Timeout <= 0 {
		ve.Add("financial.timeout must be > 0")
	}
	if f.MaxResponseBytes <= 0 {
		ve.Add("financial.max_response_bytes must be > 0")
	}
	if f.CircuitBreaker.Enabled {
		if f.CircuitBreaker.MaxFailures == 0 {
			ve.Add("financial.breaker.max_failures must be > 0 when the breaker is enabled")
		}
		if f.CircuitBreaker.Timeout <= 0 {
			ve.Add("financial.breaker.timeout must be > 0 when the breaker is enabled")
		}
		if f.CircuitBreaker.Interval < 0 {
			ve.Add("financial.breaker.interval must be >= 0")
		}
	}
}

func validateCache(cfg *Config, ve *ValidationError) {
	if cfg.Cache.MaxSize <= 0 {
		ve.Add("cache.max_size must be > 0")
	}
	if cfg.Cache.TTL < 0 {
		ve.Add("cache.ttl must be >= 0")
	}
}

func validateStream(cfg *Config, ve *ValidationError) {
	if cfg.Stream.BufferSize <= 0 {
		ve.Add("stream.buffer_size must be > 0")
	}
}

func validateSessions(cfg *Config, ve *ValidationError) {
	if cfg.Sessions.IdleTimeout < 0 {
		ve.Add("sessions.idle_timeout must be >= 0")
	}
}

var validActions = map[string]bool{
	ActionSessionsReap: true,
	ActionJournalPrune: true,
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
		if t.Action == "" {
			ve.Add("scheduler.tasks[%d].action is required", i)
		} else if !validActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid (want: %s, %s)", i, t.Action, ActionSessionsReap, ActionJournalPrune)
		}
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}

	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty when auth type is static")
		}
		for i, tok := range cfg.Gateway.Auth.Tokens {
			if tok.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q is invalid (want: static or empty)", cfg.Gateway.Auth.Type)
	}

	rl := cfg.Gateway.RateLimit
	if rl.Enabled {
		if rl.MaxRequests <= 0 {
			ve.Add("gateway.rate_limit.max_requests must be > 0")
		}
		if rl.Window <= 0 {
			ve.Add("gateway.rate_limit.window must be > 0")
		}
		if rl.Burst < 0 {
			ve.Add("gateway.rate_limit.burst must be >= 0")
		}
	}
}

func validateJournal(cfg *Config, ve *ValidationError) {
	if cfg.Journal.Retention < 0 {
		ve.Add("journal.retention must be >= 0")
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if cfg.Logger.Level != "" && !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1")
	}
}
