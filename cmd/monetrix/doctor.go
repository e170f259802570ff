package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"monetrix/internal/adapter/financial"
	"monetrix/internal/adapter/journal"
	"monetrix/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Try to load config; some checks work without it.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Financial API key", Fn: checkAPIKey},
		{Name: "Financial API", Fn: checkAPIReachable},
		{Name: "Journal", Fn: checkJournal},
		{Name: "Gateway", Fn: checkGateway},
	}
	return report(os.Stdout, cfg, checks)
}

func report(w io.Writer, cfg *config.Config, checks []Check) error {
	fmt.Fprintln(w, "monetrix doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Fprintln(w, "\nFix the FAIL issues above to ensure monetrix runs correctly.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Fprintln(w, "\nmonetrix should work, but consider addressing the warnings.")
	} else {
		fmt.Fprintln(w, "\nAll checks passed! monetrix is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile returns a check that verifies the config file parses. A
// missing file only warns since defaults and env vars are enough to run.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and permissions (chmod 600)",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkAPIKey verifies a default API key is configured and decrypted.
func checkAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	key := cfg.Financial.APIKey
	switch {
	case key == "":
		return CheckResult{
			Status:  StatusWarn,
			Message: "no default API key; only users with a stored key can call tools",
			Fix:     "Set MONETRIX_FINANCIAL_API_KEY or financial.api_key",
		}
	case strings.HasPrefix(key, "enc:"):
		return CheckResult{
			Status:  StatusFail,
			Message: "API key is encrypted but MONETRIX_CONFIG_KEY is not set",
			Fix:     "Export MONETRIX_CONFIG_KEY with the passphrase used by 'monetrix encrypt'",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("API key configured (%d characters)", len(key)),
	}
}

// checkAPIReachable tests if the financial API host answers.
func checkAPIReachable(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := financial.NewClient(cfg.Financial, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := client.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("financial API not reachable: %v", err),
			Fix:     "Check network access or financial.base_url",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("reachable at %s", client.BaseURL()),
	}
}

// checkJournal opens the journal database to confirm the path is usable.
func checkJournal(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Journal.Path == "" {
		return CheckResult{Status: StatusPass, Message: "journal disabled"}
	}
	store, err := journal.Open(cfg.Journal.Path, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Journal.Path, err),
			Fix:     "Fix directory permissions or set journal.path to a writable location",
		}
	}
	counts, err := store.Counts(context.Background())
	store.Close()
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("journal unreadable: %v", err)}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s (%d entries)", cfg.Journal.Path, counts.Total),
	}
}

// checkGateway verifies tokens exist and the listen address is free.
func checkGateway(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Gateway.Enabled {
		return CheckResult{Status: StatusPass, Message: "gateway disabled"}
	}
	if len(cfg.Gateway.Auth.Tokens) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no auth tokens configured; every connection would be rejected",
			Fix:     "Set MONETRIX_GATEWAY_TOKEN or add gateway.auth.tokens",
		}
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Gateway.Addr, err),
			Fix:     "Stop the process holding the port or change gateway.addr",
		}
	}
	ln.Close()
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s free, %d token(s)", cfg.Gateway.Addr, len(cfg.Gateway.Auth.Tokens)),
	}
}
