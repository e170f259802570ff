package main

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"monetrix/internal/infra/config"
)

func TestCheckConfigFile_Missing(t *testing.T) {
	result := checkConfigFile("/nonexistent/path/config.yaml", nil)(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
}

func TestCheckConfigFile_ParseError(t *testing.T) {
	result := checkConfigFile("config.yaml", &config.ValidationError{Errors: []string{"bad yaml"}})(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for parse error, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for parse error")
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("cache:\n  max_size: 10\n"), 0600); err != nil {
		t.Fatal(err)
	}
	result := checkConfigFile(cfgPath, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS for valid config, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want CheckStatus
	}{
		{"missing", "", StatusWarn},
		{"still encrypted", "enc:abcdef", StatusFail},
		{"plain", "fd-test-key", StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Financial.APIKey = tt.key
			result := checkAPIKey(cfg)
			if result.Status != tt.want {
				t.Errorf("status = %s, want %s (%s)", result.Status, tt.want, result.Message)
			}
			if tt.key != "" && strings.Contains(result.Message, tt.key) {
				t.Error("message must not echo the key")
			}
		})
	}
}

func TestChecks_NilConfig(t *testing.T) {
	for name, fn := range map[string]func(*config.Config) CheckResult{
		"api key":   checkAPIKey,
		"reachable": checkAPIReachable,
		"journal":   checkJournal,
		"gateway":   checkGateway,
	} {
		if got := fn(nil).Status; got != StatusFail {
			t.Errorf("%s: status = %s, want FAIL", name, got)
		}
	}
}

func TestCheckAPIReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Financial.BaseURL = srv.URL
	if result := checkAPIReachable(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS for answering host, got %s: %s", result.Status, result.Message)
	}

	srv.Close()
	if result := checkAPIReachable(cfg); result.Status != StatusFail {
		t.Errorf("expected FAIL for closed host, got %s", result.Status)
	}
}

func TestCheckJournal(t *testing.T) {
	cfg := config.Defaults()
	cfg.Journal.Path = ""
	if result := checkJournal(cfg); result.Status != StatusPass || result.Message != "journal disabled" {
		t.Errorf("disabled journal: %+v", result)
	}

	cfg.Journal.Path = filepath.Join(t.TempDir(), "nested", "journal.db")
	if result := checkJournal(cfg); result.Status != StatusPass {
		t.Errorf("expected PASS for writable path, got %s: %s", result.Status, result.Message)
	}

	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}
	cfg.Journal.Path = filepath.Join(blocker, "journal.db")
	if result := checkJournal(cfg); result.Status != StatusFail {
		t.Errorf("expected FAIL for unusable path, got %s", result.Status)
	}
}

func TestCheckGateway(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Enabled = false
	if result := checkGateway(cfg); result.Status != StatusPass {
		t.Errorf("disabled gateway: %s", result.Status)
	}

	cfg.Gateway.Enabled = true
	cfg.Gateway.Auth.Tokens = nil
	if result := checkGateway(cfg); result.Status != StatusFail {
		t.Errorf("no tokens: status = %s, want FAIL", result.Status)
	}

	cfg.Gateway.Auth.Tokens = []config.TokenConfig{{Token: "t", Name: "ops"}}
	cfg.Gateway.Addr = "127.0.0.1:0"
	if result := checkGateway(cfg); result.Status != StatusPass {
		t.Errorf("free port: status = %s (%s)", result.Status, result.Message)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	cfg.Gateway.Addr = ln.Addr().String()
	if result := checkGateway(cfg); result.Status != StatusWarn {
		t.Errorf("busy port: status = %s, want WARN", result.Status)
	}
}

func TestReport(t *testing.T) {
	checks := []Check{
		{Name: "ok", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusPass, Message: "fine"} }},
		{Name: "meh", Fn: func(*config.Config) CheckResult {
			return CheckResult{Status: StatusWarn, Message: "hmm", Fix: "do something"}
		}},
	}
	var buf bytes.Buffer
	if err := report(&buf, nil, checks); err != nil {
		t.Fatalf("report: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"[PASS] ok: fine", "[WARN] meh: hmm", "Fix: do something", "1 passed, 1 warnings, 0 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	checks = append(checks, Check{Name: "bad", Fn: func(*config.Config) CheckResult { return CheckResult{Status: StatusFail} }})
	buf.Reset()
	err := report(&buf, nil, checks)
	if err == nil || !strings.Contains(err.Error(), "1 check(s) failed") {
		t.Errorf("err = %v", err)
	}
}
