package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"monetrix/internal/adapter/journal"
	"monetrix/internal/adapter/mcpserver"
	"monetrix/internal/domain"
	"monetrix/internal/infra/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPositionalArgs(t *testing.T) {
	got := positionalArgs([]string{"getNews", "--config", "x.yaml", `{"ticker":"AAPL"}`, "--config=y.yaml"})
	if len(got) != 2 || got[0] != "getNews" || got[1] != `{"ticker":"AAPL"}` {
		t.Errorf("positionalArgs = %q", got)
	}
}

func TestParseCallArgs(t *testing.T) {
	name, raw, err := parseCallArgs([]string{"getNews"})
	if err != nil {
		t.Fatalf("parseCallArgs: %v", err)
	}
	if name != domain.ToolGetNews || string(raw) != `{}` {
		t.Errorf("got %s %s", name, raw)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"unknown tool", []string{"getWeather"}},
		{"bad json", []string{"getNews", "{"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := parseCallArgs(tt.args); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	ok := &domain.ToolResult{ToolCallID: "c1", Tool: domain.ToolGetNews, Payload: json.RawMessage(`[]`)}
	if err := printResult(&buf, ok); err != nil {
		t.Fatalf("printResult: %v", err)
	}
	if strings.Contains(buf.String(), "prompt") {
		t.Errorf("unexpected prompt in %s", buf.String())
	}

	buf.Reset()
	failed := &domain.ToolResult{Tool: domain.ToolGetNews, Error: &domain.ErrorResult{
		Error: "Unauthorized", Message: "Invalid API key", Status: 401, Category: domain.CategoryAuth,
	}}
	err := printResult(&buf, failed)
	if !errors.Is(err, errToolResult) {
		t.Fatalf("err = %v, want errToolResult", err)
	}
	var out struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Prompt != "api_key" {
		t.Errorf("prompt = %q, want api_key", out.Prompt)
	}
}

func TestEncryptTo(t *testing.T) {
	var buf bytes.Buffer
	if err := encryptTo(&buf, []string{"fd-secret"}, "pass"); err != nil {
		t.Fatalf("encryptTo: %v", err)
	}
	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "enc:") {
		t.Fatalf("output = %q", line)
	}
	plain, err := config.DecryptValue(strings.TrimPrefix(line, "enc:"), "pass")
	if err != nil || plain != "fd-secret" {
		t.Errorf("round trip = %q, %v", plain, err)
	}

	if err := encryptTo(&buf, []string{"x"}, ""); err == nil {
		t.Error("expected error without passphrase")
	}
	if err := encryptTo(&buf, nil, "pass"); err == nil {
		t.Error("expected usage error")
	}
}

func TestPrepareMCPConfig(t *testing.T) {
	cfg := config.Defaults()
	prepareMCPConfig(cfg)
	if cfg.Cache.TTL != mcpserver.DefaultDedupWindow {
		t.Errorf("cache TTL = %v, want %v", cfg.Cache.TTL, mcpserver.DefaultDedupWindow)
	}
	if cfg.Sessions.IdleTimeout != 0 {
		t.Errorf("idle timeout = %v, want 0", cfg.Sessions.IdleTimeout)
	}
	if cfg.Logger.Output == "stdout" || cfg.Logger.Output == "" {
		t.Errorf("logger output = %q, stdout is reserved for the protocol", cfg.Logger.Output)
	}

	cfg = config.Defaults()
	cfg.Cache.TTL = 10 * time.Second
	prepareMCPConfig(cfg)
	if cfg.Cache.TTL != 10*time.Second {
		t.Errorf("configured TTL overridden: %v", cfg.Cache.TTL)
	}
}

func TestComponentsEndToEnd(t *testing.T) {
	var hits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-API-KEY") != "fd-test" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Unauthorized","message":"Invalid API key"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"news":[{"title":"Apple beats estimates","date":"2024-08-01"}]}`))
	}))
	defer api.Close()

	cfg := config.Defaults()
	cfg.Financial.BaseURL = api.URL
	cfg.Financial.APIKey = "fd-test"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	cfg.Scheduler.Enabled = false

	comp, cleanup, err := initComponents(cfg, quietLogger(), true)
	if err != nil {
		t.Fatalf("initComponents: %v", err)
	}
	t.Cleanup(cleanup)

	ctx := context.Background()
	sess, err := comp.Sessions.Open(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	call := domain.ToolCall{Name: "getNews", Arguments: json.RawMessage(`{"ticker":"AAPL"}`)}
	first := sess.Execute(ctx, call)
	if first.IsError() {
		t.Fatalf("first call failed: %+v", first.Error)
	}
	second := sess.Execute(ctx, call)
	if !second.Skipped {
		t.Errorf("repeat call should be skipped: %+v", second)
	}
	if hits.Load() != 1 {
		t.Errorf("API hits = %d, want 1", hits.Load())
	}

	// The journal is fed asynchronously by the bus.
	deadline := time.Now().Add(2 * time.Second)
	var entries []journal.Entry
	for time.Now().Before(deadline) {
		entries, err = comp.Journal.Recent(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(entries) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(entries))
	}
	outcomes := map[string]bool{}
	for _, e := range entries {
		outcomes[e.Outcome] = true
		if e.SessionID != sess.ID || e.Tool != domain.ToolGetNews {
			t.Errorf("entry = %+v", e)
		}
	}
	if !outcomes[journal.OutcomeOK] || !outcomes[journal.OutcomeSkipped] {
		t.Errorf("outcomes = %v", outcomes)
	}
}
