// Package integration runs the tool stack against the live financial
// datasets API. Every test skips unless FINANCIAL_DATASETS_API_KEY is set.
package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"monetrix/internal/adapter/financial"
	"monetrix/internal/adapter/tool"
	"monetrix/internal/domain"
	"monetrix/internal/infra/config"
	"monetrix/internal/usecase"
	"monetrix/internal/usecase/datastream"
	"monetrix/internal/usecase/toolcache"
)

// Config holds integration test configuration from environment
type Config struct {
	APIKey      string
	BaseURL     string
	Ticker      string
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	cfg := &Config{
		APIKey:      os.Getenv("FINANCIAL_DATASETS_API_KEY"),
		BaseURL:     os.Getenv("FINANCIAL_API_BASE_URL"),
		Ticker:      os.Getenv("INTEGRATION_TICKER"),
		TestTimeout: 60 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.DefaultBaseURL
	}
	if cfg.Ticker == "" {
		cfg.Ticker = "AAPL"
	}
	return cfg
}

// SkipIfNoAPIKey skips the test if the API key is not set
func SkipIfNoAPIKey(t *testing.T, cfg *Config) {
	t.Helper()
	if cfg.APIKey == "" {
		t.Skip("Skipping live API test: FINANCIAL_DATASETS_API_KEY not set")
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewLiveSession opens a session whose tools call the live API with key.
func NewLiveSession(t *testing.T, cfg *Config, key string) *usecase.Session {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := tool.NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	fcfg := config.Defaults().Financial
	fcfg.BaseURL = cfg.BaseURL
	client := financial.NewClient(fcfg, logger)

	factory := func(apiKey string, cache *toolcache.Cache, emitter *datastream.Emitter) domain.ToolRunner {
		return tool.NewManager(registry, client.WithAPIKey(apiKey), cache, nil, logger,
			tool.WithLoadingReporter(emitter))
	}
	sm := usecase.NewSessionManager(usecase.SessionManagerConfig{DefaultAPIKey: key}, factory, nil, nil, logger)
	t.Cleanup(func() { sm.CloseAll(context.Background()) })

	sess, err := sm.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return sess
}
