package financial

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monetrix/internal/domain"
	"monetrix/internal/infra/config"
)

func testConfig(baseURL string) config.FinancialConfig {
	return config.FinancialConfig{
		BaseURL:          baseURL,
		APIKey:           "fd-test-key",
		Timeout:          5 * time.Second,
		MaxResponseBytes: 1 << 20,
	}
}

func newTestServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestRequestSendsKeyAndQuery(t *testing.T) {
	var gotKey, gotPath string
	var gotQuery url.Values
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"news":[]}`))
	})

	c := NewClient(testConfig(srv.URL), nil)
	out, err := c.Request(context.Background(), EndpointNews, url.Values{
		"ticker": {"TSLA"},
		"limit":  {"5"},
		"empty":  {""},
	})

	require.NoError(t, err)
	assert.JSONEq(t, `{"news":[]}`, string(out))
	assert.Equal(t, "fd-test-key", gotKey)
	assert.Equal(t, "/news/", gotPath)
	assert.Equal(t, "TSLA", gotQuery.Get("ticker"))
	assert.Equal(t, "5", gotQuery.Get("limit"))
	_, hasEmpty := gotQuery["empty"]
	assert.False(t, hasEmpty, "empty parameters must not be sent")
}

func TestNonSuccessReturnsAPIError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":"Insufficient credits"}`))
	})

	c := NewClient(testConfig(srv.URL), nil)
	_, err := c.GetIncomeStatements(context.Background(), domain.StatementParams{Ticker: "AAPL"})

	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 402, apiErr.Status)
	assert.Equal(t, "Payment Required", apiErr.StatusText)
	assert.Equal(t, EndpointIncomeStatements, apiErr.Endpoint)
	assert.Equal(t, `{"error":"Insufficient credits"}`, apiErr.ResponseText)
	assert.ErrorIs(t, err, domain.ErrCreditsExhausted)
}

func TestMissingAPIKeySkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	cfg := testConfig(srv.URL)
	cfg.APIKey = ""
	c := NewClient(cfg, nil)
	_, err := c.GetNews(context.Background(), domain.NewsParams{Ticker: "TSLA"})

	assert.ErrorIs(t, err, domain.ErrMissingAPIKey)
	assert.Zero(t, calls.Load())
	assert.False(t, c.HasAPIKey())
}

func TestWithAPIKeyCopies(t *testing.T) {
	var gotKey string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Write([]byte(`{}`))
	})

	base := NewClient(testConfig(srv.URL), nil)
	user := base.WithAPIKey("user-key")

	_, err := user.GetNews(context.Background(), domain.NewsParams{Ticker: "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, "user-key", gotKey)

	_, err = base.GetNews(context.Background(), domain.NewsParams{Ticker: "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, "fd-test-key", gotKey, "the original client keeps its key")
}

func TestTransportErrorIsReturnedUnclassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := NewClient(testConfig(addr), nil)
	_, err := c.GetNews(context.Background(), domain.NewsParams{Ticker: "TSLA"})

	require.Error(t, err)
	var apiErr *domain.APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Contains(t, err.Error(), "financial request /news/")
}

func TestStatementDefaults(t *testing.T) {
	var q url.Values
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q = r.URL.Query()
		w.Write([]byte(`{}`))
	})
	c := NewClient(testConfig(srv.URL), nil)

	_, err := c.GetBalanceSheets(context.Background(), domain.StatementParams{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "ttm", q.Get("period"), "period defaults to ttm")
	_, hasLimit := q["limit"]
	assert.False(t, hasLimit, "limit is only sent when given")

	_, err = c.GetCashFlowStatements(context.Background(), domain.StatementParams{
		Ticker: "AAPL", Period: domain.PeriodAnnual, Limit: 3,
		ReportPeriodLTE: "2024-12-31", ReportPeriodGTE: "2020-01-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "annual", q.Get("period"))
	assert.Equal(t, "3", q.Get("limit"))
	assert.Equal(t, "2024-12-31", q.Get("report_period_lte"))
	assert.Equal(t, "2020-01-01", q.Get("report_period_gte"))
}

func TestEndpointsPerTool(t *testing.T) {
	var path string
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`{}`))
	})
	c := NewClient(testConfig(srv.URL), nil)
	ctx := context.Background()
	sp := domain.StatementParams{Ticker: "NVDA"}

	tests := []struct {
		name string
		call func() error
		want string
	}{
		{"income", func() error { _, err := c.GetIncomeStatements(ctx, sp); return err }, EndpointIncomeStatements},
		{"balance", func() error { _, err := c.GetBalanceSheets(ctx, sp); return err }, EndpointBalanceSheets},
		{"cashflow", func() error { _, err := c.GetCashFlowStatements(ctx, sp); return err }, EndpointCashFlowStatement},
		{"metrics", func() error { _, err := c.GetFinancialMetrics(ctx, sp); return err }, EndpointFinancialMetrics},
		{"news", func() error { _, err := c.GetNews(ctx, domain.NewsParams{Ticker: "NVDA"}); return err }, EndpointNews},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.call())
			assert.Equal(t, tt.want, path)
		})
	}
}

func TestStockPricesSnapshotVsHistorical(t *testing.T) {
	var path string
	var q url.Values
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		path, q = r.URL.Path, r.URL.Query()
		w.Write([]byte(`{}`))
	})
	c := NewClient(testConfig(srv.URL), nil)

	_, err := c.GetStockPrices(context.Background(), domain.StockPriceParams{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, EndpointPriceSnapshot, path)
	assert.Equal(t, "AAPL", q.Get("ticker"))
	assert.Len(t, q, 1)

	_, err = c.GetStockPrices(context.Background(), domain.StockPriceParams{
		Ticker: "AAPL", StartDate: "2024-01-01", EndDate: "2024-02-01",
		Interval: domain.IntervalDay, IntervalMultiplier: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, EndpointPrices, path)
	assert.Equal(t, "2024-01-01", q.Get("start_date"))
	assert.Equal(t, "2024-02-01", q.Get("end_date"))
	assert.Equal(t, "day", q.Get("interval"))
	assert.Equal(t, "1", q.Get("interval_multiplier"))
}

func TestSearchStocksPostsJSON(t *testing.T) {
	var method, contentType string
	var body map[string]any
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"search_results":[{"ticker":"AAPL"}]}`))
	})
	c := NewClient(testConfig(srv.URL), nil)

	out, err := c.SearchStocks(context.Background(), domain.StockSearchParams{
		Filters: []domain.SearchFilter{{Field: "revenue", Operator: domain.OpGT, Value: 1e9}},
		Limit:   5,
		OrderBy: "-report_period",
	})

	require.NoError(t, err)
	assert.Contains(t, string(out), "AAPL")
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "ttm", body["period"], "period defaults to ttm")
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, "-report_period", body["order_by"])
	filters := body["filters"].([]any)
	require.Len(t, filters, 1)
	assert.Equal(t, "revenue", filters[0].(map[string]any)["field"])
}

func TestResponseSizeCap(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":"` + strings.Repeat("x", 200) + `"}`))
	})
	cfg := testConfig(srv.URL)
	cfg.MaxResponseBytes = 64
	c := NewClient(cfg, nil)

	_, err := c.GetNews(context.Background(), domain.NewsParams{Ticker: "TSLA"})
	assert.ErrorIs(t, err, domain.ErrLimitReached)
}

func TestInvalidJSONBody(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	})
	c := NewClient(testConfig(srv.URL), nil)

	_, err := c.GetNews(context.Background(), domain.NewsParams{Ticker: "TSLA"})
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestContextCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	c := NewClient(testConfig(srv.URL), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.GetNews(ctx, domain.NewsParams{Ticker: "TSLA"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogsNeverContainAPIKey(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == EndpointNews {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(strings.Repeat("e", 2000)))
			return
		}
		w.Write([]byte(`{}`))
	})
	c := NewClient(testConfig(srv.URL), logger)

	_, _ = c.GetNews(context.Background(), domain.NewsParams{Ticker: "TSLA"})
	_, _ = c.GetBalanceSheets(context.Background(), domain.StatementParams{Ticker: "TSLA"})

	out := buf.String()
	assert.NotContains(t, out, "fd-test-key")
	assert.Contains(t, out, "...(truncated)")
	assert.NotContains(t, out, strings.Repeat("e", 600))
}

func TestPing(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := NewClient(testConfig(srv.URL), nil)
	assert.NoError(t, c.Ping(context.Background()))

	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()
	assert.Error(t, NewClient(testConfig(deadURL), nil).Ping(context.Background()))
}

// --- circuit breaker ---

func breakerConfig(baseURL string) config.FinancialConfig {
	cfg := testConfig(baseURL)
	cfg.CircuitBreaker = config.CircuitBreakerConfig{
		Enabled:     true,
		MaxFailures: 3,
		Timeout:     time.Minute,
		Interval:    time.Minute,
	}
	return cfg
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	c := NewClient(breakerConfig(srv.URL), nil)

	for i := 0; i < 3; i++ {
		_, err := c.GetNews(context.Background(), domain.NewsParams{Ticker: "TSLA"})
		var apiErr *domain.APIError
		require.ErrorAs(t, err, &apiErr)
	}
	assert.Equal(t, gobreaker.StateOpen.String(), c.BreakerState())

	_, err := c.GetNews(context.Background(), domain.NewsParams{Ticker: "TSLA"})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, domain.CodeBreakerOpen, domain.ErrorCodeOf(err))
	assert.Equal(t, int32(3), calls.Load(), "open breaker must fail fast")
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := NewClient(breakerConfig(srv.URL), nil)

	for i := 0; i < 10; i++ {
		_, err := c.GetNews(context.Background(), domain.NewsParams{Ticker: "TSLA"})
		assert.ErrorIs(t, err, domain.ErrRateLimit)
	}
	assert.Equal(t, gobreaker.StateClosed.String(), c.BreakerState())
}

func TestBreakerSharedAcrossKeyCopies(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	base := NewClient(breakerConfig(srv.URL), nil)

	for i := 0; i < 3; i++ {
		_, _ = base.WithAPIKey("k").GetNews(context.Background(), domain.NewsParams{Ticker: "TSLA"})
	}
	assert.Equal(t, gobreaker.StateOpen.String(), base.BreakerState())
}

func TestBreakerDisabled(t *testing.T) {
	c := NewClient(testConfig("http://127.0.0.1:1"), nil)
	assert.Equal(t, "disabled", c.BreakerState())
	assert.Equal(t, gobreaker.Counts{}, c.BreakerCounts())
}

func TestCountsAsHealthy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"canceled", context.Canceled, true},
		{"404", &domain.APIError{Status: 404}, true},
		{"429", &domain.APIError{Status: 429}, true},
		{"500", &domain.APIError{Status: 500}, false},
		{"transport", io.ErrUnexpectedEOF, false},
		{"deadline", context.DeadlineExceeded, false},
		{"oversized", domain.NewSubSystemError("financial", "x", domain.ErrLimitReached, ""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countsAsHealthy(tt.err))
		})
	}
}
