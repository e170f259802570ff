// Package financial is the HTTP client for the financial datasets API.
package financial

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"monetrix/internal/domain"
	"monetrix/internal/infra/config"
	"monetrix/internal/infra/tracer"
)

// Endpoints of the financial datasets API.
const (
	EndpointPriceSnapshot     = "/prices/snapshot/"
	EndpointPrices            = "/prices/"
	EndpointIncomeStatements  = "/financials/income-statements/"
	EndpointBalanceSheets     = "/financials/balance-sheets/"
	EndpointCashFlowStatement = "/financials/cash-flow-statements/"
	EndpointFinancialMetrics  = "/financial-metrics/"
	EndpointNews              = "/news/"
	EndpointStockSearch       = "/stocks/search/"
)

const (
	apiKeyHeader            = "X-API-Key"
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 10 << 20
	maxLoggedBody           = 512
)

// Client issues requests against the financial datasets API. It holds no
// state besides its credential and the shared breaker, so WithAPIKey copies
// are cheap and safe to use concurrently.
type Client struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	maxBytes int64
	breaker  *gobreaker.CircuitBreaker[json.RawMessage]
	logger   *slog.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient builds a client from the financial config section.
func NewClient(cfg config.FinancialConfig, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}

	c := &Client{
		http:     &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   cfg.APIKey,
		maxBytes: maxBytes,
		logger:   logger,
	}
	if cfg.CircuitBreaker.Enabled {
		c.breaker = newBreaker(cfg.CircuitBreaker, logger)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAPIKey returns a copy of c that authenticates with key. The copy shares
// the HTTP client and the circuit breaker.
func (c *Client) WithAPIKey(key string) *Client {
	cp := *c
	cp.apiKey = key
	return &cp
}

// HasAPIKey reports whether a credential is configured.
func (c *Client) HasAPIKey() bool { return c.apiKey != "" }

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Request issues a GET to endpoint with the given query parameters. Only
// non-empty values are sent. Any non-2xx response yields a *domain.APIError;
// transport failures are returned wrapped, not classified.
func (c *Client) Request(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	return c.execute(ctx, http.MethodGet, endpoint, compact(params), nil)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, domain.NewSubSystemError("financial", "Client.Post", domain.ErrInvalidInput, err.Error())
	}
	return c.execute(ctx, http.MethodPost, endpoint, nil, data)
}

func (c *Client) execute(ctx context.Context, method, endpoint string, params url.Values, body []byte) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, domain.NewSubSystemError("financial", "Client.Request", domain.ErrMissingAPIKey, endpoint)
	}

	ctx, span := tracer.StartSpan(ctx, "financial."+strings.ToLower(method))
	defer span.End()
	span.SetAttributes(tracer.StringAttr("http.endpoint", endpoint))

	call := func() (json.RawMessage, error) {
		return c.roundTrip(ctx, method, endpoint, params, body)
	}

	var (
		out json.RawMessage
		err error
	)
	if c.breaker != nil {
		out, err = c.breaker.Execute(call)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = domain.NewSubSystemError("financial", "Client.Request", domain.ErrUnavailable,
				fmt.Sprintf("circuit breaker %s: %v", c.breaker.State(), err))
		}
	} else {
		out, err = call()
	}

	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.IntAttr("http.response_bytes", len(out)))
	tracer.SetOK(span)
	return out, nil
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, params url.Values, body []byte) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("financial API request", "method", method, "endpoint", endpoint, "params", params.Encode())
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("financial request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &domain.APIError{
			Status:       resp.StatusCode,
			StatusText:   statusText(resp),
			Endpoint:     endpoint,
			ResponseText: string(data),
		}
		c.logger.Warn("financial API request failed",
			"status", apiErr.Status,
			"status_text", apiErr.StatusText,
			"endpoint", endpoint,
			"response", truncate(apiErr.ResponseText, maxLoggedBody),
		)
		return nil, apiErr
	}

	if int64(len(data)) > c.maxBytes {
		return nil, domain.NewSubSystemError("financial", "Client.Request", domain.ErrLimitReached,
			fmt.Sprintf("%s response exceeds %d bytes", endpoint, c.maxBytes))
	}
	if !json.Valid(data) {
		return nil, domain.NewSubSystemError("financial", "Client.Request", domain.ErrProviderError,
			fmt.Sprintf("%s returned invalid JSON", endpoint))
	}

	c.logger.Debug("financial API request completed",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start),
	)
	return json.RawMessage(data), nil
}

// Ping checks that the API host answers HTTP at all. Any response, including
// an authentication failure, counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reach %s: %w", c.baseURL, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil
}

// --- typed endpoints ---

// GetStockPrices requests a snapshot when p carries no dates and no interval,
// otherwise a historical series.
func (c *Client) GetStockPrices(ctx context.Context, p domain.StockPriceParams) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("ticker", p.Ticker)
	if p.IsSnapshot() {
		return c.Request(ctx, EndpointPriceSnapshot, q)
	}
	q.Set("start_date", p.StartDate)
	q.Set("end_date", p.EndDate)
	q.Set("interval", string(p.Interval))
	if p.IntervalMultiplier > 0 {
		q.Set("interval_multiplier", strconv.Itoa(p.IntervalMultiplier))
	}
	return c.Request(ctx, EndpointPrices, q)
}

// GetIncomeStatements fetches income statements.
func (c *Client) GetIncomeStatements(ctx context.Context, p domain.StatementParams) (json.RawMessage, error) {
	return c.Request(ctx, EndpointIncomeStatements, statementValues(p))
}

// GetBalanceSheets fetches balance sheets.
func (c *Client) GetBalanceSheets(ctx context.Context, p domain.StatementParams) (json.RawMessage, error) {
	return c.Request(ctx, EndpointBalanceSheets, statementValues(p))
}

// GetCashFlowStatements fetches cash flow statements.
func (c *Client) GetCashFlowStatements(ctx context.Context, p domain.StatementParams) (json.RawMessage, error) {
	return c.Request(ctx, EndpointCashFlowStatement, statementValues(p))
}

// GetFinancialMetrics fetches derived metrics such as P/E.
func (c *Client) GetFinancialMetrics(ctx context.Context, p domain.StatementParams) (json.RawMessage, error) {
	return c.Request(ctx, EndpointFinancialMetrics, statementValues(p))
}

// GetNews fetches recent articles for a ticker.
func (c *Client) GetNews(ctx context.Context, p domain.NewsParams) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("ticker", p.Ticker)
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return c.Request(ctx, EndpointNews, q)
}

// searchBody is the POST body of the stock screener.
type searchBody struct {
	Filters []domain.SearchFilter `json:"filters"`
	Period  domain.Period         `json:"period"`
	Limit   int                   `json:"limit,omitempty"`
	OrderBy string                `json:"order_by,omitempty"`
}

// SearchStocks runs the stock screener.
func (c *Client) SearchStocks(ctx context.Context, p domain.StockSearchParams) (json.RawMessage, error) {
	body := searchBody{
		Filters: p.Filters,
		Period:  p.Period,
		Limit:   p.Limit,
		OrderBy: p.OrderBy,
	}
	if body.Period == "" {
		body.Period = domain.PeriodTTM
	}
	if body.Filters == nil {
		body.Filters = []domain.SearchFilter{}
	}
	return c.Post(ctx, EndpointStockSearch, body)
}

// statementValues builds the query shared by the statement endpoints.
// period defaults to ttm; limit is only sent when given.
func statementValues(p domain.StatementParams) url.Values {
	q := url.Values{}
	q.Set("ticker", p.Ticker)
	period := p.Period
	if period == "" {
		period = domain.PeriodTTM
	}
	q.Set("period", string(period))
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	q.Set("report_period_lte", p.ReportPeriodLTE)
	q.Set("report_period_gte", p.ReportPeriodGTE)
	return q
}

// compact drops keys whose values are all empty.
func compact(params url.Values) url.Values {
	if len(params) == 0 {
		return nil
	}
	out := make(url.Values, len(params))
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				out.Add(k, v)
			}
		}
	}
	return out
}

func statusText(resp *http.Response) string {
	// resp.Status is "404 Not Found"; keep only the reason phrase.
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
