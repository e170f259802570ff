package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockPriceParamsIsSnapshot(t *testing.T) {
	assert.True(t, StockPriceParams{Ticker: "AAPL"}.IsSnapshot())
	assert.False(t, StockPriceParams{Ticker: "AAPL", StartDate: "2024-01-01"}.IsSnapshot())
	assert.False(t, StockPriceParams{Ticker: "AAPL", EndDate: "2024-01-01"}.IsSnapshot())
	assert.False(t, StockPriceParams{Ticker: "AAPL", Interval: IntervalWeek}.IsSnapshot())
}

func TestDecodePriceData(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		shape string
	}{
		{"empty", "", ShapeEmpty},
		{"null", "null", ShapeEmpty},
		{"array", "[1,2]", ShapeEmpty},
		{"neither", `{"ticker":"AAPL"}`, ShapeEmpty},
		{"snapshot", `{"snapshot":{"ticker":"AAPL","price":190.5,"day_change":1.2}}`, ShapeSnapshot},
		{"historical", `{"prices":[{"time":"2024-01-02","open":1,"high":2,"low":0.5,"close":1.5,"volume":100}]}`, ShapeHistorical},
		{"empty series", `{"prices":[]}`, ShapeEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := DecodePriceData(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.shape, d.Shape())
		})
	}
}

func TestDecodePriceData_Malformed(t *testing.T) {
	_, err := DecodePriceData(json.RawMessage(`{"prices":"nope"}`))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "decode price data"))
}

func TestAPIErrorUnwrap(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, ErrAuthInvalid},
		{402, ErrCreditsExhausted},
		{404, ErrNotFound},
		{429, ErrRateLimit},
		{500, ErrUnavailable},
		{503, ErrUnavailable},
		{400, ErrProviderError},
	}
	for _, tt := range tests {
		err := &APIError{Status: tt.status, Endpoint: "/prices/"}
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: errors.Is(%v) = false", tt.status, tt.want)
		}
	}
}

func TestAPIErrorMessages(t *testing.T) {
	err := &APIError{Status: 503, StatusText: "Service Unavailable", Endpoint: "/news/"}
	assert.Equal(t, "financial API error 503: Service Unavailable at /news/", err.Error())
	assert.Equal(t, "🚫 API error (503): Service Unavailable. Please try again later.", err.UserFriendlyMessage())

	credits := &APIError{Status: 402}
	assert.True(t, credits.IsCreditsExhausted())
	assert.True(t, strings.HasPrefix(credits.UserFriendlyMessage(), "💳"))

	auth := &APIError{Status: 401}
	assert.True(t, auth.IsUnauthorized())
	assert.True(t, strings.HasPrefix(auth.UserFriendlyMessage(), "🔑"))

	// Status text falls back to the net/http table.
	teapot := &APIError{Status: 418}
	assert.Contains(t, teapot.UserFriendlyMessage(), "I'm a teapot")
	assert.Contains(t, (&APIError{Status: 599}).UserFriendlyMessage(), "Unknown status")
}

func TestErrorResultJSON(t *testing.T) {
	data, err := json.Marshal(ErrorResult{
		Error:          "💳 Financial data API credits exhausted",
		Message:        "m",
		Status:         402,
		ActionRequired: "Add credits or update API key",
		Category:       CategoryCredits,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"💳 Financial data API credits exhausted","message":"m","status":402,"action_required":"Add credits or update API key","category":"credits"}`, string(data))
}
