package domain

import "context"

// KeyProvider names the upstream service an API key belongs to.
type KeyProvider string

const (
	KeyProviderFinancialDatasets KeyProvider = "financial-datasets"
	KeyProviderOpenAI            KeyProvider = "openai"
)

// APIKeyProvider resolves a user's decrypted API key. An empty key with a nil
// error means the user has none stored.
type APIKeyProvider interface {
	APIKey(ctx context.Context, userID string, provider KeyProvider) (string, error)
}
