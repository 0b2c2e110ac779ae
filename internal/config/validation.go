package config

import (
	"fmt"
	"slices"
)

// validSSLModes are the PostgreSQL SSL modes accepted by pgx.
var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// OpenAI
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY or openai_api_key in config.yaml", ErrMissingAPIKey)
	}
	if c.ChatModel == "" {
		return fmt.Errorf("%w: chat_model cannot be empty", ErrInvalidModel)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding_model cannot be empty", ErrInvalidModel)
	}
	if c.EmbeddingDim < 1 || c.EmbeddingDim > 16000 {
		return fmt.Errorf("%w: must be between 1 and 16,000, got %d", ErrInvalidDimension, c.EmbeddingDim)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxAnswerTokens < 1 || c.MaxAnswerTokens > 16384 {
		return fmt.Errorf("%w: must be between 1 and 16,384, got %d", ErrInvalidMaxTokens, c.MaxAnswerTokens)
	}

	// Retrieval
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidTopK, c.TopK)
	}
	if c.SimilarityThreshold < -1.0 || c.SimilarityThreshold > 1.0 {
		return fmt.Errorf("%w: cosine similarity is in [-1, 1], got %.2f", ErrInvalidThreshold, c.SimilarityThreshold)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("%w: must be non-negative, got %d", ErrInvalidHistoryWindow, c.HistoryWindow)
	}

	// Ingestion
	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidChunkSize, c.ChunkSize)
	}

	// PostgreSQL
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not one of %v", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
