// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
)

// Defaults for the provider models.
const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultLLMModel       = "gpt-4o-mini"
)

// Config holds provider and HTTP settings. Database settings live in
// pkg/database.
type Config struct {
	OpenAIAPIKey   string
	LLMModel       string
	EmbeddingModel string
	HTTPPort       string
	GinMode        string
}

// LoadFromEnv reads configuration from environment variables and validates it.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		LLMModel:       getEnvOrDefault("OPENAI_MODEL", DefaultLLMModel),
		EmbeddingModel: getEnvOrDefault("OPENAI_EMBEDDING_MODEL", DefaultEmbeddingModel),
		HTTPPort:       getEnvOrDefault("HTTP_PORT", "8080"),
		GinMode:        getEnvOrDefault("GIN_MODE", "debug"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.LLMModel == "" {
		return fmt.Errorf("OPENAI_MODEL cannot be empty")
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("OPENAI_EMBEDDING_MODEL cannot be empty")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
