package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/sastrank/internal/config"
)

// -- Test Cases: Factory Initialization (NewClient) --

func TestNewClient_Gemini(t *testing.T) {
	logger, _ := setupTestLogger(t)

	client, err := NewClient(context.Background(), getValidLLMConfig(), logger)
	require.NoError(t, err)
	require.NotNil(t, client)
	t.Cleanup(func() { client.Close() })

	gc, ok := client.(*GeminiClient)
	require.True(t, ok, "The created client should be of type *GeminiClient")
	assert.Equal(t, "test-model", gc.model)
	assert.NotNil(t, gc.client, "SDK client should be initialized")
}

func TestNewClient_EmptyProviderDefaultsToGemini(t *testing.T) {
	logger, _ := setupTestLogger(t)
	cfg := getValidLLMConfig()
	cfg.Provider = ""

	client, err := NewClient(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &GeminiClient{}, client)
}

func TestNewClient_Failures(t *testing.T) {
	logger, _ := setupTestLogger(t)

	tests := []struct {
		name        string
		mutate      func(*config.LLMModelConfig)
		expectedErr string
	}{
		{
			name:        "Unsupported provider",
			mutate:      func(c *config.LLMModelConfig) { c.Provider = "openai" },
			expectedErr: "unknown or unsupported LLM provider configured: 'openai'",
		},
		{
			name:        "Missing API key",
			mutate:      func(c *config.LLMModelConfig) { c.APIKey = "" },
			expectedErr: "Gemini API Key is required",
		},
		{
			name:        "Missing model",
			mutate:      func(c *config.LLMModelConfig) { c.Model = "" },
			expectedErr: "Gemini model name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getValidLLMConfig()
			tt.mutate(&cfg)

			client, err := NewClient(context.Background(), cfg, logger)
			require.Error(t, err)
			assert.Nil(t, client)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}
