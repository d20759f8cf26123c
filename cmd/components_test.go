package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sastrank/internal/assessor"
	"github.com/xkilldash9x/sastrank/internal/config"
	"github.com/xkilldash9x/sastrank/internal/mocks"
)

func TestBuildAssessor(t *testing.T) {
	tests := []struct {
		name     string
		mode     config.AssessorMode
		expected assessor.Assessor
		wantErr  string
	}{
		{name: "disabled", mode: config.AssessorDisabled, expected: assessor.Disabled{}},
		{name: "mirror", mode: config.AssessorMirror, expected: assessor.Mirror{}},
		{name: "unknown mode", mode: config.AssessorMode("oracle"), wantErr: "unknown assessor mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := new(mocks.MockConfig)
			cfg.On("Assessor").Return(config.AssessorConfig{Mode: tt.mode})

			var cleanup cleanupStack
			a, err := buildAssessor(context.Background(), cfg, zap.NewNop(), nil, &cleanup)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, a)
			assert.Empty(t, cleanup)
			cfg.AssertNotCalled(t, "LLM")
			cfg.AssertNotCalled(t, "Cache")
		})
	}
}

func TestOpenHistory_RequiresDatabaseURL(t *testing.T) {
	cfg := new(mocks.MockConfig)
	cfg.On("Database").Return(config.DatabaseConfig{})

	reader, cleanup, err := openHistory(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SASTRANK_DATABASE_URL")
	assert.Nil(t, reader)
	assert.Nil(t, cleanup)
	cfg.AssertExpectations(t)
}

func TestCleanupStack_RunsInReverse(t *testing.T) {
	var order []int
	var stack cleanupStack
	stack.push(func() { order = append(order, 1) })
	stack.push(func() { order = append(order, 2) })
	stack.push(func() { order = append(order, 3) })

	stack.run()
	assert.Equal(t, []int{3, 2, 1}, order)
}
