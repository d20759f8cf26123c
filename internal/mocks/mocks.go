// Package mocks holds testify mocks shared by the package tests.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/sastrank/api/schemas"
	"github.com/xkilldash9x/sastrank/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Scoring() config.ScoringConfig {
	args := m.Called()
	return args.Get(0).(config.ScoringConfig)
}

func (m *MockConfig) Assessor() config.AssessorConfig {
	args := m.Called()
	return args.Get(0).(config.AssessorConfig)
}

func (m *MockConfig) LLM() config.LLMModelConfig {
	args := m.Called()
	return args.Get(0).(config.LLMModelConfig)
}

func (m *MockConfig) Git() config.GitConfig {
	args := m.Called()
	return args.Get(0).(config.GitConfig)
}

func (m *MockConfig) Policy() config.PolicyConfig {
	args := m.Called()
	return args.Get(0).(config.PolicyConfig)
}

func (m *MockConfig) Report() config.ReportConfig {
	args := m.Called()
	return args.Get(0).(config.ReportConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Cache() config.CacheConfig {
	args := m.Called()
	return args.Get(0).(config.CacheConfig)
}

func (m *MockConfig) GitHub() config.GitHubConfig {
	args := m.Called()
	return args.Get(0).(config.GitHubConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close is a no-op unless an expectation was set.
func (m *MockLLMClient) Close() error {
	for _, c := range m.ExpectedCalls {
		if c.Method == "Close" {
			return m.Called().Error(0)
		}
	}
	return nil
}

// -- Assessor Mock --

// MockAssessor mocks an external assessor.
type MockAssessor struct {
	mock.Mock
}

func (m *MockAssessor) Assess(ctx context.Context, f schemas.Finding, h schemas.HeuristicScore) *schemas.ExternalScore {
	args := m.Called(ctx, f, h)
	if v := args.Get(0); v != nil {
		return v.(*schemas.ExternalScore)
	}
	return nil
}

// -- Run Store Mock --

// MockRunStore mocks the persistence of ranked runs.
type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) PersistRun(ctx context.Context, report *schemas.RankedReport) error {
	return m.Called(ctx, report).Error(0)
}

func (m *MockRunStore) GetRun(ctx context.Context, runID string) (*schemas.RankedReport, error) {
	args := m.Called(ctx, runID)
	var r *schemas.RankedReport
	if v := args.Get(0); v != nil {
		r = v.(*schemas.RankedReport)
	}
	return r, args.Error(1)
}

// -- Publisher Mock --

// MockPublisher mocks a report publisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, report *schemas.RankedReport) error {
	return m.Called(ctx, report).Error(0)
}
