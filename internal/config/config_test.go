// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, 0.7, cfg.Scoring().Alpha)
	assert.Equal(t, 0.3, cfg.Scoring().Beta)
	assert.Equal(t, 0.5, cfg.Scoring().Gamma)
	assert.Equal(t, AssessorDisabled, cfg.Assessor().Mode)
	assert.Equal(t, 30*time.Second, cfg.Assessor().CallTimeout)
	assert.Equal(t, 2000, cfg.Assessor().MaxCodeChars)
	assert.Equal(t, 2000, cfg.Assessor().MaxContextCharsPerFile)
	assert.Equal(t, 1000, cfg.Assessor().MaxMessageChars)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM().Model)
	assert.Equal(t, 8.0, cfg.Policy().Threshold)
	assert.Equal(t, "sastrank-report.md", cfg.Report().Markdown)
	assert.Equal(t, 168*time.Hour, cfg.Cache().TTL)
	assert.False(t, cfg.GitHub().Enabled())
	assert.NoError(t, cfg.Validate(), "defaults must be valid on their own")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		negativeWeight := *cfg
		negativeWeight.ScoringCfg.Gamma = -0.1
		err := negativeWeight.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "alpha, beta and gamma must not be negative")

		badThreshold := *cfg
		badThreshold.PolicyCfg.Threshold = 10.5
		err = badThreshold.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "policy.threshold must be between 0 and 10")

		// The bounds themselves are legal thresholds.
		edge := *cfg
		edge.PolicyCfg.Threshold = 10
		assert.NoError(t, edge.Validate())
	})

	t.Run("Assessor Validation", func(t *testing.T) {
		valid := AssessorConfig{
			Mode:                   AssessorLive,
			CallTimeout:            time.Second,
			RequestsPerSecond:      1,
			MaxCodeChars:           100,
			MaxContextCharsPerFile: 100,
		}
		assert.NoError(t, valid.Validate())

		unknown := valid
		unknown.Mode = "sometimes"
		err := unknown.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown assessor.mode")

		// Disabled and mirror modes ignore the live settings entirely.
		mirror := AssessorConfig{Mode: AssessorMirror}
		assert.NoError(t, mirror.Validate())

		noTimeout := valid
		noTimeout.CallTimeout = 0
		err = noTimeout.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "call_timeout must be a positive duration")

		noBudget := valid
		noBudget.MaxCodeChars = 0
		err = noBudget.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must be positive")
	})

	t.Run("Live Mode Requires LLM Credentials", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.AssessorCfg.Mode = AssessorLive
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "API key is required")

		cfg.LLMCfg.APIKey = "test-key"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("GitHub Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.GitHubCfg.PRNumber = 12
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "github.owner and github.repo are required")

		cfg.GitHubCfg.Owner = "acme"
		cfg.GitHubCfg.Repo = "shop"
		err = cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "GitHub token is required but not found")

		cfg.GitHubCfg.Token = "ghp_testtoken123"
		assert.NoError(t, cfg.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
scoring:
  alpha: 0.6
  workers: 8
assessor:
  mode: MIRROR
policy:
  threshold: 7.5
  expression: 'final_severity == "CRITICAL"'
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 0.6, cfg.Scoring().Alpha)
		assert.Equal(t, 0.3, cfg.Scoring().Beta, "unset keys keep their defaults")
		assert.Equal(t, 8, cfg.Scoring().Workers)
		assert.Equal(t, AssessorMirror, cfg.Assessor().Mode, "mode is normalized to lower case")
		assert.Equal(t, 7.5, cfg.Policy().Threshold)
		assert.Equal(t, `final_severity == "CRITICAL"`, cfg.Policy().Expression)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("assessor.mode", "maybe") // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "unknown assessor.mode")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("assessor.mode", "live")
		v.Set("github.owner", "acme")
		v.Set("github.repo", "shop")
		v.Set("github.pr_number", 42)

		yamlConfig := []byte(`
database:
  url: "postgres://configfile/db"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		t.Setenv("SASTRANK_LLM_API_KEY", "env-api-key")
		t.Setenv("SASTRANK_GITHUB_TOKEN", "ghp_env_var_token_456")
		t.Setenv("SASTRANK_DATABASE_URL", "postgres://envvar/db")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "env-api-key", cfg.LLM().APIKey)
		assert.Equal(t, "ghp_env_var_token_456", cfg.GitHub().Token)
		// The env var overrides the value from the config buffer.
		assert.Equal(t, "postgres://envvar/db", cfg.Database().URL)
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		home, err := homedir.Dir()
		require.NoError(t, err)

		v := viper.New()
		SetDefaults(v)
		v.Set("scoring.rules_file", "~/sastrank/rules.yaml")
		v.Set("assessor.context_files", []string{"~/notes/threat-model.md"})

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "sastrank", "rules.yaml"), cfg.Scoring().RulesFile)
		assert.Equal(t, []string{filepath.Join(home, "notes", "threat-model.md")}, cfg.Assessor().ContextFiles)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/sastrank.log
assessor:
  call_timeout: 5s
  context_files:
    - docs/architecture.md
    - docs/threat-model.md
cache:
  redis_url: redis://localhost:6379/0
  ttl: 1h
github:
  pr_number: 7
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/sastrank.log", cfg.Logger().LogFile)
	assert.Equal(t, 5*time.Second, cfg.Assessor().CallTimeout)
	assert.Len(t, cfg.Assessor().ContextFiles, 2)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Cache().RedisURL)
	assert.Equal(t, time.Hour, cfg.Cache().TTL)
	assert.True(t, cfg.GitHub().Enabled())
}
