// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Scoring() ScoringConfig
	Assessor() AssessorConfig
	LLM() LLMModelConfig
	Git() GitConfig
	Policy() PolicyConfig
	Report() ReportConfig
	Database() DatabaseConfig
	Cache() CacheConfig
	GitHub() GitHubConfig
	Metrics() MetricsConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	ScoringCfg  ScoringConfig  `mapstructure:"scoring" yaml:"scoring"`
	AssessorCfg AssessorConfig `mapstructure:"assessor" yaml:"assessor"`
	LLMCfg      LLMModelConfig `mapstructure:"llm" yaml:"llm"`
	GitCfg      GitConfig      `mapstructure:"git" yaml:"git"`
	PolicyCfg   PolicyConfig   `mapstructure:"policy" yaml:"policy"`
	ReportCfg   ReportConfig   `mapstructure:"report" yaml:"report"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	CacheCfg    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	GitHubCfg   GitHubConfig   `mapstructure:"github" yaml:"github"`
	MetricsCfg  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Scoring() ScoringConfig   { return c.ScoringCfg }
func (c *Config) Assessor() AssessorConfig { return c.AssessorCfg }
func (c *Config) LLM() LLMModelConfig      { return c.LLMCfg }
func (c *Config) Git() GitConfig           { return c.GitCfg }
func (c *Config) Policy() PolicyConfig     { return c.PolicyCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Cache() CacheConfig       { return c.CacheCfg }
func (c *Config) GitHub() GitHubConfig     { return c.GitHubCfg }
func (c *Config) Metrics() MetricsConfig   { return c.MetricsCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ScoringConfig holds the blend weights and worker pool size of the
// risk scoring service.
type ScoringConfig struct {
	Alpha     float64 `mapstructure:"alpha" yaml:"alpha"` // weight of the heuristic score
	Beta      float64 `mapstructure:"beta" yaml:"beta"`   // weight of the external risk score
	Gamma     float64 `mapstructure:"gamma" yaml:"gamma"` // false positive penalty
	Workers   int     `mapstructure:"workers" yaml:"workers"`
	RulesFile string  `mapstructure:"rules_file" yaml:"rules_file"`
}

// AssessorMode selects the external assessor implementation.
type AssessorMode string

const (
	AssessorDisabled AssessorMode = "disabled"
	AssessorMirror   AssessorMode = "mirror"
	AssessorLive     AssessorMode = "live"
)

// AssessorConfig configures the external (LLM) assessor.
type AssessorConfig struct {
	Mode                   AssessorMode  `mapstructure:"mode" yaml:"mode"`
	CallTimeout            time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	RequestsPerSecond      float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst                  int           `mapstructure:"burst" yaml:"burst"`
	MaxCodeChars           int           `mapstructure:"max_code_chars" yaml:"max_code_chars"`
	MaxContextCharsPerFile int           `mapstructure:"max_context_chars_per_file" yaml:"max_context_chars_per_file"`
	MaxMessageChars        int           `mapstructure:"max_message_chars" yaml:"max_message_chars"`
	ContextFiles           []string      `mapstructure:"context_files" yaml:"context_files"`
	ProjectRoot            string        `mapstructure:"project_root" yaml:"project_root"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMModelConfig defines the configuration for the assessment model.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// GitConfig points provenance enrichment at a repository.
type GitConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Root    string `mapstructure:"root" yaml:"root"`
}

// PolicyConfig defines the CI gate.
type PolicyConfig struct {
	Threshold  float64 `mapstructure:"threshold" yaml:"threshold"`
	Expression string  `mapstructure:"expression" yaml:"expression"`
}

// ReportConfig lists the output paths. An empty path disables that format.
type ReportConfig struct {
	Markdown string `mapstructure:"markdown" yaml:"markdown"`
	JSON     string `mapstructure:"json" yaml:"json"`
	SARIF    string `mapstructure:"sarif" yaml:"sarif"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// CacheConfig configures the Redis assessment cache.
type CacheConfig struct {
	RedisURL string        `mapstructure:"redis_url" yaml:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// GitHubConfig defines the configuration for GitHub integration.
type GitHubConfig struct {
	Token    string `mapstructure:"token" yaml:"-"`
	Owner    string `mapstructure:"owner" yaml:"owner"`
	Repo     string `mapstructure:"repo" yaml:"repo"`
	PRNumber int    `mapstructure:"pr_number" yaml:"pr_number"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
}

// Enabled reports whether a pull request comment should be posted.
func (g GitHubConfig) Enabled() bool {
	return g.PRNumber > 0
}

// MetricsConfig toggles OpenTelemetry instrumentation.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "sastrank")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Scoring --
	v.SetDefault("scoring.alpha", 0.7)
	v.SetDefault("scoring.beta", 0.3)
	v.SetDefault("scoring.gamma", 0.5)
	v.SetDefault("scoring.workers", 4)
	v.SetDefault("scoring.rules_file", "")

	// -- Assessor --
	v.SetDefault("assessor.mode", string(AssessorDisabled))
	v.SetDefault("assessor.call_timeout", "30s")
	v.SetDefault("assessor.requests_per_second", 2.0)
	v.SetDefault("assessor.burst", 1)
	v.SetDefault("assessor.max_code_chars", 2000)
	v.SetDefault("assessor.max_context_chars_per_file", 2000)
	v.SetDefault("assessor.max_message_chars", 1000)
	v.SetDefault("assessor.context_files", []string{})
	v.SetDefault("assessor.project_root", ".")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.top_p", 0.95)
	v.SetDefault("llm.top_k", 40)
	v.SetDefault("llm.max_tokens", 1024)

	// -- Git --
	v.SetDefault("git.enabled", true)
	v.SetDefault("git.root", ".")

	// -- Policy --
	v.SetDefault("policy.threshold", 8.0)
	v.SetDefault("policy.expression", "")

	// -- Report --
	v.SetDefault("report.markdown", "sastrank-report.md")
	v.SetDefault("report.json", "sastrank-report.json")
	v.SetDefault("report.sarif", "")

	// -- Cache --
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.ttl", "168h")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("llm.api_key", "SASTRANK_LLM_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("github.token", "SASTRANK_GITHUB_TOKEN", "GITHUB_TOKEN")
	v.BindEnv("database.url", "SASTRANK_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.AssessorCfg.Mode = AssessorMode(strings.ToLower(strings.TrimSpace(string(cfg.AssessorCfg.Mode))))

	// Manually load the key if Unmarshal didn't pick it up
	if cfg.AssessorCfg.Mode == AssessorLive && cfg.LLMCfg.APIKey == "" {
		cfg.LLMCfg.APIKey = os.Getenv("SASTRANK_LLM_API_KEY")
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every user supplied path.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.ScoringCfg.RulesFile,
		&c.AssessorCfg.ProjectRoot,
		&c.GitCfg.Root,
		&c.ReportCfg.Markdown,
		&c.ReportCfg.JSON,
		&c.ReportCfg.SARIF,
	}
	for _, p := range paths {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	for i, f := range c.AssessorCfg.ContextFiles {
		expanded, err := homedir.Expand(f)
		if err != nil {
			return fmt.Errorf("failed to expand context file %q: %w", f, err)
		}
		c.AssessorCfg.ContextFiles[i] = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.ScoringCfg.Validate(); err != nil {
		return fmt.Errorf("scoring configuration invalid: %w", err)
	}
	if err := c.AssessorCfg.Validate(); err != nil {
		return fmt.Errorf("assessor configuration invalid: %w", err)
	}
	if c.AssessorCfg.Mode == AssessorLive {
		if err := c.LLMCfg.Validate(); err != nil {
			return fmt.Errorf("llm configuration invalid: %w", err)
		}
	}
	if c.PolicyCfg.Threshold < 0 || c.PolicyCfg.Threshold > 10 {
		return fmt.Errorf("policy.threshold must be between 0 and 10")
	}
	if c.CacheCfg.RedisURL != "" && c.CacheCfg.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if c.GitHubCfg.Enabled() {
		if c.GitHubCfg.Owner == "" || c.GitHubCfg.Repo == "" {
			return fmt.Errorf("github.owner and github.repo are required when github.pr_number is set")
		}
		if c.GitHubCfg.Token == "" {
			return fmt.Errorf("GitHub token is required but not found. Ensure SASTRANK_GITHUB_TOKEN is set")
		}
	}
	return nil
}

// Validate checks the blend weights.
func (s *ScoringConfig) Validate() error {
	if s.Alpha < 0 || s.Beta < 0 || s.Gamma < 0 {
		return fmt.Errorf("alpha, beta and gamma must not be negative")
	}
	return nil
}

// Validate checks the assessor settings.
func (a *AssessorConfig) Validate() error {
	switch a.Mode {
	case AssessorDisabled, AssessorMirror:
		return nil
	case AssessorLive:
	default:
		return fmt.Errorf("unknown assessor.mode %q (want disabled, mirror or live)", a.Mode)
	}
	if a.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be a positive duration")
	}
	if a.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if a.MaxCodeChars <= 0 || a.MaxContextCharsPerFile <= 0 {
		return fmt.Errorf("max_code_chars and max_context_chars_per_file must be positive")
	}
	return nil
}

// Validate checks the model settings.
func (l *LLMModelConfig) Validate() error {
	if l.Provider != ProviderGemini {
		return fmt.Errorf("unsupported provider %q", l.Provider)
	}
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.APIKey == "" {
		return fmt.Errorf("API key is required but not found. Ensure SASTRANK_LLM_API_KEY is set")
	}
	return nil
}
