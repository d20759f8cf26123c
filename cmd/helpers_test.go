package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/sastrank/internal/config"
	"github.com/xkilldash9x/sastrank/internal/observability"
)

// brakemanReport has one critical and one medium finding.
const brakemanReport = `{
  "warnings": [
    {
      "warning_type": "SQL Injection",
      "warning_code": 0,
      "fingerprint": "sqli-1",
      "message": "Possible SQL injection",
      "file": "app/models/user.rb",
      "line": 12,
      "confidence": "High"
    },
    {
      "warning_type": "Weak Hash",
      "fingerprint": "hash-1",
      "message": "Weak hashing algorithm used: MD5",
      "file": "lib/digest.rb",
      "line": 4,
      "confidence": "Medium"
    }
  ]
}`

// resetForTest isolates package level state between tests.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
	t.Cleanup(observability.ResetForTest)

	// Keep the developer's environment out of the config.
	for _, key := range []string{"SASTRANK_DATABASE_URL", "SASTRANK_GITHUB_PR_NUMBER", "SASTRANK_ASSESSOR_MODE", "SASTRANK_CACHE_REDIS_URL"} {
		t.Setenv(key, "")
	}
}

// writeFile writes content into a fresh temp dir and returns its path.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// executeCommand runs the full command tree with args.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// testConfig returns the defaults with every external integration off.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.GitCfg.Enabled = false
	dir := t.TempDir()
	cfg.ReportCfg.Markdown = filepath.Join(dir, "report.md")
	cfg.ReportCfg.JSON = filepath.Join(dir, "report.json")
	cfg.ReportCfg.SARIF = ""
	return cfg
}
