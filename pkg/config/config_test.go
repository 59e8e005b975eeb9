package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cexll/aisdk-go/pkg/logging"
	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/tool"
)

const sampleYAML = `
provider:
  name: Anthropic
  model: claude-test
  headers:
    X-Team: core
generation:
  max_steps: 4
  max_retries: 0
  tool_concurrency: 2
  rate_limit:
    rps: 5
server:
  cors_origins: [" https://app.example "]
tools:
  builtin: [" web_fetch "]
mcp:
  - name: fs
    command: mcp-fs
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseNormalizes(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "anthropic", cfg.Provider.Name)
	require.Equal(t, "ANTHROPIC_API_KEY", cfg.Provider.APIKeyEnv)
	require.Equal(t, 4, cfg.Generation.MaxSteps)
	require.Equal(t, model.DefaultMaxTokens, cfg.Generation.MaxTokens)
	require.Equal(t, 0, *cfg.Generation.MaxRetries, "explicit zero retries is kept")
	require.Equal(t, 1, cfg.Generation.RateLimit.Burst)
	require.Equal(t, DefaultAddr, cfg.Server.Addr)
	require.Equal(t, []string{"https://app.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, []string{"web_fetch"}, cfg.Tools.Builtin)
	require.NoError(t, DefaultValidator{}.Validate(cfg))

	settings := cfg.CallSettings()
	require.Equal(t, 0, settings.MaxRetries)
	require.Equal(t, model.DefaultMaxTokens, settings.MaxTokens)

	lim := cfg.Limiter()
	require.NotNil(t, lim)
	require.Equal(t, 1, lim.Burst())
}

func TestParseJSONAndEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`{"provider":{"name":"gemini","model":"gemini-2.0-flash"}}`))
	require.NoError(t, err)
	require.Equal(t, "GOOGLE_API_KEY", cfg.Provider.APIKeyEnv)
	require.Equal(t, model.DefaultMaxRetries, *cfg.Generation.MaxRetries)
	require.Nil(t, cfg.Limiter())

	_, err = Parse([]byte("  \n"))
	require.ErrorContains(t, err, "empty")

	_, err = Parse([]byte("provider: [unclosed"))
	require.ErrorContains(t, err, "config decode failed")
}

func TestValidateJoinsErrors(t *testing.T) {
	t.Parallel()

	neg := -1
	cfg := &Config{
		Provider: ProviderConfig{Name: "cohere", BaseURL: "not a url", Headers: map[string]string{"Bad Header": "x"}},
		Generation: GenerationConfig{
			MaxSteps:    1,
			MaxTokens:   1,
			MaxRetries:  &neg,
			Temperature: 3,
		},
		Telemetry: TelemetryConfig{Patterns: []string{"("}},
		Tools:     ToolsConfig{Builtin: []string{"shell"}},
		MCP: []tool.MCPServer{
			{Name: "a", Command: "x", URL: "http://y"},
			{Name: "a", Command: "x"},
			{},
		},
		Log: logging.Config{Level: "info", Format: "xml"},
	}
	err := DefaultValidator{}.Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`provider.name "cohere"`,
		"provider.base_url",
		"invalid header name",
		"max_retries must not be negative",
		"temperature must be within",
		"telemetry.patterns",
		`tools.builtin: unknown tool "shell"`,
		"exactly one of command or url",
		"duplicate server a",
		"mcp[2]: name is required",
		"log.format",
	} {
		require.Contains(t, msg, want)
	}
	require.Equal(t, 11, len(strings.Split(msg, "\n")))
}

func TestLoaderSearchesParents(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "aisdk.yaml", sampleYAML)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	loader, err := NewLoader(nested)
	require.NoError(t, err)
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "aisdk.yaml"), cfg.SourcePath)
	require.NotEmpty(t, cfg.SourceHash)

	last, ok := loader.Last()
	require.True(t, ok)
	require.Same(t, cfg, last)
}

func TestLoaderDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	loader, err := NewLoader(t.TempDir())
	require.NoError(t, err)
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Empty(t, cfg.SourcePath)
	require.Equal(t, "openai", cfg.Provider.Name)

	_, err = NewLoader(" ")
	require.Error(t, err)

	loader, err = NewLoader(t.TempDir(), WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)
	_, err = loader.Load()
	require.Error(t, err, "an explicit path must exist")
}

func TestReloadKeepsLastGood(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "aisdk.yaml", sampleYAML)
	loader, err := NewLoader(dir, WithConfigPath(path))
	require.NoError(t, err)
	good, err := loader.Load()
	require.NoError(t, err)

	writeFile(t, dir, "aisdk.yaml", "provider:\n  name: nope\n")
	cfg, err := loader.Reload()
	require.ErrorContains(t, err, "keeping last good config")
	require.Same(t, good, cfg)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "aisdk.yaml", sampleYAML)
	loader, err := NewLoader(dir)
	require.NoError(t, err)
	_, err = loader.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Config, 4)
	require.NoError(t, loader.Watch(ctx, zerolog.Nop(), func(cfg *Config, err error) {
		if err == nil {
			got <- cfg
		}
	}))

	writeFile(t, dir, "aisdk.yaml", strings.Replace(sampleYAML, "max_steps: 4", "max_steps: 9", 1))
	select {
	case cfg := <-got:
		require.Equal(t, 9, cfg.Generation.MaxSteps)
		require.Equal(t, path, cfg.SourcePath)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not reload")
	}
}
