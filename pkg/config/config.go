// Package config loads the aisdk.yaml project file.
package config

import (
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/cexll/aisdk-go/pkg/logging"
	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/telemetry"
	"github.com/cexll/aisdk-go/pkg/tool"
)

const (
	DefaultAddr        = ":8080"
	DefaultServiceName = "aisdk"
)

// Config is the declarative project configuration.
type Config struct {
	Provider   ProviderConfig   `json:"provider" yaml:"provider"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Tools      ToolsConfig      `json:"tools" yaml:"tools"`
	MCP        []tool.MCPServer `json:"mcp" yaml:"mcp"`
	Log        logging.Config   `json:"log" yaml:"log"`

	SourcePath string `json:"-" yaml:"-"`
	SourceHash string `json:"-" yaml:"-"`
}

// ProviderConfig selects the backend. The API key is read from the
// environment variable named by APIKeyEnv and never from the file.
type ProviderConfig struct {
	Name         string            `json:"name" yaml:"name"`
	Model        string            `json:"model" yaml:"model"`
	APIKeyEnv    string            `json:"api_key_env" yaml:"api_key_env"`
	BaseURL      string            `json:"base_url" yaml:"base_url"`
	Organization string            `json:"organization" yaml:"organization"`
	Project      string            `json:"project" yaml:"project"`
	Headers      map[string]string `json:"headers" yaml:"headers"`
}

// GenerationConfig holds defaults for GenerateText calls.
type GenerationConfig struct {
	MaxSteps        int             `json:"max_steps" yaml:"max_steps"`
	MaxTokens       int             `json:"max_tokens" yaml:"max_tokens"`
	Temperature     float64         `json:"temperature" yaml:"temperature"`
	MaxRetries      *int            `json:"max_retries" yaml:"max_retries"`
	ToolConcurrency int             `json:"tool_concurrency" yaml:"tool_concurrency"`
	PartialResults  bool            `json:"partial_results" yaml:"partial_results"`
	ContinueSteps   bool            `json:"continue_steps" yaml:"continue_steps"`
	RateLimit       RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles backend calls. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `json:"rps" yaml:"rps"`
	Burst int     `json:"burst" yaml:"burst"`
}

// ToolsConfig enables builtin tools by name.
type ToolsConfig struct {
	Builtin        []string `json:"builtin" yaml:"builtin"`
	AllowedDomains []string `json:"allowed_domains" yaml:"allowed_domains"`
	BlockedDomains []string `json:"blocked_domains" yaml:"blocked_domains"`
}

type ServerConfig struct {
	Addr        string   `json:"addr" yaml:"addr"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
}

type TelemetryConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Endpoint    string   `json:"endpoint" yaml:"endpoint"`
	ServiceName string   `json:"service_name" yaml:"service_name"`
	Mask        string   `json:"mask" yaml:"mask"`
	Patterns    []string `json:"patterns" yaml:"patterns"`
}

var defaultKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GOOGLE_API_KEY",
}

// Normalize trims whitespace and fills defaults.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	p := &c.Provider
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		p.Name = "openai"
	}
	p.Model = strings.TrimSpace(p.Model)
	p.APIKeyEnv = strings.TrimSpace(p.APIKeyEnv)
	if p.APIKeyEnv == "" {
		p.APIKeyEnv = defaultKeyEnv[p.Name]
	}
	p.BaseURL = strings.TrimSpace(p.BaseURL)

	g := &c.Generation
	if g.MaxSteps == 0 {
		g.MaxSteps = 1
	}
	if g.MaxTokens == 0 {
		g.MaxTokens = model.DefaultMaxTokens
	}
	if g.MaxRetries == nil {
		n := model.DefaultMaxRetries
		g.MaxRetries = &n
	}
	if g.RateLimit.RPS > 0 && g.RateLimit.Burst == 0 {
		g.RateLimit.Burst = 1
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = DefaultAddr
	}
	for i := range c.Server.CORSOrigins {
		c.Server.CORSOrigins[i] = strings.TrimSpace(c.Server.CORSOrigins[i])
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	for i := range c.Tools.Builtin {
		c.Tools.Builtin[i] = strings.TrimSpace(c.Tools.Builtin[i])
	}
	for i := range c.MCP {
		c.MCP[i].Name = strings.TrimSpace(c.MCP[i].Name)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// APIKey resolves the provider key from the environment.
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Provider.APIKeyEnv))
}

// CallSettings returns the per call settings configured for generation.
func (c *Config) CallSettings() model.CallSettings {
	s := model.DefaultCallSettings()
	s.MaxTokens = c.Generation.MaxTokens
	s.Temperature = c.Generation.Temperature
	if c.Generation.MaxRetries != nil {
		s.MaxRetries = *c.Generation.MaxRetries
	}
	return s
}

// Limiter returns the configured step limiter, or nil when disabled.
func (c *Config) Limiter() *rate.Limiter {
	if c.Generation.RateLimit.RPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.Generation.RateLimit.RPS), c.Generation.RateLimit.Burst)
}

// TelemetryConfig converts the file section to a telemetry.Config.
func (c *Config) TelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       c.Telemetry.Endpoint,
		Filter: telemetry.FilterConfig{
			Mask:     c.Telemetry.Mask,
			Patterns: c.Telemetry.Patterns,
		},
	}
}
