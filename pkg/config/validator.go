package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	toolbuiltin "github.com/cexll/aisdk-go/pkg/tool/builtin"
)

// Validator enforces constraints on Config.
type Validator interface {
	Validate(*Config) error
}

const (
	maxHeaders    = 64
	maxMCPServers = 32
)

var (
	supportedProviders = map[string]struct{}{"openai": {}, "anthropic": {}, "gemini": {}}
	headerKeyPattern   = regexp.MustCompile("^[A-Za-z0-9!#$%&'*+.^_`|~-]+$")
	envKeyPattern      = regexp.MustCompile(`^[A-Z0-9_]+$`)
)

// DefaultValidator applies structural checks. Every problem found is
// reported, joined with errors.Join.
type DefaultValidator struct{}

// Validate checks provider, generation, server, telemetry and MCP sections.
func (DefaultValidator) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	p := cfg.Provider
	if _, ok := supportedProviders[p.Name]; !ok {
		add("provider.name %q is not supported", p.Name)
	}
	if p.APIKeyEnv != "" && !envKeyPattern.MatchString(p.APIKeyEnv) {
		add("provider.api_key_env %q is not a valid variable name", p.APIKeyEnv)
	}
	if p.BaseURL != "" {
		if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("provider.base_url %q is not an absolute url", p.BaseURL)
		}
	}
	if err := sanitizeHeaders(p.Headers); err != nil {
		errs = append(errs, err)
	}

	g := cfg.Generation
	if g.MaxSteps < 1 {
		add("generation.max_steps must be at least 1, got %d", g.MaxSteps)
	}
	if g.MaxTokens < 1 {
		add("generation.max_tokens must be at least 1, got %d", g.MaxTokens)
	}
	if g.MaxRetries != nil && *g.MaxRetries < 0 {
		add("generation.max_retries must not be negative, got %d", *g.MaxRetries)
	}
	if g.Temperature < 0 || g.Temperature > 2 {
		add("generation.temperature must be within [0, 2], got %v", g.Temperature)
	}
	if g.ToolConcurrency < 0 {
		add("generation.tool_concurrency must not be negative, got %d", g.ToolConcurrency)
	}
	if g.RateLimit.RPS < 0 || g.RateLimit.Burst < 0 {
		add("generation.rate_limit values must not be negative")
	}

	for _, origin := range cfg.Server.CORSOrigins {
		if origin == "" {
			add("server.cors_origins contains an empty entry")
		}
	}

	for _, pattern := range cfg.Telemetry.Patterns {
		if _, err := regexp.Compile(pattern); err != nil {
			add("telemetry.patterns: %q: %v", pattern, err)
		}
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint != "" {
		if _, err := url.Parse(cfg.Telemetry.Endpoint); err != nil {
			add("telemetry.endpoint %q: %v", cfg.Telemetry.Endpoint, err)
		}
	}

	known := toolbuiltin.Names()
	for _, name := range cfg.Tools.Builtin {
		if !slices.Contains(known, name) {
			add("tools.builtin: unknown tool %q", name)
		}
	}

	if len(cfg.MCP) > maxMCPServers {
		add("too many mcp servers: %d > %d", len(cfg.MCP), maxMCPServers)
	}
	names := make(map[string]struct{}, len(cfg.MCP))
	for i, srv := range cfg.MCP {
		if srv.Name == "" {
			add("mcp[%d]: name is required", i)
			continue
		}
		if _, dup := names[srv.Name]; dup {
			add("mcp[%d]: duplicate server %s", i, srv.Name)
		}
		names[srv.Name] = struct{}{}
		hasCmd := strings.TrimSpace(srv.Command) != ""
		hasURL := strings.TrimSpace(srv.URL) != ""
		if hasCmd == hasURL {
			add("mcp server %s: exactly one of command or url is required", srv.Name)
		}
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "", "json", "console", "auto":
	default:
		add("log.format %q must be json, console or auto", cfg.Log.Format)
	}
	return errors.Join(errs...)
}

func sanitizeHeaders(headers map[string]string) error {
	if len(headers) > maxHeaders {
		return fmt.Errorf("too many provider headers: %d > %d", len(headers), maxHeaders)
	}
	for key, value := range headers {
		if !headerKeyPattern.MatchString(strings.TrimSpace(key)) {
			return fmt.Errorf("invalid header name %q", key)
		}
		if strings.ContainsAny(value, "\r\n") {
			return fmt.Errorf("header value for %s contains newline", key)
		}
		if len(value) > 1024 {
			return fmt.Errorf("header value for %s too long", key)
		}
	}
	return nil
}
