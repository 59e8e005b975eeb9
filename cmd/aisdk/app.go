package main

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/cexll/aisdk-go/pkg/config"
	"github.com/cexll/aisdk-go/pkg/logging"
	"github.com/cexll/aisdk-go/pkg/metrics"
	"github.com/cexll/aisdk-go/pkg/model"
	"github.com/cexll/aisdk-go/pkg/model/anthropic"
	"github.com/cexll/aisdk-go/pkg/model/gemini"
	"github.com/cexll/aisdk-go/pkg/model/openai"
	"github.com/cexll/aisdk-go/pkg/server"
	"github.com/cexll/aisdk-go/pkg/telemetry"
	"github.com/cexll/aisdk-go/pkg/tool"
	toolbuiltin "github.com/cexll/aisdk-go/pkg/tool/builtin"
)

// providerFactory and toolConnector are replaced in tests.
var (
	providerFactory = newProvider
	toolConnector   = connectTools
)

// app bundles everything a command needs once configuration is loaded.
type app struct {
	loader  *config.Loader
	cfg     *config.Config
	v       *viper.Viper
	logger  zerolog.Logger
	metrics *metrics.Metrics
	closers []func() error
}

func loadApp(v *viper.Viper, streams ioStreams) (*app, error) {
	var opts []config.LoaderOption
	if path := v.GetString("config"); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	loader, err := config.NewLoader(".", opts...)
	if err != nil {
		return nil, err
	}
	loaded, err := loader.Load()
	if err != nil {
		return nil, err
	}
	cfg, err := withOverrides(loaded, v)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	logCfg.Output = streams.err
	a := &app{
		loader:  loader,
		cfg:     cfg,
		v:       v,
		logger:  logging.New(logCfg),
		metrics: metrics.New(),
	}
	if cfg.Telemetry.Enabled {
		mgr, err := telemetry.NewManager(cfg.TelemetryConfig(version))
		if err != nil {
			return nil, err
		}
		telemetry.SetDefault(mgr)
		a.closers = append(a.closers, func() error { return mgr.Shutdown(context.Background()) })
	}
	return a, nil
}

// withOverrides applies flag and environment overrides to a copy of cfg and
// validates the result.
func withOverrides(loaded *config.Config, v *viper.Viper) (*config.Config, error) {
	cfg := *loaded
	cfg.Provider.Headers = maps.Clone(loaded.Provider.Headers)
	if name := v.GetString("provider"); name != "" && name != cfg.Provider.Name {
		cfg.Provider.Name = name
		cfg.Provider.APIKeyEnv = ""
	}
	if id := v.GetString("model"); id != "" {
		cfg.Provider.Model = id
	}
	if lvl := v.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if format := v.GetString("log-format"); format != "" {
		cfg.Log.Format = format
	}
	if v.IsSet("max-steps") && v.GetInt("max-steps") > 0 {
		cfg.Generation.MaxSteps = v.GetInt("max-steps")
	}
	if addr := v.GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	cfg.Normalize()
	if err := (config.DefaultValidator{}).Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) provider() (model.Provider, error) {
	return providerFactory(a.cfg)
}

// tools merges the configured builtin tools with every MCP server's tools.
func (a *app) tools(ctx context.Context) (tool.Set, error) {
	set, err := toolbuiltin.Set(a.cfg.Tools.Builtin, toolbuiltin.Options{
		WebFetch: &toolbuiltin.WebFetchOptions{
			AllowedDomains: a.cfg.Tools.AllowedDomains,
			BlockedDomains: a.cfg.Tools.BlockedDomains,
		},
	})
	if err != nil {
		return nil, err
	}
	remote, closers, err := toolConnector(ctx, a.cfg.MCP)
	a.closers = append(a.closers, closers...)
	if err != nil {
		return nil, err
	}
	for name, t := range remote {
		if _, dup := set[name]; dup {
			return nil, fmt.Errorf("tool %q is defined twice", name)
		}
		set[name] = t
	}
	if len(set) > 0 {
		a.logger.Info().Strs("tools", set.Names()).Msg("tools loaded")
	}
	return set, nil
}

func (a *app) languageModel() (model.LanguageModel, error) {
	p, err := a.provider()
	if err != nil {
		return nil, err
	}
	if a.cfg.Provider.Model == "" {
		return nil, fmt.Errorf("no model configured: set provider.model or --model")
	}
	return p.LanguageModel(a.cfg.Provider.Model)
}

func serverDefaults(cfg *config.Config) server.Defaults {
	return server.Defaults{
		Model:           cfg.Provider.Model,
		Settings:        cfg.CallSettings(),
		MaxSteps:        cfg.Generation.MaxSteps,
		ToolConcurrency: cfg.Generation.ToolConcurrency,
		ContinueSteps:   cfg.Generation.ContinueSteps,
		PartialResults:  cfg.Generation.PartialResults,
	}
}

func newProvider(cfg *config.Config) (model.Provider, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("provider %s: environment variable %s is empty", cfg.Provider.Name, cfg.Provider.APIKeyEnv)
	}
	p := cfg.Provider
	switch p.Name {
	case "openai":
		return openai.NewProvider(openai.Settings{
			APIKey:       key,
			BaseURL:      p.BaseURL,
			Organization: p.Organization,
			Project:      p.Project,
			Headers:      p.Headers,
		})
	case "anthropic":
		return anthropic.NewProvider(anthropic.Settings{
			APIKey:  key,
			BaseURL: p.BaseURL,
			Headers: p.Headers,
		})
	case "gemini":
		return gemini.NewProvider(gemini.Settings{APIKey: key})
	default:
		return nil, fmt.Errorf("unsupported provider %q", p.Name)
	}
}

// connectTools opens every configured MCP server and merges their tools,
// prefixed by server name. Sessions opened before a failure are returned
// for closing.
func connectTools(ctx context.Context, servers []tool.MCPServer) (tool.Set, []func() error, error) {
	set := tool.Set{}
	var closers []func() error
	for _, srv := range servers {
		session, err := tool.ConnectMCP(ctx, srv)
		if err != nil {
			return nil, closers, err
		}
		closers = append(closers, session.Close)
		remote, err := tool.FromMCP(ctx, session, srv.Name)
		if err != nil {
			return nil, closers, fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		maps.Copy(set, remote)
	}
	return set, closers, nil
}
