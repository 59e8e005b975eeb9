package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

var fileNames = []string{"aisdk.yaml", "aisdk.yml", "aisdk.json"}

// Loader loads, validates, and caches config state.
type Loader struct {
	root string

	validator Validator
	explicit  string

	mu   sync.Mutex
	last atomic.Pointer[Config]
}

// LoaderOption customizes loader behaviour.
type LoaderOption func(*Loader)

// WithValidator injects a custom Validator.
func WithValidator(v Validator) LoaderOption {
	return func(l *Loader) {
		l.validator = v
	}
}

// WithConfigPath forces the loader to read a specific file.
func WithConfigPath(path string) LoaderOption {
	return func(l *Loader) {
		l.explicit = path
	}
}

// NewLoader wires a loader that searches root and its parents for
// aisdk.yaml.
func NewLoader(root string, opts ...LoaderOption) (*Loader, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("project root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	loader := &Loader{root: absRoot}
	for _, opt := range opts {
		opt(loader)
	}
	if loader.validator == nil {
		loader.validator = DefaultValidator{}
	}
	if loader.explicit != "" {
		path, err := filepath.Abs(loader.explicit)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		loader.explicit = path
	}
	return loader, nil
}

// Root returns the absolute project root.
func (l *Loader) Root() string {
	return l.root
}

// Last returns the most recent valid configuration.
func (l *Loader) Last() (*Config, bool) {
	cfg := l.last.Load()
	if cfg == nil {
		return nil, false
	}
	return cfg, true
}

// Load locates the config file, parses and validates it. A missing file
// yields the defaults.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.loadOnce()
	if err != nil {
		return nil, err
	}
	l.last.Store(cfg)
	return cfg, nil
}

// Reload attempts to refresh configuration keeping the last good state on error.
func (l *Loader) Reload() (*Config, error) {
	prev, _ := l.Last()
	cfg, err := l.Load()
	if err != nil {
		if prev != nil {
			return prev, fmt.Errorf("reload failed, keeping last good config: %w", err)
		}
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the loader reads, or "" when none exists.
func (l *Loader) Path() string {
	path, err := l.locate()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) loadOnce() (*Config, error) {
	var (
		cfg *Config
		raw []byte
	)
	path, err := l.locate()
	switch {
	case err == nil:
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		cfg, err = Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && l.explicit == "":
		cfg = &Config{}
		cfg.Normalize()
		path = ""
	default:
		return nil, err
	}
	cfg.SourcePath = path
	if l.validator != nil {
		if err := l.validator.Validate(cfg); err != nil {
			return nil, err
		}
	}
	cfg.SourceHash = computeConfigHash(raw)
	return cfg, nil
}

func (l *Loader) locate() (string, error) {
	if l.explicit != "" {
		info, err := os.Stat(l.explicit)
		if err != nil {
			return "", fmt.Errorf("config %s: %w", l.explicit, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("config %s is a directory", l.explicit)
		}
		return l.explicit, nil
	}
	current := l.root
	for {
		for _, name := range fileNames {
			candidate := filepath.Join(current, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return "", fs.ErrNotExist
}

func computeConfigHash(raw []byte) string {
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

// Parse decodes yaml or json and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("config payload is empty")
	}
	cfg := &Config{}
	if err := decodeMixedYAMLJSON(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func decodeMixedYAMLJSON(data []byte, out any) error {
	yamlErr := yaml.Unmarshal(data, out)
	if yamlErr == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err == nil {
		return nil
	}
	return fmt.Errorf("config decode failed: %w", yamlErr)
}
