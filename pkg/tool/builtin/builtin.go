package toolbuiltin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cexll/aisdk-go/pkg/tool"
)

// Options configures the builtin tools that need it.
type Options struct {
	WebFetch *WebFetchOptions
	// Now replaces time.Now for current_time.
	Now func() time.Time
}

var registry = map[string]func(Options) tool.Tool{
	"web_fetch":    func(o Options) tool.Tool { return NewWebFetch(o.WebFetch) },
	"current_time": func(o Options) tool.Tool { return NewCurrentTime(o.Now) },
}

// Names lists the builtin tool names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Set builds the named builtin tools.
func Set(names []string, opts Options) (tool.Set, error) {
	set := make(tool.Set, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		build, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown builtin tool %q (available: %s)", raw, strings.Join(Names(), ", "))
		}
		set[name] = build(opts)
	}
	return set, nil
}

type timeArgs struct {
	Timezone string `json:"timezone"`
}

// NewCurrentTime returns a tool reporting the current time in an IANA zone.
func NewCurrentTime(now func() time.Time) tool.Tool {
	if now == nil {
		now = time.Now
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{"type": "string", "description": "IANA zone such as Europe/Paris. Defaults to UTC."},
		},
	}
	return tool.New("Return the current date and time.", schema,
		func(_ context.Context, args timeArgs, _ tool.ExecutionOptions) (string, error) {
			zone := strings.TrimSpace(args.Timezone)
			if zone == "" {
				zone = "UTC"
			}
			loc, err := time.LoadLocation(zone)
			if err != nil {
				return "", fmt.Errorf("unknown timezone %q", args.Timezone)
			}
			return now().In(loc).Format(time.RFC3339), nil
		})
}
