// Package tool defines the tools a model may call during generation and
// resolves the calls it issues.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cexll/aisdk-go/pkg/model"
)

// ExecutionOptions is passed to every tool invocation.
type ExecutionOptions struct {
	ToolCallID string
	// Messages is the conversation as sent to the model in the step that
	// issued the call. Tools must not modify it.
	Messages []model.Message
}

// ExecuteFunc runs a tool with the raw JSON arguments produced by the model.
type ExecuteFunc func(ctx context.Context, args json.RawMessage, opts ExecutionOptions) (any, error)

// Type distinguishes locally executed functions from tools implemented by
// the provider itself.
type Type string

const (
	TypeFunction        Type = "function"
	TypeProviderDefined Type = "provider-defined"
)

// Tool describes a capability the model may invoke.
type Tool struct {
	Description string
	Parameters  map[string]any
	Execute     ExecuteFunc

	Type         Type
	ProviderID   string
	ProviderArgs map[string]any
}

// Set maps tool names to tools. A Set is read-only while a generation runs
// and may be shared between concurrent generations.
type Set map[string]Tool

// Validate reports malformed entries.
func (s Set) Validate() error {
	var errs []error
	for name, t := range s {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("tool name is empty"))
			continue
		}
		if t.Type == TypeProviderDefined && t.ProviderID == "" {
			errs = append(errs, fmt.Errorf("tool %s: provider-defined tool requires an id", name))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return model.WrapError(model.KindInvalidArgument, "invalid tool set", errors.Join(errs...))
}

// Names returns the tool names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions describes the set to a backend, sorted by name.
func (s Set) Definitions() []model.ToolDefinition {
	if len(s) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(s))
	for _, name := range s.Names() {
		t := s[name]
		if t.Type == TypeProviderDefined {
			defs = append(defs, model.ToolDefinition{
				Name:         name,
				Description:  t.Description,
				Parameters:   t.Parameters,
				ProviderID:   t.ProviderID,
				ProviderArgs: t.ProviderArgs,
			})
			continue
		}
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, model.ToolDefinition{
			Name:        name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return defs
}

// ProviderExecuted reports whether the backend runs the tool itself. Such
// calls are never resolved locally.
func (t Tool) ProviderExecuted() bool {
	return t.Type == TypeProviderDefined && t.Execute == nil
}

// LocalCalls returns the calls that must be resolved by this process, in
// order.
func (s Set) LocalCalls(calls []model.ToolCallPart) []model.ToolCallPart {
	out := make([]model.ToolCallPart, 0, len(calls))
	for _, call := range calls {
		if call.ProviderExecuted {
			continue
		}
		if t, ok := s[call.ToolName]; ok && t.ProviderExecuted() {
			continue
		}
		out = append(out, call)
	}
	return out
}

// New builds a function tool whose arguments are decoded into Args.
func New[Args, Result any](description string, parameters map[string]any, fn func(ctx context.Context, args Args, opts ExecutionOptions) (Result, error)) Tool {
	return Tool{
		Description: description,
		Parameters:  parameters,
		Type:        TypeFunction,
		Execute: func(ctx context.Context, raw json.RawMessage, opts ExecutionOptions) (any, error) {
			var args Args
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("decode arguments: %w", err)
				}
			}
			return fn(ctx, args, opts)
		},
	}
}

// ProviderDefined declares a tool implemented by the backend, such as a
// hosted web search. id has the form "<provider>.<tool>", for example
// "anthropic.web_search_20250305" or "google.google_search". Set Execute on
// the result for provider tools the client must run, such as
// "anthropic.bash_20250124".
func ProviderDefined(id string, args map[string]any) Tool {
	return Tool{Type: TypeProviderDefined, ProviderID: id, ProviderArgs: args}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case []byte:
		return string(val)
	case json.RawMessage:
		return string(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
