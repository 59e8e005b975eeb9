package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPServer describes how to reach an MCP server: either a command speaking
// stdio or a streamable HTTP endpoint.
type MCPServer struct {
	Name    string            `json:"name" yaml:"name"`
	Command string            `json:"command,omitempty" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env"`
	URL     string            `json:"url,omitempty" yaml:"url"`
}

// MCPSession is the subset of *mcp.ClientSession the tool source needs.
type MCPSession interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

var _ MCPSession = (*mcp.ClientSession)(nil)

// ConnectMCP opens a client session to srv.
func ConnectMCP(ctx context.Context, srv MCPServer) (*mcp.ClientSession, error) {
	var transport mcp.Transport
	switch {
	case strings.TrimSpace(srv.Command) != "":
		cmd := exec.Command(srv.Command, srv.Args...)
		cmd.Env = os.Environ()
		for k, v := range srv.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcp.CommandTransport{Command: cmd}
	case strings.TrimSpace(srv.URL) != "":
		transport = &mcp.StreamableClientTransport{Endpoint: srv.URL}
	default:
		return nil, fmt.Errorf("mcp server %q: command or url is required", srv.Name)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "aisdk", Version: "v1"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: connect: %w", srv.Name, err)
	}
	return session, nil
}

// FromMCP exposes every tool listed by session as a Set. A non-empty prefix
// is prepended to tool names as "prefix__name" to keep names unique across
// servers.
func FromMCP(ctx context.Context, session MCPSession, prefix string) (Set, error) {
	if session == nil {
		return nil, errors.New("mcp session is nil")
	}
	set := Set{}
	cursor := ""
	for {
		res, err := session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("mcp list tools: %w", err)
		}
		for _, desc := range res.Tools {
			if desc == nil || strings.TrimSpace(desc.Name) == "" {
				continue
			}
			params, err := schemaMap(desc.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("mcp tool %s: %w", desc.Name, err)
			}
			name := desc.Name
			if prefix != "" {
				name = prefix + "__" + desc.Name
			}
			set[name] = Tool{
				Description: desc.Description,
				Parameters:  params,
				Type:        TypeFunction,
				Execute:     mcpExecute(session, desc.Name),
			}
		}
		if res.NextCursor == "" {
			return set, nil
		}
		cursor = res.NextCursor
	}
}

func mcpExecute(session MCPSession, remoteName string) ExecuteFunc {
	return func(ctx context.Context, args json.RawMessage, _ ExecutionOptions) (any, error) {
		params := &mcp.CallToolParams{Name: remoteName}
		if len(args) > 0 && string(args) != "null" {
			params.Arguments = args
		} else {
			params.Arguments = map[string]any{}
		}
		res, err := session.CallTool(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("mcp call %s: %w", remoteName, err)
		}
		text := contentText(res.Content)
		if res.IsError {
			if text == "" {
				text = "mcp tool reported an error"
			}
			return nil, errors.New(text)
		}
		if text == "" && res.StructuredContent != nil {
			return res.StructuredContent, nil
		}
		return text, nil
	}
}

func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s]", v.MIMEType))
		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio %s]", v.MIMEType))
		default:
			data, err := json.Marshal(c)
			if err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func schemaMap(schema any) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	if string(data) == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal input schema: %w", err)
	}
	return out, nil
}
