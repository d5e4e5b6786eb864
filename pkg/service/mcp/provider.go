package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/tool"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Provider exposes tools of configured MCP servers to the research agent
type Provider struct {
	configPath string
	client     *Client
	tools      []*remoteTool
}

type remoteTool struct {
	serverName string
	name       string
	decl       *genai.FunctionDeclaration
}

type Option func(*Provider)

// WithClient uses an already connected client instead of the config file
func WithClient(client *Client) Option {
	return func(p *Provider) {
		p.client = client
	}
}

func NewProvider(opts ...Option) *Provider {
	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ tool.Tool = (*Provider)(nil)

func (p *Provider) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "MCP server configuration file (YAML) for research tools",
			Sources:     cli.EnvVars("POSTSMITH_MCP_CONFIG"),
			Destination: &p.configPath,
		},
	}
}

// Init connects configured servers and converts their tools. Servers that fail
// to connect are skipped with a warning.
func (p *Provider) Init(ctx context.Context) (bool, error) {
	if p.client == nil {
		if p.configPath == "" {
			return false, nil
		}
		client, err := p.connect(ctx)
		if err != nil {
			return false, err
		}
		p.client = client
	}

	p.tools = nil
	for _, serverName := range p.client.Servers() {
		tools, err := p.client.Tools(serverName)
		if err != nil {
			return false, err
		}

		for _, t := range tools {
			decl, err := toFunctionDeclaration(t)
			if err != nil {
				return false, goerr.Wrap(err, "failed to convert tool",
					goerr.V("server", serverName),
					goerr.V("tool", t.Name))
			}
			p.tools = append(p.tools, &remoteTool{
				serverName: serverName,
				name:       t.Name,
				decl:       decl,
			})
		}
	}

	return len(p.tools) > 0, nil
}

func (p *Provider) connect(ctx context.Context) (*Client, error) {
	path, err := filepath.Abs(p.configPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve config path", goerr.V("path", p.configPath))
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	logger := logging.From(ctx)
	client := NewClient()
	for _, serverCfg := range cfg.Servers {
		if err := client.Connect(ctx, serverCfg); err != nil {
			logger.Warn("failed to connect to MCP server",
				slog.String("server", serverCfg.Name),
				slog.Any("error", err))
			continue
		}
	}

	if len(client.Servers()) == 0 && len(cfg.Servers) > 0 {
		logger.Warn("no MCP server connected", slog.Int("configured", len(cfg.Servers)))
	}
	return client, nil
}

// Close closes the underlying MCP sessions
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func toFunctionDeclaration(t *mcp.Tool) (*genai.FunctionDeclaration, error) {
	decl := &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
	}
	if t.InputSchema == nil {
		return decl, nil
	}

	// InputSchema is untyped on the client side
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema")
	}
	var js jsonschema.Schema
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal input schema")
	}

	schema, err := convertJSONSchemaToGenai(&js)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to convert input schema")
	}
	// Gemini rejects an object schema without properties
	if schema != nil && schema.Type == genai.TypeObject && len(schema.Properties) == 0 {
		schema = nil
	}
	decl.Parameters = schema
	return decl, nil
}

func (p *Provider) Spec() *genai.Tool {
	if len(p.tools) == 0 {
		return nil
	}

	decls := make([]*genai.FunctionDeclaration, len(p.tools))
	for i, t := range p.tools {
		decls[i] = t.decl
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

func (p *Provider) Prompt(ctx context.Context) string {
	if len(p.tools) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("### External research tools (MCP)\n\n")
	b.WriteString("These tools come from external servers and can search the web or other sources for current topics:\n")
	for _, t := range p.tools {
		fmt.Fprintf(&b, "- `%s` (%s)\n", t.name, t.serverName)
	}
	return b.String()
}

func (p *Provider) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	var target *remoteTool
	for _, t := range p.tools {
		if t.decl.Name == fc.Name {
			target = t
			break
		}
	}
	if target == nil {
		return nil, goerr.New("tool not found", goerr.V("name", fc.Name))
	}

	result, err := p.client.CallTool(ctx, target.serverName, target.name, fc.Args)
	if err != nil {
		return nil, err
	}

	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: resultToResponse(result),
	}, nil
}

// resultToResponse keeps text content as plain strings so the model reads it directly
func resultToResponse(result *mcp.CallToolResult) map[string]any {
	var texts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}

	resp := map[string]any{"content": strings.Join(texts, "\n")}
	if result.IsError {
		resp["error"] = true
	}
	if result.StructuredContent != nil {
		resp["structured"] = result.StructuredContent
	}
	return resp
}
