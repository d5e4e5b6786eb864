package mcp

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
)

// Client holds sessions to the MCP servers used during research
type Client struct {
	servers map[string]*server
}

type server struct {
	name    string
	session *mcp.ClientSession
	tools   []*mcp.Tool
}

// ServerConfig is one entry of the MCP configuration file
type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   []string          `yaml:"command"`
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
	// Tools limits the exposed tools. Empty exposes every tool of the server
	Tools []string `yaml:"tools"`
}

// Config is the MCP configuration file
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
}

// LoadConfig reads an MCP configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read MCP config file", goerr.V("path", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse MCP config file", goerr.V("path", path))
	}
	return &cfg, nil
}

func NewClient() *Client {
	return &Client{
		servers: make(map[string]*server),
	}
}

// Connect opens a session and caches the server's tool list
func (c *Client) Connect(ctx context.Context, cfg ServerConfig) error {
	if _, exists := c.servers[cfg.Name]; exists {
		return goerr.New("server already connected", goerr.V("name", cfg.Name))
	}

	var transport mcp.Transport
	var err error
	switch cfg.Transport {
	case "stdio":
		transport, err = stdioTransport(cfg)
	case "http":
		transport, err = httpTransport(cfg)
	default:
		return goerr.New("unsupported transport",
			goerr.V("transport", cfg.Transport),
			goerr.V("supported", []string{"stdio", "http"}))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to create transport", goerr.V("server", cfg.Name))
	}

	mcpClient := mcp.NewClient(&mcp.Implementation{
		Name:    "postsmith",
		Version: "0.1.0",
	}, nil)

	session, err := mcpClient.Connect(ctx, transport, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to connect to MCP server", goerr.V("server", cfg.Name))
	}

	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return goerr.Wrap(err, "failed to list tools", goerr.V("server", cfg.Name))
	}

	tools := listed.Tools
	if len(cfg.Tools) > 0 {
		tools = slices.DeleteFunc(slices.Clone(tools), func(t *mcp.Tool) bool {
			return !slices.Contains(cfg.Tools, t.Name)
		})
	}

	c.servers[cfg.Name] = &server{
		name:    cfg.Name,
		session: session,
		tools:   tools,
	}
	logging.From(ctx).Debug("connected to MCP server",
		slog.String("server", cfg.Name),
		slog.Int("tools", len(tools)))

	return nil
}

func stdioTransport(cfg ServerConfig) (mcp.Transport, error) {
	if len(cfg.Command) == 0 {
		return nil, goerr.New("command is required for stdio transport")
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	return &mcp.CommandTransport{Command: cmd}, nil
}

func httpTransport(cfg ServerConfig) (mcp.Transport, error) {
	if cfg.URL == "" {
		return nil, goerr.New("url is required for http transport")
	}
	return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil
}

// Tools returns the exposed tools of a server
func (c *Client) Tools(serverName string) ([]*mcp.Tool, error) {
	srv, exists := c.servers[serverName]
	if !exists {
		return nil, goerr.New("server not found", goerr.V("name", serverName))
	}
	return srv.tools, nil
}

// Servers returns connected server names in sorted order
func (c *Client) Servers() []string {
	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) CallTool(ctx context.Context, serverName, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	srv, exists := c.servers[serverName]
	if !exists {
		return nil, goerr.New("server not found", goerr.V("name", serverName))
	}

	result, err := srv.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: arguments,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call tool",
			goerr.V("server", serverName),
			goerr.V("tool", toolName))
	}
	return result, nil
}

// Close closes every session. All sessions are attempted and the first error is returned
func (c *Client) Close() error {
	var first error
	for name, srv := range c.servers {
		if err := srv.session.Close(); err != nil && first == nil {
			first = goerr.Wrap(err, "failed to close session", goerr.V("server", name))
		}
	}
	c.servers = make(map[string]*server)
	return first
}
