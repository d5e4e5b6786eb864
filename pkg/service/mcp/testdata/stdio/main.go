package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type hashtagParams struct {
	Hashtag string `json:"hashtag" jsonschema:"Hashtag without the leading #"`
}

func hashtagVolume(ctx context.Context, req *mcp.CallToolRequest, params *hashtagParams) (*mcp.CallToolResult, any, error) {
	tag := strings.TrimPrefix(params.Hashtag, "#")
	if tag == "" {
		tag = "instagood"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("#%s: %d posts", tag, len(tag)*1000)},
		},
	}, nil, nil
}

type echoParams struct {
	Text string `json:"text" jsonschema:"Text to return"`
}

func echo(ctx context.Context, req *mcp.CallToolRequest, params *echoParams) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: params.Text}},
	}, nil, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-hashtag-server",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "hashtag_volume",
		Description: "Number of posts using a hashtag",
	}, hashtagVolume)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Return the given text",
	}, echo)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
