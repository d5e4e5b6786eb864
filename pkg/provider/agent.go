package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m-mizutani/postsmith/pkg/adapter"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/tool"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
	"google.golang.org/genai"
)

// maxToolIterations bounds the tool call loop of the researcher agent
const maxToolIterations = 8

// AgentResearcher runs two agents: a researcher that gathers findings with
// tools, then an analyst that turns the findings into trends.
type AgentResearcher struct {
	gemini   adapter.Gemini
	registry *tool.Registry
}

// NewAgentResearcher creates a researcher. registry may be nil, then the
// researcher works from model knowledge only.
func NewAgentResearcher(gemini adapter.Gemini, registry *tool.Registry) *AgentResearcher {
	return &AgentResearcher{gemini: gemini, registry: registry}
}

func (x *AgentResearcher) Research(ctx context.Context, niche string, profile *model.StoreProfile) (*model.Trends, error) {
	findings, err := x.investigate(ctx, niche, profile)
	if err != nil {
		return nil, err
	}

	prompt, err := render("analyst.md", map[string]any{
		"Niche":    niche,
		"Findings": findings,
		"Count":    trendsCount,
	})
	if err != nil {
		return nil, err
	}

	text, err := generateText(ctx, x.gemini, prompt, jsonConfig())
	if err != nil {
		return nil, err
	}
	return parseResearch(text)
}

func (x *AgentResearcher) investigate(ctx context.Context, niche string, profile *model.StoreProfile) (string, error) {
	logger := logging.From(ctx)

	var toolPrompt string
	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: &thinkingBudget},
	}
	if x.registry != nil {
		config.Tools = x.registry.Specs()
		toolPrompt = x.registry.Prompts(ctx)
	}

	system, err := render("agent_research.md", map[string]any{
		"Niche":         niche,
		"Profile":       profile.Describe(),
		"Tools":         toolPrompt,
		"MaxIterations": maxToolIterations,
	})
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf("Research current Instagram trends for %q.", niche), genai.RoleUser),
	}

	var findings strings.Builder
	for i := 0; i < maxToolIterations; i++ {
		config.SystemInstruction = genai.NewContentFromText(
			fmt.Sprintf("%s\n\nTool call iteration %d/%d", system, i+1, maxToolIterations), "")

		resp, err := x.gemini.GenerateContent(ctx, contents, config)
		if err != nil {
			return "", providerError(ctx, err, "researcher agent failed")
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			break
		}

		content := resp.Candidates[0].Content
		contents = append(contents, content)

		var responses []*genai.Part
		for _, part := range content.Parts {
			if part.Text != "" && !part.Thought {
				findings.WriteString(part.Text)
				findings.WriteString("\n")
			}
			if part.FunctionCall != nil {
				responses = append(responses, &genai.Part{FunctionResponse: x.call(ctx, *part.FunctionCall)})
			}
		}

		if len(responses) == 0 {
			break
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: responses})
	}

	result := strings.TrimSpace(findings.String())
	if result == "" {
		return "", providerError(ctx, errNoFindings, "researcher agent returned no findings")
	}
	logger.Debug("research findings collected", slog.String("findings", logging.Truncate(result, 200)))
	return result, nil
}

// call executes a tool. Tool errors are given back to the model instead of
// stopping the research.
func (x *AgentResearcher) call(ctx context.Context, fc genai.FunctionCall) *genai.FunctionResponse {
	logger := logging.From(ctx)
	logger.Info("calling research tool", slog.String("name", fc.Name), slog.Any("args", fc.Args))

	if x.registry == nil {
		return &genai.FunctionResponse{Name: fc.Name, Response: map[string]any{"error": "no tools available"}}
	}

	resp, err := x.registry.Execute(ctx, fc)
	if err != nil {
		logger.Warn("research tool failed", slog.String("name", fc.Name), slog.Any("error", err))
		return &genai.FunctionResponse{Name: fc.Name, Response: map[string]any{"error": err.Error()}}
	}
	return resp
}
