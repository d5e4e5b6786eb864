// Package trends exposes the Google Trends public BigQuery dataset to the research agent.
package trends

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/adapter"
	"github.com/m-mizutani/postsmith/pkg/tool"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const (
	funcRising = "google_trends_rising"
	funcTop    = "google_trends_top"

	defaultLimit = 10
)

const risingQuery = "SELECT term, MAX(percent_gain) AS percent_gain " +
	"FROM `bigquery-public-data.google_trends.top_rising_terms` " +
	"WHERE refresh_date = (SELECT MAX(refresh_date) FROM `bigquery-public-data.google_trends.top_rising_terms`) " +
	"AND LOWER(term) LIKE @pattern " +
	"GROUP BY term ORDER BY percent_gain DESC LIMIT @limit"

const topQuery = "SELECT term, MIN(rank) AS rank, MAX(score) AS score " +
	"FROM `bigquery-public-data.google_trends.top_terms` " +
	"WHERE refresh_date = (SELECT MAX(refresh_date) FROM `bigquery-public-data.google_trends.top_terms`) " +
	"AND LOWER(term) LIKE @pattern " +
	"GROUP BY term ORDER BY rank LIMIT @limit"

// Tool queries Google Trends top and rising search terms
type Tool struct {
	project     string
	scanLimitMB int64
	maxRows     int64

	bq adapter.BigQuery
}

type Option func(*Tool)

// WithBigQuery injects a client and skips the project flag
func WithBigQuery(bq adapter.BigQuery) Option {
	return func(t *Tool) {
		t.bq = bq
	}
}

// New creates a new Google Trends tool
func New(opts ...Option) *Tool {
	t := &Tool{
		scanLimitMB: 10240,
		maxRows:     50,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ tool.Tool = (*Tool)(nil)

// Flags returns CLI flags for the tool
func (t *Tool) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "trends-bigquery-project",
			Usage:       "Google Cloud project billed for Google Trends queries (enables the trends tool)",
			Sources:     cli.EnvVars("POSTSMITH_TRENDS_BIGQUERY_PROJECT"),
			Destination: &t.project,
		},
		&cli.IntFlag{
			Name:        "trends-scan-limit-mb",
			Usage:       "Maximum scan size in MB for a Google Trends query",
			Value:       10240,
			Sources:     cli.EnvVars("POSTSMITH_TRENDS_SCAN_LIMIT_MB"),
			Destination: &t.scanLimitMB,
		},
	}
}

// Init creates the BigQuery client. The tool stays disabled without a project
func (t *Tool) Init(ctx context.Context) (bool, error) {
	if t.bq != nil {
		return true, nil
	}
	if t.project == "" {
		return false, nil
	}

	bq, err := adapter.NewBigQuery(ctx, t.project)
	if err != nil {
		return false, goerr.Wrap(err, "failed to create BigQuery client")
	}
	t.bq = bq
	return true, nil
}

func (t *Tool) Prompt(ctx context.Context) string {
	return "### Google Trends\n\n" +
		fmt.Sprintf("Use `%s` to find search terms gaining popularity and `%s` for the most searched terms. ", funcRising, funcTop) +
		"Both accept an optional keyword to narrow the terms. Data covers the United States and is refreshed daily."
}

func (t *Tool) Spec() *genai.Tool {
	params := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"keyword": {
				Type:        genai.TypeString,
				Description: "Case insensitive keyword a term must contain. Empty matches every term",
			},
			"limit": {
				Type:        genai.TypeInteger,
				Description: fmt.Sprintf("Maximum number of terms (default: %d, max: %d)", defaultLimit, t.maxRows),
			},
		},
	}

	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        funcRising,
				Description: "List Google search terms with the largest recent growth",
				Parameters:  params,
			},
			{
				Name:        funcTop,
				Description: "List the most searched Google terms of the latest week",
				Parameters:  params,
			},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	switch fc.Name {
	case funcRising:
		return t.run(ctx, fc, risingQuery)
	case funcTop:
		return t.run(ctx, fc, topQuery)
	default:
		return nil, goerr.New("unknown function", goerr.V("name", fc.Name))
	}
}

type input struct {
	Keyword string `json:"keyword"`
	Limit   int64  `json:"limit"`
}

func (t *Tool) run(ctx context.Context, fc genai.FunctionCall, query string) (*genai.FunctionResponse, error) {
	paramsJSON, err := json.Marshal(fc.Args)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal function arguments")
	}

	var in input
	if err := json.Unmarshal(paramsJSON, &in); err != nil {
		return nil, goerr.Wrap(err, "failed to parse input parameters")
	}
	if in.Limit <= 0 {
		in.Limit = defaultLimit
	}
	if in.Limit > t.maxRows {
		in.Limit = t.maxRows
	}

	params := map[string]any{
		"pattern": "%" + strings.ToLower(strings.TrimSpace(in.Keyword)) + "%",
		"limit":   in.Limit,
	}

	bytesProcessed, err := t.bq.DryRun(ctx, query, params)
	if err != nil {
		return errorResponse(fc, "Query validation failed: %v", err), nil
	}
	if limit := t.scanLimitMB * 1024 * 1024; bytesProcessed > limit {
		return errorResponse(fc, "Query would scan %.2f MB, which exceeds the limit of %d MB",
			float64(bytesProcessed)/1024/1024, t.scanLimitMB), nil
	}

	rows, err := t.bq.Query(ctx, query, params)
	if err != nil {
		return errorResponse(fc, "Query execution failed: %v", err), nil
	}

	return &genai.FunctionResponse{
		Name: fc.Name,
		Response: map[string]any{
			"terms": rows,
			"count": len(rows),
		},
	}, nil
}

func errorResponse(fc genai.FunctionCall, format string, args ...any) *genai.FunctionResponse {
	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: map[string]any{"error": fmt.Sprintf(format, args...)},
	}
}
