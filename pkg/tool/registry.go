package tool

import (
	"context"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

var errToolNotFound = goerr.New("tool not found")

// Registry manages tools available to the research agent
type Registry struct {
	candidates []Tool
	enabled    []Tool
	byName     map[string]Tool
}

// New creates a new tool registry with the given candidate tools. Nil tools are ignored.
// Candidate tools are enabled by Init
func New(tools ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool)}
	for _, t := range tools {
		if t != nil {
			r.candidates = append(r.candidates, t)
		}
	}
	return r
}

// Init initializes every candidate tool and enables those reporting ready
func (r *Registry) Init(ctx context.Context) error {
	r.enabled = nil
	r.byName = make(map[string]Tool)

	for _, t := range r.candidates {
		ok, err := t.Init(ctx)
		if err != nil {
			return goerr.Wrap(err, "failed to initialize tool")
		}
		if !ok {
			continue
		}

		spec := t.Spec()
		if spec == nil || len(spec.FunctionDeclarations) == 0 {
			continue
		}
		for _, fd := range spec.FunctionDeclarations {
			if _, dup := r.byName[fd.Name]; dup {
				return goerr.New("duplicated function name", goerr.V("name", fd.Name))
			}
			r.byName[fd.Name] = t
		}
		r.enabled = append(r.enabled, t)
	}

	logging.From(ctx).Debug("tools initialized", "functions", r.Names())
	return nil
}

// Specs returns tool specifications of enabled tools for Gemini function calling
func (r *Registry) Specs() []*genai.Tool {
	specs := make([]*genai.Tool, 0, len(r.enabled))
	for _, t := range r.enabled {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Names returns sorted function names of enabled tools
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prompts returns all enabled tool prompts concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	var prompts []string
	for _, t := range r.enabled {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Flags returns flags of every candidate tool
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, t := range r.candidates {
		flags = append(flags, t.Flags()...)
	}
	return flags
}

// Execute runs the tool with the given function call
func (r *Registry) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	t, ok := r.byName[fc.Name]
	if !ok {
		return nil, goerr.Wrap(errToolNotFound, "tool not found", goerr.V("name", fc.Name))
	}

	return t.Execute(ctx, fc)
}
