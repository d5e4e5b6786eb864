// Package provider implements the generators used by the workflow: research,
// planning, image synthesis and caption writing.
package provider

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/adapter"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/tool"
)

const (
	DefaultNumAlternatives  = 5
	DefaultMaxCaptionLength = 350
)

type Researcher interface {
	Research(ctx context.Context, niche string, profile *model.StoreProfile) (*model.Trends, error)
}

type Planner interface {
	Plan(ctx context.Context, trends *model.Trends) ([]model.Idea, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, idea model.Idea, profile *model.StoreProfile) (model.ImageRef, error)
}

type CaptionWriter interface {
	Write(ctx context.Context, idea model.Idea, profile *model.StoreProfile) (string, error)
}

// Set is the group of providers used by one workflow
type Set struct {
	Research Researcher
	Plan     Planner
	Image    ImageGenerator
	Caption  CaptionWriter
}

// Validate reports a missing provider
func (x *Set) Validate() error {
	switch {
	case x == nil:
		return goerr.New("provider set is nil")
	case x.Research == nil:
		return goerr.New("research provider is not set")
	case x.Plan == nil:
		return goerr.New("plan provider is not set")
	case x.Image == nil:
		return goerr.New("image provider is not set")
	case x.Caption == nil:
		return goerr.New("caption provider is not set")
	}
	return nil
}

type Kind string

const (
	KindMock   Kind = "mock"
	KindDirect Kind = "direct"
	KindAgent  Kind = "agent"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindMock, KindDirect, KindAgent:
		return k, nil
	default:
		return "", goerr.New("unknown provider kind",
			goerr.V("kind", s),
			goerr.V("supported", []Kind{KindMock, KindDirect, KindAgent}))
	}
}

type Config struct {
	NumAlternatives  int
	MaxCaptionLength int
}

func DefaultConfig() Config {
	return Config{
		NumAlternatives:  DefaultNumAlternatives,
		MaxCaptionLength: DefaultMaxCaptionLength,
	}
}

// Deps are the clients a provider kind may need. Mock needs none
type Deps struct {
	Gemini  adapter.Gemini
	Storage adapter.Storage
	Tools   *tool.Registry
}

// New builds the provider set for the given kind
func New(kind Kind, cfg Config, deps Deps) (*Set, error) {
	set := &Set{Plan: NewComboPlanner(cfg.NumAlternatives)}

	switch kind {
	case KindMock:
		mock := NewMock()
		set.Research, set.Image, set.Caption = mock, mock, mock
		return set, nil

	case KindDirect, KindAgent:
		if deps.Gemini == nil {
			return nil, goerr.New("gemini client is required", goerr.V("kind", kind))
		}
		if deps.Storage == nil {
			return nil, goerr.New("image storage is required", goerr.V("kind", kind))
		}
		if kind == KindAgent {
			set.Research = NewAgentResearcher(deps.Gemini, deps.Tools)
		} else {
			set.Research = NewGeminiResearcher(deps.Gemini)
		}
		set.Image = NewImagenGenerator(deps.Gemini, deps.Storage)
		set.Caption = NewGeminiCaptionWriter(deps.Gemini, cfg.MaxCaptionLength)
		return set, nil

	default:
		return nil, goerr.New("unknown provider kind", goerr.V("kind", kind))
	}
}

// ValidateCaption rejects empty captions and captions longer than maxLen runes.
// maxLen <= 0 uses DefaultMaxCaptionLength.
func ValidateCaption(caption string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxCaptionLength
	}
	if strings.TrimSpace(caption) == "" {
		return goerr.Wrap(model.ErrProvider, "caption is empty")
	}
	if n := utf8.RuneCountInString(caption); n > maxLen {
		return goerr.Wrap(model.ErrProvider, "caption is too long",
			goerr.V("length", n),
			goerr.V("max", maxLen))
	}
	return nil
}
