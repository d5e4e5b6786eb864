package model

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Trends is the research output consumed by the planner.
type Trends struct {
	NicheTrends       []string `json:"niche_trends" yaml:"niche_trends"`
	ContentStrategies []string `json:"content_strategies" yaml:"content_strategies"`
}

// UnmarshalJSON accepts "content_trends" as an alias of "content_strategies".
func (t *Trends) UnmarshalJSON(data []byte) error {
	var raw struct {
		NicheTrends       []string `json:"niche_trends"`
		ContentStrategies []string `json:"content_strategies"`
		ContentTrends     []string `json:"content_trends"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return goerr.Wrap(ErrValidation, "failed to decode trends", goerr.V("error", err.Error()))
	}

	t.NicheTrends = raw.NicheTrends
	t.ContentStrategies = raw.ContentStrategies
	if len(t.ContentStrategies) == 0 {
		t.ContentStrategies = raw.ContentTrends
	}
	return nil
}

// Validate checks that both sequences are present and hold at least one non-blank entry.
func (t *Trends) Validate() error {
	if t == nil {
		return goerr.Wrap(ErrValidation, "trends is nil")
	}
	if len(compact(t.NicheTrends)) == 0 {
		return goerr.Wrap(ErrValidation, "niche_trends is missing or empty")
	}
	if len(compact(t.ContentStrategies)) == 0 {
		return goerr.Wrap(ErrValidation, "content_strategies is missing or empty")
	}
	return nil
}

// Idea is a short content concept combining a trend and a strategy.
type Idea string

func (x Idea) String() string { return string(x) }

func compact(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Compact returns entries with surrounding whitespace removed, blanks dropped.
func (t *Trends) Compact() *Trends {
	return &Trends{
		NicheTrends:       compact(t.NicheTrends),
		ContentStrategies: compact(t.ContentStrategies),
	}
}
