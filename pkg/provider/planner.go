package provider

import (
	"context"

	"github.com/m-mizutani/postsmith/pkg/model"
)

// ComboPlanner combines every trend with every strategy
type ComboPlanner struct {
	max int
}

func NewComboPlanner(max int) *ComboPlanner {
	if max <= 0 {
		max = DefaultNumAlternatives
	}
	return &ComboPlanner{max: max}
}

// Plan returns "<trend> using <strategy>" in trend major order, at most max ideas.
// Missing or empty trends is a validation error.
func (x *ComboPlanner) Plan(_ context.Context, trends *model.Trends) ([]model.Idea, error) {
	if err := trends.Validate(); err != nil {
		return nil, err
	}
	t := trends.Compact()

	ideas := make([]model.Idea, 0, x.max)
	for _, trend := range t.NicheTrends {
		for _, strategy := range t.ContentStrategies {
			if len(ideas) == x.max {
				return ideas, nil
			}
			ideas = append(ideas, model.Idea(trend+" using "+strategy))
		}
	}
	return ideas, nil
}
