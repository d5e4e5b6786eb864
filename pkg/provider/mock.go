package provider

import (
	"context"
	"fmt"

	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
)

// MockImageURL is returned for every mock image
const MockImageURL = "https://placehold.co/600x400"

// Mock generates fixed content without calling any external service
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (x *Mock) Research(ctx context.Context, niche string, profile *model.StoreProfile) (*model.Trends, error) {
	logging.From(ctx).Debug("using mock research data", "niche", niche)
	return &model.Trends{
		NicheTrends: []string{
			"Virtual Fitness Classes",
			"AI-Powered Workouts",
		},
		ContentStrategies: []string{
			"Before/After Transformations",
			"30-Second Exercise Tutorials",
		},
	}, nil
}

func (x *Mock) Generate(ctx context.Context, idea model.Idea, profile *model.StoreProfile) (model.ImageRef, error) {
	return MockImageURL, nil
}

func (x *Mock) Write(ctx context.Context, idea model.Idea, profile *model.StoreProfile) (string, error) {
	body := "Mock caption for: " + logging.Truncate(idea.String(), 200)
	if profile != nil && profile.Name != "" {
		body += " at " + logging.Truncate(profile.Name, 40)
	}
	return fmt.Sprintf("%s ✨\n\n#instagood #trending #postsmith", body), nil
}
