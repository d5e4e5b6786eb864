package model_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/postsmith/pkg/model"
)

func TestTrendsUnmarshalAlias(t *testing.T) {
	var trends model.Trends
	err := json.Unmarshal([]byte(`{"niche_trends":["a"],"content_trends":["b","c"]}`), &trends)
	gt.NoError(t, err)
	gt.A(t, trends.NicheTrends).Length(1)
	gt.A(t, trends.ContentStrategies).Length(2)
	gt.Equal(t, trends.ContentStrategies[1], "c")
}

func TestTrendsUnmarshalPrefersStrategies(t *testing.T) {
	var trends model.Trends
	err := json.Unmarshal([]byte(`{"niche_trends":["a"],"content_strategies":["s"],"content_trends":["t"]}`), &trends)
	gt.NoError(t, err)
	gt.Equal(t, trends.ContentStrategies, []string{"s"})
}

func TestTrendsUnmarshalBroken(t *testing.T) {
	var trends model.Trends
	err := json.Unmarshal([]byte(`{"niche_trends": "not a list"}`), &trends)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrValidation))
}

func TestTrendsValidate(t *testing.T) {
	testCases := []struct {
		name   string
		trends *model.Trends
		valid  bool
	}{
		{"nil", nil, false},
		{"empty", &model.Trends{}, false},
		{"no strategies", &model.Trends{NicheTrends: []string{"x"}}, false},
		{"blank trends", &model.Trends{NicheTrends: []string{" "}, ContentStrategies: []string{"y"}}, false},
		{"valid", &model.Trends{NicheTrends: []string{"x"}, ContentStrategies: []string{"y"}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.trends.Validate()
			if tc.valid {
				gt.NoError(t, err)
			} else {
				gt.True(t, errors.Is(err, model.ErrValidation))
			}
		})
	}
}
