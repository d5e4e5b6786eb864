package metrics_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/postsmith/pkg/metrics"
	"github.com/m-mizutani/postsmith/pkg/retry"
	"github.com/m-mizutani/postsmith/pkg/usecase/workflow"
)

var _ workflow.Recorder = (*metrics.Metrics)(nil)

func TestMetrics(t *testing.T) {
	m := metrics.New()
	m.ObserveAttempt("image", 1, retry.OutcomeRetry)
	m.ObserveAttempt("image", 2, retry.OutcomeSuccess)
	m.StageDuration("researching", 3*time.Second)
	m.IdeaSkipped()
	m.PostGenerated()
	m.PostGenerated()
	m.PostFailed("caption")
	m.PostPublished()

	families, err := m.Registry().Gather()
	gt.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "postsmith_stage_attempts_total" {
			gt.A(t, f.GetMetric()).Length(2)
		}
	}

	path := filepath.Join(t.TempDir(), "postsmith.prom")
	gt.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	gt.NoError(t, err)
	text := string(data)
	gt.S(t, text).Contains(`postsmith_posts_generated_total 2`)
	gt.S(t, text).Contains(`postsmith_posts_failed_total{stage="caption"} 1`)
	gt.S(t, text).Contains(`postsmith_stage_attempts_total{attempt="1",outcome="retry",stage="image"} 1`)
	gt.S(t, text).Contains(`postsmith_last_run_timestamp_seconds`)
}
