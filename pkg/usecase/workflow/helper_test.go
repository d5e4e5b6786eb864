package workflow_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/repository"
	"github.com/m-mizutani/postsmith/pkg/retry"
)

type mockResearcher struct {
	fn func(ctx context.Context, niche string, profile *model.StoreProfile) (*model.Trends, error)
}

func (m *mockResearcher) Research(ctx context.Context, niche string, profile *model.StoreProfile) (*model.Trends, error) {
	return m.fn(ctx, niche, profile)
}

type mockImage struct {
	fn func(ctx context.Context, idea model.Idea) (model.ImageRef, error)
}

func (m *mockImage) Generate(ctx context.Context, idea model.Idea, profile *model.StoreProfile) (model.ImageRef, error) {
	return m.fn(ctx, idea)
}

type mockCaption struct {
	fn func(ctx context.Context, idea model.Idea) (string, error)
}

func (m *mockCaption) Write(ctx context.Context, idea model.Idea, profile *model.StoreProfile) (string, error) {
	return m.fn(ctx, idea)
}

type publishCall struct {
	image   model.ImageRef
	caption string
}

type mockPublisher struct {
	mu       sync.Mutex
	calls    []publishCall
	resolved []string
	fn       func(call int, image model.ImageRef, caption string) (bool, error)
}

func (m *mockPublisher) Publish(ctx context.Context, image model.ImageRef, caption string) (bool, error) {
	m.mu.Lock()
	m.calls = append(m.calls, publishCall{image: image, caption: caption})
	n := len(m.calls)
	m.mu.Unlock()

	if m.fn == nil {
		return true, nil
	}
	return m.fn(n, image, caption)
}

func (m *mockPublisher) Resolve(ctx context.Context, code string) error {
	m.resolved = append(m.resolved, code)
	return nil
}

type mockResolver struct {
	calls int
	code  string
	err   error
}

func (m *mockResolver) ResolveChallenge(ctx context.Context, challenge error) (string, error) {
	m.calls++
	return m.code, m.err
}

type mockReviewer struct {
	fn func(batch *model.Batch) ([]model.Edit, error)
}

func (m *mockReviewer) Review(ctx context.Context, batch *model.Batch) ([]model.Edit, error) {
	return m.fn(batch)
}

type countingRecorder struct {
	mu        sync.Mutex
	skipped   int
	generated int
	failed    map[string]int
	published int
}

func (r *countingRecorder) StageDuration(string, time.Duration) {}
func (r *countingRecorder) IdeaSkipped()                        { r.mu.Lock(); r.skipped++; r.mu.Unlock() }
func (r *countingRecorder) PostGenerated()                      { r.mu.Lock(); r.generated++; r.mu.Unlock() }
func (r *countingRecorder) PostPublished()                      { r.mu.Lock(); r.published++; r.mu.Unlock() }
func (r *countingRecorder) PostFailed(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed == nil {
		r.failed = map[string]int{}
	}
	r.failed[stage]++
}

func fastRetry(n int) *retry.Executor {
	return retry.New(retry.Config{MaxRetries: n, RetryDelay: time.Millisecond})
}

// failingSaveRepo refuses to store published posts
type failingSaveRepo struct {
	*repository.Memory
}

func (r *failingSaveRepo) SavePost(ctx context.Context, post *model.Post) error {
	if post.Status == model.PostStatusPublished {
		return errors.New("disk full")
	}
	return r.Memory.SavePost(ctx, post)
}
