package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/repository"
	"github.com/m-mizutani/postsmith/pkg/similarity"
	"github.com/m-mizutani/postsmith/pkg/usecase/workflow"
)

func newBatch(n int) *model.Batch {
	batch := &model.Batch{ID: model.NewBatchID(), Niche: "coffee"}
	for i := 1; i <= n; i++ {
		idea := model.Idea(fmt.Sprintf("idea %d", i))
		batch.Ideas = append(batch.Ideas, idea)
		batch.Posts = append(batch.Posts, model.NewPost("coffee", idea,
			model.ImageRef(fmt.Sprintf("https://example.com/%d.png", i)),
			fmt.Sprintf("caption %d #coffee", i)))
	}
	return batch
}

func TestFinalizeIsolatesPublishFailure(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	rec := &countingRecorder{}
	pub := &mockPublisher{fn: func(call int, _ model.ImageRef, _ string) (bool, error) {
		return call != 2, nil
	}}

	wf, err := workflow.New(mockSet(t), repo,
		workflow.WithPublisher(pub),
		workflow.WithEmbedder(similarity.NewHashEmbedder(64)),
		workflow.WithRecorder(rec),
	)
	gt.NoError(t, err)

	batch := newBatch(3)
	result, err := wf.Finalize(ctx, batch, nil)
	gt.NoError(t, err)
	gt.A(t, pub.calls).Length(3)
	gt.Equal(t, pub.calls[2].caption, "caption 3 #coffee")

	gt.A(t, result.Posts).Length(2)
	gt.A(t, result.FailedPosts).Length(1)
	gt.Equal(t, result.Posts[0].Caption, "caption 1 #coffee")
	gt.Equal(t, result.Posts[1].Caption, "caption 3 #coffee")

	failed := result.FailedPosts[0]
	gt.Equal(t, failed.Stage, "publish")
	gt.Equal(t, failed.PostID, batch.Posts[1].ID)
	gt.Equal(t, failed.Caption, "caption 2 #coffee")

	for _, p := range result.Posts {
		gt.Equal(t, p.Status, model.PostStatusPublished)
		gt.V(t, p.PublishedAt).NotNil()
		gt.A(t, p.Embedding).Length(64)
	}

	published, err := repo.ListPublishedPosts(ctx)
	gt.NoError(t, err)
	gt.A(t, published).Length(2)

	stored, err := repo.GetPost(ctx, batch.Posts[1].ID)
	gt.NoError(t, err)
	gt.Equal(t, stored.Status, model.PostStatusFailed)

	gt.Equal(t, rec.published, 2)
	gt.Equal(t, rec.failed["publish"], 1)
}

func TestFinalizePublishError(t *testing.T) {
	pub := &mockPublisher{fn: func(call int, _ model.ImageRef, _ string) (bool, error) {
		if call == 1 {
			return false, errors.New("media container failed")
		}
		return true, nil
	}}
	wf, err := workflow.New(mockSet(t), repository.NewMemory(), workflow.WithPublisher(pub))
	gt.NoError(t, err)

	result, err := wf.Finalize(context.Background(), newBatch(2), nil)
	gt.NoError(t, err)
	gt.A(t, result.Posts).Length(1)
	gt.A(t, result.FailedPosts).Length(1)
	gt.S(t, result.FailedPosts[0].Error).Contains("media container failed")
}

func TestFinalizeAuthChallenge(t *testing.T) {
	pub := &mockPublisher{fn: func(call int, _ model.ImageRef, _ string) (bool, error) {
		if call == 1 {
			return false, goerr.Wrap(model.ErrAuthChallenge, "session expired")
		}
		return true, nil
	}}
	resolver := &mockResolver{code: "123456"}

	wf, err := workflow.New(mockSet(t), repository.NewMemory(),
		workflow.WithPublisher(pub),
		workflow.WithChallengeResolver(resolver),
	)
	gt.NoError(t, err)

	result, err := wf.Finalize(context.Background(), newBatch(1), nil)
	gt.NoError(t, err)
	gt.Equal(t, resolver.calls, 1)
	gt.Equal(t, pub.resolved, []string{"123456"})
	gt.A(t, pub.calls).Length(2)
	gt.Equal(t, pub.calls[0], pub.calls[1])
	gt.A(t, result.Posts).Length(1)
	gt.A(t, result.FailedPosts).Length(0)
}

func TestFinalizeAuthChallengeBounded(t *testing.T) {
	pub := &mockPublisher{fn: func(call int, _ model.ImageRef, _ string) (bool, error) {
		return false, goerr.Wrap(model.ErrAuthChallenge, "checkpoint required")
	}}
	resolver := &mockResolver{code: "000000"}

	cfg := workflow.DefaultConfig()
	cfg.MaxChallenges = 2
	wf, err := workflow.New(mockSet(t), repository.NewMemory(),
		workflow.WithPublisher(pub),
		workflow.WithChallengeResolver(resolver),
		workflow.WithConfig(cfg),
	)
	gt.NoError(t, err)

	result, err := wf.Finalize(context.Background(), newBatch(1), nil)
	gt.NoError(t, err)
	gt.Equal(t, resolver.calls, 2)
	gt.A(t, pub.calls).Length(3)
	gt.A(t, result.FailedPosts).Length(1)
}

func TestFinalizeResolverErrorFailsItemOnly(t *testing.T) {
	pub := &mockPublisher{fn: func(call int, _ model.ImageRef, _ string) (bool, error) {
		if call == 1 {
			return false, goerr.Wrap(model.ErrAuthChallenge, "two factor")
		}
		return true, nil
	}}
	resolver := &mockResolver{err: errors.New("operator canceled")}

	wf, err := workflow.New(mockSet(t), repository.NewMemory(),
		workflow.WithPublisher(pub),
		workflow.WithChallengeResolver(resolver),
	)
	gt.NoError(t, err)

	result, err := wf.Finalize(context.Background(), newBatch(2), nil)
	gt.NoError(t, err)
	gt.A(t, result.FailedPosts).Length(1)
	gt.S(t, result.FailedPosts[0].Error).Contains("operator canceled")
	gt.A(t, result.Posts).Length(1)
	gt.Equal(t, result.Posts[0].Caption, "caption 2 #coffee")
}

func TestFinalizeAuthChallengeWithoutResolver(t *testing.T) {
	pub := &mockPublisher{fn: func(int, model.ImageRef, string) (bool, error) {
		return false, goerr.Wrap(model.ErrAuthChallenge, "token expired")
	}}
	wf, err := workflow.New(mockSet(t), repository.NewMemory(), workflow.WithPublisher(pub))
	gt.NoError(t, err)

	result, err := wf.Finalize(context.Background(), newBatch(1), nil)
	gt.NoError(t, err)
	gt.A(t, pub.calls).Length(1)
	gt.A(t, result.FailedPosts).Length(1)
}

func TestFinalizeWithReview(t *testing.T) {
	states := &stateLog{}
	pub := &mockPublisher{}
	wf, err := workflow.New(mockSet(t), repository.NewMemory(),
		workflow.WithPublisher(pub),
		workflow.WithStageHook(states.hook),
	)
	gt.NoError(t, err)

	batch := newBatch(3)
	edited := "fresh caption #latte"
	reviewer := &mockReviewer{fn: func(b *model.Batch) ([]model.Edit, error) {
		return []model.Edit{
			{PostID: b.Posts[0].ID, Caption: &edited},
			{PostID: b.Posts[1].ID, Remove: true, Reason: "off brand"},
		}, nil
	}}

	result, err := wf.Finalize(context.Background(), batch, reviewer)
	gt.NoError(t, err)
	gt.A(t, pub.calls).Length(2)
	gt.Equal(t, pub.calls[0].caption, edited)
	gt.Equal(t, pub.calls[0].image, model.ImageRef("https://example.com/1.png"))
	gt.Equal(t, pub.calls[1].caption, "caption 3 #coffee")
	gt.A(t, result.Posts).Length(2)

	gt.Equal(t, states.states, []workflow.State{
		workflow.StateReviewing,
		workflow.StatePublishing,
		workflow.StateDone,
	})
}

func TestFinalizeIsolatesInvalidEdit(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	rec := &countingRecorder{}
	pub := &mockPublisher{}
	wf, err := workflow.New(mockSet(t), repo,
		workflow.WithPublisher(pub),
		workflow.WithRecorder(rec),
	)
	gt.NoError(t, err)

	batch := newBatch(3)
	tooLong := strings.Repeat("a", 351)
	reviewer := &mockReviewer{fn: func(b *model.Batch) ([]model.Edit, error) {
		return []model.Edit{{PostID: b.Posts[1].ID, Caption: &tooLong}}, nil
	}}

	result, err := wf.Finalize(ctx, batch, reviewer)
	gt.NoError(t, err)
	gt.A(t, pub.calls).Length(2)
	gt.Equal(t, pub.calls[0].caption, "caption 1 #coffee")
	gt.Equal(t, pub.calls[1].caption, "caption 3 #coffee")

	gt.A(t, result.Posts).Length(2)
	gt.A(t, result.FailedPosts).Length(1)
	failed := result.FailedPosts[0]
	gt.Equal(t, failed.Stage, "review")
	gt.Equal(t, failed.PostID, batch.Posts[1].ID)
	gt.Equal(t, failed.Caption, "caption 2 #coffee")

	stored, err := repo.GetPost(ctx, batch.Posts[1].ID)
	gt.NoError(t, err)
	gt.Equal(t, stored.Status, model.PostStatusFailed)
	gt.Equal(t, rec.failed["review"], 1)
}

func TestFinalizeReportsUnsavedPost(t *testing.T) {
	pub := &mockPublisher{}
	wf, err := workflow.New(mockSet(t), &failingSaveRepo{Memory: repository.NewMemory()},
		workflow.WithPublisher(pub),
	)
	gt.NoError(t, err)

	batch := newBatch(2)
	result, err := wf.Finalize(context.Background(), batch, nil)
	gt.NoError(t, err)
	gt.A(t, pub.calls).Length(2)
	gt.A(t, result.Posts).Length(2)
	gt.A(t, result.FailedPosts).Length(0)
	gt.A(t, result.Unsaved).Length(2)
	gt.Equal(t, result.Unsaved[0].Stage, "persist")
	gt.Equal(t, result.Unsaved[0].PostID, batch.Posts[0].ID)
	gt.S(t, result.Unsaved[0].Error).Contains("disk full")
}

func TestFinalizeRejectsUnknownEdit(t *testing.T) {
	pub := &mockPublisher{}
	wf, err := workflow.New(mockSet(t), repository.NewMemory(), workflow.WithPublisher(pub))
	gt.NoError(t, err)

	reviewer := &mockReviewer{fn: func(*model.Batch) ([]model.Edit, error) {
		return []model.Edit{{PostID: "missing", Remove: true}}, nil
	}}

	_, err = wf.Finalize(context.Background(), newBatch(2), reviewer)
	gt.True(t, errors.Is(err, model.ErrValidation))
	gt.A(t, pub.calls).Length(0)
}

func TestFinalizeEmptyBatch(t *testing.T) {
	states := &stateLog{}
	pub := &mockPublisher{}
	wf, err := workflow.New(mockSet(t), repository.NewMemory(),
		workflow.WithPublisher(pub),
		workflow.WithStageHook(states.hook),
	)
	gt.NoError(t, err)

	result, err := wf.Finalize(context.Background(), newBatch(0), nil)
	gt.NoError(t, err)
	gt.A(t, result.Posts).Length(0)
	gt.A(t, result.FailedPosts).Length(0)
	gt.A(t, pub.calls).Length(0)
	gt.Equal(t, states.states, []workflow.State{workflow.StatePublishing, workflow.StateDone})
}

func TestFinalizeSkipsAlreadyPublished(t *testing.T) {
	pub := &mockPublisher{}
	wf, err := workflow.New(mockSet(t), repository.NewMemory(), workflow.WithPublisher(pub))
	gt.NoError(t, err)

	batch := newBatch(2)
	batch.Posts[0].Status = model.PostStatusPublished

	result, err := wf.Finalize(context.Background(), batch, nil)
	gt.NoError(t, err)
	gt.A(t, pub.calls).Length(1)
	gt.A(t, result.Posts).Length(1)
}

func TestFinalizeRequiresPublisher(t *testing.T) {
	wf, err := workflow.New(mockSet(t), repository.NewMemory())
	gt.NoError(t, err)

	_, err = wf.Finalize(context.Background(), newBatch(1), nil)
	gt.Error(t, err)

	wf, err = workflow.New(mockSet(t), repository.NewMemory(), workflow.WithPublisher(&mockPublisher{}))
	gt.NoError(t, err)
	_, err = wf.Finalize(context.Background(), nil, nil)
	gt.True(t, errors.Is(err, model.ErrValidation))
}
