package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
)

var errPublishRejected = goerr.New("publisher did not accept the post")

// publish posts approved items in order. A failing item is recorded and the
// loop goes on with the next one.
func (x *Workflow) publish(ctx context.Context, batch *model.Batch) (*model.Result, error) {
	logger := logging.From(ctx)
	result := &model.Result{
		Posts:       []*model.Post{},
		FailedPosts: []*model.FailedPost{},
	}

	for _, post := range batch.Posts {
		if post.Status != model.PostStatusApproved {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, goerr.Wrap(err, "publishing interrupted", goerr.V("batch_id", batch.ID))
		}

		ok, err := x.publishWithChallenge(ctx, post)
		if err == nil && !ok {
			err = errPublishRejected
		}
		if err != nil {
			logger.Warn("failed to publish post", slog.String("post_id", string(post.ID)), slog.Any("error", err))
			post.Status = model.PostStatusFailed
			if sErr := x.save(ctx, post); sErr != nil {
				logger.Error("failed to save post", slog.String("post_id", string(post.ID)), slog.Any("error", sErr))
			}
			x.rec.PostFailed(stagePublish)
			result.FailedPosts = append(result.FailedPosts, &model.FailedPost{
				PostID:  post.ID,
				Idea:    post.Idea,
				Image:   post.Image,
				Caption: post.Caption,
				Stage:   stagePublish,
				Error:   err.Error(),
			})
			continue
		}

		now := time.Now()
		post.Status = model.PostStatusPublished
		post.PublishedAt = &now
		x.embed(ctx, post)
		x.rec.PostPublished()
		logger.Info("post published", slog.String("post_id", string(post.ID)), slog.String("idea", post.Idea.String()))
		result.Posts = append(result.Posts, post)

		if err := x.save(ctx, post); err != nil {
			// published but unknown to later similarity checks
			logger.Error("failed to save published post", slog.String("post_id", string(post.ID)), slog.Any("error", err))
			result.Unsaved = append(result.Unsaved, &model.FailedPost{
				PostID:  post.ID,
				Idea:    post.Idea,
				Image:   post.Image,
				Caption: post.Caption,
				Stage:   stagePersist,
				Error:   err.Error(),
			})
		}
	}

	return result, nil
}

func (x *Workflow) publishWithChallenge(ctx context.Context, post *model.Post) (bool, error) {
	for challenges := 0; ; challenges++ {
		ok, err := x.publisher.Publish(ctx, post.Image, post.Caption)
		if err == nil || !errors.Is(err, model.ErrAuthChallenge) {
			return ok, err
		}

		if x.resolver == nil {
			return false, goerr.Wrap(err, "auth challenge without resolver")
		}
		if challenges >= x.cfg.MaxChallenges {
			return false, goerr.Wrap(err, "too many auth challenges", goerr.V("max", x.cfg.MaxChallenges))
		}

		logging.From(ctx).Info("auth challenge required", slog.String("post_id", string(post.ID)), slog.Int("count", challenges+1))
		code, rErr := x.resolver.ResolveChallenge(ctx, err)
		if rErr != nil {
			return false, goerr.Wrap(rErr, "failed to obtain challenge answer")
		}
		if rErr := x.publisher.Resolve(ctx, code); rErr != nil {
			return false, goerr.Wrap(rErr, "failed to resolve auth challenge")
		}
	}
}

// embed stores the caption embedding so later runs find this post. A failure
// leaves the post without an embedding until the next reindex.
func (x *Workflow) embed(ctx context.Context, post *model.Post) {
	if x.embedder == nil {
		return
	}
	vec, err := x.embedder.Embed(ctx, post.Caption)
	if err != nil {
		logging.From(ctx).Warn("failed to embed published caption", slog.String("post_id", string(post.ID)), slog.Any("error", err))
		return
	}
	post.Embedding = vec
}

func (x *Workflow) save(ctx context.Context, post *model.Post) error {
	if err := x.repo.SavePost(ctx, post); err != nil {
		return goerr.Wrap(err, "failed to save post", goerr.V("post_id", post.ID))
	}
	return nil
}
