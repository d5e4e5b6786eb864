package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/provider"
	"github.com/m-mizutani/postsmith/pkg/retry"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// ideaOutcome holds exactly one of the three results of an idea
type ideaOutcome struct {
	post    *model.Post
	failed  *model.FailedPost
	skipped *model.SkippedIdea
}

// generate fills the batch with one outcome per idea, in idea order. Gate
// checks always run in idea order; generation runs on up to Concurrency
// goroutines once the idea passed the gate.
func (x *Workflow) generate(ctx context.Context, batch *model.Batch, profile *model.StoreProfile) error {
	outcomes := make([]*ideaOutcome, len(batch.Ideas))

	var eg errgroup.Group
	eg.SetLimit(x.cfg.Concurrency)

	for i, idea := range batch.Ideas {
		if err := ctx.Err(); err != nil {
			break
		}

		if out := x.checkSimilarity(ctx, idea); out != nil {
			outcomes[i] = out
			continue
		}

		eg.Go(func() error {
			outcomes[i] = x.generatePost(ctx, batch.Niche, idea, profile)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "post generation interrupted", goerr.V("batch_id", batch.ID))
	}

	for _, out := range outcomes {
		switch {
		case out.post != nil:
			batch.Posts = append(batch.Posts, out.post)
		case out.failed != nil:
			batch.Failed = append(batch.Failed, out.failed)
		case out.skipped != nil:
			batch.Skipped = append(batch.Skipped, out.skipped)
		}
	}
	return nil
}

// checkSimilarity returns nil when the idea may be generated
func (x *Workflow) checkSimilarity(ctx context.Context, idea model.Idea) *ideaOutcome {
	if x.gate == nil {
		return nil
	}

	logger := logging.From(ctx)
	dup, nearest, err := x.gate.IsDuplicate(ctx, idea.String())
	if err != nil {
		logger.Warn("similarity check failed", slog.String("idea", idea.String()), slog.Any("error", err))
		x.rec.PostFailed(stageSimilarity)
		return &ideaOutcome{failed: &model.FailedPost{
			Idea:  idea,
			Stage: stageSimilarity,
			Error: err.Error(),
		}}
	}
	if !dup {
		return nil
	}

	logger.Info("idea skipped as similar to published post",
		slog.String("idea", idea.String()),
		slog.String("neighbor", string(nearest.PostID)),
		slog.Float64("distance", nearest.Distance))
	x.rec.IdeaSkipped()
	return &ideaOutcome{skipped: &model.SkippedIdea{
		Idea:     idea,
		Distance: nearest.Distance,
		Neighbor: nearest,
	}}
}

// generatePost attempts both image and caption even if one of them fails
func (x *Workflow) generatePost(ctx context.Context, niche string, idea model.Idea, profile *model.StoreProfile) *ideaOutcome {
	image, imageErr := retry.Execute(ctx, x.exec, stageImage, func(ctx context.Context, idea model.Idea) (model.ImageRef, error) {
		ref, err := x.providers.Image.Generate(ctx, idea, profile)
		if err != nil {
			return "", err
		}
		if !ref.Valid() {
			return "", goerr.Wrap(model.ErrProvider, "invalid image reference", goerr.V("image", ref))
		}
		return ref, nil
	}, idea)

	caption, captionErr := retry.Execute(ctx, x.exec, stageCaption, func(ctx context.Context, idea model.Idea) (string, error) {
		caption, err := x.providers.Caption.Write(ctx, idea, profile)
		if err != nil {
			return "", err
		}
		if err := provider.ValidateCaption(caption, x.cfg.MaxCaptionLength); err != nil {
			return "", err
		}
		return caption, nil
	}, idea)

	if imageErr == nil && captionErr == nil {
		x.rec.PostGenerated()
		return &ideaOutcome{post: model.NewPost(niche, idea, image, caption)}
	}

	var stages []string
	if imageErr != nil {
		stages = append(stages, stageImage)
	}
	if captionErr != nil {
		stages = append(stages, stageCaption)
	}
	stage := strings.Join(stages, ",")
	err := errors.Join(imageErr, captionErr)

	logging.From(ctx).Warn("post generation failed",
		slog.String("idea", idea.String()),
		slog.String("stage", stage),
		slog.Any("error", err))
	x.rec.PostFailed(stage)

	return &ideaOutcome{failed: &model.FailedPost{
		Idea:    idea,
		Image:   image,
		Caption: caption,
		Stage:   stage,
		Error:   err.Error(),
	}}
}
