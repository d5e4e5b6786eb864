// Package index maintains caption embeddings of published posts.
package index

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/repository"
	"github.com/m-mizutani/postsmith/pkg/similarity"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
)

type UseCase struct {
	repo     repository.Repository
	embedder similarity.Embedder
}

func New(repo repository.Repository, embedder similarity.Embedder) *UseCase {
	return &UseCase{repo: repo, embedder: embedder}
}

// ReindexOptions selects posts to embed
type ReindexOptions struct {
	// All re-embeds every published post, also those with an embedding of
	// the right dimension. Use it after switching the embedder.
	All bool
}

type ReindexResult struct {
	Embedded int
	Skipped  int
	Failed   int
}

// Reindex embeds published posts lacking an embedding, or whose embedding
// dimension differs from the embedder. A failing post is counted and skipped.
func (uc *UseCase) Reindex(ctx context.Context, opts ReindexOptions) (*ReindexResult, error) {
	logger := logging.From(ctx)

	posts, err := uc.repo.ListPublishedPosts(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list published posts")
	}

	result := &ReindexResult{}
	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return result, goerr.Wrap(err, "reindex interrupted")
		}
		if !opts.All && len(post.Embedding) == uc.embedder.Dimension() {
			result.Skipped++
			continue
		}

		vec, err := uc.embedder.Embed(ctx, post.Caption)
		if err != nil {
			logger.Warn("failed to embed post", slog.String("post_id", string(post.ID)), slog.Any("error", err))
			result.Failed++
			continue
		}
		post.Embedding = vec
		if err := uc.repo.SavePost(ctx, post); err != nil {
			return result, goerr.Wrap(err, "failed to save post", goerr.V("post_id", post.ID))
		}
		result.Embedded++
	}

	logger.Info("reindex completed",
		slog.Int("embedded", result.Embedded),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

// Similar returns the published posts nearest to text
func Similar(ctx context.Context, embedder similarity.Embedder, idx similarity.Index, text string, k int) ([]*model.Neighbor, error) {
	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed text")
	}
	hits, err := idx.Nearest(ctx, vec, k)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to search index")
	}
	return hits, nil
}
