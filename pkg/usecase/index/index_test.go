package index_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/repository"
	"github.com/m-mizutani/postsmith/pkg/similarity"
	"github.com/m-mizutani/postsmith/pkg/usecase/index"
)

type flakyEmbedder struct {
	*similarity.HashEmbedder
	fail string
}

func (x *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == x.fail {
		return nil, errors.New("quota exceeded")
	}
	return x.HashEmbedder.Embed(ctx, text)
}

func savePublished(t *testing.T, repo repository.Repository, caption string, embedding []float32) *model.Post {
	t.Helper()
	post := model.NewPost("coffee", model.Idea(caption), "https://example.com/a.png", caption)
	post.Status = model.PostStatusPublished
	post.Embedding = embedding
	gt.NoError(t, repo.SavePost(context.Background(), post))
	return post
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	embedder := similarity.NewHashEmbedder(32)

	existing, err := embedder.Embed(ctx, "already indexed")
	gt.NoError(t, err)
	savePublished(t, repo, "already indexed", existing)
	missing := savePublished(t, repo, "latte art at dawn", nil)
	stale := savePublished(t, repo, "cold brew season", []float32{1, 0})
	savePublished(t, repo, "broken", nil)

	pending := model.NewPost("coffee", "draft", "https://example.com/b.png", "draft")
	gt.NoError(t, repo.SavePost(ctx, pending))

	uc := index.New(repo, &flakyEmbedder{HashEmbedder: embedder, fail: "broken"})
	result, err := uc.Reindex(ctx, index.ReindexOptions{})
	gt.NoError(t, err)
	gt.Equal(t, result.Embedded, 2)
	gt.Equal(t, result.Skipped, 1)
	gt.Equal(t, result.Failed, 1)

	for _, id := range []model.PostID{missing.ID, stale.ID} {
		p, err := repo.GetPost(ctx, id)
		gt.NoError(t, err)
		gt.A(t, p.Embedding).Length(32)
	}
	p, err := repo.GetPost(ctx, pending.ID)
	gt.NoError(t, err)
	gt.A(t, p.Embedding).Length(0)

	result, err = uc.Reindex(ctx, index.ReindexOptions{All: true})
	gt.NoError(t, err)
	gt.Equal(t, result.Embedded, 3)
	gt.Equal(t, result.Skipped, 0)
}

func TestSimilar(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()
	embedder := similarity.NewHashEmbedder(0)

	for _, caption := range []string{"latte art at dawn", "cold brew season", "espresso tonic"} {
		vec, err := embedder.Embed(ctx, caption)
		gt.NoError(t, err)
		savePublished(t, repo, caption, vec)
	}

	idx, err := similarity.LoadFlat(ctx, repo, embedder.Dimension())
	gt.NoError(t, err)

	hits, err := index.Similar(ctx, embedder, idx, "latte art at dawn", 2)
	gt.NoError(t, err)
	gt.A(t, hits).Length(2)
	gt.Equal(t, hits[0].Caption, "latte art at dawn")
	gt.True(t, hits[0].Distance < 1e-6)
}
