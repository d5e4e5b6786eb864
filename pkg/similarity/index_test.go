package similarity_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/similarity"
)

func TestFlatNearestOrder(t *testing.T) {
	idx := similarity.NewFlat()
	gt.NoError(t, idx.Add(similarity.Record{PostID: "far", Vector: []float32{3, 4}}))
	gt.NoError(t, idx.Add(similarity.Record{PostID: "near", Vector: []float32{0, 1}}))
	gt.NoError(t, idx.Add(similarity.Record{PostID: "mid", Vector: []float32{0, 2}}))
	gt.NoError(t, idx.Add(similarity.Record{PostID: "farthest", Vector: []float32{10, 0}}))

	hits, err := idx.Nearest(context.Background(), []float32{0, 0}, 3)
	gt.NoError(t, err)
	gt.A(t, hits).Length(3)
	gt.Equal(t, hits[0].PostID, model.PostID("near"))
	gt.Equal(t, hits[1].PostID, model.PostID("mid"))
	gt.Equal(t, hits[2].PostID, model.PostID("far"))
	gt.Equal(t, hits[2].Distance, 5.0)
}

func TestFlatDimensionMismatch(t *testing.T) {
	idx := similarity.NewFlat()
	gt.NoError(t, idx.Add(similarity.Record{PostID: "a", Vector: []float32{1, 2, 3}}))
	gt.Error(t, idx.Add(similarity.Record{PostID: "b", Vector: []float32{1, 2}}))
	gt.Error(t, idx.Add(similarity.Record{PostID: "c"}))

	_, err := idx.Nearest(context.Background(), []float32{1}, 1)
	gt.Error(t, err)
	gt.Equal(t, idx.Len(), 1)
}

type postSource []*model.Post

func (x postSource) ListPublishedPosts(ctx context.Context) ([]*model.Post, error) {
	return x, nil
}

func TestLoadFlatSkipsPostsWithoutEmbedding(t *testing.T) {
	src := postSource{
		{ID: "a", Caption: "one", Embedding: []float32{1, 0}},
		{ID: "b", Caption: "two"},
		{ID: "c", Caption: "three", Embedding: []float32{0, 1}},
	}

	idx, err := similarity.LoadFlat(context.Background(), src, 0)
	gt.NoError(t, err)
	gt.Equal(t, idx.Len(), 2)
}

func TestLoadFlatSkipsOtherDimensions(t *testing.T) {
	ctx := context.Background()
	src := postSource{
		{ID: "old", Caption: "old embedder", Embedding: []float32{1, 0, 0}},
		{ID: "new", Caption: "new embedder", Embedding: []float32{1, 0}},
	}

	idx, err := similarity.LoadFlat(ctx, src, 2)
	gt.NoError(t, err)
	gt.Equal(t, idx.Len(), 1)

	hits, err := idx.Nearest(ctx, []float32{1, 0}, 5)
	gt.NoError(t, err)
	gt.A(t, hits).Length(1)
	gt.Equal(t, hits[0].PostID, model.PostID("new"))

	_, err = similarity.LoadFlat(ctx, src, 0)
	gt.Error(t, err)
}

func TestHashEmbedderDeterministicAndNormalized(t *testing.T) {
	ctx := context.Background()
	embedder := similarity.NewHashEmbedder(128)

	a, err := embedder.Embed(ctx, "Before/After Transformations!")
	gt.NoError(t, err)
	b, err := embedder.Embed(ctx, "before after transformations")
	gt.NoError(t, err)
	gt.A(t, a).Length(128)
	gt.Equal(t, similarity.L2(a, b), 0.0)

	zero := make([]float32, 128)
	gt.Number(t, similarity.L2(a, zero)-1.0).Less(1e-6)
	gt.Number(t, similarity.L2(a, zero)-1.0).Greater(-1e-6)

	empty, err := embedder.Embed(ctx, "   ")
	gt.NoError(t, err)
	gt.Equal(t, similarity.L2(empty, zero), 0.0)
}
