package similarity

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
)

// Index answers k nearest neighbor queries by Euclidean distance, nearest first.
type Index interface {
	Nearest(ctx context.Context, vector []float32, k int) ([]*model.Neighbor, error)
}

// PostSource lists published posts carrying caption embeddings.
type PostSource interface {
	ListPublishedPosts(ctx context.Context) ([]*model.Post, error)
}

type Record struct {
	PostID  model.PostID
	Caption string
	Vector  []float32
}

// Flat is an exhaustive in-memory L2 index. Records can only be appended.
type Flat struct {
	mu      sync.RWMutex
	dim     int
	records []Record
}

func NewFlat() *Flat {
	return &Flat{}
}

// LoadFlat builds a snapshot of every published post that already has an
// embedding. Posts without one are left for the reindex job. When dim is
// positive, embeddings of another size are skipped so that queries from the
// current embedder still work; `reindex --all` brings them back.
func LoadFlat(ctx context.Context, src PostSource, dim int) (*Flat, error) {
	posts, err := src.ListPublishedPosts(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list published posts")
	}

	idx := NewFlat()
	idx.dim = max(dim, 0)
	var mismatched int
	for _, p := range posts {
		if len(p.Embedding) == 0 {
			continue
		}
		if dim > 0 && len(p.Embedding) != dim {
			mismatched++
			continue
		}
		if err := idx.Add(Record{PostID: p.ID, Caption: p.Caption, Vector: p.Embedding}); err != nil {
			return nil, goerr.Wrap(err, "failed to add post to index", goerr.V("post_id", p.ID))
		}
	}
	if mismatched > 0 {
		logging.From(ctx).Warn("published posts skipped by embedding dimension, run `reindex --all`",
			slog.Int("skipped", mismatched),
			slog.Int("dimension", dim),
		)
	}
	return idx, nil
}

func (x *Flat) Add(rec Record) error {
	if len(rec.Vector) == 0 {
		return goerr.New("empty vector")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dim == 0 {
		x.dim = len(rec.Vector)
	} else if len(rec.Vector) != x.dim {
		return goerr.New("vector dimension mismatch", goerr.V("expected", x.dim), goerr.V("actual", len(rec.Vector)))
	}

	x.records = append(x.records, rec)
	return nil
}

func (x *Flat) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

func (x *Flat) Nearest(_ context.Context, vector []float32, k int) ([]*model.Neighbor, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.records) == 0 || k <= 0 {
		return nil, nil
	}
	if len(vector) != x.dim {
		return nil, goerr.New("query dimension mismatch", goerr.V("expected", x.dim), goerr.V("actual", len(vector)))
	}

	hits := make([]*model.Neighbor, 0, len(x.records))
	for _, rec := range x.records {
		hits = append(hits, &model.Neighbor{
			PostID:   rec.PostID,
			Caption:  rec.Caption,
			Distance: L2(vector, rec.Vector),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Distance < hits[j].Distance
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// L2 returns the Euclidean distance of two vectors of the same length.
func L2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
