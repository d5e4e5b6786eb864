package similarity

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
)

type Config struct {
	TopK      int
	Threshold float64
}

func DefaultConfig() Config {
	return Config{
		TopK:      3,
		Threshold: 0.5,
	}
}

// Gate flags texts that are too close to already published captions.
type Gate struct {
	embedder Embedder
	index    Index
	cfg      Config
}

func NewGate(embedder Embedder, index Index, cfg Config) *Gate {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	return &Gate{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
	}
}

func (g *Gate) Config() Config { return g.cfg }

// IsDuplicate reports whether the nearest indexed caption is strictly closer
// than the threshold. The nearest neighbor is returned when the index is not empty.
func (g *Gate) IsDuplicate(ctx context.Context, text string) (bool, *model.Neighbor, error) {
	vec, err := g.embedder.Embed(ctx, text)
	if err != nil {
		return false, nil, goerr.Wrap(err, "failed to embed text for similarity check")
	}

	hits, err := g.index.Nearest(ctx, vec, g.cfg.TopK)
	if err != nil {
		return false, nil, goerr.Wrap(err, "failed to search similarity index")
	}
	if len(hits) == 0 {
		return false, nil, nil
	}

	nearest := hits[0]
	for _, h := range hits[1:] {
		if h.Distance < nearest.Distance {
			nearest = h
		}
	}

	return nearest.Distance < g.cfg.Threshold, nearest, nil
}
