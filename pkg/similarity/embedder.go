package similarity

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/adapter"
)

// Embedder turns text into a fixed dimension vector. The same embedder must be
// used for building an index and for querying it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// DefaultGeminiDimension is the output size requested from the embedding model.
const DefaultGeminiDimension = 768

// GeminiEmbedder embeds text with the Gemini embedding model.
type GeminiEmbedder struct {
	gemini adapter.Gemini
	dim    int
}

func NewGeminiEmbedder(gemini adapter.Gemini, dim int) *GeminiEmbedder {
	if dim <= 0 {
		dim = DefaultGeminiDimension
	}
	return &GeminiEmbedder{gemini: gemini, dim: dim}
}

func (x *GeminiEmbedder) Dimension() int { return x.dim }

func (x *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := x.gemini.Embedding(ctx, text, x.dim)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed text")
	}
	if len(vec) != x.dim {
		return nil, goerr.New("unexpected embedding dimension", goerr.V("expected", x.dim), goerr.V("actual", len(vec)))
	}
	return vec, nil
}

// HashEmbedder is a deterministic bag of words embedder based on feature
// hashing of unigrams and bigrams. Vectors are L2 normalized, so distances
// fall in [0, 2]. It needs no backend and serves mock and offline runs.
type HashEmbedder struct {
	dim int
}

const DefaultHashDimension = 256

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

func (x *HashEmbedder) Dimension() int { return x.dim }

func (x *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, x.dim)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, token := range tokens {
		x.add(vec, token, 1.0)
		if i > 0 {
			x.add(vec, tokens[i-1]+" "+token, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (x *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(x.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}
