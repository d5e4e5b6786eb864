package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/adapter"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
	"google.golang.org/genai"
)

var errNoFindings = goerr.New("no findings")

// trendsCount is the number of trends and strategies asked from the model
const trendsCount = 5

var trendsSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"niche_trends": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
		"content_strategies": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"niche_trends", "content_strategies"},
}

func jsonConfig() *genai.GenerateContentConfig {
	thinkingBudget := int32(0)
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   trendsSchema,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: &thinkingBudget,
		},
	}
}

// generateText runs a single turn and returns its text. API errors and an
// empty answer are provider errors so the caller may retry them.
func generateText(ctx context.Context, gemini adapter.Gemini, prompt string, config *genai.GenerateContentConfig) (string, error) {
	resp, err := gemini.GenerateContent(ctx, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, config)
	if err != nil {
		return "", providerError(ctx, err, "failed to generate content")
	}

	text := strings.TrimSpace(adapter.ResponseText(resp))
	if text == "" {
		return "", goerr.Wrap(model.ErrProvider, "empty response from model")
	}
	return text, nil
}

// providerError classifies a backend failure as ErrProvider unless the
// context is done, in which case the context error is returned as is.
func providerError(ctx context.Context, err error, msg string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return goerr.Wrap(model.ErrProvider, msg, goerr.V("error", err.Error()))
}

// parseResearch turns a malformed model answer into a provider error. It is
// the model output that is wrong, not the caller input, so it stays retryable.
func parseResearch(text string) (*model.Trends, error) {
	trends, err := ParseTrends(text)
	if err != nil {
		return nil, goerr.Wrap(model.ErrProvider, "unparseable research response",
			goerr.V("error", err.Error()),
			goerr.V("response", logging.Truncate(text, 200)))
	}
	return trends, nil
}

// GeminiResearcher asks Gemini for trends in a single structured request
type GeminiResearcher struct {
	gemini adapter.Gemini
}

func NewGeminiResearcher(gemini adapter.Gemini) *GeminiResearcher {
	return &GeminiResearcher{gemini: gemini}
}

func (x *GeminiResearcher) Research(ctx context.Context, niche string, profile *model.StoreProfile) (*model.Trends, error) {
	prompt, err := render("research.md", map[string]any{
		"Niche":   niche,
		"Profile": profile.Describe(),
		"Count":   trendsCount,
	})
	if err != nil {
		return nil, err
	}

	text, err := generateText(ctx, x.gemini, prompt, jsonConfig())
	if err != nil {
		return nil, err
	}
	return parseResearch(text)
}

// GeminiCaptionWriter writes captions with Gemini
type GeminiCaptionWriter struct {
	gemini    adapter.Gemini
	maxLength int
}

func NewGeminiCaptionWriter(gemini adapter.Gemini, maxLength int) *GeminiCaptionWriter {
	if maxLength <= 0 {
		maxLength = DefaultMaxCaptionLength
	}
	return &GeminiCaptionWriter{gemini: gemini, maxLength: maxLength}
}

func (x *GeminiCaptionWriter) Write(ctx context.Context, idea model.Idea, profile *model.StoreProfile) (string, error) {
	prompt, err := render("caption.md", map[string]any{
		"Idea":      idea,
		"Profile":   profile.Describe(),
		"MaxLength": x.maxLength,
	})
	if err != nil {
		return "", err
	}

	text, err := generateText(ctx, x.gemini, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.7)),
	})
	if err != nil {
		return "", err
	}

	caption := strings.Trim(text, "\"“” \n")
	if err := ValidateCaption(caption, x.maxLength); err != nil {
		return "", err
	}
	return caption, nil
}

// ImagenGenerator renders an image with Imagen and stores it. The returned
// reference is the storage location of the image.
type ImagenGenerator struct {
	gemini  adapter.Gemini
	storage adapter.Storage
	now     func() time.Time
}

func NewImagenGenerator(gemini adapter.Gemini, storage adapter.Storage) *ImagenGenerator {
	return &ImagenGenerator{gemini: gemini, storage: storage, now: time.Now}
}

func (x *ImagenGenerator) Generate(ctx context.Context, idea model.Idea, profile *model.StoreProfile) (model.ImageRef, error) {
	prompt, err := render("image.md", map[string]any{
		"Idea":    idea,
		"Profile": profile.Describe(),
	})
	if err != nil {
		return "", err
	}

	img, err := x.gemini.GenerateImage(ctx, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    "1:1",
	})
	if err != nil {
		return "", providerError(ctx, err, "failed to generate image")
	}

	key := fmt.Sprintf("generated/%s/%s%s", x.now().UTC().Format("2006-01-02"), model.NewPostID(), adapter.ExtensionOf(img.MIMEType))
	if err := adapter.PutBytes(ctx, x.storage, key, img.MIMEType, img.Data); err != nil {
		return "", goerr.Wrap(model.ErrProvider, "failed to store generated image",
			goerr.V("key", key),
			goerr.V("error", err.Error()))
	}

	ref := x.storage.Ref(key)
	logging.From(ctx).Debug("image generated",
		slog.String("idea", logging.Truncate(idea.String(), 60)),
		slog.String("ref", ref.String()),
		slog.Int("size", len(img.Data)))
	return ref, nil
}
