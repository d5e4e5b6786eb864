package profile_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/postsmith/pkg/adapter"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/repository"
	"github.com/m-mizutani/postsmith/pkg/usecase/profile"
	"google.golang.org/genai"
)

// smallest valid PNG header, enough for content sniffing
var pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type mockGemini struct {
	generateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.generateFunc(ctx, contents, config)
}

func (m *mockGemini) Embedding(context.Context, string, int) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func (m *mockGemini) GenerateImage(context.Context, string, *genai.GenerateImagesConfig) (*adapter.GeneratedImage, error) {
	return nil, errors.New("not implemented")
}

func newUseCase(t *testing.T, opts ...profile.Option) (*profile.UseCase, adapter.Storage) {
	t.Helper()
	storage, err := adapter.NewLocalStorage(t.TempDir())
	gt.NoError(t, err)
	opts = append(opts, profile.WithStorage(storage))
	return profile.New(repository.NewMemory(), opts...), storage
}

func ptr(s string) *string { return &s }

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	uc, _ := newUseCase(t)

	p, err := uc.Get(ctx)
	gt.NoError(t, err)
	gt.Equal(t, p.Name, "")

	_, err = uc.Update(ctx, profile.UpdateInput{
		Name:              ptr(" Blue Bottle "),
		BrandVoice:        ptr("calm and crafted"),
		SignatureProducts: []string{"New Orleans iced coffee"},
	})
	gt.NoError(t, err)

	p, err = uc.Update(ctx, profile.UpdateInput{Address: ptr("Kiyosumi, Tokyo")})
	gt.NoError(t, err)
	gt.Equal(t, p.Name, "Blue Bottle")
	gt.Equal(t, p.Address, "Kiyosumi, Tokyo")
	gt.Equal(t, p.SignatureProducts, []string{"New Orleans iced coffee"})
	gt.False(t, p.UpdatedAt.IsZero())
}

func TestReferenceImageLifecycle(t *testing.T) {
	ctx := context.Background()
	gemini := &mockGemini{
		generateFunc: func(_ context.Context, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gt.A(t, contents[0].Parts).Length(2)
			gt.V(t, contents[0].Parts[0].InlineData).NotNil()
			gt.Equal(t, contents[0].Parts[0].InlineData.MIMEType, "image/png")
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("A wooden counter with pour over drippers.", genai.RoleModel)}},
			}, nil
		},
	}
	uc, _ := newUseCase(t, profile.WithGemini(gemini))

	img, err := uc.AddReferenceImage(ctx, profile.AddImageInput{Data: pngData, Description: "counter"})
	gt.NoError(t, err)
	gt.Equal(t, img.ContentType, "image/png")
	gt.Equal(t, img.VisualCaption, "A wooden counter with pour over drippers.")
	gt.S(t, img.Path).Contains(".png")

	images, err := uc.ListReferenceImages(ctx)
	gt.NoError(t, err)
	gt.A(t, images).Length(1)

	p, err := uc.Get(ctx)
	gt.NoError(t, err)
	gt.S(t, p.Describe()).Contains("counter (A wooden counter")

	got, err := uc.GetReferenceImage(ctx, img.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Path, img.Path)

	r, err := uc.OpenReferenceImage(ctx, img.ID)
	gt.NoError(t, err)
	data, err := io.ReadAll(r)
	gt.NoError(t, r.Close())
	gt.NoError(t, err)
	gt.Equal(t, data, pngData)

	gt.NoError(t, uc.DeleteReferenceImage(ctx, img.ID))
	images, err = uc.ListReferenceImages(ctx)
	gt.NoError(t, err)
	gt.A(t, images).Length(0)

	_, err = uc.OpenReferenceImage(ctx, img.ID)
	gt.True(t, errors.Is(err, model.ErrNotFound))
	gt.True(t, errors.Is(uc.DeleteReferenceImage(ctx, img.ID), model.ErrNotFound))
}

func TestAddReferenceImageCaptionFailure(t *testing.T) {
	gemini := &mockGemini{
		generateFunc: func(context.Context, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("model unavailable")
		},
	}
	uc, _ := newUseCase(t, profile.WithGemini(gemini))

	img, err := uc.AddReferenceImage(context.Background(), profile.AddImageInput{Data: pngData})
	gt.NoError(t, err)
	gt.Equal(t, img.VisualCaption, "")
}

func TestAddReferenceImageValidation(t *testing.T) {
	ctx := context.Background()
	uc, _ := newUseCase(t)

	_, err := uc.AddReferenceImage(ctx, profile.AddImageInput{})
	gt.True(t, errors.Is(err, model.ErrValidation))

	_, err = uc.AddReferenceImage(ctx, profile.AddImageInput{Data: []byte("plain text, not a photo")})
	gt.True(t, errors.Is(err, model.ErrValidation))

	noStorage := profile.New(repository.NewMemory())
	_, err = noStorage.AddReferenceImage(ctx, profile.AddImageInput{Data: pngData})
	gt.Error(t, err)
}
