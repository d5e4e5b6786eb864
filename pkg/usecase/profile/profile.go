// Package profile manages the store profile and its reference photos.
package profile

import (
	"context"
	_ "embed"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/adapter"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/repository"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/describe.md
var describePrompt string

// maxImageSize bounds uploaded reference photos
const maxImageSize = 20 << 20

type UseCase struct {
	repo    repository.Repository
	storage adapter.Storage
	gemini  adapter.Gemini
}

type Option func(*UseCase)

// WithGemini enables visual captioning of uploaded photos
func WithGemini(gemini adapter.Gemini) Option {
	return func(uc *UseCase) {
		uc.gemini = gemini
	}
}

// WithStorage sets where reference photos are stored. Required for photo operations
func WithStorage(storage adapter.Storage) Option {
	return func(uc *UseCase) {
		uc.storage = storage
	}
}

func New(repo repository.Repository, opts ...Option) *UseCase {
	uc := &UseCase{repo: repo}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Get returns the saved profile or an empty one
func (uc *UseCase) Get(ctx context.Context) (*model.StoreProfile, error) {
	profile, err := uc.repo.GetStoreProfile(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get store profile")
	}
	if profile == nil {
		profile = &model.StoreProfile{}
	}
	return profile, nil
}

// UpdateInput holds the fields to change. Nil fields are kept
type UpdateInput struct {
	Name              *string
	Address           *string
	BrandVoice        *string
	FunFacts          []string
	SignatureProducts []string
}

func (uc *UseCase) Update(ctx context.Context, input UpdateInput) (*model.StoreProfile, error) {
	profile, err := uc.Get(ctx)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		profile.Name = strings.TrimSpace(*input.Name)
	}
	if input.Address != nil {
		profile.Address = strings.TrimSpace(*input.Address)
	}
	if input.BrandVoice != nil {
		profile.BrandVoice = strings.TrimSpace(*input.BrandVoice)
	}
	if input.FunFacts != nil {
		profile.FunFacts = input.FunFacts
	}
	if input.SignatureProducts != nil {
		profile.SignatureProducts = input.SignatureProducts
	}

	if err := uc.save(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (uc *UseCase) save(ctx context.Context, profile *model.StoreProfile) error {
	profile.UpdatedAt = time.Now()
	if err := uc.repo.SaveStoreProfile(ctx, profile); err != nil {
		return goerr.Wrap(err, "failed to save store profile")
	}
	return nil
}

func (uc *UseCase) requireStorage() error {
	if uc.storage == nil {
		return goerr.New("storage is not configured for reference photos")
	}
	return nil
}

// AddImageInput is a reference photo to upload
type AddImageInput struct {
	Data        []byte
	ContentType string
	Description string
}

// AddReferenceImage stores the photo, captions it when a model is available
// and appends it to the profile. A captioning failure does not fail the upload.
func (uc *UseCase) AddReferenceImage(ctx context.Context, input AddImageInput) (*model.ReferenceImage, error) {
	if err := uc.requireStorage(); err != nil {
		return nil, err
	}
	if len(input.Data) == 0 {
		return nil, goerr.Wrap(model.ErrValidation, "image is empty")
	}
	if len(input.Data) > maxImageSize {
		return nil, goerr.Wrap(model.ErrValidation, "image is too large", goerr.V("size", len(input.Data)), goerr.V("max", maxImageSize))
	}

	contentType := input.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(input.Data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, goerr.Wrap(model.ErrValidation, "not an image", goerr.V("content_type", contentType))
	}

	profile, err := uc.Get(ctx)
	if err != nil {
		return nil, err
	}

	img := &model.ReferenceImage{
		ID:          model.NewReferenceImageID(),
		ContentType: contentType,
		Description: strings.TrimSpace(input.Description),
		CreatedAt:   time.Now(),
	}
	img.Path = "reference/" + string(img.ID) + adapter.ExtensionOf(contentType)

	if err := adapter.PutBytes(ctx, uc.storage, img.Path, contentType, input.Data); err != nil {
		return nil, goerr.Wrap(err, "failed to store reference image")
	}

	if uc.gemini != nil {
		caption, err := uc.describe(ctx, input.Data, contentType)
		if err != nil {
			logging.From(ctx).Warn("failed to caption reference image",
				slog.String("id", string(img.ID)),
				slog.Any("error", err))
		}
		img.VisualCaption = caption
	}

	profile.ReferenceImages = append(profile.ReferenceImages, img)
	if err := uc.save(ctx, profile); err != nil {
		return nil, err
	}
	return img, nil
}

func (uc *UseCase) describe(ctx context.Context, data []byte, contentType string) (string, error) {
	contents := []*genai.Content{
		{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				genai.NewPartFromBytes(data, contentType),
				genai.NewPartFromText(describePrompt),
			},
		},
	}

	resp, err := uc.gemini.GenerateContent(ctx, contents, nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to describe image")
	}
	return strings.TrimSpace(adapter.ResponseText(resp)), nil
}

func (uc *UseCase) ListReferenceImages(ctx context.Context) ([]*model.ReferenceImage, error) {
	profile, err := uc.Get(ctx)
	if err != nil {
		return nil, err
	}
	return profile.ReferenceImages, nil
}

func (uc *UseCase) GetReferenceImage(ctx context.Context, id model.ReferenceImageID) (*model.ReferenceImage, error) {
	profile, err := uc.Get(ctx)
	if err != nil {
		return nil, err
	}

	img := profile.FindImage(id)
	if img == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "reference image not found", goerr.V("id", id))
	}
	return img, nil
}

// OpenReferenceImage returns the stored photo data
func (uc *UseCase) OpenReferenceImage(ctx context.Context, id model.ReferenceImageID) (io.ReadCloser, error) {
	if err := uc.requireStorage(); err != nil {
		return nil, err
	}
	img, err := uc.GetReferenceImage(ctx, id)
	if err != nil {
		return nil, err
	}
	return uc.storage.Get(ctx, img.Path)
}

// DeleteReferenceImage removes the photo from storage and the profile
func (uc *UseCase) DeleteReferenceImage(ctx context.Context, id model.ReferenceImageID) error {
	if err := uc.requireStorage(); err != nil {
		return err
	}

	profile, err := uc.Get(ctx)
	if err != nil {
		return err
	}
	img := profile.FindImage(id)
	if img == nil {
		return goerr.Wrap(model.ErrNotFound, "reference image not found", goerr.V("id", id))
	}

	if err := uc.storage.Delete(ctx, img.Path); err != nil {
		return goerr.Wrap(err, "failed to delete reference image", goerr.V("id", id))
	}

	profile.ReferenceImages = slices.DeleteFunc(profile.ReferenceImages, func(x *model.ReferenceImage) bool {
		return x.ID == id
	})
	return uc.save(ctx, profile)
}
