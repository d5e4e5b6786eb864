package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
)

// Storage keeps generated images and reference photos
type Storage interface {
	// Put returns a writer to save an object
	Put(ctx context.Context, key, contentType string) (io.WriteCloser, error)
	// Get loads an object
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes an object. Missing objects are not an error
	Delete(ctx context.Context, key string) error
	// Ref returns the image reference used by publishers and providers
	Ref(key string) model.ImageRef
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	publicBase string
	client     *storage.Client
}

type StorageOption func(*storageClient)

// WithPublicBaseURL overrides the base URL of object references, e.g. a CDN in front of the bucket
func WithPublicBaseURL(base string) StorageOption {
	return func(s *storageClient) {
		s.publicBase = strings.TrimRight(base, "/")
	}
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string, opts ...StorageOption) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	s := &storageClient{
		bucketName: bucketName,
		publicBase: "https://storage.googleapis.com/" + bucketName,
		client:     client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *storageClient) Put(ctx context.Context, key, contentType string) (io.WriteCloser, error) {
	writer := s.client.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	return writer, nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(s.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, goerr.Wrap(model.ErrNotFound, "object not found", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}

	return reader, nil
}

func (s *storageClient) Delete(ctx context.Context, key string) error {
	if err := s.client.Bucket(s.bucketName).Object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return goerr.Wrap(err, "failed to delete object", goerr.V("key", key))
	}
	return nil
}

func (s *storageClient) Ref(key string) model.ImageRef {
	return model.ImageRef(s.publicBase + "/" + (&url.URL{Path: key}).EscapedPath())
}

// localStorage keeps objects as files under a directory. References are file paths.
type localStorage struct {
	dir string
}

// NewLocalStorage creates a Storage backed by the local file system
func NewLocalStorage(dir string) (Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("dir", dir))
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve storage directory", goerr.V("dir", dir))
	}
	return &localStorage{dir: abs}, nil
}

func (s *localStorage) path(key string) (string, error) {
	p := filepath.Join(s.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(p, s.dir+string(filepath.Separator)) {
		return "", goerr.New("invalid object key", goerr.V("key", key))
	}
	return p, nil
}

func (s *localStorage) Put(_ context.Context, key, _ string) (io.WriteCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create object directory", goerr.V("key", key))
	}
	f, err := os.Create(p)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create object file", goerr.V("key", key))
	}
	return f, nil
}

func (s *localStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, goerr.Wrap(model.ErrNotFound, "object not found", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to open object file", goerr.V("key", key))
	}
	return f, nil
}

func (s *localStorage) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return goerr.Wrap(err, "failed to delete object file", goerr.V("key", key))
	}
	return nil
}

func (s *localStorage) Ref(key string) model.ImageRef {
	return model.ImageRef(filepath.Join(s.dir, filepath.FromSlash(key)))
}

// PutBytes writes data to key in one call
func PutBytes(ctx context.Context, st Storage, key, contentType string, data []byte) error {
	w, err := st.Put(ctx, key, contentType)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write object", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close object writer", goerr.V("key", key), goerr.V("size", len(data)))
	}
	return nil
}

// ExtensionOf returns a file extension for an image MIME type
func ExtensionOf(mimeType string) string {
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/png":
		return ".png"
	default:
		return fmt.Sprintf(".%s", strings.TrimPrefix(filepath.Base(mimeType), "x-"))
	}
}
