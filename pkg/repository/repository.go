package repository

import (
	"context"

	"github.com/m-mizutani/postsmith/pkg/model"
)

// Repository defines the interface for post and store profile persistence
type Repository interface {
	// SavePost creates or replaces a post
	SavePost(ctx context.Context, post *model.Post) error

	// GetPost retrieves a post by ID. Returns model.ErrNotFound if missing
	GetPost(ctx context.Context, id model.PostID) (*model.Post, error)

	// ListPosts retrieves posts ordered by creation time, newest first
	ListPosts(ctx context.Context, offset, limit int) ([]*model.Post, error)

	// ListPublishedPosts retrieves every published post
	ListPublishedPosts(ctx context.Context) ([]*model.Post, error)

	// GetStoreProfile returns the store profile, or nil when none is saved
	GetStoreProfile(ctx context.Context) (*model.StoreProfile, error)

	// SaveStoreProfile replaces the store profile
	SaveStoreProfile(ctx context.Context, profile *model.StoreProfile) error
}
