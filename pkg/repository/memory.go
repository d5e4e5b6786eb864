package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
)

// Memory keeps everything in process memory. Used for dry runs and tests.
type Memory struct {
	mu      sync.RWMutex
	posts   map[model.PostID]*model.Post
	profile *model.StoreProfile
}

func NewMemory() *Memory {
	return &Memory{
		posts: make(map[model.PostID]*model.Post),
	}
}

func (r *Memory) SavePost(_ context.Context, post *model.Post) error {
	if post.ID == "" {
		return goerr.Wrap(model.ErrValidation, "post ID is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *post
	r.posts[post.ID] = &copied
	return nil
}

func (r *Memory) GetPost(_ context.Context, id model.PostID) (*model.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	post, ok := r.posts[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "post not found", goerr.V("post_id", id))
	}
	copied := *post
	return &copied, nil
}

func (r *Memory) sorted(filter func(*model.Post) bool) []*model.Post {
	var posts []*model.Post
	for _, p := range r.posts {
		if filter(p) {
			copied := *p
			posts = append(posts, &copied)
		}
	}
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts
}

func (r *Memory) ListPosts(_ context.Context, offset, limit int) ([]*model.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	posts := r.sorted(func(*model.Post) bool { return true })
	if offset >= len(posts) {
		return nil, nil
	}
	posts = posts[offset:]
	if limit >= 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (r *Memory) ListPublishedPosts(_ context.Context) ([]*model.Post, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sorted(func(p *model.Post) bool { return p.Status == model.PostStatusPublished }), nil
}

func (r *Memory) GetStoreProfile(_ context.Context) (*model.StoreProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.profile == nil {
		return nil, nil
	}
	copied := *r.profile
	return &copied, nil
}

func (r *Memory) SaveStoreProfile(_ context.Context, profile *model.StoreProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *profile
	r.profile = &copied
	return nil
}
