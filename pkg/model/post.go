package model

import (
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
)

type PostID string

// NewPostID generates a new unique PostID
func NewPostID() PostID {
	return PostID(uuid.New().String())
}

func (x PostID) String() string { return string(x) }

type PostStatus string

const (
	PostStatusPending   PostStatus = "pending"
	PostStatusApproved  PostStatus = "approved"
	PostStatusPublished PostStatus = "published"
	PostStatusFailed    PostStatus = "failed"
)

// ImageRef is an http(s) URL or a local file path.
type ImageRef string

func (x ImageRef) String() string { return string(x) }

// Valid reports whether the reference is an absolute http(s) URL with a host, or a non-empty path.
func (x ImageRef) Valid() bool {
	if x == "" {
		return false
	}
	u, err := url.Parse(string(x))
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https":
		return u.Host != ""
	case "":
		return u.Path != ""
	default:
		return false
	}
}

// IsURL reports whether the reference points to a remote location.
func (x ImageRef) IsURL() bool {
	u, err := url.Parse(string(x))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

type Post struct {
	ID        PostID             `yaml:"id"`
	Niche     string             `yaml:"niche"`
	Idea      Idea               `yaml:"idea"`
	Image     ImageRef           `yaml:"image"`
	Caption   string             `yaml:"caption"`
	Status    PostStatus         `yaml:"status"`
	Embedding firestore.Vector32 `yaml:"-"`

	CreatedAt   time.Time  `yaml:"created_at"`
	PublishedAt *time.Time `yaml:"published_at,omitempty"`
}

// NewPost creates a pending post for a generated idea.
func NewPost(niche string, idea Idea, image ImageRef, caption string) *Post {
	return &Post{
		ID:        NewPostID(),
		Niche:     niche,
		Idea:      idea,
		Image:     image,
		Caption:   caption,
		Status:    PostStatusPending,
		CreatedAt: time.Now(),
	}
}

// FailedPost keeps whatever was produced for an item that did not make it.
type FailedPost struct {
	PostID  PostID   `yaml:"post_id,omitempty"`
	Idea    Idea     `yaml:"idea"`
	Image   ImageRef `yaml:"image,omitempty"`
	Caption string   `yaml:"caption,omitempty"`
	Stage   string   `yaml:"stage"`
	Error   string   `yaml:"error"`
}

// SkippedIdea is an idea dropped because it is too close to published content.
type SkippedIdea struct {
	Idea     Idea      `yaml:"idea"`
	Distance float64   `yaml:"distance"`
	Neighbor *Neighbor `yaml:"neighbor,omitempty"`
}

// Neighbor is a hit of a nearest neighbor search over published captions.
type Neighbor struct {
	PostID   PostID  `yaml:"post_id"`
	Caption  string  `yaml:"caption"`
	Distance float64 `yaml:"distance"`
}

type BatchID string

func NewBatchID() BatchID {
	return BatchID(uuid.New().String())
}

// Batch is the assembled output of one workflow run, pending review and publishing.
// An empty Posts slice is a valid batch.
type Batch struct {
	ID      BatchID        `yaml:"id"`
	Niche   string         `yaml:"niche"`
	Trends  *Trends        `yaml:"trends"`
	Ideas   []Idea         `yaml:"ideas"`
	Posts   []*Post        `yaml:"posts"`
	Failed  []*FailedPost  `yaml:"failed,omitempty"`
	Skipped []*SkippedIdea `yaml:"skipped,omitempty"`

	CreatedAt time.Time `yaml:"created_at"`
}

// FindPost returns the post with the given ID, or nil.
func (x *Batch) FindPost(id PostID) *Post {
	for _, p := range x.Posts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Result is the publishing outcome. Succeeded and failed items are always kept apart.
// Unsaved lists published posts that could not be recorded in the repository;
// each of them is also in Posts.
type Result struct {
	Posts       []*Post       `yaml:"posts"`
	FailedPosts []*FailedPost `yaml:"failed_posts"`
	Unsaved     []*FailedPost `yaml:"unsaved,omitempty"`
}

// Edit is one review decision for a post in a batch.
type Edit struct {
	PostID  PostID  `yaml:"post_id"`
	Caption *string `yaml:"caption,omitempty"`
	Remove  bool    `yaml:"remove,omitempty"`
	Reason  string  `yaml:"reason,omitempty"`
}
