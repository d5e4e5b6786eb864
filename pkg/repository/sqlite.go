package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLite implements Repository on a local SQLite database file
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the database at path. ":memory:" is accepted.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("path", path))
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to create schema", goerr.V("path", path))
	}

	return &SQLite{db: db}, nil
}

func (r *SQLite) Close() error {
	return r.db.Close()
}

const postColumns = "id, niche, idea, image, caption, status, embedding, created_at, published_at"

func (r *SQLite) SavePost(ctx context.Context, post *model.Post) error {
	if post.ID == "" {
		return goerr.Wrap(model.ErrValidation, "post ID is empty")
	}

	var embedding sql.NullString
	if len(post.Embedding) > 0 {
		raw, err := json.Marshal(post.Embedding)
		if err != nil {
			return goerr.Wrap(err, "failed to encode embedding", goerr.V("post_id", post.ID))
		}
		embedding = sql.NullString{String: string(raw), Valid: true}
	}

	var publishedAt sql.NullInt64
	if post.PublishedAt != nil {
		publishedAt = sql.NullInt64{Int64: post.PublishedAt.UnixNano(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID.String(), post.Niche, string(post.Idea), post.Image.String(), post.Caption,
		string(post.Status), embedding, post.CreatedAt.UnixNano(), publishedAt)
	if err != nil {
		return goerr.Wrap(err, "failed to save post", goerr.V("post_id", post.ID))
	}
	return nil
}

func (r *SQLite) GetPost(ctx context.Context, id model.PostID) (*model.Post, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id.String())
	post, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerr.Wrap(model.ErrNotFound, "post not found", goerr.V("post_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get post", goerr.V("post_id", id))
	}
	return post, nil
}

func (r *SQLite) ListPosts(ctx context.Context, offset, limit int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list posts")
	}
	return scanPosts(rows)
}

func (r *SQLite) ListPublishedPosts(ctx context.Context) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts
		WHERE status = ? ORDER BY created_at`, string(model.PostStatusPublished))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list published posts")
	}
	return scanPosts(rows)
}

func (r *SQLite) GetStoreProfile(ctx context.Context) (*model.StoreProfile, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM store_profile WHERE id = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get store profile")
	}

	var profile model.StoreProfile
	if err := json.Unmarshal([]byte(data), &profile); err != nil {
		return nil, goerr.Wrap(err, "failed to decode store profile")
	}
	return &profile, nil
}

func (r *SQLite) SaveStoreProfile(ctx context.Context, profile *model.StoreProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return goerr.Wrap(err, "failed to encode store profile")
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO store_profile (id, data, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		string(data), profile.UpdatedAt.UnixNano())
	if err != nil {
		return goerr.Wrap(err, "failed to save store profile")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*model.Post, error) {
	var (
		post        model.Post
		id          string
		idea        string
		image       string
		status      string
		embedding   sql.NullString
		createdAt   int64
		publishedAt sql.NullInt64
	)

	if err := row.Scan(&id, &post.Niche, &idea, &image, &post.Caption, &status, &embedding, &createdAt, &publishedAt); err != nil {
		return nil, err
	}

	post.ID = model.PostID(id)
	post.Idea = model.Idea(idea)
	post.Image = model.ImageRef(image)
	post.Status = model.PostStatus(status)
	post.CreatedAt = time.Unix(0, createdAt)
	if publishedAt.Valid {
		t := time.Unix(0, publishedAt.Int64)
		post.PublishedAt = &t
	}
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &post.Embedding); err != nil {
			return nil, goerr.Wrap(err, "failed to decode embedding", goerr.V("post_id", id))
		}
	}

	return &post, nil
}

func scanPosts(rows *sql.Rows) ([]*model.Post, error) {
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan post")
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate posts")
	}
	return posts, nil
}
