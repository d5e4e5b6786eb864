package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/repository"
)

func setupFirestore(t *testing.T) *repository.Firestore {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT_ID")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE_ID")

	if projectID == "" || databaseID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT_ID and TEST_FIRESTORE_DATABASE_ID must be set to run Firestore tests")
	}

	repo, err := repository.New(projectID, databaseID)
	gt.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return repo
}

func TestFirestoreSaveAndGetPost(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()

	post := model.NewPost("fitness", "Virtual Fitness Classes using 30-Second Exercise Tutorials",
		"https://placehold.co/600x400", "Quick moves, big results ⚡ #fitness #homeworkout #30seconds")
	post.Status = model.PostStatusPublished
	gt.NoError(t, repo.SavePost(ctx, post))

	got, err := repo.GetPost(ctx, post.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Caption, post.Caption)

	posts, err := repo.ListPosts(ctx, 0, 10)
	gt.NoError(t, err)
	gt.A(t, posts).Longer(0)
}

func TestFirestoreNearest(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()

	vec := make([]float32, 768)
	vec[0] = 1
	now := time.Now()
	post := &model.Post{
		ID:          model.NewPostID(),
		Niche:       "fitness",
		Idea:        "vector search",
		Image:       "https://placehold.co/600x400",
		Caption:     "vector search caption",
		Status:      model.PostStatusPublished,
		Embedding:   vec,
		CreatedAt:   now,
		PublishedAt: &now,
	}
	gt.NoError(t, repo.SavePost(ctx, post))

	hits, err := repo.Nearest(ctx, vec, 3)
	gt.NoError(t, err)
	gt.A(t, hits).Longer(0)
	gt.Number(t, hits[0].Distance).LessOrEqual(hits[len(hits)-1].Distance)
}

func TestFirestoreStoreProfile(t *testing.T) {
	repo := setupFirestore(t)
	ctx := context.Background()

	gt.NoError(t, repo.SaveStoreProfile(ctx, &model.StoreProfile{Name: "Test Store", UpdatedAt: time.Now()}))
	profile, err := repo.GetStoreProfile(ctx)
	gt.NoError(t, err)
	gt.Equal(t, profile.Name, "Test Store")
}
