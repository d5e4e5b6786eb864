package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionPosts    = "posts"
	collectionProfiles = "profiles"
	storeProfileDocID  = "store"

	distanceField = "VectorDistance"
)

// Firestore implements Repository and similarity.Index on Cloud Firestore
type Firestore struct {
	client *firestore.Client
}

// New creates a new Firestore repository
func New(projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(context.Background(), projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return &Firestore{client: client}, nil
}

// Close closes the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) SavePost(ctx context.Context, post *model.Post) error {
	if post.ID == "" {
		return goerr.Wrap(model.ErrValidation, "post ID is empty")
	}
	if _, err := r.client.Collection(collectionPosts).Doc(post.ID.String()).Set(ctx, post); err != nil {
		return goerr.Wrap(err, "failed to save post", goerr.V("post_id", post.ID))
	}
	return nil
}

func (r *Firestore) GetPost(ctx context.Context, id model.PostID) (*model.Post, error) {
	doc, err := r.client.Collection(collectionPosts).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "post not found", goerr.V("post_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get post", goerr.V("post_id", id))
	}

	var post model.Post
	if err := doc.DataTo(&post); err != nil {
		return nil, goerr.Wrap(err, "failed to decode post", goerr.V("post_id", id))
	}
	return &post, nil
}

func (r *Firestore) ListPosts(ctx context.Context, offset, limit int) ([]*model.Post, error) {
	iter := r.client.Collection(collectionPosts).
		OrderBy("CreatedAt", firestore.Desc).
		Offset(offset).
		Limit(limit).
		Documents(ctx)

	return collectPosts(iter)
}

func (r *Firestore) ListPublishedPosts(ctx context.Context) ([]*model.Post, error) {
	iter := r.client.Collection(collectionPosts).
		Where("Status", "==", string(model.PostStatusPublished)).
		Documents(ctx)

	return collectPosts(iter)
}

// Nearest runs a Euclidean vector search over published post embeddings
func (r *Firestore) Nearest(ctx context.Context, vector []float32, k int) ([]*model.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	iter := r.client.Collection(collectionPosts).
		FindNearest("Embedding", firestore.Vector32(vector), k, firestore.DistanceMeasureEuclidean,
			&firestore.FindNearestOptions{DistanceResultField: distanceField}).
		Documents(ctx)
	defer iter.Stop()

	var hits []*model.Neighbor
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to run vector search")
		}

		var post model.Post
		if err := doc.DataTo(&post); err != nil {
			return nil, goerr.Wrap(err, "failed to decode post", goerr.V("doc_id", doc.Ref.ID))
		}
		if post.Status != model.PostStatusPublished {
			continue
		}

		distance, ok := doc.Data()[distanceField].(float64)
		if !ok {
			return nil, goerr.New("vector search result has no distance", goerr.V("doc_id", doc.Ref.ID))
		}
		hits = append(hits, &model.Neighbor{
			PostID:   post.ID,
			Caption:  post.Caption,
			Distance: distance,
		})
	}

	return hits, nil
}

func (r *Firestore) GetStoreProfile(ctx context.Context) (*model.StoreProfile, error) {
	doc, err := r.client.Collection(collectionProfiles).Doc(storeProfileDocID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get store profile")
	}

	var profile model.StoreProfile
	if err := doc.DataTo(&profile); err != nil {
		return nil, goerr.Wrap(err, "failed to decode store profile")
	}
	return &profile, nil
}

func (r *Firestore) SaveStoreProfile(ctx context.Context, profile *model.StoreProfile) error {
	if _, err := r.client.Collection(collectionProfiles).Doc(storeProfileDocID).Set(ctx, profile); err != nil {
		return goerr.Wrap(err, "failed to save store profile")
	}
	return nil
}

func collectPosts(iter *firestore.DocumentIterator) ([]*model.Post, error) {
	defer iter.Stop()

	var posts []*model.Post
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate posts")
		}

		var post model.Post
		if err := doc.DataTo(&post); err != nil {
			return nil, goerr.Wrap(err, "failed to decode post", goerr.V("doc_id", doc.Ref.ID))
		}
		posts = append(posts, &post)
	}
	return posts, nil
}
