package workflow

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/provider"
)

// Reviewer decides edits and removals for a staged batch
type Reviewer interface {
	Review(ctx context.Context, batch *model.Batch) ([]model.Edit, error)
}

// AutoApprove approves every post unchanged
type AutoApprove struct{}

func (AutoApprove) Review(context.Context, *model.Batch) ([]model.Edit, error) {
	return nil, nil
}

// rejectInvalidCaptions drops edits whose replacement caption fails validation.
// The affected posts are marked failed and returned so the rest of the batch
// can still be published. A set naming an unknown post is returned as is for
// ApplyEdits to reject.
func rejectInvalidCaptions(batch *model.Batch, edits []model.Edit, maxCaptionLength int) ([]model.Edit, []*model.FailedPost) {
	for _, edit := range edits {
		if batch.FindPost(edit.PostID) == nil {
			return edits, nil
		}
	}

	var (
		valid    []model.Edit
		rejected []*model.FailedPost
	)
	for _, edit := range edits {
		post := batch.FindPost(edit.PostID)
		if edit.Remove || edit.Caption == nil {
			valid = append(valid, edit)
			continue
		}
		if err := provider.ValidateCaption(*edit.Caption, maxCaptionLength); err != nil {
			post.Status = model.PostStatusFailed
			rejected = append(rejected, &model.FailedPost{
				PostID:  post.ID,
				Idea:    post.Idea,
				Image:   post.Image,
				Caption: post.Caption,
				Stage:   stageReview,
				Error:   err.Error(),
			})
			continue
		}
		valid = append(valid, edit)
	}
	return valid, rejected
}

// ApplyEdits applies review decisions to the batch: captions are replaced,
// removed posts are dropped and every remaining pending post is approved.
// Edits are checked before any change, so a rejected set leaves the batch untouched.
func ApplyEdits(batch *model.Batch, edits []model.Edit, maxCaptionLength int) error {
	for _, edit := range edits {
		if batch.FindPost(edit.PostID) == nil {
			return goerr.Wrap(model.ErrValidation, "edit refers to unknown post", goerr.V("post_id", edit.PostID))
		}
		if edit.Caption != nil && !edit.Remove {
			if err := provider.ValidateCaption(*edit.Caption, maxCaptionLength); err != nil {
				return goerr.Wrap(model.ErrValidation, "edited caption is invalid",
					goerr.V("post_id", edit.PostID),
					goerr.V("reason", err.Error()))
			}
		}
	}

	removed := make(map[model.PostID]bool)
	for _, edit := range edits {
		if edit.Remove {
			removed[edit.PostID] = true
			continue
		}
		if edit.Caption != nil {
			batch.FindPost(edit.PostID).Caption = *edit.Caption
		}
	}

	kept := make([]*model.Post, 0, len(batch.Posts))
	for _, post := range batch.Posts {
		if removed[post.ID] {
			continue
		}
		if post.Status == model.PostStatusPending {
			post.Status = model.PostStatusApproved
		}
		kept = append(kept, post)
	}
	batch.Posts = kept
	return nil
}
