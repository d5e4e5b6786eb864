package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/usecase/workflow"
)

type scriptedInput struct {
	lines   []string
	prompts []string
}

func (x *scriptedInput) Readline() (string, error) {
	if len(x.lines) == 0 {
		return "", io.EOF
	}
	line := x.lines[0]
	x.lines = x.lines[1:]
	return line, nil
}

func (x *scriptedInput) SetPrompt(prompt string) {
	x.prompts = append(x.prompts, prompt)
}

func reviewBatch() *model.Batch {
	return &model.Batch{
		ID:    model.NewBatchID(),
		Niche: "coffee",
		Posts: []*model.Post{
			model.NewPost("coffee", "Latte art using Time-lapse", "https://example.com/1.png", "caption 1"),
			model.NewPost("coffee", "Cold brew using Tutorials", "https://example.com/2.png", "caption 2"),
			model.NewPost("coffee", "Bean origins using Stories", "https://example.com/3.png", "caption 3"),
			model.NewPost("coffee", "Pastries using Close-ups", "https://example.com/4.png", "caption 4"),
		},
	}
}

func TestInteractiveReviewer(t *testing.T) {
	batch := reviewBatch()
	in := &scriptedInput{lines: []string{
		"a",
		"x", "e", `Cold brew season is here\n#coldbrew`,
		"r", "off brand",
		"A",
	}}
	var out bytes.Buffer

	edits, err := (&interactiveReviewer{in: in, out: &out}).Review(context.Background(), batch)
	gt.NoError(t, err)
	gt.A(t, edits).Length(2)

	gt.Equal(t, edits[0].PostID, batch.Posts[1].ID)
	gt.Equal(t, *edits[0].Caption, "Cold brew season is here\n#coldbrew")
	gt.Equal(t, edits[1].PostID, batch.Posts[2].ID)
	gt.True(t, edits[1].Remove)
	gt.Equal(t, edits[1].Reason, "off brand")
	gt.S(t, out.String()).Contains(reviewHelp)

	gt.NoError(t, workflow.ApplyEdits(batch, edits, 350))
	gt.A(t, batch.Posts).Length(3)
	for _, p := range batch.Posts {
		gt.Equal(t, p.Status, model.PostStatusApproved)
	}
}

func TestInteractiveReviewerInterrupted(t *testing.T) {
	in := &scriptedInput{lines: []string{"a"}}
	_, err := (&interactiveReviewer{in: in, out: io.Discard}).Review(context.Background(), reviewBatch())
	gt.Error(t, err)
}

func TestChallengeResolver(t *testing.T) {
	paused := false
	in := &scriptedInput{lines: []string{"  new-token  "}}
	resolver := &challengeResolver{in: in, out: io.Discard, pause: func() { paused = true }}

	token, err := resolver.ResolveChallenge(context.Background(), model.ErrAuthChallenge)
	gt.NoError(t, err)
	gt.Equal(t, token, "new-token")
	gt.True(t, paused)
	gt.A(t, in.prompts).Length(1)

	_, err = resolver.ResolveChallenge(context.Background(), model.ErrAuthChallenge)
	gt.Error(t, err)

	in.lines = []string{""}
	_, err = resolver.ResolveChallenge(context.Background(), model.ErrAuthChallenge)
	gt.Error(t, err)
}

func TestInteractiveReviewerRejectsLongCaption(t *testing.T) {
	batch := reviewBatch()
	in := &scriptedInput{lines: []string{
		"e", strings.Repeat("☕", 351), "Fresh beans every morning #coffee",
		"A",
	}}
	var out bytes.Buffer

	reviewer := &interactiveReviewer{in: in, out: &out, maxCaptionLength: 350}
	edits, err := reviewer.Review(context.Background(), batch)
	gt.NoError(t, err)
	gt.A(t, edits).Length(1)
	gt.Equal(t, *edits[0].Caption, "Fresh beans every morning #coffee")
	gt.S(t, out.String()).Contains("caption rejected: 351 characters, at most 350")

	gt.NoError(t, workflow.ApplyEdits(batch, edits, 350))
	gt.A(t, batch.Posts).Length(4)
	gt.Equal(t, batch.Posts[0].Caption, "Fresh beans every morning #coffee")
}
