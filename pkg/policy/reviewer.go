// Package policy reviews staged posts with a Rego policy. The policy is
// evaluated once per post under data.review and may define:
//
//	remove  bool    drop the post
//	reason  string  why the post was changed
//	caption string  replacement caption
package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/provider"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const reviewQuery = "data.review"

type printHook struct {
	logger *slog.Logger
}

func (h *printHook) Print(_ print.Context, message string) error {
	h.logger.Info("rego", slog.String("message", message))
	return nil
}

// Reviewer decides edits from a review policy
type Reviewer struct {
	query            *rego.PreparedEvalQuery
	maxCaptionLength int
}

type Option func(*Reviewer)

// WithMaxCaptionLength bounds replacement captions. Longer ones are ignored
func WithMaxCaptionLength(n int) Option {
	return func(x *Reviewer) {
		x.maxCaptionLength = n
	}
}

// New loads the policy at path, a .rego file or a directory of them
func New(ctx context.Context, path string, opts ...Option) (*Reviewer, error) {
	modules, err := loadModules(path)
	if err != nil {
		return nil, err
	}

	query, err := prepareQuery(ctx, modules, reviewQuery)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare review policy", goerr.V("path", path))
	}
	x := &Reviewer{query: query, maxCaptionLength: provider.DefaultMaxCaptionLength}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

type postInput struct {
	ID       string   `json:"id"`
	Idea     string   `json:"idea"`
	Image    string   `json:"image"`
	Caption  string   `json:"caption"`
	Length   int      `json:"length"`
	Hashtags []string `json:"hashtags"`
}

type reviewInput struct {
	BatchID string    `json:"batch_id"`
	Niche   string    `json:"niche"`
	Post    postInput `json:"post"`
}

type decision struct {
	Remove  bool    `json:"remove"`
	Reason  string  `json:"reason"`
	Caption *string `json:"caption"`
}

func hashtags(caption string) []string {
	tags := []string{}
	for _, field := range strings.Fields(caption) {
		if len(field) > 1 && strings.HasPrefix(field, "#") {
			tags = append(tags, strings.ToLower(strings.TrimRight(field, ".,!?")))
		}
	}
	return tags
}

func (x *Reviewer) Review(ctx context.Context, batch *model.Batch) ([]model.Edit, error) {
	logger := logging.From(ctx)
	hook := &printHook{logger: logger}

	var edits []model.Edit
	for _, post := range batch.Posts {
		input := reviewInput{
			BatchID: string(batch.ID),
			Niche:   batch.Niche,
			Post: postInput{
				ID:       string(post.ID),
				Idea:     post.Idea.String(),
				Image:    post.Image.String(),
				Caption:  post.Caption,
				Length:   utf8.RuneCountInString(post.Caption),
				Hashtags: hashtags(post.Caption),
			},
		}

		d, err := x.eval(ctx, input, hook)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to evaluate review policy", goerr.V("post_id", post.ID))
		}
		if !d.Remove && d.Caption != nil {
			if err := provider.ValidateCaption(*d.Caption, x.maxCaptionLength); err != nil {
				logger.Warn("review policy caption ignored",
					slog.String("post_id", string(post.ID)),
					slog.String("reason", d.Reason),
					slog.Any("error", err))
				d.Caption = nil
			}
		}
		if !d.Remove && (d.Caption == nil || *d.Caption == post.Caption) {
			continue
		}

		logger.Info("review policy edited post",
			slog.String("post_id", string(post.ID)),
			slog.Bool("remove", d.Remove),
			slog.String("reason", d.Reason))
		edits = append(edits, model.Edit{
			PostID:  post.ID,
			Caption: d.Caption,
			Remove:  d.Remove,
			Reason:  d.Reason,
		})
	}
	return edits, nil
}

func (x *Reviewer) eval(ctx context.Context, input reviewInput, hook print.Hook) (*decision, error) {
	// rego takes plain JSON values as input
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal policy input")
	}
	var in map[string]any
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal policy input")
	}

	rs, err := x.query.Eval(ctx, rego.EvalInput(in), rego.EvalPrintHook(hook))
	if err != nil {
		return nil, err
	}

	var d decision
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &d, nil
	}

	out, err := json.Marshal(rs[0].Expressions[0].Value)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal policy result")
	}
	if err := json.Unmarshal(out, &d); err != nil {
		return nil, goerr.Wrap(err, "invalid review policy result", goerr.V("result", string(out)))
	}
	return &d, nil
}
