// Package workflow runs the post generation pipeline: research, planning,
// per idea generation, review and publishing.
package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/provider"
	"github.com/m-mizutani/postsmith/pkg/repository"
	"github.com/m-mizutani/postsmith/pkg/retry"
	"github.com/m-mizutani/postsmith/pkg/similarity"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
)

const (
	stageResearch   = "research"
	stagePlan       = "plan"
	stageSimilarity = "similarity"
	stageImage      = "image"
	stageCaption    = "caption"
	stagePublish    = "publish"
	stageReview     = "review"
	stagePersist    = "persist"

	DefaultMaxChallenges = 3
)

type Config struct {
	// Concurrency is the number of ideas generated at once. 1 or less is sequential
	Concurrency      int
	MaxCaptionLength int
	MaxChallenges    int
}

func DefaultConfig() Config {
	return Config{
		Concurrency:      1,
		MaxCaptionLength: provider.DefaultMaxCaptionLength,
		MaxChallenges:    DefaultMaxChallenges,
	}
}

// Publisher posts one item to the account
type Publisher interface {
	// Publish returns false or an error when the item was not posted.
	// model.ErrAuthChallenge asks for an operator step before retrying.
	Publish(ctx context.Context, image model.ImageRef, caption string) (bool, error)
	// Resolve answers an auth challenge with a code or token
	Resolve(ctx context.Context, code string) error
}

// ChallengeResolver obtains the answer of an auth challenge, usually from the operator
type ChallengeResolver interface {
	ResolveChallenge(ctx context.Context, challenge error) (string, error)
}

type Workflow struct {
	providers *provider.Set
	repo      repository.Repository
	cfg       Config

	exec      *retry.Executor
	gate      *similarity.Gate
	embedder  similarity.Embedder
	publisher Publisher
	resolver  ChallengeResolver
	hooks     []StageHook
	rec       Recorder
}

type Option func(*Workflow)

func WithConfig(cfg Config) Option {
	return func(x *Workflow) {
		x.cfg = cfg
	}
}

func WithExecutor(exec *retry.Executor) Option {
	return func(x *Workflow) {
		x.exec = exec
	}
}

// WithGate enables skipping ideas too similar to published posts
func WithGate(gate *similarity.Gate) Option {
	return func(x *Workflow) {
		x.gate = gate
	}
}

// WithEmbedder stores caption embeddings on posts after they are published
func WithEmbedder(embedder similarity.Embedder) Option {
	return func(x *Workflow) {
		x.embedder = embedder
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(x *Workflow) {
		x.publisher = publisher
	}
}

func WithChallengeResolver(resolver ChallengeResolver) Option {
	return func(x *Workflow) {
		x.resolver = resolver
	}
}

func WithStageHook(hook StageHook) Option {
	return func(x *Workflow) {
		x.hooks = append(x.hooks, hook)
	}
}

func WithRecorder(rec Recorder) Option {
	return func(x *Workflow) {
		x.rec = rec
	}
}

// New creates a workflow. providers may be nil for a workflow that only finalizes staged batches
func New(providers *provider.Set, repo repository.Repository, opts ...Option) (*Workflow, error) {
	if providers != nil {
		if err := providers.Validate(); err != nil {
			return nil, err
		}
	}
	if repo == nil {
		return nil, goerr.New("repository is required")
	}

	x := &Workflow{
		providers: providers,
		repo:      repo,
		cfg:       DefaultConfig(),
		rec:       nopRecorder{},
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.exec == nil {
		x.exec = retry.New(retry.DefaultConfig())
	}
	if x.cfg.Concurrency < 1 {
		x.cfg.Concurrency = 1
	}
	if x.cfg.MaxCaptionLength <= 0 {
		x.cfg.MaxCaptionLength = provider.DefaultMaxCaptionLength
	}
	if x.cfg.MaxChallenges <= 0 {
		x.cfg.MaxChallenges = DefaultMaxChallenges
	}
	return x, nil
}

// Stage researches the niche, plans ideas and generates a post per idea. The
// returned batch is pending review. Research and planning failures abort the
// run with a *StageError; failures of a single idea are kept in the batch.
func (x *Workflow) Stage(ctx context.Context, niche string) (*model.Batch, error) {
	niche = strings.TrimSpace(niche)
	if niche == "" {
		return nil, goerr.Wrap(model.ErrValidation, "niche is empty")
	}
	if x.providers == nil {
		return nil, goerr.New("providers are not configured")
	}

	logger := logging.From(ctx).With(slog.String("niche", niche))
	ctx = logging.With(ctx, logger)

	profile, err := x.repo.GetStoreProfile(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load store profile")
	}

	m := newMachine(StateInit, x.hooks, x.rec)
	if err := m.to(ctx, StateResearching); err != nil {
		return nil, err
	}

	trends, err := retry.Execute(ctx, x.exec, stageResearch, func(ctx context.Context, niche string) (*model.Trends, error) {
		return x.providers.Research.Research(ctx, niche, profile)
	}, niche)
	if err != nil {
		return nil, x.abort(ctx, m, stageResearch, err)
	}
	logger.Info("research completed",
		slog.Any("niche_trends", trends.NicheTrends),
		slog.Any("content_strategies", trends.ContentStrategies))

	if err := m.to(ctx, StatePlanning); err != nil {
		return nil, err
	}
	ideas, err := retry.Execute(ctx, x.exec, stagePlan, x.providers.Plan.Plan, trends)
	if err != nil {
		return nil, x.abort(ctx, m, stagePlan, err)
	}
	logger.Info("content planned", slog.Int("ideas", len(ideas)))

	if err := m.to(ctx, StateGeneratingPosts); err != nil {
		return nil, err
	}
	batch := &model.Batch{
		ID:        model.NewBatchID(),
		Niche:     niche,
		Trends:    trends,
		Ideas:     ideas,
		Posts:     []*model.Post{},
		CreatedAt: time.Now(),
	}
	if err := x.generate(ctx, batch, profile); err != nil {
		return nil, err
	}

	if err := m.to(ctx, StateAssembled); err != nil {
		return nil, err
	}
	logger.Info("batch assembled",
		slog.String("batch_id", string(batch.ID)),
		slog.Int("posts", len(batch.Posts)),
		slog.Int("failed", len(batch.Failed)),
		slog.Int("skipped", len(batch.Skipped)))
	return batch, nil
}

func (x *Workflow) abort(ctx context.Context, m *machine, stage string, err error) error {
	logging.From(ctx).Error("workflow aborted", slog.String("stage", stage), slog.Any("error", err))
	if tErr := m.to(ctx, StateAborted); tErr != nil {
		return tErr
	}
	return &StageError{Stage: stage, Err: err}
}

// Finalize reviews the batch when a reviewer is given and publishes approved posts
func (x *Workflow) Finalize(ctx context.Context, batch *model.Batch, reviewer Reviewer) (*model.Result, error) {
	if batch == nil {
		return nil, goerr.Wrap(model.ErrValidation, "batch is nil")
	}
	if x.publisher == nil {
		return nil, goerr.New("publisher is not configured")
	}

	m := newMachine(StateAssembled, x.hooks, x.rec)

	var edits []model.Edit
	if reviewer != nil {
		if err := m.to(ctx, StateReviewing); err != nil {
			return nil, err
		}
		reviewed, err := reviewer.Review(ctx, batch)
		if err != nil {
			return nil, goerr.Wrap(err, "review failed", goerr.V("batch_id", batch.ID))
		}
		edits = reviewed
	}
	edits, rejected := rejectInvalidCaptions(batch, edits, x.cfg.MaxCaptionLength)
	if err := ApplyEdits(batch, edits, x.cfg.MaxCaptionLength); err != nil {
		return nil, err
	}
	for _, f := range rejected {
		logging.From(ctx).Warn("review edit rejected", slog.String("post_id", string(f.PostID)), slog.String("error", f.Error))
		x.rec.PostFailed(stageReview)
		if post := batch.FindPost(f.PostID); post != nil {
			if err := x.save(ctx, post); err != nil {
				logging.From(ctx).Error("failed to save post", slog.String("post_id", string(post.ID)), slog.Any("error", err))
			}
		}
	}

	if err := m.to(ctx, StatePublishing); err != nil {
		return nil, err
	}
	result, err := x.publish(ctx, batch)
	if result != nil {
		result.FailedPosts = append(rejected, result.FailedPosts...)
	}
	if err != nil {
		return result, err
	}

	if err := m.to(ctx, StateDone); err != nil {
		return nil, err
	}
	return result, nil
}

// Run stages a batch and finalizes it right away
func (x *Workflow) Run(ctx context.Context, niche string, reviewer Reviewer) (*model.Batch, *model.Result, error) {
	batch, err := x.Stage(ctx, niche)
	if err != nil {
		return nil, nil, err
	}

	result, err := x.Finalize(ctx, batch, reviewer)
	if err != nil {
		return batch, result, err
	}
	return batch, result, nil
}
