package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/adapter"
	"github.com/m-mizutani/postsmith/pkg/metrics"
	"github.com/m-mizutani/postsmith/pkg/provider"
	"github.com/m-mizutani/postsmith/pkg/repository"
	"github.com/m-mizutani/postsmith/pkg/retry"
	"github.com/m-mizutani/postsmith/pkg/similarity"
	"github.com/m-mizutani/postsmith/pkg/tool"
	"github.com/m-mizutani/postsmith/pkg/usecase/workflow"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Repository
	repository string
	project    string
	database   string
	sqlitePath string

	// Gemini
	geminiProject  string
	geminiLocation string
	geminiModel    string
	imageModel     string

	// Storage
	bucket        string
	publicBaseURL string
	localDir      string

	// Similarity
	embedder  string
	threshold float64
	topK      int64

	// Pipeline
	provider         string
	numAlternatives  int64
	maxCaptionLength int64
	concurrency      int64
	maxRetries       int64
	retryDelay       time.Duration

	// Publisher
	dryRun        bool
	igAccountID   string
	igAccessToken string
	maxChallenges int64

	metricsFile string
}

// repositoryFlags returns flags to select and locate the post repository
func repositoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "repository",
			Aliases:     []string{"r"},
			Usage:       "Repository backend: sqlite, firestore or memory",
			Value:       "sqlite",
			Sources:     cli.EnvVars("POSTSMITH_REPOSITORY"),
			Destination: &cfg.repository,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database file",
			Value:       "posts.db",
			Sources:     cli.EnvVars("POSTSMITH_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// geminiFlags returns flags for Gemini (Vertex AI) configuration
func geminiFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Generative model for research and captions",
			Sources:     cli.EnvVars("POSTSMITH_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "image-model",
			Usage:       "Imagen model for post images",
			Sources:     cli.EnvVars("POSTSMITH_IMAGE_MODEL"),
			Destination: &cfg.imageModel,
		},
	}
}

// storageFlags returns flags for image storage. A bucket takes precedence over a local directory
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for generated and reference images",
			Sources:     cli.EnvVars("POSTSMITH_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "public-base-url",
			Usage:       "Public URL prefix of bucket objects",
			Sources:     cli.EnvVars("POSTSMITH_PUBLIC_BASE_URL"),
			Destination: &cfg.publicBaseURL,
		},
		&cli.StringFlag{
			Name:        "image-dir",
			Usage:       "Local directory for images when no bucket is set",
			Sources:     cli.EnvVars("POSTSMITH_IMAGE_DIR"),
			Destination: &cfg.localDir,
		},
	}
}

// similarityFlags returns flags of the duplicate gate and its embedder
func similarityFlags(cfg *config) []cli.Flag {
	def := similarity.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Caption embedder: gemini or hash. Defaults to gemini when a Gemini project is set",
			Sources:     cli.EnvVars("POSTSMITH_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.FloatFlag{
			Name:        "similarity-threshold",
			Usage:       "Euclidean (not squared) distance below which an idea is a duplicate. The default 0.5 equals a squared-L2 cutoff of 0.25; use 0.707 for a squared-L2 cutoff of 0.5. 0 disables the gate",
			Value:       def.Threshold,
			Sources:     cli.EnvVars("POSTSMITH_SIMILARITY_THRESHOLD"),
			Destination: &cfg.threshold,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of neighbors to look up",
			Value:       int64(def.TopK),
			Sources:     cli.EnvVars("POSTSMITH_TOP_K"),
			Destination: &cfg.topK,
		},
	}
}

// pipelineFlags returns flags of the generation stages
func pipelineFlags(cfg *config) []cli.Flag {
	retryCfg := retry.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "Generator provider: mock, direct or agent",
			Value:       string(provider.KindDirect),
			Sources:     cli.EnvVars("POSTSMITH_PROVIDER"),
			Destination: &cfg.provider,
		},
		&cli.IntFlag{
			Name:        "num-alternatives",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of ideas",
			Value:       provider.DefaultNumAlternatives,
			Sources:     cli.EnvVars("POSTSMITH_NUM_ALTERNATIVES"),
			Destination: &cfg.numAlternatives,
		},
		&cli.IntFlag{
			Name:        "max-caption-length",
			Usage:       "Maximum caption length in characters",
			Value:       provider.DefaultMaxCaptionLength,
			Sources:     cli.EnvVars("POSTSMITH_MAX_CAPTION_LENGTH"),
			Destination: &cfg.maxCaptionLength,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Ideas generated in parallel",
			Value:       1,
			Sources:     cli.EnvVars("POSTSMITH_CONCURRENCY"),
			Destination: &cfg.concurrency,
		},
		&cli.IntFlag{
			Name:        "max-retries",
			Usage:       "Attempts per generator call, including the first",
			Value:       int64(retryCfg.MaxRetries),
			Sources:     cli.EnvVars("POSTSMITH_MAX_RETRIES"),
			Destination: &cfg.maxRetries,
		},
		&cli.DurationFlag{
			Name:        "retry-delay",
			Usage:       "Delay between attempts",
			Value:       retryCfg.RetryDelay,
			Sources:     cli.EnvVars("POSTSMITH_RETRY_DELAY"),
			Destination: &cfg.retryDelay,
		},
		&cli.StringFlag{
			Name:        "metrics-file",
			Usage:       "Write run metrics in Prometheus text format to this file",
			Sources:     cli.EnvVars("POSTSMITH_METRICS_FILE"),
			Destination: &cfg.metricsFile,
		},
	}
}

// publishFlags returns flags for the Instagram publisher
func publishFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Log posts instead of publishing them",
			Sources:     cli.EnvVars("POSTSMITH_DRY_RUN"),
			Destination: &cfg.dryRun,
		},
		&cli.StringFlag{
			Name:        "instagram-account-id",
			Usage:       "Instagram business account ID",
			Sources:     cli.EnvVars("INSTAGRAM_ACCOUNT_ID"),
			Destination: &cfg.igAccountID,
		},
		&cli.StringFlag{
			Name:        "instagram-access-token",
			Usage:       "Instagram Graph API access token",
			Sources:     cli.EnvVars("INSTAGRAM_ACCESS_TOKEN"),
			Destination: &cfg.igAccessToken,
		},
		&cli.IntFlag{
			Name:        "max-challenges",
			Usage:       "Auth challenges answered per post",
			Value:       workflow.DefaultMaxChallenges,
			Sources:     cli.EnvVars("POSTSMITH_MAX_CHALLENGES"),
			Destination: &cfg.maxChallenges,
		},
	}
}

// newRepository creates a repository and a function to release it
func (cfg *config) newRepository() (repository.Repository, func(), error) {
	switch cfg.repository {
	case "firestore":
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required")
		}
		repo, err := repository.New(cfg.project, cfg.database)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, func() { safeClose(repo.Close) }, nil

	case "sqlite", "":
		if cfg.sqlitePath == "" {
			return nil, nil, goerr.New("sqlite-path is required")
		}
		repo, err := repository.NewSQLite(cfg.sqlitePath)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, func() { safeClose(repo.Close) }, nil

	case "memory":
		return repository.NewMemory(), func() {}, nil

	default:
		return nil, nil, goerr.New("unknown repository", goerr.V("repository", cfg.repository))
	}
}

func safeClose(fn func() error) {
	if err := fn(); err != nil {
		logging.Default().Warn("failed to close", "error", err)
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	var opts []adapter.GeminiOption
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}
	if cfg.imageModel != "" {
		opts = append(opts, adapter.WithImageModel(cfg.imageModel))
	}

	gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

// optionalGemini returns nil without error when no Gemini project is configured
func (cfg *config) optionalGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, nil
	}
	return cfg.newGemini(ctx)
}

// newStorage creates image storage, or returns nil when neither a bucket nor a directory is set
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	switch {
	case cfg.bucket != "":
		var opts []adapter.StorageOption
		if cfg.publicBaseURL != "" {
			opts = append(opts, adapter.WithPublicBaseURL(cfg.publicBaseURL))
		}
		storage, err := adapter.NewStorage(ctx, cfg.bucket, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil

	case cfg.localDir != "":
		storage, err := adapter.NewLocalStorage(cfg.localDir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create local storage")
		}
		return storage, nil

	default:
		return nil, nil
	}
}

// newEmbedder creates the caption embedder. gemini may be nil for the hash embedder
func (cfg *config) newEmbedder(gemini adapter.Gemini) (similarity.Embedder, error) {
	kind := cfg.embedder
	if kind == "" {
		kind = "hash"
		if gemini != nil {
			kind = "gemini"
		}
	}

	switch kind {
	case "gemini":
		if gemini == nil {
			return nil, goerr.New("gemini-project is required for gemini embedder")
		}
		return similarity.NewGeminiEmbedder(gemini, similarity.DefaultGeminiDimension), nil
	case "hash":
		return similarity.NewHashEmbedder(similarity.DefaultHashDimension), nil
	default:
		return nil, goerr.New("unknown embedder", goerr.V("embedder", kind))
	}
}

// newIndex returns the vector index of published captions. Firestore answers
// nearest neighbor queries itself; other repositories are loaded into memory
// keeping only embeddings of size dim.
func (cfg *config) newIndex(ctx context.Context, repo repository.Repository, dim int) (similarity.Index, error) {
	if idx, ok := repo.(similarity.Index); ok {
		return idx, nil
	}

	idx, err := similarity.LoadFlat(ctx, repo, dim)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load similarity index")
	}
	logging.From(ctx).Debug("similarity index loaded", "size", idx.Len())
	return idx, nil
}

func (cfg *config) similarityConfig() similarity.Config {
	return similarity.Config{
		TopK:      int(cfg.topK),
		Threshold: cfg.threshold,
	}
}

func (cfg *config) retryConfig() retry.Config {
	return retry.Config{
		MaxRetries: int(cfg.maxRetries),
		RetryDelay: cfg.retryDelay,
	}
}

func (cfg *config) workflowConfig() workflow.Config {
	return workflow.Config{
		Concurrency:      int(cfg.concurrency),
		MaxCaptionLength: int(cfg.maxCaptionLength),
		MaxChallenges:    int(cfg.maxChallenges),
	}
}

// newProviders creates the generator set of the configured provider kind
func (cfg *config) newProviders(ctx context.Context, gemini adapter.Gemini, storage adapter.Storage, tools *tool.Registry) (*provider.Set, error) {
	kind, err := provider.ParseKind(cfg.provider)
	if err != nil {
		return nil, err
	}

	if kind == provider.KindAgent && tools != nil {
		if err := tools.Init(ctx); err != nil {
			return nil, goerr.Wrap(err, "failed to initialize research tools")
		}
	}

	set, err := provider.New(kind, provider.Config{
		NumAlternatives:  int(cfg.numAlternatives),
		MaxCaptionLength: int(cfg.maxCaptionLength),
	}, provider.Deps{
		Gemini:  gemini,
		Storage: storage,
		Tools:   tools,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create providers")
	}
	return set, nil
}

// newPublisher creates the Instagram publisher, or the dry run publisher with --dry-run
func (cfg *config) newPublisher() (workflow.Publisher, error) {
	if cfg.dryRun {
		return adapter.DryRunPublisher{}, nil
	}
	if cfg.igAccountID == "" {
		return nil, goerr.New("instagram-account-id is required unless --dry-run")
	}
	if cfg.igAccessToken == "" {
		return nil, goerr.New("instagram-access-token is required unless --dry-run")
	}
	return adapter.NewInstagram(cfg.igAccountID, cfg.igAccessToken), nil
}

// newMetrics returns nil when no metrics file is configured
func (cfg *config) newMetrics() *metrics.Metrics {
	if cfg.metricsFile == "" {
		return nil
	}
	return metrics.New()
}

func (cfg *config) writeMetrics(ctx context.Context, m *metrics.Metrics) {
	if m == nil {
		return
	}
	if err := m.WriteFile(cfg.metricsFile); err != nil {
		logging.From(ctx).Warn("failed to write metrics", "error", err)
	}
}
