package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/metrics"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/policy"
	"github.com/m-mizutani/postsmith/pkg/provider"
	"github.com/m-mizutani/postsmith/pkg/retry"
	"github.com/m-mizutani/postsmith/pkg/service/mcp"
	"github.com/m-mizutani/postsmith/pkg/similarity"
	"github.com/m-mizutani/postsmith/pkg/tool"
	"github.com/m-mizutani/postsmith/pkg/tool/trends"
	"github.com/m-mizutani/postsmith/pkg/usecase/workflow"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// reviewConfig selects the reviewer of run and finalize
type reviewConfig struct {
	interactive bool
	policyPath  string
}

func reviewFlags(rc *reviewConfig) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "interactive",
			Aliases:     []string{"i"},
			Usage:       "Review every post in the terminal before publishing",
			Sources:     cli.EnvVars("POSTSMITH_INTERACTIVE"),
			Destination: &rc.interactive,
		},
		&cli.StringFlag{
			Name:        "review-policy",
			Usage:       "Rego policy file or directory deciding data.review for each post",
			Sources:     cli.EnvVars("POSTSMITH_REVIEW_POLICY"),
			Destination: &rc.policyPath,
		},
	}
}

// newReviewer returns nil when posts are approved as generated
func (rc *reviewConfig) newReviewer(ctx context.Context, in lineReader, out io.Writer, maxCaptionLength int) (workflow.Reviewer, error) {
	switch {
	case rc.interactive && rc.policyPath != "":
		return nil, goerr.New("--interactive and --review-policy are exclusive")
	case rc.policyPath != "":
		reviewer, err := policy.New(ctx, rc.policyPath, policy.WithMaxCaptionLength(maxCaptionLength))
		if err != nil {
			return nil, err
		}
		return reviewer, nil
	case rc.interactive:
		return &interactiveReviewer{in: in, out: out, maxCaptionLength: maxCaptionLength}, nil
	default:
		return nil, nil
	}
}

// runtime is everything a workflow command owns until it returns
type runtime struct {
	workflow *workflow.Workflow
	metrics  *metrics.Metrics
	prompt   *prompter
	closers  []func()
}

func (x *runtime) close() {
	for i := len(x.closers) - 1; i >= 0; i-- {
		x.closers[i]()
	}
}

type runtimeOptions struct {
	generate bool
	publish  bool
}

// newRuntime wires repository, generators, gate and publisher into a workflow
func (cfg *config) newRuntime(ctx context.Context, c *cli.Command, tools *tool.Registry, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{prompt: newPrompter(c.Root().Writer)}
	rt.closers = append(rt.closers, rt.prompt.Close)

	repo, closeRepo, err := cfg.newRepository()
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeRepo)

	fail := func(err error) (*runtime, error) {
		rt.close()
		return nil, err
	}

	gemini, err := cfg.optionalGemini(ctx)
	if err != nil {
		return fail(err)
	}
	embedder, err := cfg.newEmbedder(gemini)
	if err != nil {
		return fail(err)
	}

	rt.metrics = cfg.newMetrics()
	var execOpts []retry.Option
	if rt.metrics != nil {
		execOpts = append(execOpts, retry.WithObserver(rt.metrics.ObserveAttempt))
	}

	progress := newProgress(c.Root().ErrWriter)
	wfOpts := []workflow.Option{
		workflow.WithConfig(cfg.workflowConfig()),
		workflow.WithExecutor(retry.New(cfg.retryConfig(), execOpts...)),
		workflow.WithEmbedder(embedder),
		workflow.WithStageHook(progress.hook),
	}
	if rt.metrics != nil {
		wfOpts = append(wfOpts, workflow.WithRecorder(rt.metrics))
	}

	var providers *provider.Set
	if opts.generate {
		storage, err := cfg.newStorage(ctx)
		if err != nil {
			return fail(err)
		}
		providers, err = cfg.newProviders(ctx, gemini, storage, tools)
		if err != nil {
			return fail(err)
		}

		idx, err := cfg.newIndex(ctx, repo, embedder.Dimension())
		if err != nil {
			return fail(err)
		}
		wfOpts = append(wfOpts, workflow.WithGate(similarity.NewGate(embedder, idx, cfg.similarityConfig())))
	}

	if opts.publish {
		publisher, err := cfg.newPublisher()
		if err != nil {
			return fail(err)
		}
		wfOpts = append(wfOpts,
			workflow.WithPublisher(publisher),
			workflow.WithChallengeResolver(&challengeResolver{
				in:    rt.prompt,
				out:   c.Root().Writer,
				pause: progress.pause,
			}),
		)
	}
	rt.closers = append(rt.closers, progress.pause)

	wf, err := workflow.New(providers, repo, wfOpts...)
	if err != nil {
		return fail(err)
	}
	rt.workflow = wf
	return rt, nil
}

// researchTools are the candidate tools of the research agent
func researchTools() (*tool.Registry, *mcp.Provider) {
	mcpTools := mcp.NewProvider()
	return tool.New(trends.New(), mcpTools), mcpTools
}

func nicheArg(c *cli.Command) (string, error) {
	niche := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if niche == "" {
		return "", goerr.New("niche is required")
	}
	return niche, nil
}

func runCommand() *cli.Command {
	var (
		cfg config
		rc  reviewConfig
	)
	tools, mcpTools := researchTools()

	var flags []cli.Flag
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, similarityFlags(&cfg)...)
	flags = append(flags, pipelineFlags(&cfg)...)
	flags = append(flags, publishFlags(&cfg)...)
	flags = append(flags, reviewFlags(&rc)...)
	flags = append(flags, tools.Flags()...)

	return &cli.Command{
		Name:      "run",
		Usage:     "Research a niche, generate posts, review and publish them",
		ArgsUsage: "<niche>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			niche, err := nicheArg(c)
			if err != nil {
				return err
			}
			defer safeClose(mcpTools.Close)

			rt, err := cfg.newRuntime(ctx, c, tools, runtimeOptions{generate: true, publish: true})
			if err != nil {
				return err
			}
			defer rt.close()
			defer cfg.writeMetrics(ctx, rt.metrics)

			reviewer, err := rc.newReviewer(ctx, rt.prompt, c.Root().Writer, int(cfg.maxCaptionLength))
			if err != nil {
				return err
			}

			batch, err := rt.workflow.Stage(ctx, niche)
			if err != nil {
				return goerr.Wrap(err, "failed to stage posts", goerr.V("niche", niche))
			}
			printBatch(c.Root().Writer, batch)

			result, err := rt.workflow.Finalize(ctx, batch, reviewer)
			if result != nil {
				printResult(c.Root().Writer, result)
			}
			if err != nil {
				// generated posts stay available to finalize
				path := "batch-" + string(batch.ID) + ".yaml"
				if wErr := writeBatch(path, batch); wErr == nil {
					fmt.Fprintf(c.Root().Writer, "Batch written: %s\n", path)
				}
				return goerr.Wrap(err, "failed to publish posts", goerr.V("batch_id", batch.ID))
			}
			return nil
		},
	}
}

func stageCommand() *cli.Command {
	var (
		cfg    config
		output string
	)
	tools, mcpTools := researchTools()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Batch file to write for review",
			Value:       "batch.yaml",
			Sources:     cli.EnvVars("POSTSMITH_BATCH_FILE"),
			Destination: &output,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, similarityFlags(&cfg)...)
	flags = append(flags, pipelineFlags(&cfg)...)
	flags = append(flags, tools.Flags()...)

	return &cli.Command{
		Name:      "stage",
		Usage:     "Generate posts for a niche and write them to a batch file for review",
		ArgsUsage: "<niche>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			niche, err := nicheArg(c)
			if err != nil {
				return err
			}
			defer safeClose(mcpTools.Close)

			rt, err := cfg.newRuntime(ctx, c, tools, runtimeOptions{generate: true})
			if err != nil {
				return err
			}
			defer rt.close()
			defer cfg.writeMetrics(ctx, rt.metrics)

			batch, err := rt.workflow.Stage(ctx, niche)
			if err != nil {
				return goerr.Wrap(err, "failed to stage posts", goerr.V("niche", niche))
			}
			if err := writeBatch(output, batch); err != nil {
				return err
			}

			printBatch(c.Root().Writer, batch)
			fmt.Fprintf(c.Root().Writer, "Batch written: %s\n", output)
			return nil
		},
	}
}

func finalizeCommand() *cli.Command {
	var (
		cfg   config
		rc    reviewConfig
		input string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"f"},
			Usage:       "Batch file written by stage",
			Value:       "batch.yaml",
			Sources:     cli.EnvVars("POSTSMITH_BATCH_FILE"),
			Destination: &input,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, similarityFlags(&cfg)...)
	flags = append(flags, pipelineFlags(&cfg)...)
	flags = append(flags, publishFlags(&cfg)...)
	flags = append(flags, reviewFlags(&rc)...)

	return &cli.Command{
		Name:  "finalize",
		Usage: "Review a staged batch file and publish approved posts",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			batch, err := readBatch(input)
			if err != nil {
				return err
			}

			rt, err := cfg.newRuntime(ctx, c, nil, runtimeOptions{publish: true})
			if err != nil {
				return err
			}
			defer rt.close()
			defer cfg.writeMetrics(ctx, rt.metrics)

			reviewer, err := rc.newReviewer(ctx, rt.prompt, c.Root().Writer, int(cfg.maxCaptionLength))
			if err != nil {
				return err
			}

			result, err := rt.workflow.Finalize(ctx, batch, reviewer)
			if result != nil {
				printResult(c.Root().Writer, result)
			}
			if err != nil {
				return goerr.Wrap(err, "failed to publish posts", goerr.V("batch_id", batch.ID))
			}

			// the batch file now holds post statuses after publishing
			if err := writeBatch(input, batch); err != nil {
				return err
			}
			return nil
		},
	}
}

func writeBatch(path string, batch *model.Batch) error {
	data, err := yaml.Marshal(batch)
	if err != nil {
		return goerr.Wrap(err, "failed to encode batch", goerr.V("batch_id", batch.ID))
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write batch file", goerr.V("path", path))
	}
	return nil
}

func readBatch(path string) (*model.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read batch file", goerr.V("path", path))
	}

	var batch model.Batch
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, goerr.Wrap(model.ErrValidation, "failed to decode batch file",
			goerr.V("path", path), goerr.V("error", err.Error()))
	}
	if batch.ID == "" {
		return nil, goerr.Wrap(model.ErrValidation, "batch file has no id", goerr.V("path", path))
	}
	return &batch, nil
}

func printBatch(w io.Writer, batch *model.Batch) {
	fmt.Fprintf(w, "Batch %s (%s): %d post(s), %d failed, %d skipped\n",
		batch.ID, batch.Niche, len(batch.Posts), len(batch.Failed), len(batch.Skipped))
	for i, p := range batch.Posts {
		fmt.Fprintf(w, "%d. %s\n", i+1, p.Idea)
		fmt.Fprintf(w, "   ID: %s\n", p.ID)
		fmt.Fprintf(w, "   Image: %s\n", p.Image)
		fmt.Fprintf(w, "   Caption: %s\n", strings.ReplaceAll(p.Caption, "\n", "\n            "))
	}
	for _, f := range batch.Failed {
		fmt.Fprintf(w, "   failed (%s): %s: %s\n", f.Stage, f.Idea, f.Error)
	}
	for _, s := range batch.Skipped {
		fmt.Fprintf(w, "   skipped (distance %.3f): %s\n", s.Distance, s.Idea)
	}
}

func printResult(w io.Writer, result *model.Result) {
	fmt.Fprintf(w, "Published %d post(s), %d failed\n", len(result.Posts), len(result.FailedPosts))
	for _, p := range result.Posts {
		fmt.Fprintf(w, "   published: %s %s\n", p.ID, p.Idea)
	}
	for _, f := range result.FailedPosts {
		fmt.Fprintf(w, "   failed: %s %s: %s\n", f.PostID, f.Idea, f.Error)
	}
	for _, f := range result.Unsaved {
		fmt.Fprintf(w, "   warning: %s published but not saved: %s\n", f.PostID, f.Error)
	}
}
