package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/usecase/index"
	"github.com/urfave/cli/v3"
)

func postsCommand() *cli.Command {
	var (
		cfg       config
		published bool
		offset    int64
		limit     int64
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "published",
			Usage:       "Only list published posts",
			Destination: &published,
		},
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Value:       0,
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of posts to list",
			Value:       50,
			Destination: &limit,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "posts",
		Usage: "List stored posts, newest first",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, closeRepo, err := cfg.newRepository()
			if err != nil {
				return err
			}
			defer closeRepo()

			var posts []*model.Post
			if published {
				posts, err = repo.ListPublishedPosts(ctx)
			} else {
				posts, err = repo.ListPosts(ctx, int(offset), int(limit))
			}
			if err != nil {
				return goerr.Wrap(err, "failed to list posts")
			}

			for _, p := range posts {
				at := p.CreatedAt.Format("2006-01-02 15:04")
				if p.PublishedAt != nil {
					at = p.PublishedAt.Format("2006-01-02 15:04")
				}
				indexed := ""
				if len(p.Embedding) > 0 {
					indexed = "indexed"
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Status, at, p.Idea, indexed)
			}
			return nil
		},
	}
}

func similarCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, similarityFlags(&cfg)...)

	return &cli.Command{
		Name:      "similar",
		Usage:     "Show published captions closest to a text and whether the gate would skip it",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" {
				return goerr.New("text is required")
			}

			repo, closeRepo, err := cfg.newRepository()
			if err != nil {
				return err
			}
			defer closeRepo()

			gemini, err := cfg.optionalGemini(ctx)
			if err != nil {
				return err
			}
			embedder, err := cfg.newEmbedder(gemini)
			if err != nil {
				return err
			}
			idx, err := cfg.newIndex(ctx, repo, embedder.Dimension())
			if err != nil {
				return err
			}

			neighbors, err := index.Similar(ctx, embedder, idx, text, int(cfg.topK))
			if err != nil {
				return err
			}
			if len(neighbors) == 0 {
				fmt.Fprintf(c.Root().Writer, "No published posts indexed\n")
				return nil
			}

			threshold := cfg.similarityConfig().Threshold
			for i, n := range neighbors {
				mark := ""
				if threshold > 0 && n.Distance < threshold {
					mark = " (duplicate)"
				}
				fmt.Fprintf(c.Root().Writer, "%d. %s distance=%.4f%s\n", i+1, n.PostID, n.Distance, mark)
				fmt.Fprintf(c.Root().Writer, "   %s\n", n.Caption)
			}
			return nil
		},
	}
}

func reindexCommand() *cli.Command {
	var (
		cfg config
		all bool
	)

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:        "all",
			Aliases:     []string{"a"},
			Usage:       "Embed every published post again, not only missing or stale ones",
			Destination: &all,
		},
	}
	flags = append(flags, repositoryFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)
	flags = append(flags, similarityFlags(&cfg)...)

	return &cli.Command{
		Name:  "reindex",
		Usage: "Embed captions of published posts for the similarity gate",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, closeRepo, err := cfg.newRepository()
			if err != nil {
				return err
			}
			defer closeRepo()

			gemini, err := cfg.optionalGemini(ctx)
			if err != nil {
				return err
			}
			embedder, err := cfg.newEmbedder(gemini)
			if err != nil {
				return err
			}

			result, err := index.New(repo, embedder).Reindex(ctx, index.ReindexOptions{All: all})
			if err != nil {
				return goerr.Wrap(err, "failed to reindex posts")
			}

			fmt.Fprintf(c.Root().Writer, "Reindexed: %d embedded, %d skipped, %d failed\n",
				result.Embedded, result.Skipped, result.Failed)
			return nil
		},
	}
}
