package cli

import (
	"context"
	"io"
	"os"

	"github.com/m-mizutani/postsmith/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := newApp(os.Stdout, os.Stderr)

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func newApp(w, ew io.Writer) *cli.Command {
	var (
		logLevel  string
		logFormat string
	)

	cmd := &cli.Command{
		Name:      "postsmith",
		Usage:     "Instagram post generation pipeline",
		Writer:    w,
		ErrWriter: ew,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Aliases:     []string{"l"},
				Usage:       "Log level: debug, info, warn or error",
				Value:       "info",
				Sources:     cli.EnvVars("POSTSMITH_LOG_LEVEL"),
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "Log format: console or json",
				Value:       "console",
				Sources:     cli.EnvVars("POSTSMITH_LOG_FORMAT"),
				Destination: &logFormat,
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			stageCommand(),
			finalizeCommand(),
			postsCommand(),
			similarCommand(),
			reindexCommand(),
			profileCommand(),
			imageCommand(),
		},
	}

	for _, sub := range cmd.Commands {
		withLogger(sub, ew, &logLevel, &logFormat)
	}
	return cmd
}

// withLogger installs the logger configured by the global flags before every action
func withLogger(cmd *cli.Command, w io.Writer, level, format *string) {
	for _, sub := range cmd.Commands {
		withLogger(sub, w, level, format)
	}
	if cmd.Action == nil {
		return
	}

	action := cmd.Action
	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		logger := logging.NewWithFormat(*format, *level, w)
		logging.SetDefault(logger)
		return action(logging.With(ctx, logger), c)
	}
}
