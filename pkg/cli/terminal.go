package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/model"
	"github.com/m-mizutani/postsmith/pkg/provider"
	"github.com/m-mizutani/postsmith/pkg/usecase/workflow"
)

// progress shows a spinner while a workflow state does remote work
type progress struct {
	s *spinner.Spinner
}

func newProgress(w io.Writer) *progress {
	return &progress{
		s: spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(w)),
	}
}

func (p *progress) hook(_ context.Context, _, to workflow.State) {
	switch to {
	case workflow.StateResearching, workflow.StatePlanning, workflow.StateGeneratingPosts, workflow.StatePublishing:
		p.s.Suffix = " " + string(to)
		if !p.s.Active() {
			p.s.Start()
		}
	default:
		p.s.Stop()
	}
}

func (p *progress) pause() {
	p.s.Stop()
}

type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// prompter opens a readline instance on first use
type prompter struct {
	w    io.Writer
	once sync.Once
	rl   *readline.Instance
	err  error
}

func newPrompter(w io.Writer) *prompter {
	return &prompter{w: w}
}

func (p *prompter) open() error {
	p.once.Do(func() {
		p.rl, p.err = readline.NewEx(&readline.Config{
			Prompt: "> ",
			Stdout: p.w,
		})
		if p.err != nil {
			p.err = goerr.Wrap(p.err, "failed to open terminal")
		}
	})
	return p.err
}

func (p *prompter) Readline() (string, error) {
	if err := p.open(); err != nil {
		return "", err
	}
	return p.rl.Readline()
}

func (p *prompter) SetPrompt(prompt string) {
	if err := p.open(); err != nil {
		return
	}
	p.rl.SetPrompt(prompt)
}

func (p *prompter) Close() {
	if p.rl != nil {
		_ = p.rl.Close()
	}
}

// interactiveReviewer asks the operator about every post of the batch
type interactiveReviewer struct {
	in               lineReader
	out              io.Writer
	maxCaptionLength int
}

const reviewHelp = "[a]pprove, [e]dit caption, [r]emove, approve [A]ll remaining"

func (x *interactiveReviewer) Review(_ context.Context, batch *model.Batch) ([]model.Edit, error) {
	var edits []model.Edit

	for i, post := range batch.Posts {
		fmt.Fprintf(x.out, "\n[%d/%d] %s\n", i+1, len(batch.Posts), post.Idea)
		fmt.Fprintf(x.out, "  image:   %s\n", post.Image)
		fmt.Fprintf(x.out, "  caption: %s\n", post.Caption)

		edit, all, err := x.ask(post)
		if err != nil {
			return nil, err
		}
		if edit != nil {
			edits = append(edits, *edit)
		}
		if all {
			break
		}
	}

	return edits, nil
}

func (x *interactiveReviewer) ask(post *model.Post) (*model.Edit, bool, error) {
	for {
		x.in.SetPrompt(reviewHelp + " > ")
		line, err := x.in.Readline()
		if err != nil {
			return nil, false, goerr.Wrap(err, "review interrupted", goerr.V("post_id", post.ID))
		}

		switch strings.TrimSpace(line) {
		case "", "a":
			return nil, false, nil
		case "A":
			return nil, true, nil
		case "r":
			x.in.SetPrompt("reason > ")
			reason, err := x.in.Readline()
			if err != nil {
				return nil, false, goerr.Wrap(err, "review interrupted", goerr.V("post_id", post.ID))
			}
			return &model.Edit{PostID: post.ID, Remove: true, Reason: strings.TrimSpace(reason)}, false, nil
		case "e":
			caption, err := x.askCaption(post)
			if err != nil {
				return nil, false, err
			}
			if caption == "" {
				fmt.Fprintln(x.out, "caption unchanged")
				return nil, false, nil
			}
			return &model.Edit{PostID: post.ID, Caption: &caption}, false, nil
		default:
			fmt.Fprintln(x.out, reviewHelp)
		}
	}
}

// askCaption reads a replacement caption until it is valid. An empty line keeps the current one
func (x *interactiveReviewer) askCaption(post *model.Post) (string, error) {
	for {
		x.in.SetPrompt("caption (\\n for line break) > ")
		line, err := x.in.Readline()
		if err != nil {
			return "", goerr.Wrap(err, "review interrupted", goerr.V("post_id", post.ID))
		}

		caption := strings.ReplaceAll(strings.TrimSpace(line), `\n`, "\n")
		if caption == "" {
			return "", nil
		}
		if err := provider.ValidateCaption(caption, x.maxCaptionLength); err != nil {
			fmt.Fprintf(x.out, "caption rejected: %d characters, at most %d\n",
				utf8.RuneCountInString(caption), x.limit())
			continue
		}
		return caption, nil
	}
}

func (x *interactiveReviewer) limit() int {
	if x.maxCaptionLength <= 0 {
		return provider.DefaultMaxCaptionLength
	}
	return x.maxCaptionLength
}

// challengeResolver asks the operator for a new access token
type challengeResolver struct {
	in    lineReader
	out   io.Writer
	pause func()
}

func (x *challengeResolver) ResolveChallenge(_ context.Context, challenge error) (string, error) {
	if x.pause != nil {
		x.pause()
	}
	fmt.Fprintf(x.out, "\nPublishing needs a new access token: %v\n", challenge)

	x.in.SetPrompt("access token > ")
	line, err := x.in.Readline()
	if err != nil {
		return "", goerr.Wrap(err, "failed to read access token")
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", goerr.New("no access token entered")
	}
	return token, nil
}
