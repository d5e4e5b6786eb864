package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/postsmith/pkg/utils/logging"
)

type State string

const (
	StateInit            State = "init"
	StateResearching     State = "researching"
	StatePlanning        State = "planning"
	StateGeneratingPosts State = "generating_posts"
	StateAssembled       State = "assembled"
	StateReviewing       State = "reviewing"
	StatePublishing      State = "publishing"
	StateDone            State = "done"
	StateAborted         State = "aborted"
)

var transitions = map[State][]State{
	StateInit:            {StateResearching},
	StateResearching:     {StatePlanning, StateAborted},
	StatePlanning:        {StateGeneratingPosts, StateAborted},
	StateGeneratingPosts: {StateAssembled},
	StateAssembled:       {StateReviewing, StatePublishing},
	StateReviewing:       {StatePublishing},
	StatePublishing:      {StateDone},
}

// StageHook observes every state transition of a run
type StageHook func(ctx context.Context, from, to State)

type machine struct {
	state   State
	entered time.Time
	hooks   []StageHook
	rec     Recorder
}

func newMachine(start State, hooks []StageHook, rec Recorder) *machine {
	return &machine{state: start, entered: time.Now(), hooks: hooks, rec: rec}
}

func (m *machine) to(ctx context.Context, next State) error {
	allowed := false
	for _, s := range transitions[m.state] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return goerr.New("invalid state transition", goerr.V("from", m.state), goerr.V("to", next))
	}

	from := m.state
	now := time.Now()
	m.rec.StageDuration(string(from), now.Sub(m.entered))
	m.state, m.entered = next, now

	logging.From(ctx).Debug("workflow state changed", slog.String("from", string(from)), slog.String("to", string(next)))
	for _, hook := range m.hooks {
		hook(ctx, from, next)
	}
	return nil
}

// StageError is returned when a run aborts in research or planning
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return "workflow aborted at " + e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
