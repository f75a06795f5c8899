// Package session is the Session Facade (C10): the single entry point that
// turns one UserInput into one FinalResponse by seeding a fresh blackboard
// and driving the Planner to termination, enforcing the session-wide
// timeout the planner's own cancellation handling does not know about.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"homebrain.dev/planner/common/id"
	"homebrain.dev/planner/common/logger"
	"homebrain.dev/planner/internal/blackboard"
	"homebrain.dev/planner/internal/domain"
	"homebrain.dev/planner/internal/planner"

	"log/slog"
)

// defaultSessionTimeout is the soft bound spec.md §7's configuration table
// names (default 10 minutes). A session that runs past it is aborted with a
// failure response rather than left to run indefinitely.
const defaultSessionTimeout = 10 * time.Minute

// Facade drives a single planning session end to end.
type Facade struct {
	planner        *planner.Planner
	sessionTimeout time.Duration
}

// Config configures a Facade.
type Config struct {
	SessionTimeout time.Duration // 0 = defaultSessionTimeout
}

// New builds a Facade over an already-constructed Planner.
func New(p *planner.Planner, cfg Config) *Facade {
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = defaultSessionTimeout
	}
	return &Facade{planner: p, sessionTimeout: timeout}
}

// ErrInvalidInput is returned when the UserInput fails its own invariants —
// callers map this to a client error rather than a 500.
var ErrInvalidInput = errors.New("session: invalid user input")

// Run seeds a new blackboard with input and drives the Planner to
// termination, bounding the whole session with sessionTimeout. It always
// returns a FinalResponse on success; the only error path is a malformed
// UserInput the caller should have rejected before calling Run.
func (f *Facade) Run(ctx context.Context, input domain.UserInput) (domain.FinalResponse, error) {
	if err := input.Validate(); err != nil {
		return domain.FinalResponse{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	sessionID := strconv.FormatInt(id.New(), 10)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID: logger.Ptr(sessionID),
		Component: "session",
	})

	ctx, cancel := context.WithTimeout(ctx, f.sessionTimeout)
	defer cancel()

	slog.InfoContext(ctx, "session started", "message_length", len(input.Message))

	bb := blackboard.New(input)
	response := f.planner.Run(ctx, bb, sessionID)

	slog.InfoContext(ctx, "session finished", "has_code_proposal", response.CodeProposal != nil)
	return response, nil
}
