// Package planner implements the GOAP-style planning loop (C8): a fixed set
// of named conditions over a blackboard, a fixed set of eleven actions each
// gated by preconditions and required input types, and a deterministic
// selection loop that runs actions until a goal action's preconditions hold
// or no action remains eligible.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"homebrain.dev/planner/internal/blackboard"
	"homebrain.dev/planner/internal/codeindex"
	"homebrain.dev/planner/internal/domain"
	"homebrain.dev/planner/internal/engine"
	"homebrain.dev/planner/internal/llmgateway"
	"homebrain.dev/planner/internal/prompts"
	"homebrain.dev/planner/internal/tools"
)

// Call-level LLM deadlines per spec.md §4.5: these bound a single Invoke,
// independent of the session-wide timeout the facade enforces.
const (
	classificationCallTimeout = 30 * time.Second
	generationCallTimeout     = 5 * time.Minute
)

// Config holds the planner's tunable bounds, per spec.md §7's configuration
// table.
type Config struct {
	MaxFixAttempts          int
	MaxConcurrency          int
	ContextGatheringTimeout time.Duration
	// GenerationTemperature is the default temperature for code generation,
	// extraction, and fix calls (spec default 0.3).
	GenerationTemperature float64
	// ConversationTemperature is the default temperature for conversational
	// answers (spec default 0.7).
	ConversationTemperature float64
	// DebugDir, when non-empty, turns on a per-session debug transcript and
	// metrics file under that directory. Empty disables it entirely.
	DebugDir string
}

func (c Config) withDefaults() Config {
	if c.MaxFixAttempts <= 0 {
		c.MaxFixAttempts = 3
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.ContextGatheringTimeout <= 0 {
		c.ContextGatheringTimeout = 30 * time.Second
	}
	if c.GenerationTemperature <= 0 {
		c.GenerationTemperature = 0.3
	}
	if c.ConversationTemperature <= 0 {
		c.ConversationTemperature = 0.7
	}
	return c
}

// Action is one named step of the fixed plan: a precondition (all of
// requires must hold before it is eligible), a canRerun flag (whether it
// may execute again after already having run once), and whether it is a
// goal action that, once eligible, terminates the session.
type Action struct {
	Name     string
	Requires []condition
	Run      actionFunc
	CanRerun bool
	Goal     bool
}

func (a Action) eligible(bb *blackboard.Blackboard, runCount int) bool {
	if runCount > 0 && !a.CanRerun {
		return false
	}
	for _, c := range a.Requires {
		if !c(bb) {
			return false
		}
	}
	return true
}

// Planner drives one session's blackboard through the fixed action set to
// termination.
type Planner struct {
	goalActions    []Action
	nonGoalActions []Action // in fixed priority order
	cfg            Config
}

// New builds the Planner wired to its collaborators and configuration.
func New(gw *llmgateway.Gateway, pc *prompts.Catalog, tc *tools.Catalog, adapter *engine.Adapter, index *codeindex.Service, cfg Config) *Planner {
	cfg = cfg.withDefaults()
	d := &deps{
		gw:      gw,
		prompts: pc,
		tools:   tc,
		adapter: adapter,
		index:   index,
		cfg:     cfg,
	}

	requireUserInput := requireType[domain.UserInput]
	requireParsedIntent := requireType[domain.ParsedIntent]
	requireRequirements := requireType[domain.AutomationRequirements]
	requireGathered := requireType[domain.GatheredContext]
	requireGenerated := requireType[domain.GeneratedCode]
	requireExtracted := requireType[domain.ExtractedCode]
	requireAnswer := requireType[domain.ConversationalAnswer]
	canStillRetry := canStillRetryWith(cfg.MaxFixAttempts)
	maxRetriesExhausted := maxRetriesExhaustedWith(cfg.MaxFixAttempts)

	// Fixed priority order: fixInvalidCode > validateCode > extractToLibrary
	// > generateCode > gatherContext > extractRequirements > parseIntent >
	// answerQuestion. Priority drains the retry loop before any branch
	// change, per spec.md §4.4.
	nonGoal := []Action{
		{
			Name:     "fixInvalidCode",
			Requires: []condition{codeIsInvalid, canStillRetry},
			Run:      d.fixInvalidCode,
			CanRerun: true,
		},
		{
			Name:     "validateCode",
			Requires: []condition{requireExtracted},
			Run:      d.validateCode,
			CanRerun: true,
		},
		{
			Name:     "extractToLibrary",
			Requires: []condition{requireGenerated},
			Run:      d.extractToLibrary,
		},
		{
			Name:     "generateCode",
			Requires: []condition{requireRequirements, requireGathered},
			Run:      d.generateCode,
		},
		{
			Name:     "gatherContext",
			Requires: []condition{requireRequirements},
			Run:      d.gatherContext,
		},
		{
			Name:     "extractRequirements",
			Requires: []condition{requireParsedIntent},
			Run:      d.extractRequirements,
		},
		{
			Name:     "parseIntent",
			Requires: []condition{requireUserInput},
			Run:      d.parseIntent,
		},
		{
			Name:     "answerQuestion",
			Requires: []condition{isQuestionOrChat, requireParsedIntent},
			Run:      d.answerQuestion,
		},
	}

	// Goal actions are checked in this order every iteration; the first one
	// whose preconditions hold terminates the session with its output.
	goal := []Action{
		{
			Name:     "respondWithAutomation",
			Requires: []condition{codeIsValid, isAutomationRequest},
			Run:      respondWithAutomation,
			Goal:     true,
		},
		{
			Name:     "respondWithFailure",
			Requires: []condition{maxRetriesExhausted, isAutomationRequest},
			Run:      respondWithFailure,
			Goal:     true,
		},
		{
			Name:     "respondConversationally",
			Requires: []condition{isQuestionOrChat, requireAnswer},
			Run:      respondConversationally,
			Goal:     true,
		},
	}

	return &Planner{goalActions: goal, nonGoalActions: nonGoal, cfg: cfg}
}

func requireType[T any](bb *blackboard.Blackboard) bool {
	return blackboard.HasType[T](bb)
}

// Run drives bb to termination, returning the FinalResponse fact the
// winning goal action produced. Cancellation (client disconnect, deadline
// exceeded) stops the loop after the current action and returns a failure
// response rather than propagating ctx.Err(), since the session facade
// contract is "always returns a FinalResponse".
func (p *Planner) Run(ctx context.Context, bb *blackboard.Blackboard, sessionID string) domain.FinalResponse {
	runCount := make(map[string]int, len(p.nonGoalActions))
	rec := newRecorder(p.cfg.DebugDir, sessionID)

	for {
		if err := ctx.Err(); err != nil {
			slog.WarnContext(ctx, "planner: session cancelled", "error", err)
			rec.flush(ctx, "cancelled")
			return domain.FinalResponse{Message: "The request was cancelled before it could complete."}
		}

		if goal, ok := p.firstEligibleGoal(bb); ok {
			start := time.Now()
			err := goal.Run(ctx, bb)
			rec.record(goal.Name, time.Since(start), err)
			if err != nil {
				slog.ErrorContext(ctx, "planner: goal action failed", "action", goal.Name, "error", err)
				rec.flush(ctx, "error")
				return domain.FinalResponse{Message: fmt.Sprintf("Something went wrong producing a response: %v", err)}
			}
			rec.flush(ctx, goal.Name)
			response, _ := blackboard.FirstOfType[domain.FinalResponse](bb)
			return response
		}

		next, ok := p.firstEligibleNonGoal(bb, runCount)
		if !ok {
			slog.WarnContext(ctx, "planner: no plan applicable")
			rec.flush(ctx, "unreachable")
			return domain.FinalResponse{Message: "unreachable: no plan of action applies to this request."}
		}

		start := time.Now()
		err := next.Run(ctx, bb)
		rec.record(next.Name, time.Since(start), err)
		if err != nil {
			// Aborting here stands in for "skip and replan": none of the
			// fixed non-goal actions has an alternative that could satisfy
			// the same precondition, so there is nothing left to replan to.
			slog.ErrorContext(ctx, "planner: action failed", "action", next.Name, "error", err)
			rec.flush(ctx, "error")
			return domain.FinalResponse{Message: fmt.Sprintf("Something went wrong: %v", err)}
		}
		runCount[next.Name]++
	}
}

func (p *Planner) firstEligibleGoal(bb *blackboard.Blackboard) (Action, bool) {
	for _, a := range p.goalActions {
		if a.eligible(bb, 0) {
			return a, true
		}
	}
	return Action{}, false
}

func (p *Planner) firstEligibleNonGoal(bb *blackboard.Blackboard, runCount map[string]int) (Action, bool) {
	for _, a := range p.nonGoalActions {
		if a.eligible(bb, runCount[a.Name]) {
			return a, true
		}
	}
	return Action{}, false
}
