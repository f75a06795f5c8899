package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"homebrain.dev/planner/internal/blackboard"
	"homebrain.dev/planner/internal/codeindex"
	"homebrain.dev/planner/internal/domain"
	"homebrain.dev/planner/internal/engine"
	"homebrain.dev/planner/internal/llmgateway"
	"homebrain.dev/planner/internal/prompts"
	"homebrain.dev/planner/internal/tools"
)

// actionFunc runs one action over the blackboard. It reads whatever typed
// facts it needs, does its work, and writes its typed output fact(s) back —
// it never decides whether it should run; that's the planner's job.
type actionFunc func(ctx context.Context, bb *blackboard.Blackboard) error

// deps bundles every collaborator an action might need. Individual actions
// close over the subset they actually use.
type deps struct {
	gw      *llmgateway.Gateway
	prompts *prompts.Catalog
	tools   *tools.Catalog
	adapter *engine.Adapter
	index   *codeindex.Service
	cfg     Config
}

// floatPtr gives an Options.Temperature its address; Config stores the
// configured temperatures as plain float64s.
func floatPtr(v float64) *float64 { return &v }

// intentOut is the wire shape parseIntent extracts.
type intentOut struct {
	Type        domain.IntentType `json:"type"`
	Description string            `json:"description"`
	Confidence  float64           `json:"confidence"`
	Entities    map[string]string `json:"entities"`
}

func (d *deps) parseIntent(ctx context.Context, bb *blackboard.Blackboard) error {
	input, ok := blackboard.FirstOfType[domain.UserInput](bb)
	if !ok {
		return fmt.Errorf("planner: parseIntent: no UserInput on blackboard")
	}

	prompt, err := d.prompts.Render(prompts.IntentClassification, input)
	if err != nil {
		return fmt.Errorf("planner: parseIntent: %w", err)
	}

	out, err := llmgateway.Invoke[intentOut](ctx, d.gw, prompt, llmgateway.Options{
		ModelSlot:   llmgateway.SlotClassification,
		CallTimeout: classificationCallTimeout,
	})
	if err != nil {
		slog.WarnContext(ctx, "planner: parseIntent classification failed, defaulting to unknown", "error", err)
		out = intentOut{Type: domain.IntentUnknown}
	}

	blackboard.Add(bb, domain.ParsedIntent{
		Type:        out.Type,
		Description: out.Description,
		Confidence:  out.Confidence,
		Entities:    out.Entities,
	})
	return nil
}

type requirementsOut struct {
	Description       string   `json:"description"`
	Triggers          []string `json:"triggers"`
	Actions           []string `json:"actions"`
	Conditions        []string `json:"conditions"`
	SuggestedName     string   `json:"suggestedName"`
	NeedsSchedule     bool     `json:"needsSchedule"`
	Schedule          string   `json:"schedule"`
	GlobalStateWrites []string `json:"globalStateWrites"`
}

// extractRequirements returns absent (no fact written, no error) when the
// intent is not an automation request, per spec.md §4.4 item 2 — the
// conversational branch must never be blocked on this action.
func (d *deps) extractRequirements(ctx context.Context, bb *blackboard.Blackboard) error {
	input, _ := blackboard.FirstOfType[domain.UserInput](bb)
	intent, ok := blackboard.FirstOfType[domain.ParsedIntent](bb)
	if !ok || intent.Type != domain.IntentAutomationRequest {
		return nil
	}

	topics := d.adapter.Topics(ctx)
	prompt, err := d.prompts.Render(prompts.RequirementsExtraction, struct {
		Message         string
		AvailableTopics []string
	}{Message: input.Message, AvailableTopics: topics})
	if err != nil {
		return fmt.Errorf("planner: extractRequirements: %w", err)
	}

	out, err := llmgateway.Invoke[requirementsOut](ctx, d.gw, prompt, llmgateway.Options{
		ModelSlot:   llmgateway.SlotClassification,
		CallTimeout: classificationCallTimeout,
	})
	if err != nil {
		return fmt.Errorf("planner: extractRequirements: %w", err)
	}

	req := domain.AutomationRequirements{
		Description:       out.Description,
		Triggers:          out.Triggers,
		Actions:           out.Actions,
		Conditions:        out.Conditions,
		SuggestedName:     out.SuggestedName,
		NeedsSchedule:     out.NeedsSchedule,
		Schedule:          out.Schedule,
		GlobalStateWrites: out.GlobalStateWrites,
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("planner: extractRequirements: %w", err)
	}

	blackboard.Add(bb, req)
	return nil
}

// gatherContext is the planner's one parallel region: it fans out to
// maxConcurrency subtasks bounded by contextGatheringTimeout, merging
// whatever comes back. A subtask that fails or times out degrades to its
// zero value rather than failing the whole action.
func (d *deps) gatherContext(ctx context.Context, bb *blackboard.Blackboard) error {
	req, ok := blackboard.FirstOfType[domain.AutomationRequirements](bb)
	if !ok {
		return fmt.Errorf("planner: gatherContext: no AutomationRequirements on blackboard")
	}

	timeout := d.cfg.ContextGatheringTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result domain.GatheredContext
	)

	sem := make(chan struct{}, maxConcurrency(d.cfg))

	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-fanCtx.Done():
				return
			}
			fn()
		}()
	}

	run(func() {
		topics := d.adapter.Topics(fanCtx)
		mu.Lock()
		result.AvailableTopics = topics
		mu.Unlock()
	})
	run(func() {
		relevant := filterTopics(d.adapter.Topics(fanCtx), req.Triggers)
		mu.Lock()
		result.RelevantTopics = relevant
		mu.Unlock()
	})
	run(func() {
		similar := d.index.Search(fanCtx, req.Description, 5)
		mu.Lock()
		result.SimilarCode = similar
		mu.Unlock()
	})
	run(func() {
		libraries := d.adapter.LibraryModules(fanCtx)
		mu.Lock()
		result.AvailableLibraries = libraries
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-fanCtx.Done():
		slog.WarnContext(ctx, "planner: gatherContext timed out, using partial results")
	}

	// On the timeout path a writer may still be mid-flight; locking here
	// before reading result avoids a data race with whichever fields it
	// does go on to write.
	mu.Lock()
	gathered := result
	mu.Unlock()

	blackboard.Add(bb, gathered)
	return nil
}

func filterTopics(topics, patterns []string) []string {
	if len(patterns) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		for _, p := range patterns {
			if p != "" && strings.Contains(t, p) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func maxConcurrency(cfg Config) int {
	if cfg.MaxConcurrency <= 0 {
		return 4
	}
	return cfg.MaxConcurrency
}

type filesOut struct {
	Files   []domain.FileProposal `json:"files"`
	Summary string                `json:"summary"`
}

func (d *deps) generateCode(ctx context.Context, bb *blackboard.Blackboard) error {
	req, _ := blackboard.FirstOfType[domain.AutomationRequirements](bb)
	gathered, _ := blackboard.FirstOfType[domain.GatheredContext](bb)

	prompt, err := d.prompts.Render(prompts.CodeGeneration, struct {
		Requirements domain.AutomationRequirements
		Context      domain.GatheredContext
	}{Requirements: req, Context: gathered})
	if err != nil {
		return fmt.Errorf("planner: generateCode: %w", err)
	}

	out, err := llmgateway.Invoke[filesOut](ctx, d.gw, prompt, llmgateway.Options{
		ModelSlot:    llmgateway.SlotGeneration,
		ToolExecutor: d.tools,
		Temperature:  floatPtr(d.cfg.GenerationTemperature),
		CallTimeout:  generationCallTimeout,
	})
	if err != nil {
		return fmt.Errorf("planner: generateCode: %w", err)
	}

	generated := domain.GeneratedCode{Files: out.Files, Summary: out.Summary, Attempt: 1}
	if err := generated.Validate(); err != nil {
		return fmt.Errorf("planner: generateCode: %w", err)
	}
	blackboard.Add(bb, generated)
	return nil
}

type extractionOut struct {
	Files               []domain.FileProposal `json:"files"`
	Summary             string                `json:"summary"`
	ExtractionPerformed bool                  `json:"extractionPerformed"`
}

func (d *deps) extractToLibrary(ctx context.Context, bb *blackboard.Blackboard) error {
	generated, ok := blackboard.FirstOfType[domain.GeneratedCode](bb)
	if !ok {
		return fmt.Errorf("planner: extractToLibrary: no GeneratedCode on blackboard")
	}

	prompt, err := d.prompts.Render(prompts.LibraryExtraction, struct {
		GeneratedCode domain.GeneratedCode
	}{GeneratedCode: generated})
	if err != nil {
		return fmt.Errorf("planner: extractToLibrary: %w", err)
	}

	out, err := llmgateway.Invoke[extractionOut](ctx, d.gw, prompt, llmgateway.Options{
		ModelSlot:   llmgateway.SlotGeneration,
		Temperature: floatPtr(d.cfg.GenerationTemperature),
		CallTimeout: generationCallTimeout,
	})
	if err != nil {
		slog.WarnContext(ctx, "planner: extractToLibrary failed, leaving code unchanged", "error", err)
		blackboard.Add(bb, domain.NewExtractedCode(generated, false, "", generated.Files))
		return nil
	}

	if !out.ExtractionPerformed || len(out.Files) == 0 {
		blackboard.Add(bb, domain.NewExtractedCode(generated, false, "", generated.Files))
		return nil
	}

	blackboard.Add(bb, domain.NewExtractedCode(generated, true, out.Summary, out.Files))
	return nil
}

// validateCode always produces a ValidatedCode, even when the engine is
// unreachable — a transport failure becomes a synthesized ValidationFailure
// so the fix loop still has something to act on, and it still counts
// against maxFixAttempts per spec.md §9.
func (d *deps) validateCode(ctx context.Context, bb *blackboard.Blackboard) error {
	extracted, ok := blackboard.FirstOfType[domain.ExtractedCode](bb)
	if !ok {
		return fmt.Errorf("planner: validateCode: no ExtractedCode on blackboard")
	}

	blackboard.RemoveAllOfType[domain.ValidationFailure](bb)

	for _, f := range extracted.Files {
		result := d.adapter.Validate(ctx, f.Code, f.Kind)
		if !result.Valid {
			blackboard.Add(bb, domain.ValidationFailure{File: f, Errors: result.Errors})
		}
	}

	blackboard.Add(bb, domain.NewValidatedCode(extracted))
	return nil
}

type fixOut struct {
	Files   []domain.FileProposal `json:"files"`
	Summary string                `json:"summary"`
}

// fixInvalidCode re-prompts per failing file and re-assembles a full file
// set, advancing the attempt counter. It does not re-invoke gatherContext,
// and its fix prompt is built only from the failing file and its errors
// (the GatheredContext from the first pass is not read here). It replaces
// the previous ValidatedCode so that only validateCode can decide the new
// attempt's validity.
func (d *deps) fixInvalidCode(ctx context.Context, bb *blackboard.Blackboard) error {
	validated, ok := blackboard.FirstOfType[domain.ValidatedCode](bb)
	if !ok {
		return fmt.Errorf("planner: fixInvalidCode: no ValidatedCode on blackboard")
	}
	failures := blackboard.AllOfType[domain.ValidationFailure](bb)

	failingByFilename := make(map[string]domain.ValidationFailure, len(failures))
	for _, f := range failures {
		failingByFilename[f.File.Filename] = f
	}

	fixed := make([]domain.FileProposal, 0, len(validated.Files))
	for _, file := range validated.Files {
		failure, isFailing := failingByFilename[file.Filename]
		if !isFailing {
			fixed = append(fixed, file)
			continue
		}

		prompt, err := d.prompts.Render(prompts.CodeFix, struct {
			Filename string
			Code     string
			Errors   []string
		}{Filename: file.Filename, Code: file.Code, Errors: failure.Errors})
		if err != nil {
			return fmt.Errorf("planner: fixInvalidCode: %w", err)
		}

		out, err := llmgateway.Invoke[fixOut](ctx, d.gw, prompt, llmgateway.Options{
			ModelSlot:   llmgateway.SlotGeneration,
			Temperature: floatPtr(d.cfg.GenerationTemperature),
			CallTimeout: generationCallTimeout,
		})
		if err != nil || len(out.Files) == 0 {
			slog.WarnContext(ctx, "planner: fixInvalidCode failed to repair file, carrying it over unchanged",
				"filename", file.Filename, "error", err)
			fixed = append(fixed, file)
			continue
		}
		fixed = append(fixed, out.Files...)
	}

	blackboard.RemoveAllOfType[domain.ValidationFailure](bb)
	blackboard.RemoveAllOfType[domain.ValidatedCode](bb)
	blackboard.Add(bb, domain.NewExtractedCode(
		domain.GeneratedCode{Files: fixed, Summary: validated.Summary, Attempt: validated.Attempt + 1},
		false, "", fixed,
	))
	return nil
}

type answerOut struct {
	Answer string `json:"answer"`
}

func (d *deps) answerQuestion(ctx context.Context, bb *blackboard.Blackboard) error {
	input, _ := blackboard.FirstOfType[domain.UserInput](bb)

	prompt, err := d.prompts.Render(prompts.ConversationalAnswer, input)
	if err != nil {
		return fmt.Errorf("planner: answerQuestion: %w", err)
	}

	out, err := llmgateway.Invoke[answerOut](ctx, d.gw, prompt, llmgateway.Options{
		ModelSlot:    llmgateway.SlotGeneration,
		ToolExecutor: d.tools,
		Temperature:  floatPtr(d.cfg.ConversationTemperature),
		CallTimeout:  generationCallTimeout,
	})
	if err != nil {
		return fmt.Errorf("planner: answerQuestion: %w", err)
	}

	blackboard.Add(bb, domain.ConversationalAnswer{Answer: out.Answer})
	return nil
}

func respondWithAutomation(_ context.Context, bb *blackboard.Blackboard) error {
	validated, ok := blackboard.FirstOfType[domain.ValidatedCode](bb)
	if !ok {
		return fmt.Errorf("planner: respondWithAutomation: no ValidatedCode on blackboard")
	}
	blackboard.Add(bb, domain.FinalResponse{
		Message:      validated.Summary,
		CodeProposal: &domain.CodeProposal{Summary: validated.Summary, Files: validated.Files},
	})
	return nil
}

func respondWithFailure(_ context.Context, bb *blackboard.Blackboard) error {
	message := "I couldn't produce a working automation after several attempts."
	if validated, ok := blackboard.FirstOfType[domain.ValidatedCode](bb); ok {
		var reasons []string
		for _, f := range blackboard.AllOfType[domain.ValidationFailure](bb) {
			reasons = append(reasons, strings.Join(f.Errors, "; "))
		}
		if len(reasons) > 0 {
			message = fmt.Sprintf("I couldn't produce a working automation after %d attempts: %s", validated.Attempt, strings.Join(reasons, " | "))
		}
	}
	blackboard.Add(bb, domain.FinalResponse{Message: message})
	return nil
}

func respondConversationally(_ context.Context, bb *blackboard.Blackboard) error {
	answer, ok := blackboard.FirstOfType[domain.ConversationalAnswer](bb)
	if !ok {
		return fmt.Errorf("planner: respondConversationally: no ConversationalAnswer on blackboard")
	}
	blackboard.Add(bb, domain.FinalResponse{Message: answer.Answer})
	return nil
}
