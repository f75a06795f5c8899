// Package domain defines the blackboard fact types that flow through a
// single planning session. Ordering between the code-generation stages is
// enforced by distinct concrete types (GeneratedCode -> ExtractedCode ->
// ValidatedCode) rather than by a shared interface or action-name sniffing:
// the planner selects actions by which fact types are present on the
// blackboard, so the type itself is the ordering mechanism.
package domain

import (
	"errors"
	"fmt"
	"math"
)

// IntentType classifies a parsed user message.
type IntentType string

const (
	IntentAutomationRequest IntentType = "automation_request"
	IntentQuestion          IntentType = "question"
	IntentChat              IntentType = "chat"
	IntentUnknown           IntentType = "unknown"
)

// FileKind distinguishes a deployable automation script from a reusable
// library module.
type FileKind string

const (
	FileKindAutomation FileKind = "automation"
	FileKindLibrary    FileKind = "library"
)

// Message is one turn of conversation history supplied by the caller.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// UserInput is the immutable entry point of a session: the message and any
// prior conversation history. Lifetime: the entire session.
type UserInput struct {
	Message string
	History []Message
}

// Validate enforces UserInput's non-empty-message invariant.
func (u UserInput) Validate() error {
	if u.Message == "" {
		return errors.New("user input: message must not be empty")
	}
	for i, m := range u.History {
		if m.Content == "" {
			return fmt.Errorf("user input: history[%d] content must not be empty", i)
		}
	}
	return nil
}

// ParsedIntent is produced once per session by parseIntent.
type ParsedIntent struct {
	Type        IntentType
	Description string
	Confidence  float64
	Entities    map[string]string
}

// LibraryModule describes a reusable library available to reference during
// code generation.
type LibraryModule struct {
	Name        string
	Description string
	Functions   []string
}

// AutomationRequirements is produced only when the parsed intent is
// automation_request. Invariant: Triggers non-empty OR NeedsSchedule true.
type AutomationRequirements struct {
	Description       string
	Triggers          []string
	Actions           []string
	Conditions        []string
	SuggestedName     string
	NeedsSchedule     bool
	Schedule          string
	GlobalStateWrites []string
}

// Validate enforces the triggers/schedule invariant and non-empty actions.
func (r AutomationRequirements) Validate() error {
	if len(r.Actions) == 0 {
		return errors.New("automation requirements: actions must not be empty")
	}
	if len(r.Triggers) == 0 && !r.NeedsSchedule {
		return errors.New("automation requirements: triggers must be non-empty unless needsSchedule is true")
	}
	return nil
}

// CodeSearchResult is a single semantic-search hit against the code index.
type CodeSearchResult struct {
	ID         string
	Kind       FileKind
	Name       string
	SourceCode string
	Similarity float64
}

// NewCodeSearchResult clamps similarity into [0,1] as spec.md requires.
func NewCodeSearchResult(id string, kind FileKind, name, source string, similarity float64) CodeSearchResult {
	return CodeSearchResult{
		ID:         id,
		Kind:       kind,
		Name:       name,
		SourceCode: source,
		Similarity: clamp01(similarity),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// GatheredContext merges the parallel fan-out results of gatherContext into
// a single fact.
type GatheredContext struct {
	AvailableTopics    []string
	RelevantTopics     []string
	SimilarCode        []CodeSearchResult
	AvailableLibraries []LibraryModule
}

// FileProposal is one file of a code proposal.
type FileProposal struct {
	Code     string
	Filename string
	Kind     FileKind
}

// Validate enforces non-empty code/filename.
func (f FileProposal) Validate() error {
	if f.Code == "" {
		return errors.New("file proposal: code must not be empty")
	}
	if f.Filename == "" {
		return errors.New("file proposal: filename must not be empty")
	}
	return nil
}

// GeneratedCode is produced by generateCode; attempt starts at 1.
type GeneratedCode struct {
	Files   []FileProposal
	Summary string
	Attempt int
}

// Validate enforces the non-empty-files and attempt>=1 invariants.
func (g GeneratedCode) Validate() error {
	if len(g.Files) == 0 {
		return errors.New("generated code: files must not be empty")
	}
	if g.Attempt < 1 {
		return errors.New("generated code: attempt must be >= 1")
	}
	for i, f := range g.Files {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("generated code: files[%d]: %w", i, err)
		}
	}
	return nil
}

// ExtractedCode is the same shape as GeneratedCode, plus a marker that
// extraction was considered. It exists only to be constructed from a
// GeneratedCode, enforcing "extract before validate" ordering.
type ExtractedCode struct {
	Files               []FileProposal
	Summary             string
	Attempt             int
	ExtractionPerformed bool
	ExtractionSummary   string
}

// NewExtractedCode constructs an ExtractedCode from its required
// predecessor, per the type-chain invariant in spec.md §3/§4.4.
func NewExtractedCode(from GeneratedCode, performed bool, extractionSummary string, files []FileProposal) ExtractedCode {
	return ExtractedCode{
		Files:               files,
		Summary:             from.Summary,
		Attempt:             from.Attempt,
		ExtractionPerformed: performed,
		ExtractionSummary:   extractionSummary,
	}
}

// ValidatedCode is the same core shape, constructible only from an
// ExtractedCode (via validateCode), carrying the attempt the blackboard
// must track to bound the fix loop.
type ValidatedCode struct {
	Files   []FileProposal
	Summary string
	Attempt int
}

// NewValidatedCode constructs a ValidatedCode from its required
// predecessor.
func NewValidatedCode(from ExtractedCode) ValidatedCode {
	return ValidatedCode{
		Files:   from.Files,
		Summary: from.Summary,
		Attempt: from.Attempt,
	}
}

// ValidationFailure records one failing file from a validateCode run.
// Multiple may coexist on the blackboard for a single attempt.
type ValidationFailure struct {
	File   FileProposal
	Errors []string
}

// Embedding is a fixed-dimension float32 vector produced by the embedding
// client, which rejects any vector whose length differs from
// config.EmbeddingDimension.
type Embedding []float32

// IndexedCode is a vector-store row: id = "{kind}:{name}".
type IndexedCode struct {
	ID         string
	Kind       FileKind
	Name       string
	SourceCode string
	Vector     Embedding
	// SourceHash is the content hash used by the Code Index Service's
	// sync() to detect files that changed since the last embed.
	SourceHash string
}

// IndexedCodeID builds the "{kind}:{name}" id spec.md §3 defines.
func IndexedCodeID(kind FileKind, name string) string {
	return fmt.Sprintf("%s:%s", kind, name)
}

// ConversationalAnswer is produced by answerQuestion.
type ConversationalAnswer struct {
	Answer string
}

// CodeProposal is the optional payload of a FinalResponse.
type CodeProposal struct {
	Summary string
	Files   []FileProposal
}

// FinalResponse is the session's terminal output. Exactly one of: contains
// a proposal (success) or contains none (conversational or failure).
type FinalResponse struct {
	Message      string
	CodeProposal *CodeProposal
}
