package dto_test

import (
	"testing"

	"homebrain.dev/planner/internal/domain"
	"homebrain.dev/planner/internal/http/dto"
)

func TestToUserInputCarriesHistory(t *testing.T) {
	t.Parallel()

	req := dto.ChatRequest{
		Message: "and turn it off at midnight",
		ConversationHistory: []dto.ChatMessage{
			{Role: "user", Content: "turn on the kitchen light"},
			{Role: "assistant", Content: "done"},
		},
	}
	got := req.ToUserInput()
	if got.Message != req.Message {
		t.Fatalf("message mismatch: %q", got.Message)
	}
	if len(got.History) != 2 || got.History[0].Role != "user" || got.History[1].Content != "done" {
		t.Fatalf("history not carried through: %+v", got.History)
	}
}

func TestToChatResponseOmitsCodeProposalWhenAbsent(t *testing.T) {
	t.Parallel()

	got := dto.ToChatResponse(domain.FinalResponse{Message: "you have 3 motion sensors"})
	if got.Message != "you have 3 motion sensors" {
		t.Fatalf("message mismatch: %q", got.Message)
	}
	if got.CodeProposal != nil {
		t.Fatalf("expected no code proposal, got %+v", got.CodeProposal)
	}
}

func TestToChatResponseMapsCodeProposalFiles(t *testing.T) {
	t.Parallel()

	got := dto.ToChatResponse(domain.FinalResponse{
		Message: "blinks the kitchen light on motion",
		CodeProposal: &domain.CodeProposal{
			Summary: "blinks the kitchen light on motion",
			Files: []domain.FileProposal{
				{Code: "def on_trigger(): pass", Filename: "blink_kitchen.star", Kind: domain.FileKindAutomation},
			},
		},
	})
	if got.CodeProposal == nil {
		t.Fatalf("expected a code proposal")
	}
	if len(got.CodeProposal.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(got.CodeProposal.Files))
	}
	f := got.CodeProposal.Files[0]
	if f.Filename != "blink_kitchen.star" || f.Type != "automation" {
		t.Fatalf("file mapped incorrectly: %+v", f)
	}
}
