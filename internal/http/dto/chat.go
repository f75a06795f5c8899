// Package dto holds the wire shapes of the HTTP surface, kept separate from
// the domain types they're built from so the wire contract can evolve
// independently of the planning engine's internals.
package dto

import "homebrain.dev/planner/internal/domain"

// ChatMessage is one turn of conversation_history in a ChatRequest.
type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
}

// ChatRequest is the POST /chat request body.
type ChatRequest struct {
	Message              string        `json:"message" binding:"required"`
	ConversationHistory  []ChatMessage `json:"conversation_history,omitempty"`
	ExistingAutomationID string        `json:"existing_automation_id,omitempty"`
}

// ToUserInput converts the request into the domain fact that seeds a
// planning session's blackboard.
func (r ChatRequest) ToUserInput() domain.UserInput {
	history := make([]domain.Message, 0, len(r.ConversationHistory))
	for _, m := range r.ConversationHistory {
		history = append(history, domain.Message{Role: m.Role, Content: m.Content})
	}
	return domain.UserInput{Message: r.Message, History: history}
}

// FileProposal is one file of a ChatResponse's code_proposal.
type FileProposal struct {
	Code     string `json:"code"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

// CodeProposal is the optional code_proposal of a ChatResponse.
type CodeProposal struct {
	Summary string         `json:"summary"`
	Files   []FileProposal `json:"files"`
}

// ChatResponse is the POST /chat response body.
type ChatResponse struct {
	Message      string        `json:"message"`
	CodeProposal *CodeProposal `json:"code_proposal,omitempty"`
}

// ToChatResponse converts a session's FinalResponse into the wire shape.
func ToChatResponse(r domain.FinalResponse) ChatResponse {
	resp := ChatResponse{Message: r.Message}
	if r.CodeProposal == nil {
		return resp
	}

	files := make([]FileProposal, 0, len(r.CodeProposal.Files))
	for _, f := range r.CodeProposal.Files {
		files = append(files, FileProposal{Code: f.Code, Filename: f.Filename, Type: string(f.Kind)})
	}
	resp.CodeProposal = &CodeProposal{Summary: r.CodeProposal.Summary, Files: files}
	return resp
}
