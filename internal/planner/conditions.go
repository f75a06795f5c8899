package planner

import (
	"homebrain.dev/planner/internal/blackboard"
	"homebrain.dev/planner/internal/domain"
)

// condition is a pure predicate over the blackboard, named for the fixed
// set spec.md §4.4 declares. Conditions never mutate the blackboard.
type condition func(bb *blackboard.Blackboard) bool

func isAutomationRequest(bb *blackboard.Blackboard) bool {
	intent, ok := blackboard.FirstOfType[domain.ParsedIntent](bb)
	return ok && intent.Type == domain.IntentAutomationRequest
}

func isQuestionOrChat(bb *blackboard.Blackboard) bool {
	intent, ok := blackboard.FirstOfType[domain.ParsedIntent](bb)
	return ok && intent.Type != domain.IntentAutomationRequest
}

func codeIsValid(bb *blackboard.Blackboard) bool {
	_, hasValidated := blackboard.FirstOfType[domain.ValidatedCode](bb)
	failures := blackboard.AllOfType[domain.ValidationFailure](bb)
	return hasValidated && len(failures) == 0
}

func codeIsInvalid(bb *blackboard.Blackboard) bool {
	return len(blackboard.AllOfType[domain.ValidationFailure](bb)) > 0
}

func canStillRetryWith(maxFixAttempts int) condition {
	return func(bb *blackboard.Blackboard) bool {
		v, ok := blackboard.FirstOfType[domain.ValidatedCode](bb)
		return ok && v.Attempt < maxFixAttempts
	}
}

func maxRetriesExhaustedWith(maxFixAttempts int) condition {
	return func(bb *blackboard.Blackboard) bool {
		v, ok := blackboard.FirstOfType[domain.ValidatedCode](bb)
		return ok && v.Attempt >= maxFixAttempts
	}
}
