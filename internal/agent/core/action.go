package core

import (
	"fmt"
	"strings"
)

// ActionType is the closed vocabulary of operations the policy may select.
type ActionType string

const (
	ActionSearch             ActionType = "search"
	ActionScrape             ActionType = "scrape"
	ActionAnswer             ActionType = "answer"
	ActionDetermineType      ActionType = "determine_type"
	ActionGenerateStructured ActionType = "generate_structured"
	ActionRefineStructured   ActionType = "refine_structured"
	ActionComplete           ActionType = "complete"
)

// Action is one policy decision: what the loop does this step. Fields other
// than Type are required conditionally on Type.
type Action struct {
	Type        ActionType  `json:"type"`
	Query       string      `json:"query,omitempty"`        // required for search
	URLs        []string    `json:"urls,omitempty"`         // required for scrape
	ContentType ContentType `json:"content_type,omitempty"` // required for determine_type
	Feedback    string      `json:"feedback,omitempty"`     // required for refine_structured
	Reasoning   string      `json:"reasoning,omitempty"`
}

// Validate checks mode legality and conditionally required fields. A
// failure here is a ContractError and must propagate, never be retried.
func (a Action) Validate(mode Mode) error {
	switch a.Type {
	case ActionSearch:
		if strings.TrimSpace(a.Query) == "" {
			return &ContractError{Msg: "search action requires a query"}
		}
	case ActionScrape:
		if len(a.URLs) == 0 {
			return &ContractError{Msg: "scrape action requires urls"}
		}
	case ActionAnswer:
		if mode != ModeConversational {
			return &ContractError{Msg: "answer action is only valid in conversational mode"}
		}
	case ActionDetermineType:
		if mode != ModeStructured {
			return &ContractError{Msg: "determine_type action is only valid in structured mode"}
		}
		switch a.ContentType {
		case ContentQuiz, ContentTutorial, ContentFlashcard:
		default:
			return &ContractError{Msg: fmt.Sprintf("determine_type action requires a content type, got %q", a.ContentType)}
		}
	case ActionGenerateStructured, ActionComplete:
		if mode != ModeStructured {
			return &ContractError{Msg: fmt.Sprintf("%s action is only valid in structured mode", a.Type)}
		}
	case ActionRefineStructured:
		if mode != ModeStructured {
			return &ContractError{Msg: "refine_structured action is only valid in structured mode"}
		}
		if strings.TrimSpace(a.Feedback) == "" {
			return &ContractError{Msg: "refine_structured action requires feedback"}
		}
	default:
		return &ContractError{Msg: fmt.Sprintf("unknown action type: %q", a.Type)}
	}
	return nil
}
