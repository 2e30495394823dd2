package core

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind is the failure taxonomy the recovery planner works over.
type ErrorKind string

const (
	ErrKindValidation ErrorKind = "validation"
	ErrKindGeneration ErrorKind = "generation"
	ErrKindResearch   ErrorKind = "research"
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindUnknown    ErrorKind = "unknown"
)

// ErrorInfo is the classifier's verdict on a raised error. Transient only,
// never persisted.
type ErrorInfo struct {
	Kind            ErrorKind
	Message         string
	Recoverable     bool
	SuggestedAction string
}

// ValidationError marks structural/schema failures. The classifier checks
// for this type before any message matching.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ContractError marks a caller-contract violation: a required action field
// is missing or an action is illegal for the run's mode. These terminate
// the run untouched; they never reach the classifier or the retry gate.
type ContractError struct {
	Msg string
}

func (e *ContractError) Error() string { return e.Msg }

// RecoveryStrategy is the planner's resolution for a classified error.
type RecoveryStrategy string

const (
	StrategyRetry        RecoveryStrategy = "retry"
	StrategySkipResearch RecoveryStrategy = "skip_research"
	StrategySimplify     RecoveryStrategy = "simplify"
	StrategyFallback     RecoveryStrategy = "fallback"
	StrategyAbort        RecoveryStrategy = "abort"
)

const maxRetries = 2

// ClassifyError maps a raised error onto the taxonomy. Typed validation
// errors win outright; everything else falls to case-insensitive message
// matching in a fixed priority order. Message matching is a known
// fragility inherited from how the collaborators report failures.
func ClassifyError(err error) ErrorInfo {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return ErrorInfo{
			Kind:            ErrKindValidation,
			Message:         verr.Msg,
			Recoverable:     true,
			SuggestedAction: "refine_content",
		}
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return ErrorInfo{Kind: ErrKindGeneration, Message: err.Error(), Recoverable: true, SuggestedAction: "retry_later"}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "abort") ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return ErrorInfo{Kind: ErrKindTimeout, Message: err.Error(), Recoverable: true, SuggestedAction: "retry"}
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "search") || strings.Contains(msg, "scrape") || strings.Contains(msg, "fetch"):
		return ErrorInfo{Kind: ErrKindResearch, Message: err.Error(), Recoverable: true, SuggestedAction: "skip_research"}
	case strings.Contains(msg, "generation") || strings.Contains(msg, "model") ||
		strings.Contains(msg, "completion") || strings.Contains(msg, "invalid json") ||
		strings.Contains(msg, "no json"):
		return ErrorInfo{Kind: ErrKindGeneration, Message: err.Error(), Recoverable: true, SuggestedAction: "retry"}
	default:
		return ErrorInfo{Kind: ErrKindUnknown, Message: err.Error(), Recoverable: false}
	}
}

// ShouldRetryAfterError is the retry gate. Research and unknown kinds are
// deliberately excluded: research failures degrade via skip, not retry.
func ShouldRetryAfterError(ec *ExecutionContext, info ErrorInfo) bool {
	if !info.Recoverable {
		return false
	}
	if ec.Retries() >= maxRetries {
		return false
	}
	if ec.ShouldStop() {
		return false
	}
	switch info.Kind {
	case ErrKindValidation, ErrKindTimeout, ErrKindGeneration:
		return true
	default:
		return false
	}
}

// GetErrorRecoveryStrategy resolves what the loop does next after a
// classified failure. Existing content always wins over another attempt.
func GetErrorRecoveryStrategy(ec *ExecutionContext, info ErrorInfo) RecoveryStrategy {
	if ec.GeneratedContent() != nil {
		return StrategyFallback
	}
	switch info.Kind {
	case ErrKindValidation:
		if ec.Retries() < 2 {
			return StrategyRetry
		}
		return StrategySimplify
	case ErrKindResearch:
		return StrategySkipResearch
	case ErrKindTimeout:
		if ec.Retries() < 1 {
			return StrategyRetry
		}
		return StrategySimplify
	case ErrKindGeneration:
		if ec.Retries() < 2 {
			return StrategyRetry
		}
		return StrategySimplify
	default:
		return StrategyAbort
	}
}

// SimplifyOutline trims an outline to its first three non-blank lines and
// appends a per-type instruction asking for fewer items. Used when repeated
// generation attempts keep failing on the full outline.
func SimplifyOutline(outline string, contentType ContentType) string {
	var kept []string
	for _, line := range strings.Split(outline, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == 3 {
			break
		}
	}
	simplified := strings.Join(kept, "\n")
	switch contentType {
	case ContentQuiz:
		simplified += "\n\nKeep it short: at most 5 questions."
	case ContentTutorial:
		simplified += "\n\nKeep it short: at most 3 sections."
	case ContentFlashcard:
		simplified += "\n\nKeep it short: at most 8 cards."
	}
	return simplified
}
