package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError_TypedValidationWins(t *testing.T) {
	// Even with timeout keywords in the message, the typed error decides.
	err := fmt.Errorf("wrapping: %w", &ValidationError{Msg: "request timeout during validation"})
	info := ClassifyError(err)
	if info.Kind != ErrKindValidation {
		t.Fatalf("expected validation, got %s", info.Kind)
	}
	if !info.Recoverable {
		t.Fatal("validation errors must be recoverable")
	}
}

func TestClassifyError_MessageMatching(t *testing.T) {
	cases := []struct {
		err         error
		kind        ErrorKind
		recoverable bool
	}{
		{errors.New("429 Too Many Requests"), ErrKindGeneration, true},
		{errors.New("request timed out"), ErrKindTimeout, true},
		{context.DeadlineExceeded, ErrKindTimeout, true},
		{errors.New("operation aborted"), ErrKindTimeout, true},
		{errors.New("search failed: connection refused"), ErrKindResearch, true},
		{errors.New("scrape failed: 503"), ErrKindResearch, true},
		{errors.New("policy generation produced no JSON object"), ErrKindGeneration, true},
		{errors.New("model overloaded"), ErrKindGeneration, true},
		{errors.New("disk full"), ErrKindUnknown, false},
	}
	for _, c := range cases {
		info := ClassifyError(c.err)
		if info.Kind != c.kind {
			t.Fatalf("%q: expected %s, got %s", c.err, c.kind, info.Kind)
		}
		if info.Recoverable != c.recoverable {
			t.Fatalf("%q: expected recoverable=%t", c.err, c.recoverable)
		}
	}
}

func TestShouldRetryAfterError_Gate(t *testing.T) {
	ec := NewStructuredContext("run-1", "outline")
	valid := ErrorInfo{Kind: ErrKindValidation, Recoverable: true}

	if !ShouldRetryAfterError(ec, valid) {
		t.Fatal("fresh context should allow retry")
	}
	if ShouldRetryAfterError(ec, ErrorInfo{Kind: ErrKindResearch, Recoverable: true}) {
		t.Fatal("research errors must not pass the retry gate")
	}
	if ShouldRetryAfterError(ec, ErrorInfo{Kind: ErrKindUnknown, Recoverable: false}) {
		t.Fatal("non-recoverable errors must not pass the retry gate")
	}

	ec.IncrementRetries()
	ec.IncrementRetries()
	if ShouldRetryAfterError(ec, valid) {
		t.Fatal("retry budget exhausted, gate should deny")
	}
}

func TestShouldRetryAfterError_DeniesAtStepBudget(t *testing.T) {
	ec := NewConversationalContext("run-1", nil)
	for i := 0; i < 10; i++ {
		ec.IncrementStep()
	}
	if ShouldRetryAfterError(ec, ErrorInfo{Kind: ErrKindTimeout, Recoverable: true}) {
		t.Fatal("gate should deny once the step budget is exhausted")
	}
}

func TestGetErrorRecoveryStrategy_ContentAlwaysFallsBack(t *testing.T) {
	ec := NewStructuredContext("run-1", "outline")
	ec.SetGeneratedContent(&ContentArtifact{Type: ContentQuiz, Quiz: &Quiz{}})
	for _, kind := range []ErrorKind{ErrKindValidation, ErrKindResearch, ErrKindTimeout, ErrKindGeneration, ErrKindUnknown} {
		got := GetErrorRecoveryStrategy(ec, ErrorInfo{Kind: kind})
		if got != StrategyFallback {
			t.Fatalf("%s: expected fallback with existing content, got %s", kind, got)
		}
	}
}

func TestGetErrorRecoveryStrategy_ByKind(t *testing.T) {
	fresh := func() *ExecutionContext { return NewStructuredContext("run-1", "outline") }

	if got := GetErrorRecoveryStrategy(fresh(), ErrorInfo{Kind: ErrKindResearch}); got != StrategySkipResearch {
		t.Fatalf("research: expected skip_research, got %s", got)
	}
	if got := GetErrorRecoveryStrategy(fresh(), ErrorInfo{Kind: ErrKindUnknown}); got != StrategyAbort {
		t.Fatalf("unknown: expected abort, got %s", got)
	}

	ec := fresh()
	if got := GetErrorRecoveryStrategy(ec, ErrorInfo{Kind: ErrKindValidation}); got != StrategyRetry {
		t.Fatalf("validation first try: expected retry, got %s", got)
	}
	ec.IncrementRetries()
	ec.IncrementRetries()
	if got := GetErrorRecoveryStrategy(ec, ErrorInfo{Kind: ErrKindValidation}); got != StrategySimplify {
		t.Fatalf("validation after retries: expected simplify, got %s", got)
	}

	ec = fresh()
	if got := GetErrorRecoveryStrategy(ec, ErrorInfo{Kind: ErrKindTimeout}); got != StrategyRetry {
		t.Fatalf("timeout first try: expected retry, got %s", got)
	}
	ec.IncrementRetries()
	if got := GetErrorRecoveryStrategy(ec, ErrorInfo{Kind: ErrKindTimeout}); got != StrategySimplify {
		t.Fatalf("timeout after one retry: expected simplify, got %s", got)
	}
}

func TestSimplifyOutline(t *testing.T) {
	outline := "Topic one\n\nTopic two\nTopic three\nTopic four\nTopic five"
	got := SimplifyOutline(outline, ContentQuiz)
	want := "Topic one\nTopic two\nTopic three\n\nKeep it short: at most 5 questions."
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
