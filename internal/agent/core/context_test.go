package core

import "testing"

func TestConversationalContext_FixedStepBudget(t *testing.T) {
	ec := NewConversationalContext("run-1", []Message{{Role: "user", Content: "what is raft?"}})
	if got := ec.MaxSteps(); got != 10 {
		t.Fatalf("expected max steps 10, got %d", got)
	}
	ec.AppendSearch("raft consensus", nil)
	ec.AppendScrapedPage(ScrapedPage{URL: "https://example.com"})
	if got := ec.MaxSteps(); got != 10 {
		t.Fatalf("conversational budget should never grow, got %d", got)
	}
}

func TestStructuredContext_BudgetGrowsWithProgress(t *testing.T) {
	ec := NewStructuredContext("run-1", "1. Intro\n2. Details")
	if got := ec.MaxSteps(); got != 15 {
		t.Fatalf("expected base budget 15, got %d", got)
	}
	ec.AppendSearch("topic basics", nil)
	if got := ec.MaxSteps(); got != 18 {
		t.Fatalf("expected research budget 18, got %d", got)
	}
	ec.RecordRefinement("clarify section two", &ContentArtifact{Type: ContentQuiz})
	if got := ec.MaxSteps(); got != 20 {
		t.Fatalf("expected refinement budget 20, got %d", got)
	}
}

func TestStructuredContext_BudgetNeverShrinks(t *testing.T) {
	ec := NewStructuredContext("run-1", "outline")
	ec.RecordRefinement("feedback", nil)
	if got := ec.MaxSteps(); got != 20 {
		t.Fatalf("expected budget 20, got %d", got)
	}
	// Further recomputes see the same history; the ceiling must hold.
	if got := ec.MaxSteps(); got != 20 {
		t.Fatalf("budget shrank to %d", got)
	}
}

func TestShouldStop_AtBudget(t *testing.T) {
	ec := NewConversationalContext("run-1", nil)
	for i := 0; i < 9; i++ {
		ec.IncrementStep()
	}
	if ec.ShouldStop() {
		t.Fatalf("should not stop at step %d of %d", ec.Step(), ec.MaxSteps())
	}
	ec.IncrementStep()
	if !ec.ShouldStop() {
		t.Fatalf("expected stop at step %d of %d", ec.Step(), ec.MaxSteps())
	}
}

func TestSetContentType_OneWay(t *testing.T) {
	ec := NewStructuredContext("run-1", "outline")
	if err := ec.SetContentType(ContentQuiz); err != nil {
		t.Fatalf("first set failed: %v", err)
	}
	if err := ec.SetContentType(ContentQuiz); err != nil {
		t.Fatalf("re-confirming same type should succeed: %v", err)
	}
	if err := ec.SetContentType(ContentTutorial); err == nil {
		t.Fatal("expected error when changing an already determined type")
	}
	if ec.ContentType() != ContentQuiz {
		t.Fatalf("type changed to %s", ec.ContentType())
	}
}

func TestHistoryAccessors_ReturnCopies(t *testing.T) {
	ec := NewConversationalContext("run-1", []Message{{Role: "user", Content: "q"}})
	ec.AppendSearch("query", []SearchResult{{Title: "a"}})

	msgs := ec.Messages()
	msgs[0].Content = "mutated"
	if ec.Messages()[0].Content != "q" {
		t.Fatal("Messages returned a live reference")
	}

	hist := ec.SearchHistory()
	hist[0].Query = "mutated"
	if ec.SearchHistory()[0].Query != "query" {
		t.Fatal("SearchHistory returned a live reference")
	}
}

func TestLastAttemptErrors(t *testing.T) {
	ec := NewStructuredContext("run-1", "outline")
	if errs := ec.LastAttemptErrors(); errs != nil {
		t.Fatalf("expected nil with no attempts, got %v", errs)
	}
	ec.RecordGenerationAttempt(nil, []string{"quiz has no questions"})
	errs := ec.LastAttemptErrors()
	if len(errs) != 1 || errs[0] != "quiz has no questions" {
		t.Fatalf("unexpected errors: %v", errs)
	}
	ec.RecordGenerationAttempt(&ContentArtifact{Type: ContentQuiz}, nil)
	if errs := ec.LastAttemptErrors(); errs != nil {
		t.Fatalf("expected nil after successful attempt, got %v", errs)
	}
}

func TestReplaceOutline(t *testing.T) {
	ec := NewStructuredContext("run-1", "long outline")
	ec.ReplaceOutline("short outline")
	if ec.Outline() != "short outline" {
		t.Fatalf("outline not replaced: %q", ec.Outline())
	}
}

func TestAddUsage_Accumulates(t *testing.T) {
	ec := NewConversationalContext("run-1", nil)
	ec.AddUsage(100, 0.01)
	ec.AddUsage(250, 0.02)
	if ec.TokensUsed() != 350 {
		t.Fatalf("expected 350 tokens, got %d", ec.TokensUsed())
	}
	if ec.CostEstimate() < 0.029 || ec.CostEstimate() > 0.031 {
		t.Fatalf("expected cost ~0.03, got %f", ec.CostEstimate())
	}
}
