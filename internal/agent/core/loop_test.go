package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const quizJSON = `{"title": "Go Quiz", "description": "basics", "questions": [{"question": "What starts a goroutine?", "options": ["go", "run"], "answer": 0}]}`

type runOutcome struct {
	finished int
	failed   int
	result   RunResult
	err      error
}

func (o *runOutcome) callbacks() RunCallbacks {
	return RunCallbacks{
		OnFinish: func(r RunResult) { o.finished++; o.result = r },
		OnError:  func(err error) { o.failed++; o.err = err },
	}
}

func (o *runOutcome) assertExclusive(t *testing.T) {
	t.Helper()
	if o.finished+o.failed != 1 {
		t.Fatalf("expected exactly one terminal callback, got finish=%d error=%d", o.finished, o.failed)
	}
}

func TestRun_ConversationalAnswer(t *testing.T) {
	llm := &stubLLM{
		script:    []string{`{"type": "answer", "reasoning": "question is self-contained"}`},
		tokScript: []string{"The answer is 42."},
	}
	loop := NewLoop(testConfig(), llm, &stubSearch{}, &stubScraper{}, nil, nil, nil)
	ec := NewConversationalContext("run-1", []Message{{Role: "user", Content: "meaning of life?"}})

	var out runOutcome
	loop.Run(context.Background(), ec, out.callbacks())

	out.assertExclusive(t)
	if out.finished != 1 {
		t.Fatalf("expected finish, got error %v", out.err)
	}
	if out.result.Answer != "The answer is 42." {
		t.Fatalf("unexpected answer: %q", out.result.Answer)
	}
	if out.result.Steps != 1 {
		t.Fatalf("expected 1 step, got %d", out.result.Steps)
	}
	if out.result.TokensUsed == 0 {
		t.Fatal("expected token usage recorded")
	}
}

func TestRun_StructuredHappyPath(t *testing.T) {
	llm := &stubLLM{
		script: []string{
			`{"type": "determine_type", "content_type": "quiz", "reasoning": "outline asks for questions"}`,
			`{"title": "Go Quiz", "description": "basics"}`,
			`{"type": "generate_structured", "reasoning": "outline is enough"}`,
			`{"type": "complete", "reasoning": "content looks good"}`,
		},
		tokScript: []string{quizJSON},
	}
	loop := NewLoop(testConfig(), llm, &stubSearch{}, &stubScraper{}, nil, nil, nil)
	ec := NewStructuredContext("run-1", "1. Goroutines\n2. Channels")

	var out runOutcome
	loop.Run(context.Background(), ec, out.callbacks())

	out.assertExclusive(t)
	if out.finished != 1 {
		t.Fatalf("expected finish, got error %v", out.err)
	}
	if out.result.Artifact == nil || out.result.Artifact.Type != ContentQuiz {
		t.Fatalf("expected quiz artifact, got %+v", out.result.Artifact)
	}
	if ec.Title() != "Go Quiz" {
		t.Fatalf("title not synced: %q", ec.Title())
	}
}

func TestRun_SearchFailureSkipsToGeneration(t *testing.T) {
	llm := &stubLLM{
		script: []string{
			`{"type": "determine_type", "content_type": "quiz", "reasoning": "quiz outline"}`,
			`{"title": "Go Quiz", "description": "basics"}`,
			`{"type": "search", "query": "goroutines", "reasoning": "gather material"}`,
			`{"type": "complete", "reasoning": "done"}`,
		},
		tokScript: []string{quizJSON},
	}
	search := &stubSearch{err: errors.New("connection refused")}
	loop := NewLoop(testConfig(), llm, search, &stubScraper{}, nil, nil, nil)
	ec := NewStructuredContext("run-1", "Goroutines quiz")

	var out runOutcome
	loop.Run(context.Background(), ec, out.callbacks())

	out.assertExclusive(t)
	if out.finished != 1 {
		t.Fatalf("expected artifact despite failed research, got error %v", out.err)
	}
	if out.result.Artifact == nil {
		t.Fatal("expected artifact")
	}
	if len(ec.SearchHistory()) != 0 {
		t.Fatal("failed search must not be recorded")
	}
}

func TestRun_ConversationalResearchForcedToAnswer(t *testing.T) {
	llm := &stubLLM{
		script:    []string{`{"type": "search", "query": "more detail", "reasoning": "keep digging"}`},
		tokScript: []string{"Best effort answer."},
	}
	search := &stubSearch{results: []SearchResult{{Title: "hit", URL: "https://example.com"}}}
	loop := NewLoop(testConfig(), llm, search, &stubScraper{}, nil, nil, nil)
	ec := NewConversationalContext("run-1", []Message{{Role: "user", Content: "deep question"}})

	var out runOutcome
	loop.Run(context.Background(), ec, out.callbacks())

	out.assertExclusive(t)
	if out.finished != 1 {
		t.Fatalf("expected forced answer, got error %v", out.err)
	}
	if out.result.Steps != 6 {
		t.Fatalf("expected override at step 6, got %d", out.result.Steps)
	}
	if out.result.Answer != "Best effort answer." {
		t.Fatalf("unexpected answer: %q", out.result.Answer)
	}
	if out.result.Searches != 5 {
		t.Fatalf("expected 5 searches before the override, got %d", out.result.Searches)
	}
}

func TestRun_CompleteWithoutContentFails(t *testing.T) {
	llm := &stubLLM{script: []string{`{"type": "complete", "reasoning": "premature"}`}}
	loop := NewLoop(testConfig(), llm, &stubSearch{}, &stubScraper{}, nil, nil, nil)
	ec := NewStructuredContext("run-1", "outline")

	var out runOutcome
	loop.Run(context.Background(), ec, out.callbacks())

	out.assertExclusive(t)
	if out.failed != 1 {
		t.Fatal("expected error for complete without content")
	}
	if !strings.Contains(out.err.Error(), "no content generated") {
		t.Fatalf("unexpected error: %v", out.err)
	}
}

func TestRun_StructuredMaxStepsWithoutContentFails(t *testing.T) {
	llm := &stubLLM{script: []string{`{"type": "search", "query": "again", "reasoning": "loop"}`}}
	search := &stubSearch{results: []SearchResult{{Title: "hit"}}}
	loop := NewLoop(testConfig(), llm, search, &stubScraper{}, nil, nil, nil)
	ec := NewStructuredContext("run-1", "outline")

	var out runOutcome
	loop.Run(context.Background(), ec, out.callbacks())

	out.assertExclusive(t)
	if out.failed != 1 {
		t.Fatal("expected failure after exhausting the step budget")
	}
	if !strings.Contains(out.err.Error(), "no content generated after 18 steps") {
		t.Fatalf("unexpected error: %v", out.err)
	}
}

func TestRun_ConversationalScrapeForcedToAnswer(t *testing.T) {
	llm := &stubLLM{
		script:    []string{`{"type": "scrape", "urls": ["https://example.com"], "reasoning": "keep scraping"}`},
		tokScript: []string{"Here is what I found."},
	}
	scraper := &stubScraper{outcomes: []ScrapeOutcome{{URL: "https://example.com", Success: false, Err: "404"}}}
	loop := NewLoop(testConfig(), llm, &stubSearch{}, scraper, nil, nil, nil)
	ec := NewConversationalContext("run-1", []Message{{Role: "user", Content: "question"}})

	var out runOutcome
	loop.Run(context.Background(), ec, out.callbacks())

	out.assertExclusive(t)
	if out.finished != 1 {
		t.Fatalf("expected forced answer, got error %v", out.err)
	}
	if out.result.Steps != 6 {
		t.Fatalf("expected override at step 6, got %d", out.result.Steps)
	}
	if out.result.Answer != "Here is what I found." {
		t.Fatalf("unexpected answer: %q", out.result.Answer)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	llm := &stubLLM{script: []string{`{"type": "answer", "reasoning": "x"}`}}
	loop := NewLoop(testConfig(), llm, &stubSearch{}, &stubScraper{}, nil, nil, nil)
	ec := NewConversationalContext("run-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out runOutcome
	loop.Run(ctx, ec, out.callbacks())

	out.assertExclusive(t)
	if out.failed != 1 {
		t.Fatal("expected error for cancelled context")
	}
	if !strings.Contains(out.err.Error(), "run aborted") {
		t.Fatalf("unexpected error: %v", out.err)
	}
}

func TestApplyOverrides_StructuredScrape(t *testing.T) {
	loop := NewLoop(testConfig(), &stubLLM{}, &stubSearch{}, &stubScraper{}, nil, nil, nil)
	scrape := Action{Type: ActionScrape, URLs: []string{"https://example.com"}}

	ec := NewStructuredContext("run-1", "outline")
	ec.SetGeneratedContent(&ContentArtifact{Type: ContentQuiz, Quiz: &Quiz{}})
	if got := loop.applyOverrides(ec, scrape); got.Type != ActionComplete {
		t.Fatalf("scrape after content should force complete, got %s", got.Type)
	}

	ec = NewStructuredContext("run-2", "outline")
	if err := ec.SetContentType(ContentQuiz); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		ec.AppendScrapedPage(ScrapedPage{URL: "https://example.com"})
	}
	if got := loop.applyOverrides(ec, scrape); got.Type != ActionGenerateStructured {
		t.Fatalf("scrape with 3 pages and a known type should force generation, got %s", got.Type)
	}

	ec = NewStructuredContext("run-3", "outline")
	for i := 0; i < 3; i++ {
		ec.AppendScrapedPage(ScrapedPage{URL: "https://example.com"})
	}
	if got := loop.applyOverrides(ec, scrape); got.Type != ActionScrape {
		t.Fatalf("scrape with no type determined should pass through, got %s", got.Type)
	}

	ec = NewStructuredContext("run-4", "outline")
	if got := loop.applyOverrides(ec, scrape); got.Type != ActionScrape {
		t.Fatalf("early scrape should pass through, got %s", got.Type)
	}
}

func TestRun_SearchWithoutQueryFails(t *testing.T) {
	llm := &stubLLM{script: []string{`{"type": "search", "reasoning": "forgot the query"}`}}
	loop := NewLoop(testConfig(), llm, &stubSearch{}, &stubScraper{}, nil, nil, nil)
	ec := NewConversationalContext("run-1", []Message{{Role: "user", Content: "question"}})

	var out runOutcome
	loop.Run(context.Background(), ec, out.callbacks())

	out.assertExclusive(t)
	if out.failed != 1 {
		t.Fatalf("expected error for search without a query, got result %+v", out.result)
	}
	if !strings.Contains(out.err.Error(), "requires a query") {
		t.Fatalf("unexpected error: %v", out.err)
	}
	if ec.Step() != 1 {
		t.Fatalf("contract violation must terminate immediately, got %d steps", ec.Step())
	}
	if ec.Retries() != 0 {
		t.Fatalf("contract violation must not be retried, got %d retries", ec.Retries())
	}
}

func TestRun_ResearchFirstThenDetermineType(t *testing.T) {
	llm := &stubLLM{
		script: []string{
			`{"type": "scrape", "urls": ["https://a.com", "https://b.com", "https://c.com"], "reasoning": "gather"}`,
			`{"type": "scrape", "urls": ["https://d.com"], "reasoning": "one more"}`,
			`{"type": "determine_type", "content_type": "quiz", "reasoning": "outline is a quiz"}`,
			`{"title": "Go Quiz", "description": "basics"}`,
			`{"type": "scrape", "urls": ["https://e.com"], "reasoning": "keep going"}`,
			`{"type": "complete", "reasoning": "done"}`,
		},
		tokScript: []string{quizJSON},
	}
	loop := NewLoop(testConfig(), llm, &stubSearch{}, &stubScraper{}, nil, nil, nil)
	ec := NewStructuredContext("run-1", "Goroutines quiz")

	var out runOutcome
	loop.Run(context.Background(), ec, out.callbacks())

	out.assertExclusive(t)
	if out.finished != 1 {
		t.Fatalf("research before determine_type must not abort the run, got error %v", out.err)
	}
	if out.result.Artifact == nil || out.result.Artifact.Type != ContentQuiz {
		t.Fatalf("expected quiz artifact, got %+v", out.result.Artifact)
	}
	if out.result.PagesScraped != 4 {
		t.Fatalf("expected the pre-type scrapes kept, got %d pages", out.result.PagesScraped)
	}
}

func TestRun_ValidationFailureRetriesGeneration(t *testing.T) {
	badQuiz := `{"title": "Go Quiz", "questions": []}`
	llm := &stubLLM{
		script: []string{
			`{"type": "determine_type", "content_type": "quiz", "reasoning": "quiz"}`,
			`{"title": "Go Quiz", "description": ""}`,
			`{"type": "generate_structured", "reasoning": "go"}`,
			`{"type": "complete", "reasoning": "done"}`,
		},
		tokScript: []string{badQuiz, quizJSON},
	}
	loop := NewLoop(testConfig(), llm, &stubSearch{}, &stubScraper{}, nil, nil, nil)
	ec := NewStructuredContext("run-1", "outline")

	var out runOutcome
	loop.Run(context.Background(), ec, out.callbacks())

	out.assertExclusive(t)
	if out.finished != 1 {
		t.Fatalf("expected recovery to succeed, got error %v", out.err)
	}
	if ec.Retries() != 1 {
		t.Fatalf("expected 1 retry, got %d", ec.Retries())
	}
	attempts := ec.GenerationAttempts()
	if len(attempts) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", len(attempts))
	}
	if len(attempts[0].Errors) == 0 {
		t.Fatal("first attempt should record validation errors")
	}
}
