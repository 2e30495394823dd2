package core

import (
	"fmt"
	"time"
)

const (
	conversationalMaxSteps = 10
	structuredBaseSteps    = 15
	structuredResearchBump = 18
	structuredRefineBump   = 20
)

// ExecutionContext is the per-run mutable state container. It has exactly
// one writer, the orchestration loop; collaborators only ever see copies
// of its history slices. All methods are synchronous and in-memory.
type ExecutionContext struct {
	runID    string
	mode     Mode
	step     int
	maxSteps int

	messages       []Message
	searchHistory  []QueryResult
	scrapedContent []ScrapedPage
	retries        int

	tokensUsed   int64
	costEstimate float64

	// structured mode only
	contentType        ContentType
	title              string
	description        string
	generatedContent   *ContentArtifact
	generationAttempts []GenerationAttempt
	refinementHistory  []RefinementRecord
}

// NewConversationalContext builds a context for a free-text answer run.
func NewConversationalContext(runID string, messages []Message) *ExecutionContext {
	msgs := make([]Message, len(messages))
	copy(msgs, messages)
	return &ExecutionContext{
		runID:    runID,
		mode:     ModeConversational,
		maxSteps: conversationalMaxSteps,
		messages: msgs,
	}
}

// NewStructuredContext builds a context for an artifact generation run.
// The outline travels as the single message.
func NewStructuredContext(runID, outline string) *ExecutionContext {
	return &ExecutionContext{
		runID:    runID,
		mode:     ModeStructured,
		maxSteps: structuredBaseSteps,
		messages: []Message{{Role: "user", Content: outline}},
	}
}

func (ec *ExecutionContext) RunID() string { return ec.runID }
func (ec *ExecutionContext) Mode() Mode    { return ec.mode }
func (ec *ExecutionContext) Step() int     { return ec.step }
func (ec *ExecutionContext) Retries() int  { return ec.retries }

// IncrementStep advances the step counter. Only the loop calls this.
func (ec *ExecutionContext) IncrementStep() { ec.step++ }

// IncrementRetries counts a recovery attempt for a recoverable error.
func (ec *ExecutionContext) IncrementRetries() { ec.retries++ }

// AddUsage accumulates token and cost totals across LLM calls.
func (ec *ExecutionContext) AddUsage(tokens int64, cost float64) {
	ec.tokensUsed += tokens
	ec.costEstimate += cost
}

func (ec *ExecutionContext) TokensUsed() int64     { return ec.tokensUsed }
func (ec *ExecutionContext) CostEstimate() float64 { return ec.costEstimate }

// MaxSteps reports the current budget after any structured-mode recompute.
func (ec *ExecutionContext) MaxSteps() int {
	ec.recomputeMaxSteps()
	return ec.maxSteps
}

// ShouldStop reports whether the step budget is exhausted. For structured
// mode the budget is recomputed first from research/refinement progress.
func (ec *ExecutionContext) ShouldStop() bool {
	ec.recomputeMaxSteps()
	return ec.step >= ec.maxSteps
}

// recomputeMaxSteps grows (never shrinks) the structured budget: research
// earns extra generation headroom, refinement a little more still.
func (ec *ExecutionContext) recomputeMaxSteps() {
	if ec.mode != ModeStructured {
		return
	}
	limit := structuredBaseSteps
	if len(ec.searchHistory) > 0 || len(ec.scrapedContent) > 0 {
		limit = structuredResearchBump
	}
	if len(ec.refinementHistory) > 0 {
		limit = structuredRefineBump
	}
	if limit > ec.maxSteps {
		ec.maxSteps = limit
	}
}

// Messages returns a copy of the conversation history (or outline).
func (ec *ExecutionContext) Messages() []Message {
	out := make([]Message, len(ec.messages))
	copy(out, ec.messages)
	return out
}

// Outline returns the structured-mode outline text.
func (ec *ExecutionContext) Outline() string {
	if len(ec.messages) == 0 {
		return ""
	}
	return ec.messages[0].Content
}

// ReplaceOutline swaps the outline text in place. Used by the simplify
// recovery path only.
func (ec *ExecutionContext) ReplaceOutline(outline string) {
	if len(ec.messages) == 0 {
		ec.messages = []Message{{Role: "user", Content: outline}}
		return
	}
	ec.messages[0].Content = outline
}

// AppendSearch records one completed search call.
func (ec *ExecutionContext) AppendSearch(query string, results []SearchResult) {
	rs := make([]SearchResult, len(results))
	copy(rs, results)
	ec.searchHistory = append(ec.searchHistory, QueryResult{
		Query:     query,
		Results:   rs,
		Timestamp: time.Now(),
	})
}

// SearchHistory returns a copy of all recorded searches.
func (ec *ExecutionContext) SearchHistory() []QueryResult {
	out := make([]QueryResult, len(ec.searchHistory))
	copy(out, ec.searchHistory)
	return out
}

// AppendScrapedPage records one successfully scraped page.
func (ec *ExecutionContext) AppendScrapedPage(page ScrapedPage) {
	ec.scrapedContent = append(ec.scrapedContent, page)
}

// ScrapedContent returns a copy of all scraped pages.
func (ec *ExecutionContext) ScrapedContent() []ScrapedPage {
	out := make([]ScrapedPage, len(ec.scrapedContent))
	copy(out, ec.scrapedContent)
	return out
}

// ScrapedPageCount reports how many pages have been kept this run.
func (ec *ExecutionContext) ScrapedPageCount() int { return len(ec.scrapedContent) }

// ContentType reports the determined artifact type, empty if undetermined.
func (ec *ExecutionContext) ContentType() ContentType { return ec.contentType }

// SetContentType fixes the artifact type for the run. The type is one-way:
// once set it can be confirmed but never changed or unset.
func (ec *ExecutionContext) SetContentType(ct ContentType) error {
	if ec.contentType != "" && ec.contentType != ct {
		return fmt.Errorf("content type already determined as %s, cannot change to %s", ec.contentType, ct)
	}
	ec.contentType = ct
	return nil
}

func (ec *ExecutionContext) Title() string       { return ec.title }
func (ec *ExecutionContext) Description() string { return ec.description }

func (ec *ExecutionContext) SetTitle(t string)       { ec.title = t }
func (ec *ExecutionContext) SetDescription(d string) { ec.description = d }

// GeneratedContent returns the current artifact, nil if none yet.
func (ec *ExecutionContext) GeneratedContent() *ContentArtifact { return ec.generatedContent }

// SetGeneratedContent stores the current artifact. A later successful
// refinement overwrites it wholesale.
func (ec *ExecutionContext) SetGeneratedContent(a *ContentArtifact) { ec.generatedContent = a }

// RecordGenerationAttempt appends one generation try, successful or failed.
func (ec *ExecutionContext) RecordGenerationAttempt(content *ContentArtifact, errs []string) {
	ec.generationAttempts = append(ec.generationAttempts, GenerationAttempt{
		AttemptNumber: len(ec.generationAttempts) + 1,
		Content:       content,
		Errors:        errs,
		Timestamp:     time.Now(),
	})
}

// GenerationAttempts returns a copy of all recorded generation tries.
func (ec *ExecutionContext) GenerationAttempts() []GenerationAttempt {
	out := make([]GenerationAttempt, len(ec.generationAttempts))
	copy(out, ec.generationAttempts)
	return out
}

// LastAttemptErrors returns the error strings from the most recent failed
// attempt, nil when the last attempt succeeded or none exist.
func (ec *ExecutionContext) LastAttemptErrors() []string {
	if len(ec.generationAttempts) == 0 {
		return nil
	}
	last := ec.generationAttempts[len(ec.generationAttempts)-1]
	if len(last.Errors) == 0 {
		return nil
	}
	out := make([]string, len(last.Errors))
	copy(out, last.Errors)
	return out
}

// RecordRefinement appends one completed refinement pass.
func (ec *ExecutionContext) RecordRefinement(feedback string, improved *ContentArtifact) {
	ec.refinementHistory = append(ec.refinementHistory, RefinementRecord{
		AttemptNumber:   len(ec.refinementHistory) + 1,
		Feedback:        feedback,
		ImprovedContent: improved,
		Timestamp:       time.Now(),
	})
}

// RefinementHistory returns a copy of all refinement passes.
func (ec *ExecutionContext) RefinementHistory() []RefinementRecord {
	out := make([]RefinementRecord, len(ec.refinementHistory))
	copy(out, ec.refinementHistory)
	return out
}
