package core

import (
	"context"
	"time"
)

// Mode selects which actions a run may take and how it terminates.
type Mode string

const (
	// ModeConversational produces a free-text answer to a question.
	ModeConversational Mode = "conversational"
	// ModeStructured produces a validated content artifact from an outline.
	ModeStructured Mode = "structured"
)

// ContentType identifies the artifact family a structured run produces.
type ContentType string

const (
	ContentQuiz      ContentType = "quiz"
	ContentTutorial  ContentType = "tutorial"
	ContentFlashcard ContentType = "flashcard"
)

// Message is one turn of conversation history, or the outline in structured mode.
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// SearchResult is a single hit returned by the search provider.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

// QueryResult records one completed search call.
type QueryResult struct {
	Query     string         `json:"query"`
	Results   []SearchResult `json:"results"`
	Timestamp time.Time      `json:"timestamp"`
}

// ScrapedPage records one successfully scraped page.
type ScrapedPage struct {
	URL       string            `json:"url"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// GenerationAttempt records one structured generation try, successful or not.
type GenerationAttempt struct {
	AttemptNumber int              `json:"attempt_number"`
	Content       *ContentArtifact `json:"content,omitempty"`
	Errors        []string         `json:"errors,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// RefinementRecord records one full artifact regeneration guided by feedback.
type RefinementRecord struct {
	AttemptNumber   int              `json:"attempt_number"`
	Feedback        string           `json:"feedback"`
	ImprovedContent *ContentArtifact `json:"improved_content"`
	Timestamp       time.Time        `json:"timestamp"`
}

// RunResult is what a finished run hands to the OnFinish callback.
type RunResult struct {
	ID             string           `json:"id"`
	Mode           Mode             `json:"mode"`
	Answer         string           `json:"answer,omitempty"`
	Artifact       *ContentArtifact `json:"artifact,omitempty"`
	Steps          int              `json:"steps"`
	Searches       int              `json:"searches"`
	PagesScraped   int              `json:"pages_scraped"`
	ProcessingTime time.Duration    `json:"processing_time"`
	CostEstimate   float64          `json:"cost_estimate"`
	TokensUsed     int64            `json:"tokens_used"`
	CreatedAt      time.Time        `json:"created_at"`
}

// LLMProvider interface defines the contract for LLM providers
type LLMProvider interface {
	// Generate generates text using the LLM
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates text and returns input/output token usage
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error)

	// GetAvailableModels returns available models
	GetAvailableModels() []string

	// GetModelInfo returns information about a specific model
	GetModelInfo(model string) (ModelInfo, error)

	// CalculateCost calculates the cost for a given number of tokens
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// ModelInfo contains information about an LLM model
type ModelInfo struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	MaxTokens       int     `json:"max_tokens"`
	CostPer1KInput  float64 `json:"cost_per_1k_input"`
	CostPer1KOutput float64 `json:"cost_per_1k_output"`
}

// SearchProvider is the external web search collaborator.
type SearchProvider interface {
	Search(ctx context.Context, query string, resultCount int) ([]SearchResult, error)
}

// ScrapeOutcome is the scraper's per-URL report. Failures carry Err and
// Success=false; the batch as a whole never errors for per-page failures.
type ScrapeOutcome struct {
	URL     string
	Success bool
	Content string
	Err     string
}

// Scraper is the external page extraction collaborator.
type Scraper interface {
	Scrape(ctx context.Context, urls []string) ([]ScrapeOutcome, error)
}

// ProgressSink receives fire-and-forget step notifications. Implementations
// must not block; the loop calls this inline.
type ProgressSink func(stepLabel string, detail string)

// RunCallbacks receive the terminal outcome. Exactly one fires per run.
type RunCallbacks struct {
	OnFinish func(RunResult)
	OnError  func(error)
}
