package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/studygen/studygen/config"
)

// Policy asks the language model which action to take next. It is advisory
// only: the orchestration loop applies hard overrides after every decision.
type Policy struct {
	config      *config.Config
	llmProvider LLMProvider
	logger      *log.Logger
}

// NewPolicy creates a new policy instance
func NewPolicy(cfg *config.Config, llmProvider LLMProvider) *Policy {
	return &Policy{
		config:      cfg,
		llmProvider: llmProvider,
		logger:      log.New(log.Writer(), "[POLICY] ", log.LstdFlags),
	}
}

// NextAction produces exactly one Action for the current context. Malformed
// model output is a generation failure, never swallowed.
func (p *Policy) NextAction(ctx context.Context, ec *ExecutionContext) (Action, error) {
	prompt := p.createActionPrompt(ec)
	model := p.config.LLM.Routing.Policy

	response, err := p.llmProvider.Generate(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.2,
		"max_tokens":  500,
	})
	if err != nil {
		return Action{}, fmt.Errorf("policy generation failed: %w", err)
	}

	action, err := p.parseActionResponse(response)
	if err != nil {
		return Action{}, err
	}

	if err := action.Validate(ec.Mode()); err != nil {
		return Action{}, err
	}

	p.logger.Printf("Step %d: selected %s (%s)", ec.Step(), action.Type, action.Reasoning)
	return action, nil
}

func (p *Policy) parseActionResponse(response string) (Action, error) {
	jsonStr := extractFirstJSON(response)
	if jsonStr == "" {
		return Action{}, fmt.Errorf("policy generation produced no JSON object")
	}
	var action Action
	if err := json.Unmarshal([]byte(jsonStr), &action); err != nil {
		return Action{}, fmt.Errorf("policy generation produced invalid JSON: %w", err)
	}
	return action, nil
}

func (p *Policy) createActionPrompt(ec *ExecutionContext) string {
	var b strings.Builder

	if ec.Mode() == ModeConversational {
		b.WriteString(`You are a research assistant deciding the next step toward answering a user's question.

AVAILABLE ACTIONS:
- search: run a web search (requires "query")
- scrape: extract full text from result pages (requires "urls")
- answer: produce the final answer from what has been gathered

`)
		b.WriteString("CONVERSATION:\n")
		for _, m := range ec.Messages() {
			fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
		}
	} else {
		b.WriteString(`You are a content-creation agent deciding the next step toward building study material from an outline.

AVAILABLE ACTIONS:
- search: run a web search for grounding material (requires "query")
- scrape: extract full text from result pages (requires "urls")
- determine_type: decide whether the outline is a quiz, tutorial, or flashcard set (requires "content_type")
- generate_structured: generate the content from the outline and any research
- refine_structured: regenerate existing content guided by feedback (requires "feedback")
- complete: finish the run with the current content

`)
		fmt.Fprintf(&b, "OUTLINE:\n%s\n", ec.Outline())
		if ec.ContentType() != "" {
			fmt.Fprintf(&b, "\nCONTENT TYPE (already determined, do not re-determine): %s\n", ec.ContentType())
		}
		if ec.GeneratedContent() != nil {
			fmt.Fprintf(&b, "\nCONTENT STATUS: generated (%d items). Prefer refine_structured or complete.\n",
				ec.GeneratedContent().ItemCount())
		}
		if errs := ec.LastAttemptErrors(); len(errs) > 0 {
			fmt.Fprintf(&b, "\nLAST GENERATION ERRORS:\n%s\n", strings.Join(errs, "\n"))
		}
	}

	fmt.Fprintf(&b, "\nPROGRESS: step %d of %d, %d searches run, %d pages scraped.\n",
		ec.Step(), ec.MaxSteps(), len(ec.SearchHistory()), ec.ScrapedPageCount())

	if history := ec.SearchHistory(); len(history) > 0 {
		b.WriteString("\nSEARCHES SO FAR:\n")
		for _, q := range history {
			fmt.Fprintf(&b, "- %q (%d results)\n", q.Query, len(q.Results))
			for i, r := range q.Results {
				if i == 3 {
					break
				}
				fmt.Fprintf(&b, "    %s | %s\n", r.Title, r.URL)
			}
		}
	}
	if pages := ec.ScrapedContent(); len(pages) > 0 {
		b.WriteString("\nPAGES SCRAPED:\n")
		for _, pg := range pages {
			fmt.Fprintf(&b, "- %s (%d chars)\n", pg.URL, len(pg.Content))
		}
	}

	b.WriteString(`
Respond with the single best next action. Return ONLY strict JSON (no prose, no markdown fences) matching:
{"type": "<action>", "query": "...", "urls": ["..."], "content_type": "...", "feedback": "...", "reasoning": "..."}
Include only the fields the chosen action requires, plus a one-sentence reasoning.`)

	return b.String()
}
