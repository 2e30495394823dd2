package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/studygen/studygen/config"
	"github.com/studygen/studygen/internal/agent/telemetry"
)

// GenerationHandlers invoke the language model to produce answers and
// content artifacts, grounded on whatever research the run has gathered.
type GenerationHandlers struct {
	config    *config.Config
	llm       LLMProvider
	research  *ResearchHandlers
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewGenerationHandlers creates generation handlers.
func NewGenerationHandlers(cfg *config.Config, llm LLMProvider, research *ResearchHandlers, tel *telemetry.Telemetry) *GenerationHandlers {
	return &GenerationHandlers{
		config:    cfg,
		llm:       llm,
		research:  research,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[GENERATE] ", log.LstdFlags),
	}
}

// HandleDetermineType fixes the artifact type for a structured run. The
// policy supplies the type; the context enforces that it is one-way.
func (g *GenerationHandlers) HandleDetermineType(ctx context.Context, ec *ExecutionContext, ct ContentType) error {
	if err := ec.SetContentType(ct); err != nil {
		return err
	}
	if ec.Title() == "" {
		title, description := g.deriveTitleAndDescription(ctx, ec)
		ec.SetTitle(title)
		ec.SetDescription(description)
	}
	g.logger.Printf("Content type determined: %s", ct)
	return nil
}

func (g *GenerationHandlers) deriveTitleAndDescription(ctx context.Context, ec *ExecutionContext) (string, string) {
	prompt := fmt.Sprintf(`Given this outline for a %s, produce a short title and one-sentence description.

OUTLINE:
%s

Return ONLY strict JSON: {"title": "...", "description": "..."}`, ec.ContentType(), ec.Outline())

	response, err := g.llm.Generate(ctx, prompt, g.config.LLM.Routing.Policy, map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  200,
	})
	if err != nil {
		g.logger.Printf("Title derivation failed, falling back to outline head: %v", err)
		return outlineHead(ec.Outline()), ""
	}
	var meta struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if jsonStr := extractFirstJSON(response); jsonStr != "" {
		if err := json.Unmarshal([]byte(jsonStr), &meta); err == nil && meta.Title != "" {
			return meta.Title, meta.Description
		}
	}
	return outlineHead(ec.Outline()), ""
}

func outlineHead(outline string) string {
	for _, line := range strings.Split(outline, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			if len(s) > 80 {
				s = s[:80]
			}
			return s
		}
	}
	return "Untitled"
}

// HandleGenerate produces a content artifact from the outline and research.
// Validation failures are recorded on the attempt before being returned, so
// later iterations can build refinement feedback from them.
func (g *GenerationHandlers) HandleGenerate(ctx context.Context, ec *ExecutionContext) error {
	ct := ec.ContentType()
	if ct == "" {
		return fmt.Errorf("generate called before content type was determined")
	}

	prompt := g.createGenerationPrompt(ec)
	artifact, err := g.invokeArtifactModel(ctx, ec, ct, prompt, g.config.LLM.Routing.Generation)
	if err != nil {
		ec.RecordGenerationAttempt(nil, []string{err.Error()})
		return err
	}

	ec.RecordGenerationAttempt(artifact, nil)
	ec.SetGeneratedContent(artifact)
	g.syncTitle(ec, artifact)
	g.logger.Printf("Generated %s with %d items (attempt %d)", ct, artifact.ItemCount(), len(ec.GenerationAttempts()))
	return nil
}

// HandleRefine regenerates the whole artifact guided by feedback text. The
// artifact is replaced wholesale, never patched.
func (g *GenerationHandlers) HandleRefine(ctx context.Context, ec *ExecutionContext, feedback string) error {
	current := ec.GeneratedContent()
	if current == nil {
		return fmt.Errorf("refine called with no content generated")
	}

	prompt := g.createRefinementPrompt(ec, current, feedback)
	model := g.config.LLM.Routing.Refinement
	if model == "" {
		model = g.config.LLM.Routing.Generation
	}
	improved, err := g.invokeArtifactModel(ctx, ec, ec.ContentType(), prompt, model)
	if err != nil {
		return err
	}

	ec.RecordRefinement(feedback, improved)
	ec.SetGeneratedContent(improved)
	g.syncTitle(ec, improved)
	g.logger.Printf("Refined %s to %d items (refinement %d)", ec.ContentType(), improved.ItemCount(), len(ec.RefinementHistory()))
	return nil
}

func (g *GenerationHandlers) invokeArtifactModel(ctx context.Context, ec *ExecutionContext, ct ContentType, prompt, model string) (*ContentArtifact, error) {
	start := time.Now()
	response, inTok, outTok, err := g.llm.GenerateWithTokens(ctx, prompt, model, map[string]interface{}{
		"temperature": 0.4,
		"max_tokens":  4000,
	})
	if g.telemetry != nil {
		g.telemetry.RecordLLMEvent(telemetry.LLMEvent{
			Model:        model,
			Duration:     time.Since(start),
			Success:      err == nil,
			InputTokens:  inTok,
			OutputTokens: outTok,
			Cost:         g.llm.CalculateCost(inTok, outTok, model),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("content generation failed: %w", err)
	}
	ec.AddUsage(inTok+outTok, g.llm.CalculateCost(inTok, outTok, model))
	return ParseArtifact(ct, response)
}

func (g *GenerationHandlers) syncTitle(ec *ExecutionContext, a *ContentArtifact) {
	var title, description string
	switch a.Type {
	case ContentQuiz:
		title, description = a.Quiz.Title, a.Quiz.Description
	case ContentTutorial:
		title, description = a.Tutorial.Title, a.Tutorial.Description
	case ContentFlashcard:
		title, description = a.Flashcard.Title, a.Flashcard.Description
	}
	if title != "" {
		ec.SetTitle(title)
	}
	if description != "" {
		ec.SetDescription(description)
	}
}

func (g *GenerationHandlers) createGenerationPrompt(ec *ExecutionContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert educator creating a %s from an outline.\n\nOUTLINE:\n%s\n", ec.ContentType(), ec.Outline())

	if excerpts := g.research.TopExcerpts(ec, ec.Outline(), 4); len(excerpts) > 0 {
		b.WriteString("\nREFERENCE MATERIAL (use to ground facts, do not copy verbatim):\n")
		for i, e := range excerpts {
			if len(e) > 2500 {
				e = e[:2500]
			}
			fmt.Fprintf(&b, "--- Excerpt %d ---\n%s\n", i+1, e)
		}
	}

	if errs := ec.LastAttemptErrors(); len(errs) > 0 {
		fmt.Fprintf(&b, "\nThe previous attempt failed validation. Fix these problems:\n%s\n", strings.Join(errs, "\n"))
	}

	b.WriteString("\n" + artifactSchemaPrompt(ec.ContentType()))
	return b.String()
}

func (g *GenerationHandlers) createRefinementPrompt(ec *ExecutionContext, current *ContentArtifact, feedback string) string {
	currentJSON, _ := json.MarshalIndent(current, "", "  ")
	var b strings.Builder
	fmt.Fprintf(&b, `You are an expert educator improving an existing %s.

CURRENT CONTENT:
%s

FEEDBACK TO ADDRESS:
%s

Regenerate the complete %s with the feedback applied. Keep what already works.
`, ec.ContentType(), string(currentJSON), feedback, ec.ContentType())
	b.WriteString("\n" + artifactSchemaPrompt(ec.ContentType()))
	return b.String()
}

func artifactSchemaPrompt(ct ContentType) string {
	switch ct {
	case ContentQuiz:
		return `Return ONLY strict JSON (no prose, no markdown fences) matching:
{"title": "...", "description": "...", "questions": [{"question": "...", "options": ["...", "...", "...", "..."], "answer": 0, "explanation": "..."}]}
"answer" is the zero-based index of the correct option. Every question needs at least 2 options.`
	case ContentTutorial:
		return `Return ONLY strict JSON (no prose, no markdown fences) matching:
{"title": "...", "description": "...", "sections": [{"heading": "...", "body": "..."}]}
Every section needs a non-empty heading and body.`
	case ContentFlashcard:
		return `Return ONLY strict JSON (no prose, no markdown fences) matching:
{"title": "...", "description": "...", "cards": [{"front": "...", "back": "..."}]}
Every card needs a non-empty front and back.`
	default:
		return ""
	}
}

// HandleAnswer produces the conversational final answer. finalAttempt marks
// the forced max-steps path so the model answers with what exists instead
// of apologizing for incomplete research.
func (g *GenerationHandlers) HandleAnswer(ctx context.Context, ec *ExecutionContext, finalAttempt bool) (string, error) {
	var b strings.Builder
	b.WriteString("You are a knowledgeable research assistant. Answer the user's question.\n\nCONVERSATION:\n")
	for _, m := range ec.Messages() {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}

	if history := ec.SearchHistory(); len(history) > 0 {
		b.WriteString("\nSEARCH RESULTS:\n")
		for _, q := range history {
			for _, r := range q.Results {
				fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, r.Snippet)
			}
		}
	}
	if pages := ec.ScrapedContent(); len(pages) > 0 {
		b.WriteString("\nPAGE CONTENT:\n")
		for _, p := range pages {
			content := p.Content
			if len(content) > 2500 {
				content = content[:2500]
			}
			fmt.Fprintf(&b, "--- %s ---\n%s\n", p.URL, content)
		}
	}

	if finalAttempt {
		b.WriteString("\nAnswer now with what you have. Be direct and confident; do not apologize for missing information or mention incomplete research.")
	} else {
		b.WriteString("\nAnswer the question using the gathered material where relevant. Cite source URLs inline when you rely on them.")
	}

	model := g.config.LLM.Routing.Answer
	start := time.Now()
	answer, inTok, outTok, err := g.llm.GenerateWithTokens(ctx, b.String(), model, map[string]interface{}{
		"temperature": 0.6,
		"max_tokens":  2000,
	})
	if g.telemetry != nil {
		g.telemetry.RecordLLMEvent(telemetry.LLMEvent{
			Model:        model,
			Duration:     time.Since(start),
			Success:      err == nil,
			InputTokens:  inTok,
			OutputTokens: outTok,
			Cost:         g.llm.CalculateCost(inTok, outTok, model),
		})
	}
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	ec.AddUsage(inTok+outTok, g.llm.CalculateCost(inTok, outTok, model))
	return answer, nil
}
