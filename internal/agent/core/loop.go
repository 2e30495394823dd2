package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/studygen/studygen/config"
	"github.com/studygen/studygen/internal/agent/telemetry"
)

// Loop drives a run: one policy decision per step, hard overrides, handler
// dispatch, error recovery, termination. It owns the ExecutionContext for
// the run's lifetime; nothing else writes to it.
type Loop struct {
	config     *config.Config
	policy     *Policy
	research   *ResearchHandlers
	generation *GenerationHandlers
	telemetry  *telemetry.Telemetry
	progress   ProgressSink
	logger     *log.Logger
}

// NewLoop wires a loop from injected collaborators so tests can substitute
// deterministic fakes for every external call.
func NewLoop(cfg *config.Config, llm LLMProvider, search SearchProvider, scraper Scraper, indexer ExcerptIndexer, tel *telemetry.Telemetry, progress ProgressSink) *Loop {
	research := NewResearchHandlers(search, scraper, indexer, tel, cfg.Research.MaxResults)
	return &Loop{
		config:     cfg,
		policy:     NewPolicy(cfg, llm),
		research:   research,
		generation: NewGenerationHandlers(cfg, llm, research, tel),
		telemetry:  tel,
		progress:   progress,
		logger:     log.New(log.Writer(), "[LOOP] ", log.LstdFlags),
	}
}

// Run executes the state machine to completion. Exactly one of
// callbacks.OnFinish / callbacks.OnError fires.
func (l *Loop) Run(ctx context.Context, ec *ExecutionContext, callbacks RunCallbacks) {
	start := time.Now()
	result, err := l.run(ctx, ec, start)

	if l.telemetry != nil {
		l.telemetry.RecordRunEvent(telemetry.RunEvent{
			RunID:    ec.RunID(),
			Mode:     string(ec.Mode()),
			Duration: time.Since(start),
			Steps:    ec.Step(),
			Success:  err == nil,
			Error:    errString(err),
			Cost:     ec.CostEstimate(),
			Tokens:   ec.TokensUsed(),
		})
	}

	if err != nil {
		l.logger.Printf("Run %s failed after %d steps: %v", ec.RunID(), ec.Step(), err)
		if callbacks.OnError != nil {
			callbacks.OnError(err)
		}
		return
	}
	l.logger.Printf("Run %s finished in %d steps (%v)", ec.RunID(), ec.Step(), time.Since(start))
	if callbacks.OnFinish != nil {
		callbacks.OnFinish(result)
	}
}

func (l *Loop) run(ctx context.Context, ec *ExecutionContext, start time.Time) (RunResult, error) {
	// forced carries an action chosen by the recovery planner into the
	// next iteration, bypassing the policy for that step.
	var forced *Action

	for !ec.ShouldStop() {
		ec.IncrementStep()

		if err := ctx.Err(); err != nil {
			return RunResult{}, fmt.Errorf("run aborted: %w", err)
		}

		var action Action
		if forced != nil {
			action = *forced
			forced = nil
		} else {
			proposed, err := l.policy.NextAction(ctx, ec)
			if err != nil {
				next, result, done, ferr := l.handleFailure(ctx, ec, err, nil, start)
				if done {
					return result, ferr
				}
				forced = next
				continue
			}
			action = proposed
		}

		action = l.applyOverrides(ec, action)
		l.emit(string(action.Type), action.Reasoning)

		result, terminal, err := l.dispatch(ctx, ec, action, start)
		if err != nil {
			next, result, done, ferr := l.handleFailure(ctx, ec, err, &action, start)
			if done {
				return result, ferr
			}
			forced = next
			continue
		}
		if terminal {
			return result, nil
		}
	}

	return l.finishAfterMaxSteps(ctx, ec, start)
}

// applyOverrides enforces bounded research deterministically. The policy is
// a language model and is not trusted to self-limit.
func (l *Loop) applyOverrides(ec *ExecutionContext, action Action) Action {
	switch ec.Mode() {
	case ModeStructured:
		if action.Type == ActionScrape {
			if ec.GeneratedContent() != nil {
				l.logger.Printf("Override: scrape after content generated, forcing complete")
				return Action{Type: ActionComplete, Reasoning: "content already generated"}
			}
			// Generation needs a determined type; until then the policy
			// still gets to pick determine_type.
			if ec.ScrapedPageCount() >= 3 && ec.ContentType() != "" {
				l.logger.Printf("Override: %d pages scraped with no content, forcing generate_structured", ec.ScrapedPageCount())
				return Action{Type: ActionGenerateStructured, Reasoning: "enough research gathered"}
			}
		}
	case ModeConversational:
		if (action.Type == ActionSearch || action.Type == ActionScrape) && ec.Step() >= 6 {
			l.logger.Printf("Override: research at step %d, forcing answer", ec.Step())
			return Action{Type: ActionAnswer, Reasoning: "research budget exhausted"}
		}
	}
	return action
}

// dispatch routes the action to its handler. answer and complete are
// terminal. An unrecognized type is a hard failure, never ignored.
func (l *Loop) dispatch(ctx context.Context, ec *ExecutionContext, action Action, start time.Time) (RunResult, bool, error) {
	switch action.Type {
	case ActionSearch:
		return RunResult{}, false, l.research.HandleSearch(ctx, ec, action.Query)
	case ActionScrape:
		return RunResult{}, false, l.research.HandleScrape(ctx, ec, action.URLs)
	case ActionAnswer:
		answer, err := l.generation.HandleAnswer(ctx, ec, false)
		if err != nil {
			return RunResult{}, false, err
		}
		return l.buildResult(ec, answer, start), true, nil
	case ActionDetermineType:
		return RunResult{}, false, l.generation.HandleDetermineType(ctx, ec, action.ContentType)
	case ActionGenerateStructured:
		return RunResult{}, false, l.generation.HandleGenerate(ctx, ec)
	case ActionRefineStructured:
		return RunResult{}, false, l.generation.HandleRefine(ctx, ec, action.Feedback)
	case ActionComplete:
		if ec.GeneratedContent() == nil {
			return RunResult{}, false, fmt.Errorf("complete requested but no content generated")
		}
		return l.buildResult(ec, "", start), true, nil
	default:
		return RunResult{}, false, fmt.Errorf("unknown action type: %q", action.Type)
	}
}

// handleFailure classifies the error and resolves a recovery strategy.
// Returns either a forced action for the next iteration (done=false) or a
// terminal outcome (done=true).
func (l *Loop) handleFailure(ctx context.Context, ec *ExecutionContext, err error, failed *Action, start time.Time) (*Action, RunResult, bool, error) {
	var contract *ContractError
	if errors.As(err, &contract) {
		l.logger.Printf("Step %d contract violation: %s", ec.Step(), contract.Msg)
		return nil, RunResult{}, true, err
	}

	info := ClassifyError(err)
	l.logger.Printf("Step %d error (%s, recoverable=%t): %s", ec.Step(), info.Kind, info.Recoverable, info.Message)
	l.emit("error", info.Message)

	strategy := GetErrorRecoveryStrategy(ec, info)
	l.emit("recovery", string(strategy))

	switch strategy {
	case StrategyFallback:
		// Content exists; return it rather than risk losing it.
		return nil, l.buildResult(ec, "", start), true, nil

	case StrategyRetry:
		if !ShouldRetryAfterError(ec, info) {
			return l.degradeOrFail(ctx, ec, err, start)
		}
		ec.IncrementRetries()
		if failed != nil {
			return failed, RunResult{}, false, nil
		}
		return nil, RunResult{}, false, nil

	case StrategySkipResearch:
		// Research failures degrade, never loop. In structured mode with a
		// known type we go straight to generation on what exists.
		if ec.Mode() == ModeStructured && ec.ContentType() != "" {
			return &Action{Type: ActionGenerateStructured, Reasoning: "research unavailable, generating from outline"}, RunResult{}, false, nil
		}
		return nil, RunResult{}, false, nil

	case StrategySimplify:
		if ec.Mode() != ModeStructured {
			return l.degradeOrFail(ctx, ec, err, start)
		}
		ec.IncrementRetries()
		ec.ReplaceOutline(SimplifyOutline(ec.Outline(), ec.ContentType()))
		l.logger.Printf("Simplified outline after repeated failures")
		return &Action{Type: ActionGenerateStructured, Reasoning: "retrying with simplified outline"}, RunResult{}, false, nil

	default: // StrategyAbort
		return l.degradeOrFail(ctx, ec, err, start)
	}
}

// degradeOrFail is the last stop before OnError. Conversational runs that
// already hold partial context get a best-effort final answer instead of a
// raw error.
func (l *Loop) degradeOrFail(ctx context.Context, ec *ExecutionContext, cause error, start time.Time) (*Action, RunResult, bool, error) {
	if ec.Mode() == ModeConversational && (len(ec.SearchHistory()) > 0 || ec.ScrapedPageCount() > 0) {
		answer, err := l.generation.HandleAnswer(ctx, ec, true)
		if err == nil {
			return nil, l.buildResult(ec, answer, start), true, nil
		}
		l.logger.Printf("Degraded answer also failed: %v", err)
	}
	if ec.Mode() == ModeStructured && ec.GeneratedContent() != nil {
		return nil, l.buildResult(ec, "", start), true, nil
	}
	return nil, RunResult{}, true, cause
}

// finishAfterMaxSteps handles step exhaustion without a terminal action.
func (l *Loop) finishAfterMaxSteps(ctx context.Context, ec *ExecutionContext, start time.Time) (RunResult, error) {
	l.emit("max_steps_reached", fmt.Sprintf("step %d of %d", ec.Step(), ec.MaxSteps()))

	if ec.Mode() == ModeConversational {
		answer, err := l.generation.HandleAnswer(ctx, ec, true)
		if err != nil {
			return RunResult{}, fmt.Errorf("final answer after max steps failed: %w", err)
		}
		return l.buildResult(ec, answer, start), nil
	}

	if ec.GeneratedContent() != nil {
		return l.buildResult(ec, "", start), nil
	}
	return RunResult{}, fmt.Errorf("no content generated after %d steps", ec.Step())
}

func (l *Loop) buildResult(ec *ExecutionContext, answer string, start time.Time) RunResult {
	return RunResult{
		ID:             ec.RunID(),
		Mode:           ec.Mode(),
		Answer:         answer,
		Artifact:       ec.GeneratedContent(),
		Steps:          ec.Step(),
		Searches:       len(ec.SearchHistory()),
		PagesScraped:   ec.ScrapedPageCount(),
		ProcessingTime: time.Since(start),
		CostEstimate:   ec.CostEstimate(),
		TokensUsed:     ec.TokensUsed(),
		CreatedAt:      time.Now(),
	}
}

func (l *Loop) emit(stepLabel, detail string) {
	if l.progress != nil {
		l.progress(stepLabel, detail)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
