package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/studygen/studygen/config"
	"github.com/studygen/studygen/internal/agent/core"
	"github.com/studygen/studygen/internal/agent/telemetry"
	"github.com/studygen/studygen/internal/research"
	"github.com/studygen/studygen/internal/store"
)

// AgentRunner launches agent runs and persists their outcomes. Each run
// gets its own ExecutionContext and excerpt index; the collaborators are
// shared and stateless.
type AgentRunner struct {
	Config    *config.Config
	LLM       core.LLMProvider
	Searcher  core.SearchProvider
	Scraper   core.Scraper
	Telemetry *telemetry.Telemetry
	Store     *store.Store
	Progress  *ProgressHub
	logger    *log.Logger
}

func NewAgentRunner(cfg *config.Config, llm core.LLMProvider, searcher core.SearchProvider, scraper core.Scraper, tel *telemetry.Telemetry, st *store.Store, progress *ProgressHub) *AgentRunner {
	return &AgentRunner{
		Config:    cfg,
		LLM:       llm,
		Searcher:  searcher,
		Scraper:   scraper,
		Telemetry: tel,
		Store:     st,
		Progress:  progress,
		logger:    log.New(log.Writer(), "[RUNNER] ", log.LstdFlags),
	}
}

// StartConversational launches an answer run and returns its id.
func (r *AgentRunner) StartConversational(userID string, messages []core.Message) (string, error) {
	runID := uuid.NewString()
	if err := r.Store.CreateRun(context.Background(), runID, userID, string(core.ModeConversational), nil); err != nil {
		return "", err
	}
	ec := core.NewConversationalContext(runID, messages)
	go r.execute(ec, nil)
	return runID, nil
}

// StartStructured launches an artifact run from an outline and returns its id.
func (r *AgentRunner) StartStructured(userID, outline string, topicID *string) (string, error) {
	runID := uuid.NewString()
	if err := r.Store.CreateRun(context.Background(), runID, userID, string(core.ModeStructured), topicID); err != nil {
		return "", err
	}
	ec := core.NewStructuredContext(runID, outline)
	go r.execute(ec, topicID)
	return runID, nil
}

func (r *AgentRunner) execute(ec *core.ExecutionContext, topicID *string) {
	timeout := r.Config.General.DefaultTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	indexer, err := research.NewIndex()
	if err != nil {
		r.logger.Printf("Excerpt index unavailable for run %s: %v", ec.RunID(), err)
	}

	var coreIndexer core.ExcerptIndexer
	if indexer != nil {
		coreIndexer = indexer
	}
	loop := core.NewLoop(r.Config, r.LLM, r.Searcher, r.Scraper, coreIndexer, r.Telemetry, func(stepLabel, detail string) {
		r.logger.Printf("Run %s: %s %s", ec.RunID(), stepLabel, detail)
		if r.Progress != nil {
			r.Progress.Record(ec.RunID(), stepLabel, detail)
		}
	})

	loop.Run(ctx, ec, core.RunCallbacks{
		OnFinish: func(result core.RunResult) { r.persistSuccess(ec, result, topicID) },
		OnError:  func(err error) { r.persistFailure(ec, err) },
	})
}

func (r *AgentRunner) persistSuccess(ec *core.ExecutionContext, result core.RunResult, topicID *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if result.Answer != "" {
		if err := r.Store.SaveRunAnswer(ctx, result.ID, result.Answer); err != nil {
			r.logger.Printf("Saving answer for run %s failed: %v", result.ID, err)
		}
	}
	if result.Artifact != nil {
		payload, err := json.Marshal(result.Artifact)
		if err == nil {
			rec := store.ArtifactRecord{
				RunID:       result.ID,
				ContentType: string(result.Artifact.Type),
				Title:       ec.Title(),
				Description: ec.Description(),
				Payload:     payload,
			}
			if topicID != nil {
				rec.TopicID.String = *topicID
				rec.TopicID.Valid = true
			}
			if _, err := r.Store.SaveArtifact(ctx, rec); err != nil {
				r.logger.Printf("Saving artifact for run %s failed: %v", result.ID, err)
			}
		}
	}
	if err := r.Store.FinishRun(ctx, result.ID, store.RunStatusSucceeded, "",
		result.Steps, result.Searches, result.PagesScraped, result.CostEstimate, result.TokensUsed); err != nil {
		r.logger.Printf("Finishing run %s failed: %v", result.ID, err)
	}
}

func (r *AgentRunner) persistFailure(ec *core.ExecutionContext, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.Store.FinishRun(ctx, ec.RunID(), store.RunStatusFailed, runErr.Error(),
		ec.Step(), len(ec.SearchHistory()), ec.ScrapedPageCount(), ec.CostEstimate(), ec.TokensUsed()); err != nil {
		r.logger.Printf("Finishing failed run %s failed: %v", ec.RunID(), err)
	}
}
