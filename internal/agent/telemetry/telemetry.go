package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/studygen/studygen/config"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studygen_runs_total",
		Help: "Completed agent runs by mode and outcome.",
	}, []string{"mode", "outcome"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studygen_run_duration_seconds",
		Help:    "End-to-end run duration.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"mode"})

	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studygen_llm_requests_total",
		Help: "LLM calls by model and outcome.",
	}, []string{"model", "outcome"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studygen_llm_tokens_total",
		Help: "Tokens consumed by model and direction.",
	}, []string{"model", "direction"})

	researchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studygen_research_requests_total",
		Help: "Search and scrape calls by kind and outcome.",
	}, []string{"kind", "outcome"})
)

// Telemetry aggregates run, LLM and research metrics and tracks spend.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	mu          sync.RWMutex
	metrics     Metrics
	costTracker CostTracker
}

// Metrics holds cumulative counters for the process lifetime.
type Metrics struct {
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	AverageRunTime time.Duration

	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64

	SearchRequests int64
	ScrapeRequests int64
}

// CostTracker accumulates estimated LLM spend.
type CostTracker struct {
	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// RunEvent describes one completed agent run.
type RunEvent struct {
	RunID    string
	Mode     string
	Duration time.Duration
	Steps    int
	Success  bool
	Error    string
	Cost     float64
	Tokens   int64
}

// LLMEvent describes one model invocation.
type LLMEvent struct {
	Model        string
	Duration     time.Duration
	Success      bool
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// ResearchEvent describes one search or scrape call.
type ResearchEvent struct {
	Kind     string // search, scrape
	Detail   string
	Duration time.Duration
	Success  bool
	Results  int
}

// New creates a telemetry instance.
func New(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: Metrics{
			LLMRequests:   make(map[string]int64),
			LLMTokensUsed: make(map[string]int64),
		},
		costTracker: CostTracker{
			ModelCosts: make(map[string]float64),
		},
	}
}

// RecordRunEvent records a completed run.
func (t *Telemetry) RecordRunEvent(event RunEvent) {
	if !t.config.Enabled {
		return
	}

	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	runsTotal.WithLabelValues(event.Mode, outcome).Inc()
	runDuration.WithLabelValues(event.Mode).Observe(event.Duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	if event.Success {
		t.metrics.SuccessfulRuns++
	} else {
		t.metrics.FailedRuns++
	}

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.Duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.Tokens

	t.logger.Printf("Run Event: ID=%s, Mode=%s, Success=%t, Steps=%d, Duration=%v, Cost=$%.4f",
		event.RunID, event.Mode, event.Success, event.Steps, event.Duration, event.Cost)
}

// RecordLLMEvent records one model invocation.
func (t *Telemetry) RecordLLMEvent(event LLMEvent) {
	if !t.config.Enabled {
		return
	}

	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	llmRequests.WithLabelValues(event.Model, outcome).Inc()
	llmTokens.WithLabelValues(event.Model, "input").Add(float64(event.InputTokens))
	llmTokens.WithLabelValues(event.Model, "output").Add(float64(event.OutputTokens))

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.LLMRequests[event.Model]++
	t.metrics.LLMTokensUsed[event.Model] += event.InputTokens + event.OutputTokens
	if t.config.CostTracking {
		t.costTracker.ModelCosts[event.Model] += event.Cost
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += event.InputTokens + event.OutputTokens
	}
}

// RecordResearchEvent records one search or scrape call.
func (t *Telemetry) RecordResearchEvent(event ResearchEvent) {
	if !t.config.Enabled {
		return
	}

	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	researchRequests.WithLabelValues(event.Kind, outcome).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case "search":
		t.metrics.SearchRequests++
	case "scrape":
		t.metrics.ScrapeRequests++
	}

	t.logger.Printf("Research Event: Kind=%s, Success=%t, Duration=%v, Results=%d",
		event.Kind, event.Success, event.Duration, event.Results)
}

// GetMetrics returns a snapshot copy of the counters.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := t.metrics
	metrics.LLMRequests = make(map[string]int64, len(t.metrics.LLMRequests))
	metrics.LLMTokensUsed = make(map[string]int64, len(t.metrics.LLMTokensUsed))
	for k, v := range t.metrics.LLMRequests {
		metrics.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		metrics.LLMTokensUsed[k] = v
	}
	return metrics
}

// GetCostSummary returns a snapshot copy of accumulated spend.
func (t *Telemetry) GetCostSummary() CostTracker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := t.costTracker
	summary.ModelCosts = make(map[string]float64, len(t.costTracker.ModelCosts))
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	return summary
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	t.logger.Printf("Final Report: Runs=%d (ok=%d, failed=%d), AvgTime=%v, Cost=$%.4f, Tokens=%d",
		metrics.TotalRuns, metrics.SuccessfulRuns, metrics.FailedRuns,
		metrics.AverageRunTime, costs.TotalCost, costs.TotalTokens)
}
