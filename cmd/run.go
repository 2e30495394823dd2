package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/studygen/studygen/config"
	"github.com/studygen/studygen/internal/agent/core"
	"github.com/studygen/studygen/internal/agent/telemetry"
	"github.com/studygen/studygen/internal/research"
	"github.com/studygen/studygen/tools/web_fetch"
	"github.com/studygen/studygen/tools/web_search"
)

// runCMD executes a single agent run from the command line without the
// HTTP server or database.
func runCMD() *cobra.Command {
	var cfgPath string
	var outline string
	var question string

	var run = &cobra.Command{
		Use:   "run",
		Short: "Execute a one-shot agent run (--question or --outline)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (question == "") == (outline == "") {
				return fmt.Errorf("exactly one of --question or --outline is required")
			}
			cfg := config.LoadConfig(cfgPath)

			llm, err := core.NewLLMProvider(cfg.LLM)
			if err != nil {
				return err
			}
			var apiKey string
			switch cfg.Research.Provider {
			case "brave":
				apiKey = cfg.Research.BraveAPIKey
			default:
				apiKey = cfg.Research.SerperAPIKey
			}
			webSearcher, err := web_search.NewWebSearcher(web_search.Provider(cfg.Research.Provider), apiKey)
			if err != nil {
				return err
			}
			fetcher, err := web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType, cfg.Research.Fetch.Timeout, cfg.Research.Fetch.MaxChars)
			if err != nil {
				return err
			}
			index, err := research.NewIndex()
			if err != nil {
				return err
			}

			tele := telemetry.New(cfg.Telemetry)
			defer tele.Shutdown()

			logger := log.New(log.Writer(), "[RUN] ", log.LstdFlags)
			progress := func(stepLabel, detail string) {
				logger.Printf("%s: %s", stepLabel, detail)
			}
			loop := core.NewLoop(cfg, llm,
				research.NewSearcher(cfg.Research.Provider, webSearcher, nil),
				research.NewScraper(fetcher), index, tele, progress)

			runID := uuid.NewString()
			var ec *core.ExecutionContext
			if question != "" {
				ec = core.NewConversationalContext(runID, []core.Message{{Role: "user", Content: question}})
			} else {
				ec = core.NewStructuredContext(runID, outline)
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.General.DefaultTimeout)
			defer cancel()

			var runErr error
			loop.Run(ctx, ec, core.RunCallbacks{
				OnFinish: func(result core.RunResult) {
					if result.Answer != "" {
						fmt.Println(strings.TrimSpace(result.Answer))
						return
					}
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					_ = enc.Encode(result.Artifact)
				},
				OnError: func(err error) { runErr = err },
			})
			return runErr
		},
	}
	run.Flags().StringVarP(&question, "question", "q", "", "ask a free-form question")
	run.Flags().StringVarP(&outline, "outline", "o", "", "generate study content from an outline")
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}
