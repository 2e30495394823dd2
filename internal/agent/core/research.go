package core

import (
	"context"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/studygen/studygen/internal/agent/telemetry"
)

const (
	// perCallURLCap bounds how many URLs a single scrape action may attempt.
	perCallURLCap = 4
	// sessionPageCap bounds total kept pages across a run.
	sessionPageCap = 8
	// pageCharLimit is the hard per-page truncation point.
	pageCharLimit = 10000
	// truncationMarker is appended verbatim when a page is truncated.
	truncationMarker = "\n\n[... Content truncated to prevent token overflow ...]"
)

// ExcerptIndexer receives scraped pages for relevance ranking at generation
// time. Indexing failures are logged, never surfaced to the loop.
type ExcerptIndexer interface {
	IndexPage(page ScrapedPage) error
	TopExcerpts(query string, n int) []string
}

// ResearchHandlers wrap the search and scrape collaborators with the hard
// resource caps the loop relies on.
type ResearchHandlers struct {
	search    SearchProvider
	scraper   Scraper
	indexer   ExcerptIndexer
	telemetry *telemetry.Telemetry
	results   int
	logger    *log.Logger
}

// NewResearchHandlers creates research handlers. indexer may be nil.
func NewResearchHandlers(search SearchProvider, scraper Scraper, indexer ExcerptIndexer, tel *telemetry.Telemetry, resultCount int) *ResearchHandlers {
	if resultCount <= 0 {
		resultCount = 5
	}
	return &ResearchHandlers{
		search:    search,
		scraper:   scraper,
		indexer:   indexer,
		telemetry: tel,
		results:   resultCount,
		logger:    log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags),
	}
}

// HandleSearch runs one search and appends the result to history. A missing
// query is a ContractError and propagates untouched.
func (r *ResearchHandlers) HandleSearch(ctx context.Context, ec *ExecutionContext, query string) error {
	if query == "" {
		return &ContractError{Msg: "search called without a query"}
	}

	start := time.Now()
	results, err := r.search.Search(ctx, query, r.results)
	if r.telemetry != nil {
		r.telemetry.RecordResearchEvent(telemetry.ResearchEvent{
			Kind:     "search",
			Detail:   query,
			Duration: time.Since(start),
			Success:  err == nil,
			Results:  len(results),
		})
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	ec.AppendSearch(query, results)
	r.logger.Printf("Search %q returned %d results", query, len(results))
	return nil
}

// HandleScrape scrapes up to perCallURLCap URLs and appends only successful
// pages, truncated at pageCharLimit. At or over the session cap the call is
// a silent no-op. A batch where every page fails returns nil with zero new
// entries; per-page failures are logged only.
func (r *ResearchHandlers) HandleScrape(ctx context.Context, ec *ExecutionContext, urls []string) error {
	if len(urls) > perCallURLCap {
		r.logger.Printf("Scrape call capped at %d URLs, dropping %d", perCallURLCap, len(urls)-perCallURLCap)
		urls = urls[:perCallURLCap]
	}

	if ec.ScrapedPageCount() >= sessionPageCap {
		r.logger.Printf("Session scrape cap (%d pages) reached, skipping %d URLs", sessionPageCap, len(urls))
		return nil
	}

	start := time.Now()
	outcomes, err := r.scraper.Scrape(ctx, urls)
	if err != nil {
		if r.telemetry != nil {
			r.telemetry.RecordResearchEvent(telemetry.ResearchEvent{
				Kind: "scrape", Duration: time.Since(start), Success: false,
			})
		}
		return fmt.Errorf("scrape failed: %w", err)
	}

	kept := 0
	for _, out := range outcomes {
		if !out.Success {
			r.logger.Printf("Scrape failed for %s: %s", out.URL, out.Err)
			continue
		}
		if ec.ScrapedPageCount() >= sessionPageCap {
			r.logger.Printf("Session scrape cap reached mid-batch, dropping %s", out.URL)
			continue
		}
		page := ScrapedPage{
			URL:       out.URL,
			Content:   truncateContent(out.Content),
			Timestamp: time.Now(),
		}
		ec.AppendScrapedPage(page)
		kept++
		if r.indexer != nil {
			if err := r.indexer.IndexPage(page); err != nil {
				r.logger.Printf("Indexing %s failed: %v", page.URL, err)
			}
		}
	}

	if r.telemetry != nil {
		r.telemetry.RecordResearchEvent(telemetry.ResearchEvent{
			Kind: "scrape", Duration: time.Since(start), Success: true, Results: kept,
		})
	}
	r.logger.Printf("Scrape kept %d of %d pages", kept, len(urls))
	return nil
}

// TopExcerpts ranks indexed pages against a query, falling back to raw
// scraped content order when no indexer is wired.
func (r *ResearchHandlers) TopExcerpts(ec *ExecutionContext, query string, n int) []string {
	if r.indexer != nil {
		if excerpts := r.indexer.TopExcerpts(query, n); len(excerpts) > 0 {
			return excerpts
		}
	}
	var out []string
	for _, p := range ec.ScrapedContent() {
		out = append(out, p.Content)
		if len(out) == n {
			break
		}
	}
	return out
}

func truncateContent(content string) string {
	if len(content) <= pageCharLimit {
		return content
	}
	cut := pageCharLimit
	// Back up so the cut never splits a multi-byte rune.
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + truncationMarker
}
