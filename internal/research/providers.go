package research

import (
	"context"
	"log"
	"sync"

	"github.com/studygen/studygen/internal/agent/core"
	"github.com/studygen/studygen/internal/store"
	"github.com/studygen/studygen/tools/web_fetch"
	"github.com/studygen/studygen/tools/web_search"
	searchmodels "github.com/studygen/studygen/tools/web_search/models"
)

// Searcher adapts a web_search provider to the loop's SearchProvider
// contract, with an optional Redis cache in front.
type Searcher struct {
	provider string
	searcher web_search.WebSearcher
	cache    *store.SearchCache
	logger   *log.Logger
}

func NewSearcher(provider string, searcher web_search.WebSearcher, cache *store.SearchCache) *Searcher {
	return &Searcher{
		provider: provider,
		searcher: searcher,
		cache:    cache,
		logger:   log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

func (s *Searcher) Search(ctx context.Context, query string, resultCount int) ([]core.SearchResult, error) {
	if cached, ok := s.cache.Get(ctx, s.provider, query); ok {
		s.logger.Printf("Cache hit for %q", query)
		return toSearchResults(cached, resultCount), nil
	}

	results, err := s.searcher.Discover(ctx, query, resultCount)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, s.provider, query, results)
	return toSearchResults(results, resultCount), nil
}

func toSearchResults(results []searchmodels.Result, k int) []core.SearchResult {
	var out []core.SearchResult
	for i, r := range results {
		if k > 0 && i >= k {
			break
		}
		out = append(out, core.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Snippet,
			Date:    r.Date,
		})
	}
	return out
}

// scrapeWorkers bounds concurrent page renders within one batch.
const scrapeWorkers = 2

// Scraper adapts a web_fetch fetcher to the loop's Scraper contract. Pages
// in a batch render concurrently; per-page failures go into the outcome,
// the batch itself only errors when the whole context dies.
type Scraper struct {
	fetcher web_fetch.WebFetcher
	logger  *log.Logger
}

func NewScraper(fetcher web_fetch.WebFetcher) *Scraper {
	return &Scraper{
		fetcher: fetcher,
		logger:  log.New(log.Writer(), "[SCRAPER] ", log.LstdFlags),
	}
}

func (s *Scraper) Scrape(ctx context.Context, urls []string) ([]core.ScrapeOutcome, error) {
	outcomes := make([]core.ScrapeOutcome, len(urls))
	sem := make(chan struct{}, scrapeWorkers)
	var wg sync.WaitGroup

	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := s.fetcher.Exec(ctx, u)
			if err != nil {
				outcomes[i] = core.ScrapeOutcome{URL: u, Success: false, Err: err.Error()}
				return
			}
			if res.Status != 200 || res.Text == "" {
				outcomes[i] = core.ScrapeOutcome{URL: u, Success: false, Err: "no readable content"}
				return
			}
			outcomes[i] = core.ScrapeOutcome{URL: u, Success: true, Content: res.Text}
		}(i, u)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
