package research

import (
	"context"
	"errors"
	"testing"

	fetchmodels "github.com/studygen/studygen/tools/web_fetch/models"
	searchmodels "github.com/studygen/studygen/tools/web_search/models"
)

type stubWebSearcher struct {
	results []searchmodels.Result
	err     error
	calls   int
}

func (s *stubWebSearcher) Discover(ctx context.Context, q string, k int) ([]searchmodels.Result, error) {
	s.calls++
	return s.results, s.err
}

type stubFetcher struct {
	byURL map[string]fetchmodels.Result
	err   error
}

func (s *stubFetcher) Exec(ctx context.Context, url string) (fetchmodels.Result, error) {
	if s.err != nil {
		return fetchmodels.Result{}, s.err
	}
	return s.byURL[url], nil
}

func TestSearcher_MapsAndLimitsResults(t *testing.T) {
	ws := &stubWebSearcher{results: []searchmodels.Result{
		{Title: "one", URL: "https://a.example", Snippet: "first"},
		{Title: "two", URL: "https://b.example", Snippet: "second"},
		{Title: "three", URL: "https://c.example", Snippet: "third"},
	}}
	s := NewSearcher("serper", ws, nil)

	got, err := s.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Title != "one" || got[0].Snippet != "first" {
		t.Fatalf("unexpected mapping: %+v", got[0])
	}
}

func TestSearcher_NilCacheIsSafe(t *testing.T) {
	ws := &stubWebSearcher{results: []searchmodels.Result{{Title: "one"}}}
	s := NewSearcher("serper", ws, nil)

	for i := 0; i < 2; i++ {
		if _, err := s.Search(context.Background(), "query", 5); err != nil {
			t.Fatalf("Search: %v", err)
		}
	}
	if ws.calls != 2 {
		t.Fatalf("expected provider hit each time without cache, got %d calls", ws.calls)
	}
}

func TestSearcher_PropagatesProviderError(t *testing.T) {
	ws := &stubWebSearcher{err: errors.New("serper search: 500 Internal Server Error")}
	s := NewSearcher("serper", ws, nil)
	if _, err := s.Search(context.Background(), "query", 5); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestScraper_PerPageOutcomes(t *testing.T) {
	fetcher := &stubFetcher{byURL: map[string]fetchmodels.Result{
		"https://ok.example":    {URL: "https://ok.example", Status: 200, Text: "article body"},
		"https://empty.example": {URL: "https://empty.example", Status: 200, Text: ""},
		"https://dead.example":  {URL: "https://dead.example", Status: 599, Text: "error page"},
	}}
	s := NewScraper(fetcher)

	outcomes, err := s.Scrape(context.Background(), []string{"https://ok.example", "https://empty.example", "https://dead.example"})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Success || outcomes[0].Content != "article body" {
		t.Fatalf("expected success for readable page: %+v", outcomes[0])
	}
	if outcomes[1].Success || outcomes[2].Success {
		t.Fatal("empty and non-200 pages must fail")
	}
	if outcomes[1].Err == "" || outcomes[2].Err == "" {
		t.Fatal("failed outcomes must carry a reason")
	}
}

func TestScraper_CancelledContext(t *testing.T) {
	s := NewScraper(&stubFetcher{err: context.Canceled})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Scrape(ctx, []string{"https://a.example"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
