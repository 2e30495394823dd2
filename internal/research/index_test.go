package research

import (
	"strings"
	"testing"

	"github.com/studygen/studygen/internal/agent/core"
)

func TestIndex_RanksRelevantChunks(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	pages := []core.ScrapedPage{
		{URL: "https://go.dev/concurrency", Content: "A goroutine is a lightweight thread managed by the Go runtime. Channels connect goroutines."},
		{URL: "https://cooking.example/pasta", Content: "Boil the pasta in salted water for nine minutes, then drain and toss with olive oil."},
	}
	for _, p := range pages {
		if err := idx.IndexPage(p); err != nil {
			t.Fatalf("IndexPage: %v", err)
		}
	}

	got := idx.TopExcerpts("goroutine channels", 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 excerpt, got %d", len(got))
	}
	if !strings.Contains(got[0], "goroutine") {
		t.Fatalf("wrong excerpt ranked first: %q", got[0])
	}
}

func TestIndex_EmptyIndexReturnsNothing(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if got := idx.TopExcerpts("anything", 3); len(got) != 0 {
		t.Fatalf("expected no excerpts, got %v", got)
	}
}

func TestIndex_LongPageSplitsIntoChunks(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	long := strings.Repeat("filler text ", 200) + "the needle sentence about raft consensus"
	if err := idx.IndexPage(core.ScrapedPage{URL: "https://example.com", Content: long}); err != nil {
		t.Fatalf("IndexPage: %v", err)
	}

	got := idx.TopExcerpts("raft consensus", 1)
	if len(got) != 1 {
		t.Fatalf("expected 1 excerpt, got %d", len(got))
	}
	if len(got[0]) > excerptChunkSize {
		t.Fatalf("excerpt exceeds chunk size: %d", len(got[0]))
	}
	if !strings.Contains(got[0], "raft consensus") {
		t.Fatalf("wrong chunk: %q", got[0])
	}
}

func TestSplitChunks(t *testing.T) {
	if got := splitChunks("", 5); got != nil {
		t.Fatalf("expected nil for empty text, got %v", got)
	}
	got := splitChunks("abcdefghij", 4)
	if len(got) != 3 || got[0] != "abcd" || got[2] != "ij" {
		t.Fatalf("unexpected chunks: %v", got)
	}
}
