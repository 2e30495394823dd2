package research

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"

	"github.com/studygen/studygen/internal/agent/core"
)

// excerptChunkSize is how finely pages are split before indexing.
const excerptChunkSize = 1500

// Index ranks scraped page excerpts against a query with a mem-only bleve
// index, so generation prompts carry the most relevant material instead of
// pages in scrape order. One Index belongs to one run.
type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
	meta  map[string]chunk
}

type chunk struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// NewIndex creates an empty in-memory excerpt index.
func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating excerpt index: %w", err)
	}
	return &Index{bleve: idx, meta: make(map[string]chunk)}, nil
}

// IndexPage splits the page into chunks and indexes each one.
func (x *Index) IndexPage(page core.ScrapedPage) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, text := range splitChunks(page.Content, excerptChunkSize) {
		c := chunk{URL: page.URL, Text: text}
		id := uuid.NewString()
		x.meta[id] = c
		if err := x.bleve.Index(id, c); err != nil {
			return fmt.Errorf("indexing chunk from %s: %w", page.URL, err)
		}
	}
	return nil
}

// TopExcerpts returns up to n chunk texts ranked by relevance to q.
func (x *Index) TopExcerpts(q string, n int) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, n*3, 0, false)
	res, err := x.bleve.Search(searchReq)
	if err != nil {
		return nil
	}

	var out []string
	for _, hit := range res.Hits {
		c, ok := x.meta[hit.ID]
		if !ok {
			continue
		}
		out = append(out, c.Text)
		if len(out) >= n {
			break
		}
	}
	return out
}

func splitChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > size {
		out = append(out, text[:size])
		text = text[size:]
	}
	out = append(out, text)
	return out
}
