package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/aretw0/zenforge/pkg/domain"
)

// Corpus is a keyword retriever over a fixed set of documents.
// Relevance is the share of question terms found in a document.
type Corpus struct {
	docs []domain.Evidence
}

// NewCorpus creates a retriever over docs.
func NewCorpus(docs ...domain.Evidence) *Corpus {
	return &Corpus{docs: docs}
}

// Add appends documents to the corpus. It is not safe to call concurrently with Retrieve.
func (c *Corpus) Add(docs ...domain.Evidence) {
	c.docs = append(c.docs, docs...)
}

// Retrieve returns up to limit documents sharing terms with question, best first.
// Documents with the same URL are returned once.
func (c *Corpus) Retrieve(ctx context.Context, question string, limit int) ([]domain.Evidence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(question)
	if len(terms) == 0 {
		return []domain.Evidence{}, nil
	}

	seen := make(map[string]struct{})
	var hits []domain.Evidence
	for _, d := range c.docs {
		key := d.URL
		if key == "" {
			key = d.Title
		}
		if _, dup := seen[key]; dup {
			continue
		}
		words := make(map[string]struct{})
		for _, w := range tokenize(d.Title + " " + d.Content) {
			words[w] = struct{}{}
		}
		matched := 0
		for _, t := range terms {
			if _, ok := words[t]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		seen[key] = struct{}{}
		d.Relevance = float64(matched) / float64(len(terms))
		hits = append(hits, d)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Relevance > hits[j].Relevance })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "how": {}, "is": {}, "of": {},
	"the": {}, "to": {}, "what": {}, "why": {}, "in": {}, "for": {}, "does": {},
}

// tokenize lowercases s and splits it into distinct non-stopword terms.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Citer numbers sources in first-seen order: "[1]", "[2]", ...
// The same URL always gets the same identifier.
type Citer struct {
	mu  sync.Mutex
	ids map[string]string
}

// NewCiter creates an empty citation registry.
func NewCiter() *Citer {
	return &Citer{ids: make(map[string]string)}
}

func (c *Citer) Cite(src domain.Evidence) string {
	key := src.URL
	if key == "" {
		key = src.Title
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.ids[key]; ok {
		return id
	}
	id := "[" + strconv.Itoa(len(c.ids)+1) + "]"
	c.ids[key] = id
	return id
}
