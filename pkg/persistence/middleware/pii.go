package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/zenforge/pkg/domain"
	"github.com/aretw0/zenforge/pkg/ports"
)

// Mask replaces redacted values.
const Mask = "***"

type piiMiddleware struct {
	next     ports.RunStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware masks clarification answers whose key matches any pattern.
// The in-memory run is never modified.
func NewPIIMiddleware(patterns []string) (Middleware, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, &domain.ConfigurationError{Subject: "redact pattern", Reason: fmt.Sprintf("%q: %v", p, err)}
		}
		compiled = append(compiled, re)
	}
	return func(next ports.RunStore) ports.RunStore {
		return &piiMiddleware{next: next, patterns: compiled}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, run *domain.RunContext) error {
	if len(run.Clarifications) == 0 {
		return m.next.Save(ctx, run)
	}
	cloned := run.Snapshot()
	for k := range cloned.Clarifications {
		if m.matches(k) {
			cloned.Clarifications[k] = Mask
		}
	}
	return m.next.Save(ctx, cloned)
}

func (m *piiMiddleware) matches(key string) bool {
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID string) (*domain.RunContext, error) {
	return m.next.Load(ctx, sessionID)
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}
