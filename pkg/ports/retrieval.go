package ports

import (
	"context"

	"github.com/aretw0/zenforge/pkg/domain"
)

// Retriever returns ranked, deduplicated evidence for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, limit int) ([]domain.Evidence, error)
}

// Citer assigns a stable citation identifier to a source.
type Citer interface {
	Cite(source domain.Evidence) string
}
