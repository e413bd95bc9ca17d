package knowledge

import (
	"context"
	"fmt"
)

// Retrieval is the similarity-search capability behind the adapter.
type Retrieval interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}

// Adapter narrows Retrieval to the one passage injected into each turn.
type Adapter struct {
	retrieval Retrieval
}

// NewAdapter wraps r.
func NewAdapter(r Retrieval) *Adapter {
	return &Adapter{retrieval: r}
}

// RetrieveContext returns the text of the single best passage for query,
// or "" when nothing matches.
func (a *Adapter) RetrieveContext(ctx context.Context, query string) (string, error) {
	passages, err := a.retrieval.Retrieve(ctx, query, 1)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}
	if len(passages) == 0 {
		return "", nil
	}
	return passages[0].Text, nil
}
