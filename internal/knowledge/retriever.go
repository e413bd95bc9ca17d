package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Retriever embeds a query and searches the index.
type Retriever struct {
	embedder Embedder
	index    *Index
}

// NewRetriever creates a retriever over index.
func NewRetriever(embedder Embedder, index *Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve returns up to topK passages most relevant to query.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.index.Search(ctx, vecs[0], topK)
}

// Ingester loads, chunks, embeds, and indexes rulebook files.
type Ingester struct {
	embedder Embedder
	index    *Index
	chunker  Chunker
	logger   *slog.Logger
}

// NewIngester creates an ingester.
func NewIngester(embedder Embedder, index *Index, chunker Chunker, logger *slog.Logger) *Ingester {
	return &Ingester{
		embedder: embedder,
		index:    index,
		chunker:  chunker,
		logger:   logger.With("component", "ingest"),
	}
}

// IngestFile replaces the indexed chunks for path and returns how many
// were written. Re-ingesting the same file is idempotent.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	blocks, err := LoadDocument(path)
	if err != nil {
		return 0, err
	}
	source := filepath.Base(path)
	chunks := in.chunker.Split(source, blocks)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%s: no text to index", path)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if err := in.index.Replace(ctx, source, chunks, vectors); err != nil {
		return 0, err
	}

	in.logger.Info("rulebook indexed", "source", source, "blocks", len(blocks), "chunks", len(chunks))
	return len(chunks), nil
}
