package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nugget/charmbot/internal/httpkit"
	"github.com/nugget/charmbot/internal/knowledge"
)

// runIngest chunks and embeds a rulebook into the knowledge index. It
// replaces any chunks previously indexed from the same file name.
func runIngest(ctx context.Context, stdout, stderr io.Writer, configPath, path string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	if path == "" {
		path = cfg.Knowledge.Rulebook
	}
	if path == "" {
		return fmt.Errorf("usage: charmbot ingest <file> (or set knowledge.rulebook)")
	}

	a := &app{cfg: cfg, logger: logger}
	defer a.Close()
	idx, err := a.openIndex()
	if err != nil {
		return err
	}
	emb, err := a.newEmbedder(httpkit.NewClient(httpkit.WithTimeout(0)))
	if err != nil {
		return err
	}

	chunker := knowledge.Chunker{Size: cfg.Knowledge.ChunkSize, Overlap: cfg.Knowledge.ChunkOverlap}
	n, err := knowledge.NewIngester(emb, idx, chunker, logger).IngestFile(ctx, path)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}

	total, err := idx.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Indexed %d chunks from %s (%d total)\n", n, path, total)
	return nil
}
