package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// keywordEmbedder maps text onto fixed axes so similarity is predictable.
type keywordEmbedder struct {
	err error
}

var axes = []string{"late", "refund", "voucher", "wrong"}

func (k keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(axes))
		lower := strings.ToLower(t)
		for j, a := range axes {
			v[j] = float32(strings.Count(lower, a))
		}
		out[i] = v
	}
	return out, nil
}

func setupTestIndex(t *testing.T) *Index {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	idx, err := NewIndex(db)
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return idx
}

func TestEmbeddingRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out := decodeEmbedding(encodeEmbedding(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIndex_SearchRanksBySimilarity(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()
	emb := keywordEmbedder{}

	chunks := []Chunk{
		{Source: "rules.md", Index: 0, Text: "Wrong item: offer a refund."},
		{Source: "rules.md", Index: 1, Text: "Late delivery: apologise, send a voucher for late orders."},
		{Source: "rules.md", Index: 2, Text: "Refund requests need human review."},
	}
	texts := []string{chunks[0].Text, chunks[1].Text, chunks[2].Text}
	vecs, _ := emb.Embed(ctx, texts)
	if err := idx.Replace(ctx, "rules.md", chunks, vecs); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	r := NewRetriever(emb, idx)
	got, err := r.Retrieve(ctx, "my order was late", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d passages, want 2", len(got))
	}
	if got[0].Index != 1 {
		t.Errorf("best passage = %d (%q), want 1", got[0].Index, got[0].Text)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("passages not sorted by score: %v < %v", got[0].Score, got[1].Score)
	}
}

func TestIndex_ReplaceIsIdempotent(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()
	chunks := []Chunk{{Source: "s", Index: 0, Text: "late"}}
	vecs := [][]float32{{1, 0, 0, 0}}

	for range 3 {
		if err := idx.Replace(ctx, "s", chunks, vecs); err != nil {
			t.Fatal(err)
		}
	}
	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestIndex_ReplaceMismatch(t *testing.T) {
	idx := setupTestIndex(t)
	err := idx.Replace(context.Background(), "s", []Chunk{{Text: "a"}}, nil)
	if err == nil {
		t.Error("expected error for chunk/vector mismatch")
	}
}

func TestIndex_SearchEmpty(t *testing.T) {
	idx := setupTestIndex(t)
	got, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d passages from empty index", len(got))
	}
}

func TestIngester_IngestFile(t *testing.T) {
	idx := setupTestIndex(t)
	path := filepath.Join(t.TempDir(), "rulebook.md")
	if err := os.WriteFile(path, []byte(sampleRulebook), 0o644); err != nil {
		t.Fatal(err)
	}

	in := NewIngester(keywordEmbedder{}, idx, Chunker{Size: 150, Overlap: 30}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n, err := in.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if n != 4 {
		t.Errorf("indexed %d chunks, want 4", n)
	}

	passage, err := NewAdapter(NewRetriever(keywordEmbedder{}, idx)).RetrieveContext(context.Background(), "voucher for late order")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(passage, "$5 voucher") {
		t.Errorf("passage = %q, want the late delivery rule", passage)
	}
}

func TestIngester_EmbedFailure(t *testing.T) {
	idx := setupTestIndex(t)
	path := filepath.Join(t.TempDir(), "rules.txt")
	os.WriteFile(path, []byte("late delivery rule"), 0o644)

	in := NewIngester(keywordEmbedder{err: errors.New("ollama down")}, idx, Chunker{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := in.IngestFile(context.Background(), path); err == nil {
		t.Error("expected embed failure to surface")
	}
}

type staticRetrieval struct {
	passages []Passage
	err      error
	gotK     int
}

func (s *staticRetrieval) Retrieve(_ context.Context, _ string, k int) ([]Passage, error) {
	s.gotK = k
	return s.passages, s.err
}

func TestAdapter_RetrieveContext(t *testing.T) {
	t.Run("first passage", func(t *testing.T) {
		r := &staticRetrieval{passages: []Passage{{Text: "best"}, {Text: "second"}}}
		got, err := NewAdapter(r).RetrieveContext(context.Background(), "q")
		if err != nil || got != "best" {
			t.Errorf("got %q, %v", got, err)
		}
		if r.gotK != 1 {
			t.Errorf("topK = %d, want 1", r.gotK)
		}
	})
	t.Run("no results", func(t *testing.T) {
		got, err := NewAdapter(&staticRetrieval{}).RetrieveContext(context.Background(), "q")
		if err != nil || got != "" {
			t.Errorf("got %q, %v", got, err)
		}
	})
	t.Run("error", func(t *testing.T) {
		boom := errors.New("index offline")
		_, err := NewAdapter(&staticRetrieval{err: boom}).RetrieveContext(context.Background(), "q")
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapped boom", err)
		}
	})
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != DefaultEmbeddingModel {
			t.Errorf("model = %q", req.Model)
		}
		embs := make([][]float32, len(req.Input))
		for i := range embs {
			embs[i] = []float32{float32(i + 1), 0.5}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": embs})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(srv.URL, "", srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[1][0] != 2 {
		t.Errorf("vecs = %v", vecs)
	}
}
