package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Passage is a retrieved chunk with its similarity to the query.
type Passage struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Label  string  `json:"label,omitempty"`
	Index  int     `json:"chunk_index"`
	Score  float32 `json:"score"`
}

// Index stores chunk vectors in SQLite and ranks them by cosine
// similarity in process. The rulebook is small, so a full scan per query
// is fine.
type Index struct {
	db *sql.DB
}

// NewIndex wraps db and creates the chunks table if needed.
func NewIndex(db *sql.DB) (*Index, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			label TEXT,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);
	`)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

// Replace swaps every chunk from source for chunks, atomically.
func (x *Index) Replace(ctx context.Context, source string, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%d chunks but %d vectors", len(chunks), len(vectors))
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, source); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for i, c := range chunks {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("chunk id: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (id, source, label, chunk_index, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id.String(), source, c.Label, c.Index, c.Text, encodeEmbedding(vectors[i]), now)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of indexed chunks.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Search returns the k chunks most similar to query, best first. Ties
// keep chunk order.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]Passage, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := x.db.QueryContext(ctx, `
		SELECT source, label, chunk_index, content, embedding
		FROM chunks ORDER BY source, chunk_index`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var all []Passage
	for rows.Next() {
		var (
			p     Passage
			label sql.NullString
			blob  []byte
		)
		if err := rows.Scan(&p.Source, &label, &p.Index, &p.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		p.Label = label.String
		p.Score = cosineSimilarity(query, decodeEmbedding(blob))
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

func encodeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) []float32 {
	result := make([]float32, len(data)/4)
	for i := range result {
		result[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return result
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
