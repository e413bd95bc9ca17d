package knowledge

import (
	"strings"
)

// Chunk defaults match the original rulebook index: 150 tokens with 30
// tokens of overlap.
const (
	DefaultChunkSize    = 150
	DefaultChunkOverlap = 30
)

// Chunk is one embeddable slice of a block.
type Chunk struct {
	Source string
	Label  string
	Index  int
	Text   string
}

// Chunker splits blocks into windows of whitespace-delimited tokens.
// Windows never cross block boundaries. Zero fields take the defaults;
// a negative Overlap disables overlap.
type Chunker struct {
	Size    int
	Overlap int
}

// Split returns chunks for every block, numbered from zero across the
// whole document.
func (c Chunker) Split(source string, blocks []Block) []Chunk {
	size, overlap := c.Size, c.Overlap
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap == 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	step := size - overlap

	var out []Chunk
	for _, b := range blocks {
		words := strings.Fields(b.Text)
		for start := 0; start < len(words); start += step {
			end := min(start+size, len(words))
			out = append(out, Chunk{
				Source: source,
				Label:  b.Label,
				Index:  len(out),
				Text:   strings.Join(words[start:end], " "),
			})
			if end == len(words) {
				break
			}
		}
	}
	return out
}
