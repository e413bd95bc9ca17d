// Package knowledge turns the complaint-handling rulebook into a
// searchable vector index and serves the single policy passage the agent
// sees on every turn.
package knowledge

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Block is a contiguous piece of source text: a markdown section, a PDF
// page, or a whole plain-text file.
type Block struct {
	Label string
	Text  string
}

// LoadDocument reads a rulebook file and splits it into blocks by
// format. Supported extensions: .md, .markdown, .pdf, .txt.
func LoadDocument(path string) ([]Block, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		return parseMarkdown(f), nil
	case ".pdf":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return parsePDF(bytes.NewReader(data), int64(len(data)))
	case ".txt", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			return nil, nil
		}
		return []Block{{Label: filepath.Base(path), Text: text}}, nil
	default:
		return nil, fmt.Errorf("unsupported rulebook format %q", filepath.Ext(path))
	}
}

func parsePDF(ra io.ReaderAt, size int64) ([]Block, error) {
	rdr, err := pdf.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	var out []Block
	for i := 1; i <= rdr.NumPage(); i++ {
		txt, err := rdr.Page(i).GetPlainText(nil)
		if err != nil {
			// Image-only pages carry no text.
			continue
		}
		if s := strings.TrimSpace(txt); s != "" {
			out = append(out, Block{Label: "page-" + strconv.Itoa(i), Text: s})
		}
	}
	return out, nil
}

var (
	headingPattern = regexp.MustCompile(`^(#{1,3})\s+(.+)$`)
	fencePattern   = regexp.MustCompile("^```")
	slugPattern    = regexp.MustCompile(`[^a-z0-9]+`)
)

// parseMarkdown splits markdown into one block per heading (levels 1-3).
// Labels are slash-joined heading slugs, e.g. "refunds/late-delivery".
// Heading text is kept in the block so it contributes to the embedding.
func parseMarkdown(r io.Reader) []Block {
	var blocks []Block
	var path [3]string
	var label string
	var content strings.Builder
	inFence := false

	flush := func() {
		text := strings.TrimSpace(content.String())
		if text != "" {
			blocks = append(blocks, Block{Label: label, Text: text})
		}
		content.Reset()
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if fencePattern.MatchString(line) {
			inFence = !inFence
		}
		if !inFence {
			if m := headingPattern.FindStringSubmatch(line); m != nil {
				flush()
				level := len(m[1]) - 1
				path[level] = slugify(m[2])
				for i := level + 1; i < len(path); i++ {
					path[i] = ""
				}
				label = joinLabel(path[:level+1])
				content.WriteString(m[2] + "\n")
				continue
			}
		}
		if line != "" || content.Len() > 0 {
			content.WriteString(line + "\n")
		}
	}
	flush()
	return blocks
}

func joinLabel(parts []string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "/")
}

func slugify(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
