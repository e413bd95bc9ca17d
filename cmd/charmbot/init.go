package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/charmbot/examples"
)

// runInit writes an example config and rulebook into dir. Existing files
// are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Charmbot workspace in %s\n", dir)

	if err := os.MkdirAll(filepath.Join(dir, "db"), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	for _, f := range []struct {
		name    string
		content []byte
	}{
		{"config.yaml", examples.ConfigYAML},
		{"rulebook.md", examples.RulebookMD},
	} {
		path := filepath.Join(dir, f.name)
		wrote, err := writeIfMissing(path, f.content)
		if err != nil {
			return err
		}
		if wrote {
			fmt.Fprintf(w, "  ✓ %s\n", path)
		} else {
			fmt.Fprintf(w, "  - %s (exists, kept)\n", path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next: edit config.yaml, then run \"charmbot seed\" and \"charmbot ingest\".")
	return nil
}

func writeIfMissing(path string, content []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
