package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zealscott/autoprofiler/examples"
)

// runInit prepares a working directory: a dataset directory and an
// example config.yaml. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing AutoProfiler workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "dataset")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", dataDir)

	// The config may carry API keys.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, examples.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Put ground_truth.json and one directory of comment files per user in dataset/,")
	fmt.Fprintln(w, "then edit config.yaml to choose a model.")
	return nil
}

func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
