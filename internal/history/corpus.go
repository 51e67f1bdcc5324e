// Package history loads a subject's comment history and exposes it to the
// retriever as tools: sequential chunks, semantic lookup and the full dump.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Corpus is a subject's ordered evidence items.
type Corpus struct {
	User  string
	Items []string
	Files []string
}

// Len returns the number of evidence items.
func (c *Corpus) Len() int { return len(c.Items) }

// Dir returns the directory holding a user's evidence files.
func Dir(dataDir, user string) string {
	return filepath.Join(dataDir, "synthpai", user)
}

// LoadCorpus reads every .txt file under Dir(dataDir, user), ordered by
// the number after the last underscore in the file name. Files without a
// numeric suffix sort after the numbered ones, by name.
func LoadCorpus(dataDir, user string) (*Corpus, error) {
	dir := Dir(dataDir, user)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		names = append(names, e.Name())
	}

	sort.SliceStable(names, func(i, j int) bool {
		ni, iok := suffixNumber(names[i])
		nj, jok := suffixNumber(names[j])
		switch {
		case iok && jok:
			if ni != nj {
				return ni < nj
			}
			return names[i] < names[j]
		case iok:
			return true
		case jok:
			return false
		default:
			return names[i] < names[j]
		}
	})

	c := &Corpus{User: user}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		c.Items = append(c.Items, strings.TrimSpace(string(data)))
		c.Files = append(c.Files, name)
	}
	if len(c.Items) == 0 {
		return nil, fmt.Errorf("corpus %s has no .txt files", dir)
	}
	return c, nil
}

// suffixNumber parses "comment_12.txt" as 12.
func suffixNumber(name string) (int, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndex(stem, "_")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(stem[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
