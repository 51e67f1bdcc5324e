package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoGroundTruth is returned for users with no registered attributes.
var ErrNoGroundTruth = errors.New("no ground truth registered for user")

// GroundTruth maps each user to the attributes the evaluator knows.
// Each entry holds a single attribute-to-value pair; the file keeps them
// as a list so attribute order is preserved.
type GroundTruth map[string][]map[string]any

// GroundTruthPath returns the default ground truth location.
func GroundTruthPath(dataDir string) string {
	return filepath.Join(dataDir, "ground_truth.json")
}

// LoadGroundTruth reads a JSON file shaped {user: [{attr: value}, ...]}.
func LoadGroundTruth(path string) (GroundTruth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ground truth: %w", err)
	}
	var gt GroundTruth
	if err := json.Unmarshal(data, &gt); err != nil {
		return nil, fmt.Errorf("parse ground truth %s: %w", path, err)
	}
	return gt, nil
}

// Targets returns the attribute names registered for user, in file order.
func (g GroundTruth) Targets(user string) ([]string, error) {
	entries := g[user]
	var targets []string
	seen := make(map[string]bool)
	for _, entry := range entries {
		for attr := range entry {
			if !seen[attr] {
				seen[attr] = true
				targets = append(targets, attr)
			}
			// One attribute per entry.
			break
		}
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoGroundTruth, user)
	}
	return targets, nil
}

// Value returns the true value of attr for user.
func (g GroundTruth) Value(user, attr string) (any, bool) {
	for _, entry := range g[user] {
		if v, ok := entry[attr]; ok {
			return v, true
		}
	}
	return nil, false
}
