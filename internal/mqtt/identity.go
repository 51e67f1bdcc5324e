package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// clientIDFile holds the broker identity under the data directory.
const clientIDFile = "mqtt_client_id"

// MQTT 3.1 brokers may reject client ids longer than 23 characters;
// "autoprofiler-" plus 10 hex digits fits.
var clientIDPattern = regexp.MustCompile(`^autoprofiler-[0-9a-f]{10}$`)

// ClientID returns the broker client id persisted in dataDir, creating
// one on first use. A stable id lets the broker resume the session
// across runs. An unreadable or malformed file is replaced.
func ClientID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, clientIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); clientIDPattern.MatchString(id) {
			return id, nil
		}
	}

	id, err := newClientID()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dataDir, err)
	}

	// Write then rename so a concurrent reader never sees a partial id.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write client id: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("persist client id to %s: %w", path, err)
	}
	return id, nil
}

// newClientID takes the random tail of a UUIDv7; its leading bits are a
// timestamp and would collide between hosts set up in the same second.
func newClientID() (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	hex := strings.ReplaceAll(u.String(), "-", "")
	return "autoprofiler-" + hex[len(hex)-10:], nil
}
