package bots

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest is the optional "<bot file>.json" sidecar describing a bot.
type Manifest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Version          string `json:"version"`
	MinServerVersion string `json:"min_server_version"`
}

// LoadManifest reads the sidecar of botFile. A missing sidecar is not an
// error and yields nil.
func LoadManifest(botFile string) (*Manifest, error) {
	data, err := os.ReadFile(botFile + ".json")
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Version != "" && !IsValidVersion(m.Version) {
		return nil, fmt.Errorf("manifest version %q is not a semantic version", m.Version)
	}
	return &m, nil
}
