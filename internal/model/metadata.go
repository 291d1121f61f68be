package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Metadata is the sidecar JSON written next to a trained model.
type Metadata struct {
	Features []string `json:"features"`
	Scaler   string   `json:"scaler,omitempty"`
}

// LoadMetadata reads a model metadata file.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, fmt.Errorf("reading model metadata: %w", err)
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing model metadata: %w", err)
	}
	return &m, nil
}
