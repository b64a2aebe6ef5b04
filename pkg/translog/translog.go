// Package translog persists the ordered per-frame offsets produced by the
// frame synthesizer. Record i belongs to frame i; nothing else ties them
// together.
package translog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"drizzlesim/internal/models"
)

// Read loads a transform log. The document is a sequence of
// {dx, dy, rotation} records. YAML and JSON logs are both accepted, since
// JSON documents parse as YAML.
func Read(path string) ([]models.Transform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transform log: %w", err)
	}

	var transforms []models.Transform
	if err := yaml.Unmarshal(data, &transforms); err != nil {
		return nil, fmt.Errorf("failed to parse transform log %s: %w", path, err)
	}
	return transforms, nil
}

// Write stores transforms in order. A .json extension produces indented
// JSON; anything else produces YAML.
func Write(path string, transforms []models.Transform) error {
	if transforms == nil {
		transforms = []models.Transform{}
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(transforms, "", "  ")
	} else {
		data, err = yaml.Marshal(transforms)
	}
	if err != nil {
		return fmt.Errorf("failed to encode transform log: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write transform log: %w", err)
	}
	return nil
}
