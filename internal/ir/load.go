package ir

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a Snapshot from a YAML file. This is a convenience for CLI and
// test use; in-process callers hand a Snapshot over directly. Only decode
// errors are reported — referential validity is the upstream validator's job.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a Snapshot from YAML bytes.
func Parse(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse spec: %w", err)
	}
	if snap.Name == "" {
		return nil, fmt.Errorf("parse spec: missing application name")
	}
	return &snap, nil
}
