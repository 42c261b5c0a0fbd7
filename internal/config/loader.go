package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and decodes a pipeline file. ".yaml"/".yml" decode as YAML,
// anything else as JSON. Connection DSNs have ${VAR} references expanded
// from the environment before validation.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}

	var p Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &p); err != nil {
			return Pipeline{}, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &p); err != nil {
			return Pipeline{}, fmt.Errorf("decode json config: %w", err)
		}
	}

	for name, c := range p.Connections {
		c.DSN = os.ExpandEnv(c.DSN)
		p.Connections[name] = c
	}

	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}
