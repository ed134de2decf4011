package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LotDefinition seeds one parking lot.
type LotDefinition struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Spots []string `yaml:"spots"`
}

// LotsConfig is the content of lots.yaml.
type LotsConfig struct {
	Lots []LotDefinition `yaml:"lots"`
}

// LoadLotsConfig reads and validates a lots file.
func LoadLotsConfig(path string) (*LotsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg LotsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(cfg.Lots))
	for i, lot := range cfg.Lots {
		id := strings.TrimSpace(lot.ID)
		if id == "" {
			return nil, fmt.Errorf("lots[%d]: id is required", i)
		}
		if seen[id] {
			return nil, fmt.Errorf("lots[%d]: duplicate lot %q", i, id)
		}
		seen[id] = true
		cfg.Lots[i].ID = id
	}
	return &cfg, nil
}
