package knowledge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type corpusFile struct {
	Documents []Document `yaml:"documents"`
}

// LoadCorpus reads a YAML file of the form:
//
//	documents:
//	  - source: stop-losses
//	    text: "A stop loss caps the damage of a wrong idea..."
//	    tags: [risk management, stop loss]
func LoadCorpus(path string) ([]Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f corpusFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", path, err)
	}
	return f.Documents, nil
}
