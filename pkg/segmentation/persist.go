package segmentation

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"grabcut/pkg/gmm"
)

// modelFile is the on-disk form of Models: the flat parameter vector of
// each mixture.
type modelFile struct {
	Foreground []float64 `yaml:"foreground"`
	Background []float64 `yaml:"background"`
}

// SaveModels writes both mixtures to a YAML file.
func SaveModels(m *Models, path string) error {
	if m == nil || m.Foreground == nil || m.Background == nil {
		return fmt.Errorf("models are not initialized")
	}
	data, err := yaml.Marshal(modelFile{
		Foreground: m.Foreground.Params(),
		Background: m.Background.Params(),
	})
	if err != nil {
		return fmt.Errorf("error marshaling models: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating model directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing model file: %w", err)
	}
	return nil
}

// LoadModels reads mixtures written by SaveModels.
func LoadModels(path string) (*Models, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading model file: %w", err)
	}
	var f modelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("error parsing model file: %w", err)
	}
	fg, err := gmm.FromParams(f.Foreground)
	if err != nil {
		return nil, fmt.Errorf("foreground model: %w", err)
	}
	bg, err := gmm.FromParams(f.Background)
	if err != nil {
		return nil, fmt.Errorf("background model: %w", err)
	}
	return &Models{Foreground: fg, Background: bg}, nil
}
