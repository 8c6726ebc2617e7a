// Package preset loads YAML presets that prefill torrent creation
// options for specific trackers.
package preset

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config represents the YAML configuration for torrent creation presets
type Config struct {
	Default *Options           `yaml:"default"`
	Presets map[string]Options `yaml:"presets"`
	Version int                `yaml:"version"`
}

// Options represents the options for a single preset
type Options struct {
	Private         *bool    `yaml:"private"`
	NoDate          *bool    `yaml:"no_date"`
	Announce        string   `yaml:"announce"`
	Source          string   `yaml:"source"`
	Comment         string   `yaml:"comment"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
	PieceLength     uint     `yaml:"piece_length"`
}

// FindPresetFile searches for a preset file in known locations
func FindPresetFile(explicitPath string) (string, error) {
	locations := []string{
		explicitPath,   // explicitly specified file
		"presets.yaml", // current directory
		filepath.Join(xdg.ConfigHome, "torstream", "presets.yaml"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".torstream", "presets.yaml"))
	}

	for _, loc := range locations {
		if loc == "" {
			continue
		}
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}

	return "", fmt.Errorf("could not find preset file in known locations")
}

// Load loads presets from a config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("could not read preset config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("could not parse preset config: %w", err)
	}

	if config.Version != 1 {
		return nil, fmt.Errorf("unsupported preset config version: %d", config.Version)
	}

	if len(config.Presets) == 0 {
		return nil, fmt.Errorf("no presets defined in config")
	}

	return &config, nil
}

// GetPreset returns a preset by name, merged with default settings
func (c *Config) GetPreset(name string) (*Options, error) {
	preset, ok := c.Presets[name]
	if !ok {
		return nil, fmt.Errorf("preset %q not found", name)
	}

	defaultPrivate := true
	defaultNoDate := false

	merged := Options{
		Private: &defaultPrivate,
		NoDate:  &defaultNoDate,
	}

	if c.Default != nil {
		if c.Default.Private != nil {
			merged.Private = c.Default.Private
		}
		if c.Default.NoDate != nil {
			merged.NoDate = c.Default.NoDate
		}
		merged.Announce = c.Default.Announce
		merged.Source = c.Default.Source
		merged.Comment = c.Default.Comment
		merged.PieceLength = c.Default.PieceLength
		if len(c.Default.ExcludePatterns) > 0 {
			merged.ExcludePatterns = c.Default.ExcludePatterns
		}
	}

	if preset.Private != nil {
		merged.Private = preset.Private
	}
	if preset.NoDate != nil {
		merged.NoDate = preset.NoDate
	}
	if preset.Announce != "" {
		merged.Announce = preset.Announce
	}
	if preset.Source != "" {
		merged.Source = preset.Source
	}
	if preset.Comment != "" {
		merged.Comment = preset.Comment
	}
	if preset.PieceLength != 0 {
		merged.PieceLength = preset.PieceLength
	}
	if len(preset.ExcludePatterns) > 0 {
		merged.ExcludePatterns = preset.ExcludePatterns
	}

	return &merged, nil
}
