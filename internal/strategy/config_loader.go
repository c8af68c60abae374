package strategy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"equity-terminal/internal/symbols"
)

// Preset is a watchlist entry applied when the terminal starts.
type Preset struct {
	Symbol string `yaml:"symbol"`
	// Agent overrides the default detector switch when set.
	Agent *bool `yaml:"agent"`
	// Mode is one of open, add-all, add-half, high-breakout; empty leaves the symbol idle.
	Mode    string  `yaml:"mode"`
	Trigger float64 `yaml:"trigger"`
	Active  bool    `yaml:"active"`
}

// PresetFile is the top-level YAML structure.
type PresetFile struct {
	Symbols []Preset `yaml:"symbols"`
}

// LoadPresets reads the watchlist from a YAML file.
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for i := range file.Symbols {
		p := &file.Symbols[i]
		p.Symbol = symbols.Normalize(p.Symbol)
		if p.Symbol == "" {
			return nil, fmt.Errorf("watchlist entry %d has no symbol", i)
		}
		if _, _, err := ParseMode(p.Mode); err != nil {
			return nil, fmt.Errorf("watchlist %s: %w", p.Symbol, err)
		}
	}
	return file.Symbols, nil
}

// ParseMode maps a mode name to the machine mode and breakout flag.
func ParseMode(name string) (symbols.Mode, bool, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "open":
		return symbols.ModeOpen, false, nil
	case "add-all", "addall":
		return symbols.ModeAddAll, false, nil
	case "add-half", "addhalf":
		return symbols.ModeAddHalf, false, nil
	case "high-breakout", "highbreakout":
		return symbols.ModeOpen, true, nil
	}
	return 0, false, fmt.Errorf("%w %q", ErrUnknownMode, name)
}
