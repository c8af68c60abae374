package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Params are the trading parameters consumed by sizing, strategy and aggregation.
type Params struct {
	// Dollar risk per trade (1R).
	RiskAmount float64 `yaml:"risk_amount"`
	// Equity multiplier used for the buying-power cap.
	BPMultiplier float64 `yaml:"bp_multiplier"`
	// Fractional offset applied to limit prices (0.002 = 0.2%).
	SpreadPercent float64 `yaml:"spread_percent"`
	// Default per-symbol share cap; 0 disables it.
	MaxPositionShares int            `yaml:"max_position_shares"`
	SymbolMaxShares   map[string]int `yaml:"symbol_max_shares"`
	// Minimum per-share risk for Open entries.
	MinRiskPerShare float64 `yaml:"min_risk_per_share"`
	// Floor for the full trailing distance.
	MinTrailAll float64 `yaml:"min_trail_all"`
	// Bar volume required before a hard stop may fire.
	MinStopVolume float64 `yaml:"min_stop_volume"`
	// Daily realized loss after which buys are refused; 0 disables it.
	MaxDailyLoss float64 `yaml:"max_daily_loss"`

	// Bar intervals in seconds; PrimaryInterval must be one of them.
	Intervals       []int `yaml:"intervals"`
	PrimaryInterval int   `yaml:"primary_interval"`

	Route         string `yaml:"route"`
	AgentEnabled  bool   `yaml:"agent_enabled"`
	SubscribeLv2  bool   `yaml:"subscribe_lv2"`
	SubscribeBars bool   `yaml:"subscribe_bars"`
}

// DefaultParams returns the parameters used when no file is present.
func DefaultParams() Params {
	return Params{
		RiskAmount:        100,
		BPMultiplier:      4,
		SpreadPercent:     0.002,
		MaxPositionShares: 5000,
		SymbolMaxShares:   map[string]int{},
		MinRiskPerShare:   0.05,
		MinTrailAll:       0.10,
		MinStopVolume:     100,
		Intervals:         []int{60, 300, 86400},
		PrimaryInterval:   60,
		Route:             "SMAT",
	}
}

// LoadParams reads trading parameters from YAML. A missing file yields defaults;
// fields absent from the file keep their default values.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return p, fmt.Errorf("failed to read params file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse params from YAML: %w", err)
	}
	if p.SymbolMaxShares == nil {
		p.SymbolMaxShares = map[string]int{}
	}
	normalized := make(map[string]int, len(p.SymbolMaxShares))
	for sym, n := range p.SymbolMaxShares {
		normalized[strings.ToUpper(strings.TrimSpace(sym))] = n
	}
	p.SymbolMaxShares = normalized
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("params validation failed: %w", err)
	}
	return p, nil
}

// Validate performs basic parameter validation.
func (p Params) Validate() error {
	if p.RiskAmount <= 0 {
		return fmt.Errorf("risk_amount must be greater than 0")
	}
	if p.BPMultiplier <= 0 {
		return fmt.Errorf("bp_multiplier must be greater than 0")
	}
	if p.SpreadPercent < 0 || p.SpreadPercent >= 1 {
		return fmt.Errorf("spread_percent must be in [0, 1)")
	}
	if p.MaxPositionShares < 0 {
		return fmt.Errorf("max_position_shares cannot be negative")
	}
	if len(p.Intervals) == 0 {
		return fmt.Errorf("at least one bar interval must be configured")
	}
	primaryFound := false
	for _, iv := range p.Intervals {
		if iv <= 0 {
			return fmt.Errorf("invalid bar interval %d", iv)
		}
		if iv == p.PrimaryInterval {
			primaryFound = true
		}
	}
	if !primaryFound {
		return fmt.Errorf("primary_interval %d is not one of the configured intervals", p.PrimaryInterval)
	}
	if strings.TrimSpace(p.Route) == "" {
		return fmt.Errorf("route cannot be empty")
	}
	return nil
}

// MaxSharesFor returns the share cap for a symbol; 0 means uncapped.
func (p Params) MaxSharesFor(symbol string) int {
	if n, ok := p.SymbolMaxShares[symbol]; ok {
		return n
	}
	return p.MaxPositionShares
}
