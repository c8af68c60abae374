package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParamsMissingFileUsesDefaults(t *testing.T) {
	p, err := LoadParams(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	if p.RiskAmount != DefaultParams().RiskAmount || p.PrimaryInterval != 60 {
		t.Fatalf("unexpected params %+v", p)
	}
}

func TestLoadParamsOverridesAndNormalizesSymbols(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	body := `
risk_amount: 250
bp_multiplier: 3
intervals: [60, 120]
primary_interval: 120
symbol_max_shares:
  " aapl ": 300
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadParams(path)
	if err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	if p.RiskAmount != 250 || p.BPMultiplier != 3 || p.PrimaryInterval != 120 {
		t.Fatalf("overrides not applied: %+v", p)
	}
	if p.Route != "SMAT" {
		t.Fatalf("route default lost: %q", p.Route)
	}
	if got := p.MaxSharesFor("AAPL"); got != 300 {
		t.Fatalf("MaxSharesFor(AAPL)=%d, expected 300", got)
	}
	if got := p.MaxSharesFor("MSFT"); got != DefaultParams().MaxPositionShares {
		t.Fatalf("MaxSharesFor(MSFT)=%d, expected default", got)
	}
}

func TestValidateRejectsUnknownPrimaryInterval(t *testing.T) {
	p := DefaultParams()
	p.PrimaryInterval = 15
	if err := p.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
