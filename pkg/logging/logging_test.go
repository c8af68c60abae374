package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestForwardReportsCategory(t *testing.T) {
	var got []Entry
	logger, err := New("info", Forward(func(e Entry) { got = append(got, e) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Named("order").Info("buy rejected", zap.String("symbol", "AAPL"))
	logger.Debug("filtered out")
	logger.Warn("unnamed")

	if len(got) != 2 {
		t.Fatalf("got %d entries, expected 2", len(got))
	}
	if got[0].Category != "order" || got[0].Message != "buy rejected" || got[0].Level != "info" {
		t.Fatalf("unexpected first entry %+v", got[0])
	}
	if got[1].Category != "core" {
		t.Fatalf("unnamed logger category=%q, expected core", got[1].Category)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
