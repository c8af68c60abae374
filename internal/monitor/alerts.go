package monitor

import (
	"time"

	"go.uber.org/zap"
)

// Alert is an operator-facing notice derived from session and order events.
type Alert struct {
	Kind    string    `json:"kind"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(a Alert) error
}

// LogSink writes alerts to the log.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Send(a Alert) error {
	s.Log.Warn(a.Message, zap.String("kind", a.Kind), zap.String("symbol", a.Symbol))
	return nil
}
