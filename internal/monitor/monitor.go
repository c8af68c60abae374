package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/protocol"
)

// Monitor watches session and order events and raises alerts. Every alert is
// handed to the sinks, then republished on the bus.
type Monitor struct {
	Bus   *events.Bus
	Sinks []AlertSink
	Log   *zap.Logger
	now   func() time.Time
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Log == nil {
		m.Log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.Bus == nil {
		m.Log.Warn("monitor not fully configured; skipping")
		return
	}
	disc, unsubDisc := m.Bus.Subscribe(events.EventDisconnected, 16)
	login, unsubLogin := m.Bus.Subscribe(events.EventLoginResult, 16)
	rejected, unsubRejected := m.Bus.Subscribe(events.EventOrderRejected, 64)
	go func() {
		defer func() {
			unsubDisc()
			unsubLogin()
			unsubRejected()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-disc:
				if d, ok := v.(events.Disconnected); ok && d.Err != "" {
					m.raise(Alert{Kind: "disconnected", Message: "gateway connection lost: " + d.Err})
				}
			case v := <-login:
				if r, ok := v.(events.LoginResult); ok && !r.Success {
					m.raise(Alert{Kind: "login", Message: "login refused: " + r.Line})
				}
			case v := <-rejected:
				if o, ok := v.(protocol.Order); ok && o.Filled == 0 && o.Status == protocol.StatusRejected {
					m.raise(Alert{Kind: "order_rejected", Symbol: o.Symbol,
						Message: fmt.Sprintf("order %s %s %d rejected", o.Side, o.Symbol, o.Quantity)})
				}
			}
		}
	}()
}

func (m *Monitor) raise(a Alert) {
	a.Time = m.now()
	for _, s := range m.Sinks {
		if err := s.Send(a); err != nil {
			m.Log.Warn("alert sink failed", zap.Error(err))
		}
	}
	m.Bus.Publish(events.EventAlert, a)
}
