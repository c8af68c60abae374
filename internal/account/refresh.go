package account

import (
	"context"
	"time"

	"go.uber.org/zap"

	"equity-terminal/internal/protocol"
)

// Requester sends a query command to the gateway.
type Requester interface {
	Send(cmd string) error
	LoggedIn() bool
}

// Refresher periodically asks the gateway for account info and buying power,
// which keeps the sizing inputs of the ledger fresh.
type Refresher struct {
	gw       Requester
	interval time.Duration
	log      *zap.Logger
}

// NewRefresher creates a refresher. interval <= 0 disables it.
func NewRefresher(gw Requester, interval time.Duration, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{gw: gw, interval: interval, log: logger.Named("account")}
}

// Start begins the periodic refresh until ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Sync(); err != nil {
					r.log.Warn("account refresh failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync requests a full account snapshot. It is a no-op before login.
func (r *Refresher) Sync() error {
	if !r.gw.LoggedIn() {
		return nil
	}
	for _, q := range []protocol.Query{protocol.QueryAccountInfo, protocol.QueryBuyingPower} {
		if err := r.gw.Send(protocol.GetCommand(q)); err != nil {
			return err
		}
	}
	return nil
}

// SyncAll additionally requests positions, orders and trades, used right after login.
func (r *Refresher) SyncAll() error {
	if err := r.Sync(); err != nil {
		return err
	}
	if !r.gw.LoggedIn() {
		return nil
	}
	for _, q := range []protocol.Query{protocol.QueryPositions, protocol.QueryOrders, protocol.QueryTrades} {
		if err := r.gw.Send(protocol.GetCommand(q)); err != nil {
			return err
		}
	}
	return nil
}
