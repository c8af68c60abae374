package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"equity-terminal/internal/account"
	"equity-terminal/internal/events"
	"equity-terminal/internal/indicators"
	"equity-terminal/internal/market"
	"equity-terminal/internal/monitor"
	"equity-terminal/internal/order"
	"equity-terminal/internal/persistence"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
	"equity-terminal/internal/strategy"
	"equity-terminal/internal/symbols"
	"equity-terminal/pkg/cache"
	"equity-terminal/pkg/config"
	"equity-terminal/pkg/db"
)

const syntheticQueueSize = 1024

// Options holds what a Terminal is built from.
type Options struct {
	Config  *config.Config
	Params  config.Params
	Presets []strategy.Preset
	// Journal may be nil.
	Journal *persistence.Journal
	Session *market.Session
	Bus     *events.Bus
	Logger  *zap.Logger
	Version string
}

// Terminal owns every component of the core and is the single line
// dispatcher. Boundary operations take the same lock as line dispatch, so
// each per-symbol field group keeps exactly one writer at a time.
type Terminal struct {
	cfg     *config.Config
	params  config.Params
	presets []strategy.Preset
	version string
	bus     *events.Bus
	log     *zap.Logger

	client     *protocol.Client
	sender     order.Sender
	dryRun     *order.DryRunSender
	queue      *order.Queue
	registry   *symbols.Registry
	aggregator *market.Aggregator
	ledger     *account.Ledger
	refresher  *account.Refresher
	indicators *indicators.Engine
	risk       *risk.Manager
	orders     *order.Manager
	machine    *strategy.Machine
	agent      *strategy.Agent
	quotes     *cache.Sharded[protocol.Quote]
	metrics    *monitor.SystemMetrics
	session    *market.Session
	journal    *persistence.Journal

	dispatchMu sync.Mutex
	day        string
	now        func() time.Time
}

// requester adapts the session for the account refresher. In dry-run mode the
// simulator answers queries, so a login is not required.
type requester struct {
	send     func(string) error
	loggedIn func() bool
}

func (r requester) Send(cmd string) error { return r.send(cmd) }
func (r requester) LoggedIn() bool        { return r.loggedIn() }

// New builds a terminal; nothing touches the network until Start or Connect.
func New(opts Options) (*Terminal, error) {
	if opts.Config == nil {
		return nil, errors.New("engine: config is required")
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	session := opts.Session
	if session == nil {
		session = market.NewSession(opts.Config.MarketMIC)
	}

	t := &Terminal{
		cfg:        opts.Config,
		params:     opts.Params,
		presets:    opts.Presets,
		version:    opts.Version,
		bus:        bus,
		log:        logger.Named("engine"),
		queue:      order.NewQueue(syntheticQueueSize),
		registry:   symbols.NewRegistry(bus),
		aggregator: market.NewAggregator(opts.Params.Intervals, opts.Params.PrimaryInterval, bus, logger),
		ledger:     account.NewLedger(bus, logger),
		indicators: indicators.NewEngine(bus, logger),
		quotes:     cache.New[protocol.Quote](),
		metrics:    monitor.NewSystemMetrics(),
		session:    session,
		journal:    opts.Journal,
		now:        time.Now,
	}
	t.client = protocol.NewClient(bus, t, logger)

	t.sender = t.client
	loggedIn := t.client.LoggedIn
	if opts.Config.DryRun {
		t.dryRun = order.NewDryRunSender(t.client, t.queue, t.quoteOf,
			order.DryRunConfig{InitialEquity: opts.Config.DryRunEquity, Account: opts.Config.Account}, bus, logger)
		t.sender = t.dryRun
		loggedIn = func() bool { return true }
	}
	t.sender = timedSender{next: t.sender, metrics: t.metrics}

	var store risk.MetricsStore
	if opts.Journal != nil {
		store = opts.Journal
	}
	t.risk = risk.NewManager(risk.ConfigFromParams(opts.Params), store, logger)
	t.orders = order.NewManager(t.sender, t.ledger, t.aggregator, t.registry, t.risk, opts.Params, bus, logger)
	t.orders.OnSent(func(order.SentOrder) { t.metrics.IncrementOrders() })
	t.machine = strategy.NewMachine(t.orders, t.ledger, t.aggregator, opts.Params, bus, logger)
	t.agent = strategy.NewAgent(t.machine, bus, logger)
	t.refresher = account.NewRefresher(requester{send: t.sender.Send, loggedIn: loggedIn},
		time.Duration(opts.Config.AccountRefresh)*time.Second, logger)
	return t, nil
}

// timedSender records send latency and failures.
type timedSender struct {
	next    order.Sender
	metrics *monitor.SystemMetrics
}

func (s timedSender) Send(cmd string) error {
	timer := monitor.NewTimer(s.metrics.SendLatency)
	err := s.next.Send(cmd)
	timer.Stop()
	if err != nil {
		s.metrics.IncrementSendErrors()
	}
	return err
}

// Bus returns the event bus the terminal publishes on.
func (t *Terminal) Bus() *events.Bus { return t.bus }

// Start launches the background loops, restores the day's risk metrics, applies
// the watchlist and, when configured, connects and logs in.
func (t *Terminal) Start(ctx context.Context) error {
	t.day = t.session.Day(t.now())
	if t.journal != nil {
		if m, ok, err := t.journal.LoadDailyMetrics(ctx, t.day); err != nil {
			t.log.Warn("risk metrics restore failed", zap.Error(err))
		} else if ok {
			t.risk.RestoreMetrics(m)
			t.log.Info("risk metrics restored", zap.String("day", t.day), zap.Float64("daily_pnl", m.DailyPnL))
		}
	}

	go t.queue.Drain(ctx, t.handleSynthetic)
	t.refresher.Start(ctx)
	t.watchLogin(ctx)

	for _, p := range t.presets {
		if err := t.applyPreset(p); err != nil {
			t.log.Warn("watchlist entry skipped", zap.String("symbol", p.Symbol), zap.Error(err))
		}
	}

	if t.dryRun != nil {
		if err := t.refresher.Sync(); err != nil {
			t.log.Warn("dry-run account sync failed", zap.Error(err))
		}
	}
	if !t.cfg.AutoConnect {
		return nil
	}
	if err := t.Connect(ctx); err != nil {
		return err
	}
	return t.Login()
}

// watchLogin resubscribes every symbol and resyncs the account after each
// successful login.
func (t *Terminal) watchLogin(ctx context.Context) {
	ch, unsub := t.bus.Subscribe(events.EventLoginResult, 4)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-ch:
				r, ok := v.(events.LoginResult)
				if !ok || !r.Success {
					continue
				}
				if n := t.quotes.Retain(t.registry.Symbols()); n > 0 {
					t.log.Debug("stale quotes dropped", zap.Int("count", n))
				}
				for _, sym := range t.registry.Symbols() {
					if err := t.sendSubscriptions(sym, true); err != nil {
						t.log.Warn("resubscribe failed", zap.String("symbol", sym), zap.Error(err))
					}
				}
				if err := t.refresher.SyncAll(); err != nil {
					t.log.Warn("account sync failed", zap.Error(err))
				}
			}
		}
	}()
}

func (t *Terminal) applyPreset(p strategy.Preset) error {
	if err := t.Subscribe(p.Symbol); err != nil {
		return err
	}
	if p.Agent != nil {
		if err := t.SetAgent(p.Symbol, *p.Agent); err != nil {
			return err
		}
	}
	if p.Active {
		if err := t.SetActiveSymbol(p.Symbol); err != nil {
			return err
		}
	}
	if p.Mode == "" {
		return nil
	}
	return t.StartStrategy(p.Symbol, p.Mode, p.Trigger)
}

// Close disconnects and flushes the journal.
func (t *Terminal) Close() error {
	t.client.Disconnect()
	if t.journal != nil {
		return t.journal.Close()
	}
	return nil
}

func (t *Terminal) quoteOf(symbol string) (protocol.Quote, bool) {
	return t.quotes.Get(symbols.Normalize(symbol))
}

// withState runs fn under the dispatch lock for a subscribed symbol.
func (t *Terminal) withState(symbol string, fn func(st *symbols.State) error) error {
	t.dispatchMu.Lock()
	defer t.dispatchMu.Unlock()
	st, ok := t.registry.Get(symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbols.Normalize(symbol))
	}
	return fn(st)
}

func (t *Terminal) state(symbol string) (*symbols.State, error) {
	st, ok := t.registry.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbols.Normalize(symbol))
	}
	return st, nil
}

// --- Session ---

func (t *Terminal) Connect(ctx context.Context) error {
	if err := t.client.Connect(ctx, t.cfg.GatewayAddr); err != nil {
		return err
	}
	t.log.Info("connected", zap.String("gateway", t.cfg.GatewayAddr))
	return nil
}

// Login sends the configured credentials; the outcome arrives as a login-result event.
func (t *Terminal) Login() error {
	if t.cfg.User == "" {
		return ErrNoCredentials
	}
	return t.client.Login(t.cfg.User, t.cfg.Password, t.cfg.Account)
}

func (t *Terminal) Disconnect() {
	t.client.Disconnect()
}

// --- Symbols ---

func (t *Terminal) feeds() []protocol.Feed {
	feeds := []protocol.Feed{protocol.FeedLevel1, protocol.FeedTrades}
	if t.params.SubscribeLv2 {
		feeds = append(feeds, protocol.FeedLevel2)
	}
	if t.params.SubscribeBars {
		feeds = append(feeds, protocol.FeedChart)
	}
	return feeds
}

func (t *Terminal) sendSubscriptions(symbol string, subscribe bool) error {
	for _, f := range t.feeds() {
		cmd := protocol.UnsubscribeCommand(symbol, f)
		if subscribe {
			cmd = protocol.SubscribeCommand(symbol, f)
		}
		if err := t.sender.Send(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers the symbol and requests its feeds. Without a session the
// feeds are requested after the next login.
func (t *Terminal) Subscribe(symbol string) error {
	symbol = symbols.Normalize(symbol)
	if symbol == "" {
		return ErrInvalidSymbol
	}
	t.dispatchMu.Lock()
	st, created := t.registry.GetOrCreate(symbol)
	if created && t.params.AgentEnabled {
		t.agent.SetEnabled(st, true)
	}
	t.dispatchMu.Unlock()
	if t.registry.ActiveSymbol() == "" {
		t.registry.SetActiveSymbol(symbol)
	}
	if !created {
		return nil
	}
	t.log.Info("subscribed", zap.String("symbol", symbol))
	if err := t.sendSubscriptions(symbol, true); err != nil && !errors.Is(err, protocol.ErrNotConnected) {
		return err
	}
	return nil
}

func (t *Terminal) Unsubscribe(symbol string) error {
	symbol = symbols.Normalize(symbol)
	t.dispatchMu.Lock()
	removed := t.registry.Remove(symbol)
	if removed {
		t.quotes.Delete(symbol)
		t.aggregator.Reset(symbol)
	}
	t.dispatchMu.Unlock()
	if !removed {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	t.log.Info("unsubscribed", zap.String("symbol", symbol))
	if err := t.sendSubscriptions(symbol, false); err != nil && !errors.Is(err, protocol.ErrNotConnected) {
		return err
	}
	return nil
}

func (t *Terminal) SetActiveSymbol(symbol string) error {
	if _, err := t.state(symbol); err != nil {
		return err
	}
	t.registry.SetActiveSymbol(symbol)
	return nil
}

// --- Read-only snapshots ---

func (t *Terminal) Quote(symbol string) (QuoteSnapshot, error) {
	if _, err := t.state(symbol); err != nil {
		return QuoteSnapshot{}, err
	}
	q, age, ok := t.quotes.GetWithAge(symbols.Normalize(symbol))
	if !ok {
		return QuoteSnapshot{Quote: protocol.Quote{Symbol: symbols.Normalize(symbol)}}, nil
	}
	return QuoteSnapshot{Quote: q, AgeMs: age.Milliseconds()}, nil
}

// Bars returns the last n completed bars and the bar in progress; interval 0
// selects the primary interval.
func (t *Terminal) Bars(symbol string, interval, n int) (BarsSnapshot, error) {
	st, err := t.state(symbol)
	if err != nil {
		return BarsSnapshot{}, err
	}
	if interval <= 0 {
		interval = t.aggregator.Primary()
	}
	out := BarsSnapshot{Symbol: st.Symbol, Interval: interval, Completed: t.aggregator.Completed(st.Symbol, interval, n)}
	if cur, ok := t.aggregator.Current(st.Symbol, interval); ok {
		out.Current = &cur
	}
	if out.Completed == nil {
		out.Completed = []market.Bar{}
	}
	return out, nil
}

func (t *Terminal) Indicators(symbol string) (symbols.Indicators, error) {
	st, err := t.state(symbol)
	if err != nil {
		return symbols.Indicators{}, err
	}
	return st.Indicators(), nil
}

func (t *Terminal) Strategy(symbol string) (symbols.Strategy, error) {
	st, err := t.state(symbol)
	if err != nil {
		return symbols.Strategy{}, err
	}
	return st.Strategy(), nil
}

func (t *Terminal) Agent(symbol string) (symbols.Agent, error) {
	st, err := t.state(symbol)
	if err != nil {
		return symbols.Agent{}, err
	}
	return st.Agent(), nil
}

func (t *Terminal) Symbol(symbol string) (SymbolSnapshot, error) {
	st, err := t.state(symbol)
	if err != nil {
		return SymbolSnapshot{}, err
	}
	snap := SymbolSnapshot{
		Symbol:     st.Symbol,
		Active:     t.registry.ActiveSymbol() == st.Symbol,
		Quote:      st.Quote(),
		Indicators: st.Indicators(),
		Strategy:   st.Strategy(),
		Execution:  st.Execution(),
		Agent:      st.Agent(),
	}
	if p, ok := t.ledger.GetPosition(st.Symbol); ok {
		snap.Position = &p
	}
	return snap, nil
}

func (t *Terminal) Positions() []protocol.Position { return t.ledger.Positions() }

func (t *Terminal) Orders(openOnly bool) []protocol.Order {
	if openOnly {
		return t.ledger.GetOpenOrders("")
	}
	return t.ledger.Orders()
}

func (t *Terminal) Trades() []protocol.Trade { return t.ledger.Trades() }

func (t *Terminal) Account() protocol.AccountInfo { return t.ledger.Account() }

// --- Orders ---

// BuyOneR buys one risk unit. stop <= 0 uses the smart stop. The machine takes
// the stop over as its hard stop.
func (t *Terminal) BuyOneR(symbol string, stop float64) (so order.SentOrder, err error) {
	err = t.withState(symbol, func(st *symbols.State) error {
		if stop <= 0 {
			if stop, err = t.orders.SmartStopPrice(st.Symbol); err != nil {
				return err
			}
		}
		if so, err = t.orders.BuyOneR(st.Symbol, stop); err != nil {
			return err
		}
		t.machine.SetStop(st, stop)
		return nil
	})
	return so, err
}

func (t *Terminal) manualSell(symbol string, sell func(string) (order.SentOrder, error)) (so order.SentOrder, err error) {
	err = t.withState(symbol, func(st *symbols.State) error {
		if so, err = sell(st.Symbol); err != nil {
			return err
		}
		t.machine.OnManualSell(st)
		return nil
	})
	return so, err
}

func (t *Terminal) SellAll(symbol string) (order.SentOrder, error) {
	return t.manualSell(symbol, t.orders.SellAll)
}

func (t *Terminal) SellHalf(symbol string) (order.SentOrder, error) {
	return t.manualSell(symbol, t.orders.SellHalf)
}

func (t *Terminal) Sell70(symbol string) (order.SentOrder, error) {
	return t.manualSell(symbol, t.orders.Sell70)
}

// AddPosition adds shares so that a stop at the new level gives back all open
// profit ("breakeven") or half of it ("half-profit").
func (t *Terminal) AddPosition(symbol, mode string, stop float64) (so order.SentOrder, err error) {
	var factor float64
	switch mode {
	case "breakeven", "":
		factor = 1.0
	case "half-profit", "half":
		factor = 0.5
	default:
		return order.SentOrder{}, fmt.Errorf("%w: %q", ErrUnknownAddMode, mode)
	}
	err = t.withState(symbol, func(st *symbols.State) error {
		if stop <= 0 {
			if stop, err = t.orders.SmartStopPrice(st.Symbol); err != nil {
				return err
			}
		}
		if so, err = t.orders.AddPosition(st.Symbol, stop, factor); err != nil {
			return err
		}
		t.machine.SetStop(st, stop)
		return nil
	})
	return so, err
}

func (t *Terminal) MoveStopToBreakeven(symbol string) (so order.SentOrder, err error) {
	err = t.withState(symbol, func(st *symbols.State) error {
		so, err = t.orders.MoveStopToBreakeven(st.Symbol)
		return err
	})
	return so, err
}

func (t *Terminal) Cancel(orderID string) error {
	return t.orders.Cancel(orderID)
}

func (t *Terminal) CancelAll() error {
	return t.orders.CancelAll()
}

// --- Strategy, agent and trailing ---

// StartStrategy arms the machine; mode is open, add-all, add-half or high-breakout.
func (t *Terminal) StartStrategy(symbol, mode string, trigger float64) error {
	m, highBreakout, err := strategy.ParseMode(mode)
	if err != nil {
		return err
	}
	return t.withState(symbol, func(st *symbols.State) error {
		return t.machine.Arm(st, m, trigger, highBreakout)
	})
}

func (t *Terminal) StopStrategy(symbol string) error {
	return t.withState(symbol, func(st *symbols.State) error {
		t.machine.Stop(st)
		return nil
	})
}

func (t *Terminal) SetAgent(symbol string, enabled bool) error {
	return t.withState(symbol, func(st *symbols.State) error {
		t.agent.SetEnabled(st, enabled)
		return nil
	})
}

func (t *Terminal) StartTrailing(symbol string) error {
	return t.withState(symbol, t.machine.StartTrailing)
}

func (t *Terminal) StopTrailing(symbol string) error {
	return t.withState(symbol, func(st *symbols.State) error {
		t.machine.StopTrailing(st)
		return nil
	})
}

func (t *Terminal) ToggleTrailing(symbol string) (on bool, err error) {
	err = t.withState(symbol, func(st *symbols.State) error {
		on, err = t.machine.ToggleTrailing(st)
		return err
	})
	return on, err
}

// --- Indicator resets ---

func (t *Terminal) ResetVwap(symbol string, seed *float64) error {
	return t.withState(symbol, func(st *symbols.State) error {
		t.indicators.ResetVwap(st, seed)
		return nil
	})
}

func (t *Terminal) ResetSessionHigh(symbol string, seed *float64) error {
	return t.withState(symbol, func(st *symbols.State) error {
		t.indicators.ResetSessionHigh(st, seed)
		return nil
	})
}

// --- Risk, journal and system ---

func (t *Terminal) Risk() RiskSnapshot {
	return RiskSnapshot{Config: t.risk.GetConfig(), Metrics: t.risk.GetMetrics()}
}

func (t *Terminal) JournalOrders(ctx context.Context, symbol string, limit int) ([]db.Order, error) {
	if t.journal == nil {
		return nil, ErrJournalDisabled
	}
	return t.journal.Queries().RecentOrders(ctx, symbols.Normalize(symbol), limit)
}

func (t *Terminal) JournalTrades(ctx context.Context, symbol string, limit int) ([]db.Trade, error) {
	if t.journal == nil {
		return nil, ErrJournalDisabled
	}
	return t.journal.Queries().RecentTrades(ctx, symbols.Normalize(symbol), limit)
}

func (t *Terminal) JournalCommands(ctx context.Context, limit int) ([]db.Command, error) {
	if t.journal == nil {
		return nil, ErrJournalDisabled
	}
	return t.journal.Queries().RecentCommands(ctx, limit)
}

func (t *Terminal) Market() market.SessionStatus {
	return t.session.Status(t.cfg.MarketMIC, t.now())
}

func (t *Terminal) Status() SystemStatus {
	return SystemStatus{
		Connected:    t.client.Connected(),
		LoggedIn:     t.client.LoggedIn(),
		DryRun:       t.dryRun != nil,
		Gateway:      t.cfg.GatewayAddr,
		Account:      t.cfg.Account,
		Symbols:      t.registry.Symbols(),
		ActiveSymbol: t.registry.ActiveSymbol(),
		Version:      t.version,
		Session:      t.Market(),
		ServerTime:   t.now(),
	}
}

func (t *Terminal) Diagnostics() Diagnostics {
	d := Diagnostics{Dispatch: t.metrics.GetSnapshot(), Quotes: t.quotes.Stats()}
	if t.journal != nil {
		m := t.journal.Metrics()
		d.Journal = &m
	}
	return d
}

var _ Service = (*Terminal)(nil)
