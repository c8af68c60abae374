package order

import (
	"errors"
	"strconv"
	"testing"

	"equity-terminal/internal/account"
	"equity-terminal/internal/events"
	"equity-terminal/internal/market"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
	"equity-terminal/internal/symbols"
	"equity-terminal/pkg/config"
)

type recordingSender struct {
	cmds []string
	err  error
}

func (r *recordingSender) Send(cmd string) error {
	if r.err != nil {
		return r.err
	}
	r.cmds = append(r.cmds, cmd)
	return nil
}

type fakeBars struct {
	cur, prev       market.Bar
	hasCur, hasPrev bool
}

func (f fakeBars) Current(string, int) (market.Bar, bool)  { return f.cur, f.hasCur }
func (f fakeBars) Previous(string, int) (market.Bar, bool) { return f.prev, f.hasPrev }
func (f fakeBars) Primary() int                            { return 60 }

type fixture struct {
	m      *Manager
	sender *recordingSender
	ledger *account.Ledger
	risk   *risk.Manager
	st     *symbols.State
}

func newFixture(t *testing.T, bars BarSource) *fixture {
	t.Helper()
	bus := events.NewBus()
	reg := symbols.NewRegistry(bus)
	st, _ := reg.GetOrCreate("AAPL")
	ledger := account.NewLedger(bus, nil)
	ledger.OnAccountInfo(protocol.AccountInfo{CurrentEquity: 10000})

	params := config.DefaultParams()
	rm := risk.NewInMemory(risk.ConfigFromParams(params))
	sender := &recordingSender{}
	if bars == nil {
		bars = fakeBars{}
	}
	m := NewManager(sender, ledger, bars, reg, rm, params, bus, nil)
	seq := 0
	m.newToken = func() string {
		seq++
		return "t" + strconv.Itoa(seq)
	}
	return &fixture{m: m, sender: sender, ledger: ledger, risk: rm, st: st}
}

func (f *fixture) quote(bid, ask float64) {
	f.st.MergeQuote(protocol.Quote{Bid: bid, Ask: ask, Present: protocol.FieldBid | protocol.FieldAsk})
}

func TestBuyOneR(t *testing.T) {
	f := newFixture(t, nil)
	f.quote(9.99, 10.00)

	sentBefore := -1
	f.m.OnSent(func(SentOrder) { sentBefore = len(f.sender.cmds) })

	so, err := f.m.BuyOneR("aapl", 9.50)
	if err != nil {
		t.Fatalf("BuyOneR: %v", err)
	}
	if so.Quantity != 200 {
		t.Fatalf("shares=%d, expected 200", so.Quantity)
	}
	if want := "NEWORDER t1 B AAPL SMAT 200 10.02 TIF=DAY+"; len(f.sender.cmds) != 1 || f.sender.cmds[0] != want {
		t.Fatalf("cmds=%q, expected %q", f.sender.cmds, want)
	}
	if sentBefore != 0 {
		t.Fatalf("observer ran after transmission (%d commands already sent)", sentBefore)
	}
	if lb := f.st.Execution().LastBuy; lb.Token != "t1" || lb.Shares != 0 {
		t.Fatalf("last buy not reset to the new token: %+v", lb)
	}
}

func TestBuyOneRStopAtAskSendsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.quote(9.99, 10.00)
	if _, err := f.m.BuyOneR("AAPL", 10.00); !errors.Is(err, risk.ErrStopAtOrAboveAsk) {
		t.Fatalf("err=%v", err)
	}
	if len(f.sender.cmds) != 0 {
		t.Fatalf("commands sent: %q", f.sender.cmds)
	}

	g := newFixture(t, nil)
	if _, err := g.m.BuyOneR("AAPL", 9.5); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("no quote err=%v", err)
	}
	if _, err := g.m.BuyOneR("MSFT", 9.5); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("unknown symbol err=%v", err)
	}
}

func TestBuyClampsToBuyingPower(t *testing.T) {
	f := newFixture(t, nil)
	cfg := f.risk.GetConfig()
	cfg.BPMultiplier = 3
	if err := f.risk.UpdateConfig(cfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	so, err := f.m.Buy("AAPL", 1000, 50)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if so.Quantity != 582 {
		t.Fatalf("shares=%d, expected 582", so.Quantity)
	}

	p := f.m.Params()
	p.SymbolMaxShares = map[string]int{"AAPL": 100}
	f.m.SetParams(p)
	f.ledger.OnPosition(protocol.Position{Symbol: "AAPL", Quantity: 100, AvgCost: 50})
	if _, err := f.m.Buy("AAPL", 10, 50); !errors.Is(err, ErrZeroShares) {
		t.Fatalf("capped buy err=%v", err)
	}
}

func TestBuyRefusedAfterDailyLoss(t *testing.T) {
	f := newFixture(t, nil)
	cfg := f.risk.GetConfig()
	cfg.MaxDailyLoss = 50
	_ = f.risk.UpdateConfig(cfg)
	_ = f.risk.UpdateMetrics(risk.TradeResult{Symbol: "AAPL", PnL: -60})
	f.quote(9.99, 10)
	if _, err := f.m.BuyOneR("AAPL", 9.5); !errors.Is(err, risk.ErrDailyLossLimit) {
		t.Fatalf("err=%v", err)
	}
	if len(f.sender.cmds) != 0 {
		t.Fatalf("commands sent: %q", f.sender.cmds)
	}
}

func TestSellHalfCancelsStopAndRestoresIt(t *testing.T) {
	f := newFixture(t, nil)
	f.quote(10.00, 10.02)
	f.ledger.OnPosition(protocol.Position{Symbol: "AAPL", Quantity: 200, AvgCost: 9.8})
	f.ledger.OnOrder(protocol.Order{ID: "S1", Token: "old", Symbol: "AAPL", Side: protocol.SideSell,
		Type: protocol.TypeStopMarket, Quantity: 200, Left: 200, StopPrice: 9.5, Status: protocol.StatusAccepted})

	so, err := f.m.SellHalf("AAPL")
	if err != nil {
		t.Fatalf("SellHalf: %v", err)
	}
	want := []string{"CANCEL S1", "NEWORDER t1 S AAPL SMAT 100 9.98 TIF=DAY+"}
	if len(f.sender.cmds) != 2 || f.sender.cmds[0] != want[0] || f.sender.cmds[1] != want[1] {
		t.Fatalf("cmds=%q, expected %q", f.sender.cmds, want)
	}
	ps := f.st.Execution().PendingSell
	if ps == nil || ps.Token != so.Token || ps.Shares != 100 || ps.StopPrice != 9.5 || ps.StopType != protocol.TypeStopMarket {
		t.Fatalf("pending sell=%+v", ps)
	}

	f.ledger.OnPosition(protocol.Position{Symbol: "AAPL", Quantity: 100, AvgCost: 9.8})
	f.m.OnOrderExecuted(protocol.Order{ID: "S2", Token: so.Token, Symbol: "AAPL", Status: protocol.StatusExecuted})
	if got := f.sender.cmds[len(f.sender.cmds)-1]; got != "NEWORDER t2 S AAPL SMAT 100 STOPMKT 9.5 TIF=DAY+" {
		t.Fatalf("restore cmd=%q", got)
	}
	if f.st.Execution().PendingSell != nil {
		t.Fatal("pending sell not cleared")
	}
}

func TestSellSizes(t *testing.T) {
	cases := []struct {
		name string
		sell func(m *Manager) (SentOrder, error)
		want int
	}{
		{"all", func(m *Manager) (SentOrder, error) { return m.SellAll("AAPL") }, 301},
		{"half", func(m *Manager) (SentOrder, error) { return m.SellHalf("AAPL") }, 150},
		{"70", func(m *Manager) (SentOrder, error) { return m.Sell70("AAPL") }, 210},
		{"shares", func(m *Manager) (SentOrder, error) { return m.SellShares("AAPL", 1000) }, 301},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.quote(10, 10.02)
			f.ledger.OnPosition(protocol.Position{Symbol: "AAPL", Quantity: 301, AvgCost: 9})
			so, err := tc.sell(f.m)
			if err != nil {
				t.Fatalf("sell: %v", err)
			}
			if so.Quantity != tc.want || so.Side != protocol.SideSell {
				t.Fatalf("sold %d %s, expected %d", so.Quantity, so.Side, tc.want)
			}
			if f.st.Execution().PendingSell != nil {
				t.Fatal("pending sell without a canceled stop")
			}
		})
	}

	f := newFixture(t, nil)
	f.quote(10, 10.02)
	if _, err := f.m.SellAll("AAPL"); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("flat sell err=%v", err)
	}
}

func TestOnTradeAccumulatesLastBuy(t *testing.T) {
	f := newFixture(t, nil)
	f.quote(9.99, 10)
	so, err := f.m.BuyOneR("AAPL", 9.5)
	if err != nil {
		t.Fatalf("BuyOneR: %v", err)
	}
	f.ledger.OnOrder(protocol.Order{ID: "100", Token: so.Token, Symbol: "AAPL", Side: protocol.SideBuy, Quantity: 200, Left: 200, Status: protocol.StatusAccepted})
	f.ledger.OnOrder(protocol.Order{ID: "99", Token: "other", Symbol: "AAPL", Side: protocol.SideBuy, Quantity: 5, Status: protocol.StatusAccepted})

	f.m.OnTrade(protocol.Trade{ID: "a", Symbol: "AAPL", Side: protocol.SideBuy, Quantity: 150, Price: 10.00, OrderID: "100"})
	f.m.OnTrade(protocol.Trade{ID: "b", Symbol: "AAPL", Side: protocol.SideBuy, Quantity: 50, Price: 10.02, OrderID: "100"})
	f.m.OnTrade(protocol.Trade{ID: "c", Symbol: "AAPL", Side: protocol.SideBuy, Quantity: 5, Price: 11, OrderID: "99"})

	lb := f.st.Execution().LastBuy
	if lb.Shares != 200 || lb.AvgPrice() < 10.0049 || lb.AvgPrice() > 10.0051 {
		t.Fatalf("last buy=%+v avg=%v", lb, lb.AvgPrice())
	}
}

func TestSmartStopPrice(t *testing.T) {
	bars := fakeBars{
		cur:  market.Bar{Low: 10.00, Start: 600, LastTick: 630},
		prev: market.Bar{Low: 9.80}, hasCur: true, hasPrev: true,
	}
	f := newFixture(t, bars)
	f.quote(10.00, 10.02)
	stop, err := f.m.SmartStopPrice("AAPL")
	if err != nil || stop != 9.80 {
		t.Fatalf("stop=%v err=%v, expected 9.80", stop, err)
	}

	f.quote(10.20, 10.22)
	if stop, _ := f.m.SmartStopPrice("AAPL"); stop != 10.00 {
		t.Fatalf("stop=%v, expected current low", stop)
	}

	g := newFixture(t, nil)
	if _, err := g.m.SmartStopPrice("AAPL"); !errors.Is(err, ErrNoBars) {
		t.Fatalf("err=%v", err)
	}
}

func TestMoveStopToBreakeven(t *testing.T) {
	f := newFixture(t, nil)
	f.ledger.OnPosition(protocol.Position{Symbol: "AAPL", Quantity: 250, AvgCost: 10.004})
	f.ledger.OnOrder(protocol.Order{ID: "S1", Symbol: "AAPL", Side: protocol.SideSell, Type: protocol.TypeStopMarket,
		Quantity: 250, Left: 250, StopPrice: 9.5, Status: protocol.StatusAccepted})
	if _, err := f.m.MoveStopToBreakeven("AAPL"); err != nil {
		t.Fatalf("MoveStopToBreakeven: %v", err)
	}
	want := []string{"CANCEL S1", "NEWORDER t1 S AAPL SMAT 250 STOPMKT 10 TIF=DAY+"}
	if len(f.sender.cmds) != 2 || f.sender.cmds[0] != want[0] || f.sender.cmds[1] != want[1] {
		t.Fatalf("cmds=%q", f.sender.cmds)
	}
}

func TestSendFailureIsWrapped(t *testing.T) {
	f := newFixture(t, nil)
	f.quote(9.99, 10)
	f.sender.err = protocol.ErrNotConnected
	if _, err := f.m.BuyOneR("AAPL", 9.5); !errors.Is(err, protocol.ErrNotConnected) {
		t.Fatalf("err=%v", err)
	}
	if err := f.m.Cancel(" "); err == nil {
		t.Fatal("empty cancel id accepted")
	}
}
