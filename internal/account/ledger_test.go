package account

import (
	"testing"

	"equity-terminal/internal/events"
	"equity-terminal/internal/protocol"
)

func TestLedgerOrderTransitions(t *testing.T) {
	bus := events.NewBus()
	executed, unsubE := bus.Subscribe(events.EventOrderExecuted, 8)
	defer unsubE()
	rejected, unsubR := bus.Subscribe(events.EventOrderRejected, 8)
	defer unsubR()

	l := NewLedger(bus, nil)
	o := protocol.Order{ID: "1", Token: "tok", Symbol: "AAPL", Side: protocol.SideBuy, Quantity: 100, Left: 100, Status: protocol.StatusAccepted}
	if upd := l.OnOrder(o); upd.Executed || upd.Rejected {
		t.Fatalf("accepted order flagged %+v", upd)
	}
	o.Left, o.Filled, o.Status = 0, 100, protocol.StatusExecuted
	if upd := l.OnOrder(o); !upd.Executed || upd.Prev != protocol.StatusAccepted {
		t.Fatalf("execution not detected %+v", upd)
	}
	if upd := l.OnOrder(o); upd.Executed {
		t.Fatal("repeated Executed line must not re-emit")
	}
	if len(executed) != 1 {
		t.Fatalf("executed events=%d", len(executed))
	}

	byTok, ok := l.GetOrderByToken("tok")
	if !ok || byTok.ID != "1" {
		t.Fatalf("GetOrderByToken=%+v ok=%v", byTok, ok)
	}
	if open := l.GetOpenOrders(""); len(open) != 0 {
		t.Fatalf("executed order still open: %+v", open)
	}

	c := protocol.Order{ID: "2", Token: "tok2", Symbol: "AAPL", Status: protocol.StatusCanceled}
	if upd := l.OnOrder(c); !upd.Rejected {
		t.Fatal("cancel not flagged")
	}
	if len(rejected) != 1 {
		t.Fatalf("rejected events=%d", len(rejected))
	}
}

func TestLedgerOrderActionRejection(t *testing.T) {
	l := NewLedger(nil, nil)
	if l.OnOrderAction(protocol.OrderAction{Action: "Accepted", Token: "a"}) {
		t.Fatal("accept reported as rejection")
	}
	if !l.OnOrderAction(protocol.OrderAction{Action: "Rejected", Token: "a"}) {
		t.Fatal("rejection not reported")
	}
	l.OnOrder(protocol.Order{ID: "9", Token: "b", Status: protocol.StatusRejected})
	if l.OnOrderAction(protocol.OrderAction{Action: "Rejected", Token: "b"}) {
		t.Fatal("already rejected order reported twice")
	}
}

func TestLedgerAccountMergesBuyingPower(t *testing.T) {
	l := NewLedger(nil, nil)
	l.OnBuyingPower(protocol.BuyingPower{Value: 100000, Overnight: 50000})
	l.OnAccountInfo(protocol.AccountInfo{OpenEquity: 25000, CurrentEquity: 25100})
	a := l.Account()
	if a.BuyingPower != 100000 || a.OvernightBuyingPower != 50000 || a.CurrentEquity != 25100 {
		t.Fatalf("account %+v", a)
	}
	l.OnBuyingPower(protocol.BuyingPower{Value: 90000})
	if a := l.Account(); a.CurrentEquity != 25100 || a.BuyingPower != 90000 {
		t.Fatalf("BP line clobbered account values: %+v", a)
	}
}

func TestLedgerPositionsAndTrades(t *testing.T) {
	l := NewLedger(nil, nil)
	l.OnPosition(protocol.Position{Symbol: "AAPL", Quantity: 200, AvgCost: 10})
	l.OnPosition(protocol.Position{Symbol: "MSFT", Quantity: -10, AvgCost: 400})
	l.OnPosition(protocol.Position{Symbol: "AAPL", Quantity: 100, AvgCost: 10.5})
	if got := l.Shares("AAPL"); got != 100 {
		t.Fatalf("shares=%d", got)
	}
	if got := l.PositionCost(); got != 100*10.5+10*400 {
		t.Fatalf("cost=%v", got)
	}
	if !l.OnTrade(protocol.Trade{ID: "t1"}) || l.OnTrade(protocol.Trade{ID: "t1"}) {
		t.Fatal("trade dedup broken")
	}
	l.OnTrade(protocol.Trade{ID: "t0"})
	tr := l.Trades()
	if len(tr) != 2 || tr[0].ID != "t1" || tr[1].ID != "t0" {
		t.Fatalf("trades %+v", tr)
	}
}

func TestLedgerTradeUpsert(t *testing.T) {
	bus := events.NewBus()
	added, unsub := bus.Subscribe(events.EventTradeAdded, 8)
	defer unsub()
	l := NewLedger(bus, nil)

	first := protocol.Trade{ID: "t1", Symbol: "AAPL", Quantity: 100, Price: 10.5}
	if !l.OnTrade(first) {
		t.Fatal("new trade not reported")
	}
	if l.OnTrade(first) {
		t.Fatal("exact resend reported as new")
	}
	corrected := first
	corrected.PL, corrected.ECNFee = 42, 0.3
	if l.OnTrade(corrected) {
		t.Fatal("corrected resend reported as new")
	}
	tr := l.Trades()
	if len(tr) != 1 || tr[0].PL != 42 || tr[0].ECNFee != 0.3 {
		t.Fatalf("trades %+v", tr)
	}
	if len(added) != 2 {
		t.Fatalf("trade events=%d, expected 2", len(added))
	}
}

type fakeGateway struct {
	loggedIn bool
	sent     []string
}

func (f *fakeGateway) Send(cmd string) error { f.sent = append(f.sent, cmd); return nil }
func (f *fakeGateway) LoggedIn() bool        { return f.loggedIn }

func TestRefresherSync(t *testing.T) {
	gw := &fakeGateway{}
	r := NewRefresher(gw, 0, nil)
	if err := r.Sync(); err != nil || len(gw.sent) != 0 {
		t.Fatalf("sync before login sent %v err=%v", gw.sent, err)
	}
	gw.loggedIn = true
	if err := r.SyncAll(); err != nil {
		t.Fatal(err)
	}
	want := []string{"GET AccountInfo", "GET BP", "GET POSITIONS", "GET ORDERS", "GET TRADES"}
	if len(gw.sent) != len(want) {
		t.Fatalf("sent %v", gw.sent)
	}
	for i := range want {
		if gw.sent[i] != want[i] {
			t.Fatalf("sent %v", gw.sent)
		}
	}
}
