package order

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/protocol"
)

// QuoteSource returns the latest quote of a symbol.
type QuoteSource func(symbol string) (protocol.Quote, bool)

// DryRunConfig tunes the simulated account.
type DryRunConfig struct {
	InitialEquity float64
	Account       string
}

// DryRunSender keeps order commands off the wire. Orders are filled against the
// latest quote and answered with synthetic %ORDER/%TRADE/%POS lines pushed to
// the line queue; everything else passes through to next. Without a gateway
// (next == nil or not connected) the account queries are answered locally.
type DryRunSender struct {
	next   Sender
	queue  *Queue
	quotes QuoteSource
	cfg    DryRunConfig
	bus    *events.Bus
	log    *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	seq       int
	cash      float64
	realized  float64
	positions map[string]*MockPosition
	resting   map[string]protocol.Order
}

// MockPosition is a simulated long or short holding.
type MockPosition struct {
	Symbol     string
	Quantity   int
	EntryPrice float64
	Realized   float64
	Opened     protocol.TimeOfDay
}

func NewDryRunSender(next Sender, queue *Queue, quotes QuoteSource, cfg DryRunConfig, bus *events.Bus, logger *zap.Logger) *DryRunSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Account == "" {
		cfg.Account = "DRYRUN"
	}
	return &DryRunSender{
		next:      next,
		queue:     queue,
		quotes:    quotes,
		cfg:       cfg,
		bus:       bus,
		log:       logger.Named("dryrun"),
		now:       time.Now,
		cash:      cfg.InitialEquity,
		positions: make(map[string]*MockPosition),
		resting:   make(map[string]protocol.Order),
	}
}

// Send simulates order commands and forwards the rest.
func (d *DryRunSender) Send(cmd string) error {
	cmd = strings.TrimRight(cmd, "\r\n")
	if !protocol.IsOrderCommand(cmd) {
		if d.next != nil {
			if err := d.next.Send(cmd); !errors.Is(err, protocol.ErrNotConnected) {
				return err
			}
		}
		d.answerQuery(cmd)
		return nil
	}
	d.bus.Publish(events.EventCommandSent, cmd)
	d.log.Info("DRY-RUN command", zap.String("cmd", cmd))

	if strings.HasPrefix(cmd, "CANCEL ") {
		d.cancel(strings.TrimSpace(strings.TrimPrefix(cmd, "CANCEL ")))
		return nil
	}
	req, err := ParseNewOrder(cmd)
	if err != nil {
		return err
	}
	d.place(req)
	return nil
}

// ParseNewOrder decodes a NEWORDER command.
func ParseNewOrder(cmd string) (protocol.OrderRequest, error) {
	f := strings.Fields(cmd)
	if len(f) < 7 || f[0] != "NEWORDER" {
		return protocol.OrderRequest{}, fmt.Errorf("malformed NEWORDER %q", cmd)
	}
	qty, err := strconv.Atoi(f[5])
	if err != nil || qty <= 0 {
		return protocol.OrderRequest{}, fmt.Errorf("bad quantity in %q", cmd)
	}
	r := protocol.OrderRequest{
		Token:    f[1],
		Side:     protocol.Side(f[2]),
		Symbol:   f[3],
		Route:    f[4],
		Quantity: qty,
	}
	num := func(i int) float64 {
		if i >= len(f) {
			return 0
		}
		v, _ := strconv.ParseFloat(f[i], 64)
		return v
	}
	switch t := protocol.OrderType(f[6]); t {
	case protocol.TypeMarket:
		r.Type = t
	case protocol.TypeStopMarket:
		r.Type, r.StopPrice = t, num(7)
	case protocol.TypeStopLimit, protocol.TypeStopLimitPost:
		r.Type, r.StopPrice, r.Price = t, num(7), num(8)
	default:
		r.Type, r.Price = protocol.TypeLimit, num(6)
		if r.Price <= 0 {
			return r, fmt.Errorf("bad price in %q", cmd)
		}
	}
	return r, nil
}

func (d *DryRunSender) tod() protocol.TimeOfDay {
	t := d.now()
	return protocol.TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (d *DryRunSender) emit(line string) {
	if !d.queue.Enqueue(line) {
		d.log.Warn("DRY-RUN line dropped, queue full", zap.String("line", line))
	}
}

func (d *DryRunSender) place(r protocol.OrderRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	o := protocol.Order{
		ID:        "DRY" + strconv.Itoa(d.seq),
		Token:     r.Token,
		Symbol:    r.Symbol,
		Side:      r.Side,
		Type:      r.Type,
		Quantity:  r.Quantity,
		Left:      r.Quantity,
		Price:     r.Price,
		StopPrice: r.StopPrice,
		Route:     r.Route,
		Status:    protocol.StatusAccepted,
		Time:      d.tod(),
		Account:   d.cfg.Account,
	}
	if o.Type.IsStop() {
		d.resting[o.ID] = o
		d.emit(protocol.FormatOrder(o))
		return
	}
	price := o.Price
	if o.Type == protocol.TypeMarket {
		price = d.marketPrice(o)
	}
	if price <= 0 {
		o.Status = protocol.StatusRejected
		o.Left, o.Canceled = 0, o.Quantity
		d.emit(protocol.FormatOrder(o))
		return
	}
	d.fillLocked(o, price)
}

func (d *DryRunSender) marketPrice(o protocol.Order) float64 {
	if d.quotes == nil {
		return 0
	}
	q, ok := d.quotes(o.Symbol)
	if !ok {
		return 0
	}
	if o.Side == protocol.SideBuy {
		return q.Ask
	}
	return q.Bid
}

// fillLocked executes o in full at price.
func (d *DryRunSender) fillLocked(o protocol.Order, price float64) {
	pos := d.positions[o.Symbol]
	if pos == nil {
		pos = &MockPosition{Symbol: o.Symbol, Opened: d.tod()}
		d.positions[o.Symbol] = pos
	}
	signed := o.Quantity
	if o.Side != protocol.SideBuy {
		signed = -o.Quantity
	}

	var pl float64
	switch {
	case pos.Quantity == 0 || (pos.Quantity > 0) == (signed > 0):
		total := float64(pos.Quantity)*pos.EntryPrice + float64(signed)*price
		pos.Quantity += signed
		pos.EntryPrice = total / float64(pos.Quantity)
	default:
		closing := min(abs(signed), abs(pos.Quantity))
		side := "B"
		if pos.Quantity < 0 {
			side = "S"
		}
		pl = CalculatePnL(side, float64(closing), pos.EntryPrice, price, 0)
		pos.Realized += pl
		d.realized += pl
		pos.Quantity += signed
		if pos.Quantity != 0 && (pos.Quantity > 0) == (signed > 0) {
			pos.EntryPrice = price
		}
	}
	d.cash -= float64(signed) * price

	o.Status = protocol.StatusExecuted
	o.Left, o.Filled = 0, o.Quantity
	o.Price = price
	d.emit(protocol.FormatOrder(o))
	d.emit(protocol.FormatTrade(protocol.Trade{
		ID:        "T" + o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Quantity:  o.Quantity,
		Price:     price,
		Route:     o.Route,
		Time:      d.tod(),
		OrderID:   o.ID,
		Liquidity: "R",
		PL:        pl,
	}))
	d.emit(protocol.FormatPosition(protocol.Position{
		Symbol:       pos.Symbol,
		Type:         "1",
		Quantity:     pos.Quantity,
		AvgCost:      pos.EntryPrice,
		InitQuantity: pos.Quantity,
		InitPrice:    pos.EntryPrice,
		RealizedPL:   pos.Realized,
		CreateTime:   pos.Opened,
	}))
	d.log.Info("DRY-RUN fill", zap.String("symbol", o.Symbol), zap.String("side", string(o.Side)),
		zap.Int("qty", o.Quantity), zap.Float64("price", price), zap.Int("position", pos.Quantity),
		zap.Float64("pl", pl))
}

func (d *DryRunSender) cancel(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := []string{target}
	if target == "ALL" {
		ids = ids[:0]
		for id := range d.resting {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	for _, id := range ids {
		o, ok := d.resting[id]
		if !ok {
			continue
		}
		delete(d.resting, id)
		o.Status = protocol.StatusCanceled
		o.Canceled, o.Left = o.Left, 0
		d.emit(protocol.FormatOrder(o))
	}
}

// OnPrice fills resting stops that price has touched.
func (d *DryRunSender) OnPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var hit []protocol.Order
	for _, o := range d.resting {
		if o.Symbol != symbol {
			continue
		}
		if (o.Side == protocol.SideBuy && price >= o.StopPrice) || (o.Side != protocol.SideBuy && price <= o.StopPrice) {
			hit = append(hit, o)
		}
	}
	sort.Slice(hit, func(i, j int) bool { return hit[i].ID < hit[j].ID })
	for _, o := range hit {
		delete(d.resting, o.ID)
		fill := price
		if o.Type != protocol.TypeStopMarket && o.Price > 0 {
			fill = o.Price
		}
		d.fillLocked(o, fill)
	}
}

// answerQuery serves account queries when no gateway is attached.
func (d *DryRunSender) answerQuery(cmd string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch cmd {
	case protocol.GetCommand(protocol.QueryAccountInfo):
		equity := d.equityLocked()
		d.emit(protocol.FormatAccountInfo(protocol.AccountInfo{
			OpenEquity:    d.cfg.InitialEquity,
			CurrentEquity: equity,
			RealizedPL:    d.realized,
			NetPL:         equity - d.cfg.InitialEquity,
			UnrealizedPL:  equity - d.cfg.InitialEquity - d.realized,
		}))
	case protocol.GetCommand(protocol.QueryBuyingPower):
		equity := d.equityLocked()
		d.emit(protocol.FormatBuyingPower(protocol.BuyingPower{Value: equity * 4, Overnight: equity * 2}))
	}
}

func (d *DryRunSender) equityLocked() float64 {
	equity := d.cash
	for _, p := range d.positions {
		mark := p.EntryPrice
		if d.quotes != nil {
			if q, ok := d.quotes(p.Symbol); ok && q.Last > 0 {
				mark = q.Last
			}
		}
		equity += float64(p.Quantity) * mark
	}
	return equity
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
