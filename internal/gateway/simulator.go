// Package gateway provides a local stand-in for the broker gateway: a TCP
// server that speaks the line protocol, streams random-walk quotes and prints
// for subscribed symbols, and fills orders through the dry-run executor.
package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"equity-terminal/internal/events"
	"equity-terminal/internal/order"
	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
	"equity-terminal/internal/symbols"
)

// Config holds configuration for the simulator.
type Config struct {
	Addr         string
	TickInterval time.Duration // Interval between price steps per symbol
	StartPrice   float64       // Opening price of every new symbol
	Volatility   float64       // Max relative move per step
	Seed         uint64
	Equity       float64
	Account      string
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:9910",
		TickInterval: 250 * time.Millisecond,
		StartPrice:   20,
		Volatility:   0.002,
		Seed:         1,
		Equity:       100000,
		Account:      "SIM",
	}
}

// Simulator accepts any number of sessions; each gets its own book.
type Simulator struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	rnd    *rand.Rand
	prices map[string]*walk
}

// walk is the synthetic market of one symbol.
type walk struct {
	last, open, high, low float64
	volume                float64
}

func NewSimulator(cfg Config, logger *zap.Logger) *Simulator {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = def.StartPrice
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = def.Volatility
	}
	if cfg.Equity <= 0 {
		cfg.Equity = def.Equity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		cfg:    cfg,
		log:    logger.Named("simulator"),
		rnd:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		prices: make(map[string]*walk),
	}
}

// ListenAndServe listens on the configured address until ctx is cancelled.
func (s *Simulator) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve accepts sessions on lis until ctx is cancelled.
func (s *Simulator) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info("simulator listening", zap.String("addr", lis.Addr().String()))
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve(ctx, conn)
		}()
	}
}

// quote returns the synthetic quote of symbol, one cent either side of last.
func (s *Simulator) quote(symbol string) (protocol.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.prices[symbols.Normalize(symbol)]
	if !ok {
		return protocol.Quote{}, false
	}
	return w.quoteLocked(symbols.Normalize(symbol)), true
}

func (w *walk) quoteLocked(symbol string) protocol.Quote {
	return protocol.Quote{
		Symbol: symbol,
		Ask:    risk.Round2(w.last + 0.01),
		Bid:    risk.Round2(w.last - 0.01),
		Last:   w.last,
		High:   w.high,
		Low:    w.low,
		Open:   w.open,
		Volume: w.volume,
	}
}

// ensure starts a walk for symbol if it has none yet.
func (s *Simulator) ensure(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prices[symbol]; ok {
		return
	}
	p := s.cfg.StartPrice
	s.prices[symbol] = &walk{last: p, open: p, high: p, low: p}
}

// step moves symbol one random increment and returns the print size.
func (s *Simulator) step(symbol string) (protocol.Quote, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.prices[symbol]
	move := (s.rnd.Float64()*2 - 1) * s.cfg.Volatility * w.last
	w.last = max(0.01, risk.Round2(w.last+move))
	w.high = max(w.high, w.last)
	w.low = min(w.low, w.last)
	size := 100 * (1 + s.rnd.IntN(10))
	w.volume += float64(size)
	return w.quoteLocked(symbol), size
}

// session is one connected client.
type session struct {
	sim     *Simulator
	conn    net.Conn
	log     *zap.Logger
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]bool

	queue *order.Queue
	exec  *order.DryRunSender
}

func (s *Simulator) serve(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	sess := &session{
		sim:   s,
		conn:  conn,
		log:   s.log.With(zap.String("remote", conn.RemoteAddr().String())),
		subs:  make(map[string]bool),
		queue: order.NewQueue(1024),
	}
	sess.exec = order.NewDryRunSender(nil, sess.queue, s.quote,
		order.DryRunConfig{InitialEquity: s.cfg.Equity, Account: s.cfg.Account}, events.NewBus(), sess.log)
	sess.log.Info("session opened")

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go sess.queue.Drain(ctx, sess.write)
	go sess.stream(ctx)

	if err := sess.read(); err != nil && !errors.Is(err, net.ErrClosed) {
		sess.log.Warn("session read failed", zap.Error(err))
	}
	sess.log.Info("session closed")
}

func (ss *session) write(line string) {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	if _, err := io.WriteString(ss.conn, line+"\r\n"); err != nil {
		ss.log.Debug("write failed", zap.Error(err))
	}
}

func (ss *session) read() error {
	sc := bufio.NewScanner(ss.conn)
	for sc.Scan() {
		ss.handle(strings.TrimSpace(sc.Text()))
	}
	return sc.Err()
}

func (ss *session) handle(cmd string) {
	f := strings.Fields(cmd)
	if len(f) == 0 {
		return
	}
	switch f[0] {
	case "LOGIN":
		if len(f) < 3 {
			ss.write("#LOGIN FAILED missing credentials")
			return
		}
		ss.write("#LOGIN SUCCESSED " + f[1])
	case "SB":
		if len(f) < 3 {
			return
		}
		sym := symbols.Normalize(f[1])
		if protocol.Feed(f[2]) != protocol.FeedLevel1 && protocol.Feed(f[2]) != protocol.FeedTrades {
			return
		}
		ss.sim.ensure(sym)
		ss.mu.Lock()
		ss.subs[sym] = true
		ss.mu.Unlock()
		if q, ok := ss.sim.quote(sym); ok {
			ss.write(FormatQuote(q, time.Now()))
		}
	case "UNSB":
		if len(f) < 2 {
			return
		}
		ss.mu.Lock()
		delete(ss.subs, symbols.Normalize(f[1]))
		ss.mu.Unlock()
	case "NEWORDER", "CANCEL", "GET":
		if err := ss.exec.Send(cmd); err != nil {
			ss.log.Warn("command rejected", zap.String("cmd", cmd), zap.Error(err))
		}
	default:
		ss.log.Debug("command ignored", zap.String("cmd", cmd))
	}
}

// stream prints a quote and a trade for every subscribed symbol each interval.
func (ss *session) stream(ctx context.Context) {
	ticker := time.NewTicker(ss.sim.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ss.mu.Lock()
			syms := make([]string, 0, len(ss.subs))
			for sym := range ss.subs {
				syms = append(syms, sym)
			}
			ss.mu.Unlock()
			for _, sym := range syms {
				q, size := ss.sim.step(sym)
				ss.write(FormatQuote(q, now))
				ss.write(FormatTick(sym, q.Last, size, now))
				ss.exec.OnPrice(sym, q.Last)
			}
		}
	}
}

// FormatQuote renders a $Quote line.
func FormatQuote(q protocol.Quote, at time.Time) string {
	return fmt.Sprintf("$Quote %s A:%.2f Asz:100 B:%.2f Bsz:100 V:%.0f L:%.2f Hi:%.2f Lo:%.2f op:%.2f T:%s",
		q.Symbol, q.Ask, q.Bid, q.Volume, q.Last, q.High, q.Low, q.Open, at.Format("150405"))
}

// FormatTick renders a $T&S print with a valid last and volume.
func FormatTick(symbol string, price float64, size int, at time.Time) string {
	return fmt.Sprintf("$T&S %s %.2f %d 3 %s NSDQ B @", symbol, price, size, at.Format("15:04:05"))
}
