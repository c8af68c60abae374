package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"equity-terminal/internal/events"
)

// MaxLineBytes bounds one inbound line. A longer line ends the session.
const MaxLineBytes = 64 * 1024

var (
	ErrNotConnected     = errors.New("protocol: not connected")
	ErrAlreadyConnected = errors.New("protocol: already connected")
)

// Handler receives every classified inbound line on the read goroutine, in wire order.
type Handler interface {
	HandleLine(kind Kind, line string)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(kind Kind, line string)

func (f HandlerFunc) HandleLine(kind Kind, line string) { f(kind, line) }

// Client owns one TCP session with the execution gateway.
type Client struct {
	Bus     *events.Bus
	Handler Handler
	log     *zap.Logger

	writeMu sync.Mutex
	conn    net.Conn

	stateMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}

	loggedIn atomic.Bool
	maxLine  int
}

// NewClient creates a disconnected client.
func NewClient(bus *events.Bus, handler Handler, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{Bus: bus, Handler: handler, log: logger.Named("protocol"), maxLine: MaxLineBytes}
}

// Connect dials the gateway and starts the read loop. The read loop outlives ctx;
// ctx only bounds the dial. Use Disconnect to stop it.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.done != nil {
		return ErrAlreadyConnected
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.log.Error("connect failed", zap.String("addr", addr), zap.Error(err))
		c.Bus.Publish(events.EventDisconnected, events.Disconnected{Err: err.Error()})
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	c.attach(conn)
	c.log.Info("connected", zap.String("addr", addr))
	c.Bus.Publish(events.EventConnected, addr)
	return nil
}

// Attach starts a session on an already established connection.
func (c *Client) Attach(conn net.Conn) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.done != nil {
		return ErrAlreadyConnected
	}
	c.attach(conn)
	c.Bus.Publish(events.EventConnected, conn.RemoteAddr().String())
	return nil
}

func (c *Client) attach(conn net.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.loggedIn.Store(false)
	go c.readLoop(ctx, conn, c.done)
}

// Login sends LOGIN; the outcome arrives later as a login-result event.
func (c *Client) Login(user, pass, account string) error {
	return c.Send(LoginCommand(user, pass, account))
}

// Send writes one command, terminated by CRLF. Concurrent callers never interleave.
func (c *Client) Send(cmd string) error {
	cmd = strings.TrimRight(cmd, "\r\n")
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if _, err := io.WriteString(c.conn, cmd+"\r\n"); err != nil {
		return fmt.Errorf("send %q: %w", firstToken(cmd), err)
	}
	c.Bus.Publish(events.EventCommandSent, redact(cmd))
	return nil
}

// Disconnect stops the read loop and closes the socket. It waits for the loop to exit.
func (c *Client) Disconnect() {
	c.stateMu.Lock()
	cancel, done := c.cancel, c.done
	c.stateMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Connected reports whether a session is active.
func (c *Client) Connected() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn != nil
}

// LoggedIn reports whether the gateway accepted the last LOGIN.
func (c *Client) LoggedIn() bool {
	return c.loggedIn.Load()
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn, done chan struct{}) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	// ScanLines splits on \n and drops one trailing \r.
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), c.maxLine)
	sc.Split(bufio.ScanLines)
	for ctx.Err() == nil && sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		c.process(line)
	}
	readErr := sc.Err()
	if errors.Is(readErr, bufio.ErrTooLong) {
		readErr = fmt.Errorf("inbound line over %d bytes: %w", c.maxLine, readErr)
	}

	_ = conn.Close()
	c.writeMu.Lock()
	c.conn = nil
	c.writeMu.Unlock()
	c.loggedIn.Store(false)

	c.stateMu.Lock()
	c.cancel = nil
	c.done = nil
	c.stateMu.Unlock()

	reason := events.Disconnected{}
	if ctx.Err() == nil && readErr != nil && !errors.Is(readErr, io.EOF) {
		reason.Err = readErr.Error()
		c.log.Warn("read loop ended", zap.Error(readErr))
	} else {
		c.log.Info("disconnected")
	}
	c.Bus.Publish(events.EventDisconnected, reason)
	close(done)
}

func (c *Client) process(line string) {
	c.Bus.Publish(events.EventRawLine, line)
	kind := Classify(line)
	switch kind {
	case KindLoginSuccess:
		c.loggedIn.Store(true)
		c.log.Info("login accepted")
		c.Bus.Publish(events.EventLoginResult, events.LoginResult{Success: true, Line: line})
	case KindLoginFailure:
		c.loggedIn.Store(false)
		c.log.Warn("login rejected", zap.String("line", line))
		c.Bus.Publish(events.EventLoginResult, events.LoginResult{Success: false, Line: line})
	case KindServerStatus:
		c.Bus.Publish(events.EventServerStatus, line)
	}
	if c.Handler != nil {
		c.Handler.HandleLine(kind, line)
	}
}

func firstToken(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		return cmd[:i]
	}
	return cmd
}

// redact hides the password of LOGIN commands before they reach events or logs.
func redact(cmd string) string {
	f := strings.Fields(cmd)
	if len(f) >= 3 && f[0] == "LOGIN" {
		f[2] = "****"
		return strings.Join(f, " ")
	}
	return cmd
}
