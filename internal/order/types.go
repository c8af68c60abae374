package order

import (
	"errors"
	"time"

	"equity-terminal/internal/protocol"
	"equity-terminal/internal/risk"
)

var (
	ErrUnknownSymbol = errors.New("order: symbol not subscribed")
	ErrNoQuote       = errors.New("order: no usable quote")
	ErrNoPosition    = errors.New("order: no open long position")
	ErrInvalidShares = errors.New("order: share count must be positive")
	ErrInvalidPrice  = errors.New("order: price must be positive")
	ErrZeroShares    = risk.ErrZeroShares
	ErrAddSkipped    = errors.New("order: add-position sizing returned no shares")
	ErrNoBars        = errors.New("order: no bars to derive a stop from")
)

// Sender transmits one wire command.
type Sender interface {
	Send(cmd string) error
}

// SentOrder is what an order-sent observer sees before a NEWORDER goes out.
type SentOrder struct {
	Token     string             `json:"token"`
	Symbol    string             `json:"symbol"`
	Side      protocol.Side      `json:"side"`
	Type      protocol.OrderType `json:"type"`
	Quantity  int                `json:"quantity"`
	Price     float64            `json:"price"`
	StopPrice float64            `json:"stopPrice,omitempty"`
	Route     string             `json:"route"`
	Reason    string             `json:"reason"`
	Command   string             `json:"command"`
	Time      time.Time          `json:"time"`
}

// Request converts to the protocol order request.
func (s SentOrder) Request() protocol.OrderRequest {
	return protocol.OrderRequest{
		Token:     s.Token,
		Side:      s.Side,
		Symbol:    s.Symbol,
		Route:     s.Route,
		Quantity:  s.Quantity,
		Type:      s.Type,
		Price:     s.Price,
		StopPrice: s.StopPrice,
	}
}

// Observer is notified of every order before transmission.
type Observer func(SentOrder)
