package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Feed names a market-data subscription channel.
type Feed string

const (
	FeedLevel1 Feed = "Lv1"
	FeedTrades Feed = "tms"
	FeedLevel2 Feed = "Lv2"
	FeedChart  Feed = "MINCHART"
)

// Query names a GET request.
type Query string

const (
	QueryBuyingPower Query = "BP"
	QueryAccountInfo Query = "AccountInfo"
	QueryPositions   Query = "POSITIONS"
	QueryOrders      Query = "ORDERS"
	QueryTrades      Query = "TRADES"
)

func price(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// LoginCommand builds `LOGIN user pass account`.
func LoginCommand(user, pass, account string) string {
	return fmt.Sprintf("LOGIN %s %s %s", user, pass, account)
}

// SubscribeCommand builds `SB sym feed`; chart subscriptions ask for the latest bars.
func SubscribeCommand(symbol string, feed Feed) string {
	if feed == FeedChart {
		return fmt.Sprintf("SB %s %s LATEST", symbol, feed)
	}
	return fmt.Sprintf("SB %s %s", symbol, feed)
}

// UnsubscribeCommand builds `UNSB sym feed`.
func UnsubscribeCommand(symbol string, feed Feed) string {
	return fmt.Sprintf("UNSB %s %s", symbol, feed)
}

// OrderRequest describes one NEWORDER.
type OrderRequest struct {
	Token     string
	Side      Side
	Symbol    string
	Route     string
	Quantity  int
	Type      OrderType
	Price     float64
	StopPrice float64
}

// PriceToken renders the price|type slot of NEWORDER.
func (r OrderRequest) PriceToken() string {
	switch r.Type {
	case TypeMarket:
		return "MKT"
	case TypeStopMarket:
		return "STOPMKT " + price(r.StopPrice)
	case TypeStopLimit:
		return "STOPLMT " + price(r.StopPrice) + " " + price(r.Price)
	case TypeStopLimitPost:
		return "STOPLMTP " + price(r.StopPrice) + " " + price(r.Price)
	default:
		return price(r.Price)
	}
}

// NewOrderCommand builds `NEWORDER token B|S symbol route qty price|type TIF=DAY+`.
func NewOrderCommand(r OrderRequest) string {
	return fmt.Sprintf("NEWORDER %s %s %s %s %d %s TIF=DAY+", r.Token, r.Side, r.Symbol, r.Route, r.Quantity, r.PriceToken())
}

// CancelCommand builds `CANCEL orderId`.
func CancelCommand(orderID string) string {
	return "CANCEL " + orderID
}

// CancelAllCommand builds `CANCEL ALL`.
func CancelAllCommand() string {
	return "CANCEL ALL"
}

// GetCommand builds `GET what`.
func GetCommand(q Query) string {
	return "GET " + string(q)
}

// IsOrderCommand reports whether a command creates or cancels orders.
func IsOrderCommand(cmd string) bool {
	return strings.HasPrefix(cmd, "NEWORDER ") || strings.HasPrefix(cmd, "CANCEL ")
}

// FormatOrder renders an order in %ORDER field order. The account slot is
// always written so a trailing stop price cannot be read as the account.
func FormatOrder(o Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%%ORDER %s %s %s %s %s %d %d %d %s %s %s %s",
		o.ID, o.Token, o.Symbol, o.Side, o.Type, o.Quantity, o.Left, o.Canceled,
		price(o.Price), o.Route, o.Status, o.Time)
	if o.StopPrice != 0 {
		b.WriteString(" " + price(o.StopPrice))
	}
	b.WriteString(" " + slot(o.Account))
	return b.String()
}

// FormatTrade renders a trade in %TRADE field order.
func FormatTrade(t Trade) string {
	return fmt.Sprintf("%%TRADE %s %s %s %d %s %s %s %s %s %s %s",
		t.ID, t.Symbol, t.Side, t.Quantity, price(t.Price), t.Route, t.Time, t.OrderID,
		slot(t.Liquidity), price(t.ECNFee), price(t.PL))
}

// emptySlot stands in for an empty text field so later fields keep their position.
const emptySlot = "-"

func slot(s string) string {
	if s == "" {
		return emptySlot
	}
	return s
}

func unslot(s string) string {
	if s == emptySlot {
		return ""
	}
	return s
}

// FormatPosition renders a position in %POS field order.
func FormatPosition(p Position) string {
	return fmt.Sprintf("%%POS %s %s %d %s %d %s %s %s %s",
		p.Symbol, p.Type, p.Quantity, price(p.AvgCost), p.InitQuantity, price(p.InitPrice),
		price(p.RealizedPL), p.CreateTime, price(p.UnrealizedPL))
}

// FormatAccountInfo renders account info in $AccountInfo field order.
func FormatAccountInfo(a AccountInfo) string {
	vals := []float64{a.OpenEquity, a.CurrentEquity, a.RealizedPL, a.UnrealizedPL, a.NetPL,
		a.HTBCost, a.SECFee, a.FINRAFee, a.ECNFee, a.Commission}
	parts := make([]string, 0, len(vals)+1)
	parts = append(parts, "$AccountInfo")
	for _, v := range vals {
		parts = append(parts, price(v))
	}
	return strings.Join(parts, " ")
}

// FormatBuyingPower renders a BP line.
func FormatBuyingPower(bp BuyingPower) string {
	return "BP " + price(bp.Value) + " " + price(bp.Overnight)
}
