package protocol

import (
	"fmt"
	"strings"
)

// TimeOfDay is a wall-clock time expressed in seconds since midnight.
type TimeOfDay int

// SecondsPerDay bounds every TimeOfDay value.
const SecondsPerDay = 86400

func (t TimeOfDay) String() string {
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

// Side is the order/trade side token.
type Side string

const (
	SideBuy       Side = "B"
	SideSell      Side = "S"
	SideShortSell Side = "SS"
)

// OrderType mirrors the gateway type tokens.
type OrderType string

const (
	TypeMarket        OrderType = "MKT"
	TypeLimit         OrderType = "LMT"
	TypeStopMarket    OrderType = "STOPMKT"
	TypeStopLimit     OrderType = "STOPLMT"
	TypeStopLimitPost OrderType = "STOPLMTP"
)

// IsStop reports whether the order rests until a stop price is touched.
func (t OrderType) IsStop() bool {
	return t == TypeStopMarket || t == TypeStopLimit || t == TypeStopLimitPost
}

// Status is the gateway order status. Transitions are never predicted locally.
type Status int

const (
	StatusUnknown Status = iota
	StatusHold
	StatusSending
	StatusAccepted
	StatusPartial
	StatusExecuted
	StatusCanceled
	StatusRejected
	StatusClosed
	StatusTriggered
)

var statusNames = [...]string{"Unknown", "Hold", "Sending", "Accepted", "Partial", "Executed", "Canceled", "Rejected", "Closed", "Triggered"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// MarshalText lets statuses travel as names in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Open reports whether the order can still fill.
func (s Status) Open() bool {
	switch s {
	case StatusHold, StatusSending, StatusAccepted, StatusPartial, StatusTriggered:
		return true
	}
	return false
}

// ParseStatus maps a status token, case-insensitively.
func ParseStatus(tok string) Status {
	for i, name := range statusNames {
		if strings.EqualFold(name, tok) {
			return Status(i)
		}
	}
	// "Cancelled" shows up on some gateway builds.
	if strings.EqualFold(tok, "Cancelled") {
		return StatusCanceled
	}
	return StatusUnknown
}

// QuoteField flags which fields a $Quote line carried.
type QuoteField uint16

const (
	FieldAsk QuoteField = 1 << iota
	FieldAskSize
	FieldBid
	FieldBidSize
	FieldVolume
	FieldLast
	FieldHigh
	FieldLow
	FieldOpen
	FieldPrevClose
	FieldTodayClose
	FieldPE
	FieldTime
)

// Quote is the level-1 snapshot for a symbol.
type Quote struct {
	Symbol     string     `json:"symbol"`
	Ask        float64    `json:"ask"`
	AskSize    float64    `json:"askSize"`
	Bid        float64    `json:"bid"`
	BidSize    float64    `json:"bidSize"`
	Last       float64    `json:"last"`
	High       float64    `json:"high"`
	Low        float64    `json:"low"`
	Open       float64    `json:"open"`
	PrevClose  float64    `json:"prevClose"`
	TodayClose float64    `json:"todayClose"`
	PE         float64    `json:"pe"`
	Volume     float64    `json:"volume"`
	Time       TimeOfDay  `json:"time"`
	Present    QuoteField `json:"-"`
}

// Merge copies the fields present in u onto q.
func (q *Quote) Merge(u Quote) {
	if u.Present&FieldAsk != 0 {
		q.Ask = u.Ask
	}
	if u.Present&FieldAskSize != 0 {
		q.AskSize = u.AskSize
	}
	if u.Present&FieldBid != 0 {
		q.Bid = u.Bid
	}
	if u.Present&FieldBidSize != 0 {
		q.BidSize = u.BidSize
	}
	if u.Present&FieldVolume != 0 {
		q.Volume = u.Volume
	}
	if u.Present&FieldLast != 0 {
		q.Last = u.Last
	}
	if u.Present&FieldHigh != 0 {
		q.High = u.High
	}
	if u.Present&FieldLow != 0 {
		q.Low = u.Low
	}
	if u.Present&FieldOpen != 0 {
		q.Open = u.Open
	}
	if u.Present&FieldPrevClose != 0 {
		q.PrevClose = u.PrevClose
	}
	if u.Present&FieldTodayClose != 0 {
		q.TodayClose = u.TodayClose
	}
	if u.Present&FieldPE != 0 {
		q.PE = u.PE
	}
	if u.Present&FieldTime != 0 {
		q.Time = u.Time
	}
	q.Present |= u.Present
}

// Tick flag bits.
const (
	FlagValidLast   = 1
	FlagValidVolume = 2
)

// Tick is one time-and-sales print.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Flag      int       `json:"flag"`
	Time      TimeOfDay `json:"time"`
	Exchange  string    `json:"exchange"`
	Side      string    `json:"side"`
	Condition string    `json:"condition"`
}

// ValidForLast reports whether the print may move last/high/low.
func (t Tick) ValidForLast() bool { return t.Flag&FlagValidLast != 0 }

// ValidForVolume reports whether the print counts toward volume.
func (t Tick) ValidForVolume() bool { return t.Flag&FlagValidVolume != 0 }

// Order is the gateway's view of one order.
type Order struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Type      OrderType `json:"type"`
	Quantity  int       `json:"quantity"`
	Left      int       `json:"left"`
	Canceled  int       `json:"canceled"`
	Filled    int       `json:"filled"`
	Price     float64   `json:"price"`
	StopPrice float64   `json:"stopPrice"`
	Route     string    `json:"route"`
	Status    Status    `json:"status"`
	Time      TimeOfDay `json:"time"`
	Account   string    `json:"account"`
}

// OrderAction is an %OrderAct notification (acknowledgements, rejections, cancels).
type OrderAction struct {
	OrderID  string    `json:"orderId"`
	Action   string    `json:"action"`
	Side     Side      `json:"side"`
	Symbol   string    `json:"symbol"`
	Quantity int       `json:"quantity"`
	Price    float64   `json:"price"`
	Route    string    `json:"route"`
	Time     TimeOfDay `json:"time"`
	Notes    string    `json:"notes"`
	Token    string    `json:"token"`
}

// Trade is one fill.
type Trade struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	Route     string    `json:"route"`
	Time      TimeOfDay `json:"time"`
	OrderID   string    `json:"orderId"`
	Liquidity string    `json:"liquidity"`
	ECNFee    float64   `json:"ecnFee"`
	PL        float64   `json:"pl"`
}

// Position is replaced wholesale on every position line. Quantity is signed.
type Position struct {
	Symbol       string    `json:"symbol"`
	Type         string    `json:"type"`
	Quantity     int       `json:"quantity"`
	AvgCost      float64   `json:"avgCost"`
	InitQuantity int       `json:"initQuantity"`
	InitPrice    float64   `json:"initPrice"`
	RealizedPL   float64   `json:"realizedPL"`
	CreateTime   TimeOfDay `json:"createTime"`
	UnrealizedPL float64   `json:"unrealizedPL"`
}

// AccountInfo aggregates equity, P&L, fees and buying power.
type AccountInfo struct {
	OpenEquity           float64 `json:"openEquity"`
	CurrentEquity        float64 `json:"currentEquity"`
	RealizedPL           float64 `json:"realizedPL"`
	UnrealizedPL         float64 `json:"unrealizedPL"`
	NetPL                float64 `json:"netPL"`
	HTBCost              float64 `json:"htbCost"`
	SECFee               float64 `json:"secFee"`
	FINRAFee             float64 `json:"finraFee"`
	ECNFee               float64 `json:"ecnFee"`
	Commission           float64 `json:"commission"`
	BuyingPower          float64 `json:"buyingPower"`
	OvernightBuyingPower float64 `json:"overnightBuyingPower"`
}

// BuyingPower is a BP line.
type BuyingPower struct {
	Value     float64 `json:"value"`
	Overnight float64 `json:"overnight"`
}
