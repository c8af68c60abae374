package protocol

import (
	"strconv"
	"strings"
)

// Kind classifies one inbound line.
type Kind int

const (
	KindRaw Kind = iota
	KindServerStatus
	KindLoginSuccess
	KindLoginFailure
	KindQuote
	KindTick
	KindLevel2
	KindBar
	KindOrder
	KindOrderAction
	KindTrade
	KindPosition
	KindAccountInfo
	KindBuyingPower
)

var kindNames = [...]string{"raw", "server_status", "login_success", "login_failure", "quote", "tick", "level2", "bar", "order", "order_action", "trade", "position", "account_info", "buying_power"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "raw"
}

var prefixKinds = map[string]Kind{
	"$Quote":       KindQuote,
	"$T&S":         KindTick,
	"$Lv2":         KindLevel2,
	"$Bar":         KindBar,
	"%ORDER":       KindOrder,
	"%OrderAct":    KindOrderAction,
	"%TRADE":       KindTrade,
	"%POS":         KindPosition,
	"#POS":         KindPosition,
	"$AccountInfo": KindAccountInfo,
	"BP":           KindBuyingPower,
}

// Classify returns the message kind of a trimmed line. Login lines are checked
// before generic server status since both share the #OrderServer prefix.
func Classify(line string) Kind {
	switch {
	case strings.HasPrefix(line, "#OrderServer:Logon:Successful"), strings.HasPrefix(line, "#LOGIN SUCCESSED"):
		return KindLoginSuccess
	case strings.HasPrefix(line, "#OrderServer:Logon:Failed"), strings.HasPrefix(line, "#LOGIN FAILED"):
		return KindLoginFailure
	case strings.HasPrefix(line, "#OrderServer"), strings.HasPrefix(line, "#QuoteServer"):
		return KindServerStatus
	}
	head := line
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		head = line[:i]
	}
	if k, ok := prefixKinds[head]; ok {
		return k
	}
	return KindRaw
}

// numOr parses a float token, falling back to def on malformed input.
func numOr(tok string, def float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
	if err != nil {
		return def
	}
	return v
}

// intOr parses an integer token; decimal quantities such as "100.0" are truncated.
func intOr(tok string, def int) int {
	tok = strings.TrimSpace(tok)
	if v, err := strconv.Atoi(tok); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return int(f)
	}
	return def
}

// clockOr parses HH:MM:SS or HHMMSS.
func clockOr(tok string, def TimeOfDay) TimeOfDay {
	tok = strings.TrimSpace(tok)
	var h, m, s int
	var err error
	switch {
	case len(tok) == 8 && tok[2] == ':' && tok[5] == ':':
		h, err = strconv.Atoi(tok[0:2])
		if err == nil {
			m, err = strconv.Atoi(tok[3:5])
		}
		if err == nil {
			s, err = strconv.Atoi(tok[6:8])
		}
	case len(tok) == 6:
		h, err = strconv.Atoi(tok[0:2])
		if err == nil {
			m, err = strconv.Atoi(tok[2:4])
		}
		if err == nil {
			s, err = strconv.Atoi(tok[4:6])
		}
	default:
		return def
	}
	if err != nil || h > 23 || m > 59 || s > 59 || h < 0 || m < 0 || s < 0 {
		return def
	}
	return TimeOfDay(h*3600 + m*60 + s)
}

func normSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ParseQuote parses `$Quote sym key:value ...`. Only keys present on the line are
// flagged in Present.
func ParseQuote(line string) (Quote, bool) {
	f := strings.Fields(line)
	if len(f) < 2 || f[0] != "$Quote" {
		return Quote{}, false
	}
	q := Quote{Symbol: normSymbol(f[1])}
	for _, tok := range f[2:] {
		key, val, ok := strings.Cut(tok, ":")
		if !ok {
			continue
		}
		switch key {
		case "A":
			q.Ask, q.Present = numOr(val, 0), q.Present|FieldAsk
		case "Asz":
			q.AskSize, q.Present = numOr(val, 0), q.Present|FieldAskSize
		case "B":
			q.Bid, q.Present = numOr(val, 0), q.Present|FieldBid
		case "Bsz":
			q.BidSize, q.Present = numOr(val, 0), q.Present|FieldBidSize
		case "V":
			q.Volume, q.Present = numOr(val, 0), q.Present|FieldVolume
		case "L":
			q.Last, q.Present = numOr(val, 0), q.Present|FieldLast
		case "Hi":
			q.High, q.Present = numOr(val, 0), q.Present|FieldHigh
		case "Lo":
			q.Low, q.Present = numOr(val, 0), q.Present|FieldLow
		case "op":
			q.Open, q.Present = numOr(val, 0), q.Present|FieldOpen
		case "ycl":
			q.PrevClose, q.Present = numOr(val, 0), q.Present|FieldPrevClose
		case "tcl":
			q.TodayClose, q.Present = numOr(val, 0), q.Present|FieldTodayClose
		case "PE":
			q.PE, q.Present = numOr(val, 0), q.Present|FieldPE
		case "T":
			q.Time, q.Present = clockOr(val, 0), q.Present|FieldTime
		}
	}
	return q, true
}

// ParseTick parses `$T&S sym price size flag HH:MM:SS exchange side condition`.
func ParseTick(line string) (Tick, bool) {
	f := strings.Fields(line)
	if len(f) < 6 || f[0] != "$T&S" {
		return Tick{}, false
	}
	t := Tick{
		Symbol: normSymbol(f[1]),
		Price:  numOr(f[2], 0),
		Size:   numOr(f[3], 0),
		Flag:   intOr(f[4], 0),
		Time:   clockOr(f[5], 0),
	}
	if len(f) > 6 {
		t.Exchange = f[6]
	}
	if len(f) > 7 {
		t.Side = f[7]
	}
	if len(f) > 8 {
		t.Condition = f[8]
	}
	return t, true
}

// ParseOrder parses `%ORDER id token sym side type qty left cxl price route status time [stop] ... account`.
func ParseOrder(line string) (Order, bool) {
	f := strings.Fields(line)
	if len(f) < 13 || f[0] != "%ORDER" {
		return Order{}, false
	}
	o := Order{
		ID:       f[1],
		Token:    f[2],
		Symbol:   normSymbol(f[3]),
		Side:     Side(f[4]),
		Type:     OrderType(strings.ToUpper(f[5])),
		Quantity: intOr(f[6], 0),
		Left:     intOr(f[7], 0),
		Canceled: intOr(f[8], 0),
		Price:    numOr(f[9], 0),
		Route:    f[10],
		Status:   ParseStatus(f[11]),
		Time:     clockOr(f[12], 0),
	}
	if len(f) > 14 {
		o.StopPrice = numOr(f[13], 0)
	}
	if len(f) > 13 {
		o.Account = unslot(f[len(f)-1])
	}
	o.Filled = o.Quantity - o.Left - o.Canceled
	return o, true
}

// ParseOrderAction parses `%OrderAct id action side sym qty price route time notes... token`.
func ParseOrderAction(line string) (OrderAction, bool) {
	f := strings.Fields(line)
	if len(f) < 10 || f[0] != "%OrderAct" {
		return OrderAction{}, false
	}
	return OrderAction{
		OrderID:  f[1],
		Action:   f[2],
		Side:     Side(f[3]),
		Symbol:   normSymbol(f[4]),
		Quantity: intOr(f[5], 0),
		Price:    numOr(f[6], 0),
		Route:    f[7],
		Time:     clockOr(f[8], 0),
		Notes:    strings.Join(f[9:len(f)-1], " "),
		Token:    f[len(f)-1],
	}, true
}

// ParseTrade parses `%TRADE id sym side qty price route time orderId [liquidity] [ecnFee] [pl]`.
func ParseTrade(line string) (Trade, bool) {
	f := strings.Fields(line)
	if len(f) < 9 || f[0] != "%TRADE" {
		return Trade{}, false
	}
	t := Trade{
		ID:       f[1],
		Symbol:   normSymbol(f[2]),
		Side:     Side(f[3]),
		Quantity: intOr(f[4], 0),
		Price:    numOr(f[5], 0),
		Route:    f[6],
		Time:     clockOr(f[7], 0),
		OrderID:  f[8],
	}
	if len(f) > 9 {
		t.Liquidity = unslot(f[9])
	}
	if len(f) > 10 {
		t.ECNFee = numOr(f[10], 0)
	}
	if len(f) > 11 {
		t.PL = numOr(f[11], 0)
	}
	return t, true
}

// ParsePosition parses `%POS|#POS sym type qty avgCost initQty initPrice [realizedPL] [createTime] [unrealizedPL]`.
func ParsePosition(line string) (Position, bool) {
	f := strings.Fields(line)
	if len(f) < 7 || (f[0] != "%POS" && f[0] != "#POS") {
		return Position{}, false
	}
	p := Position{
		Symbol:       normSymbol(f[1]),
		Type:         f[2],
		Quantity:     intOr(f[3], 0),
		AvgCost:      numOr(f[4], 0),
		InitQuantity: intOr(f[5], 0),
		InitPrice:    numOr(f[6], 0),
	}
	if len(f) > 7 {
		p.RealizedPL = numOr(f[7], 0)
	}
	if len(f) > 8 {
		p.CreateTime = clockOr(f[8], 0)
	}
	if len(f) > 9 {
		p.UnrealizedPL = numOr(f[9], 0)
	}
	return p, true
}

// ParseAccountInfo parses `$AccountInfo openEq currEq realizedPL unrealizedPL netPL [fees...]`.
// Buying-power fields are left zero; the ledger merges them from the previous record.
func ParseAccountInfo(line string) (AccountInfo, bool) {
	f := strings.Fields(line)
	if len(f) < 6 || f[0] != "$AccountInfo" {
		return AccountInfo{}, false
	}
	a := AccountInfo{
		OpenEquity:    numOr(f[1], 0),
		CurrentEquity: numOr(f[2], 0),
		RealizedPL:    numOr(f[3], 0),
		UnrealizedPL:  numOr(f[4], 0),
		NetPL:         numOr(f[5], 0),
	}
	fees := []*float64{&a.HTBCost, &a.SECFee, &a.FINRAFee, &a.ECNFee, &a.Commission}
	for i, dst := range fees {
		if len(f) > 6+i {
			*dst = numOr(f[6+i], 0)
		}
	}
	return a, true
}

// ParseBuyingPower parses `BP value [overnight]`.
func ParseBuyingPower(line string) (BuyingPower, bool) {
	f := strings.Fields(line)
	if len(f) < 2 || f[0] != "BP" {
		return BuyingPower{}, false
	}
	bp := BuyingPower{Value: numOr(f[1], 0)}
	if len(f) > 2 {
		bp.Overnight = numOr(f[2], 0)
	}
	return bp, true
}

// SymbolOf extracts the symbol token of $Lv2/$Bar lines, which are forwarded unparsed.
func SymbolOf(line string) string {
	f := strings.Fields(line)
	if len(f) < 2 {
		return ""
	}
	return normSymbol(f[1])
}
