package models

import "strings"

// Tick represents a single trade for a stock symbol as delivered by the upstream feed
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix milli
	Volume    float64 `json:"volume"`
}

// Upstream frame types
const (
	FrameTrade       = "trade"
	FramePing        = "ping"
	FrameError       = "error"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
)

// TradeData is one element of a trade frame's data list
type TradeData struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"`
	Volume    float64 `json:"v"`
}

// TradeMessage is the inbound frame pushed by the provider.
// Only frames with Type == "trade" carry Data.
type TradeMessage struct {
	Type string      `json:"type"`
	Data []TradeData `json:"data,omitempty"`
	Msg  string      `json:"msg,omitempty"`
}

// Ticks converts every element of the frame, not only the first one.
func (m TradeMessage) Ticks() []Tick {
	if m.Type != FrameTrade {
		return nil
	}
	ticks := make([]Tick, 0, len(m.Data))
	for _, d := range m.Data {
		sym := NormalizeSymbol(d.Symbol)
		if sym == "" {
			continue
		}
		ticks = append(ticks, Tick{
			Symbol:    sym,
			Price:     d.Price,
			Timestamp: d.Timestamp,
			Volume:    d.Volume,
		})
	}
	return ticks
}

// ControlMessage is the outbound subscribe/unsubscribe frame
type ControlMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// NormalizeSymbol trims and upper-cases a ticker so "aapl " and "AAPL" share one key.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
