package domain

import "time"

// TradeSide is the taker direction of a fill.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is a recorded fill for an outcome token. Size is the signed dollar
// amount of the fill. Trades are append-only and immutable once recorded.
type Trade struct {
	ID        string
	TokenID   string
	MarketID  string
	Price     float64
	Size      float64
	Side      TradeSide
	Timestamp time.Time
}
