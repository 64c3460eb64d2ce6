package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade represents an immutable historical deal record.
// CloseTime is nil while the trade is still open.
type Trade struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	Volume     float64    `json:"volume"`
	OpenTime   time.Time  `json:"openTime"`
	CloseTime  *time.Time `json:"closeTime,omitempty"`
	GrossPnL   float64    `json:"grossPnL"`
	Swap       *float64   `json:"swap,omitempty"`
	Commission *float64   `json:"commission,omitempty"`
}

// IsClosed reports whether the trade has a close time.
func (t Trade) IsClosed() bool {
	return t.CloseTime != nil
}

// Net returns gross + swap + commission as an exact decimal.
// Missing swap or commission counts as zero.
func (t Trade) Net() decimal.Decimal {
	net := decimal.NewFromFloat(t.GrossPnL)
	if t.Swap != nil {
		net = net.Add(decimal.NewFromFloat(*t.Swap))
	}
	if t.Commission != nil {
		net = net.Add(decimal.NewFromFloat(*t.Commission))
	}
	return net
}

// NetPnL returns the trade's net profit or loss.
func (t Trade) NetPnL() float64 {
	return t.Net().InexactFloat64()
}

// OpenPosition represents a live position with its protective stop.
type OpenPosition struct {
	Ticket       string   `json:"ticket"`
	Symbol       string   `json:"symbol"`
	Side         Side     `json:"side"`
	Volume       float64  `json:"volume"`
	OpenPrice    float64  `json:"openPrice"`
	CurrentPrice float64  `json:"currentPrice"`
	FloatingPnL  float64  `json:"floatingPnL"`
	StopLoss     *float64 `json:"stopLoss,omitempty"`
	// PointValue is the account-currency value of a 1.0 price move for one lot.
	PointValue float64 `json:"pointValue,omitempty"`
	// StopLossRisk is the loss-if-stopped figure when the store already knows it.
	StopLossRisk *float64 `json:"lossIfStopped,omitempty"`
}

// HasStop reports whether the position is protected by a stop-loss.
func (p OpenPosition) HasStop() bool {
	return p.StopLoss != nil || p.StopLossRisk != nil
}

// StopPriced reports whether the loss at the stop can be computed: either
// it is given directly, or a stop price comes with a positive volume and
// point value.
func (p OpenPosition) StopPriced() bool {
	if p.StopLossRisk != nil {
		return true
	}
	return p.StopLoss != nil && p.Volume > 0 && p.PointValue > 0
}

// LossIfStopped returns the additional loss realized if price moved from the
// current price to the stop. ok is false when the risk is unbounded: the
// position has no stop, or a price stop cannot be priced because the point
// value or volume is not positive. The figure is never negative: a stop that
// already sits on the profitable side of the current price adds no loss.
func (p OpenPosition) LossIfStopped() (loss float64, ok bool) {
	if p.StopLossRisk != nil {
		return decimal.Max(decimal.Zero, decimal.NewFromFloat(*p.StopLossRisk)).InexactFloat64(), true
	}
	if !p.StopPriced() {
		return 0, false
	}
	distance := decimal.NewFromFloat(p.CurrentPrice).
		Sub(decimal.NewFromFloat(*p.StopLoss)).
		Mul(decimal.NewFromFloat(p.Side.Direction()))
	amount := distance.
		Mul(decimal.NewFromFloat(p.Volume)).
		Mul(decimal.NewFromFloat(p.PointValue))
	return decimal.Max(decimal.Zero, amount).InexactFloat64(), true
}
