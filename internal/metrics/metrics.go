// Package metrics derives performance figures from a trade history.
package metrics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"propguard/internal/models"
)

// ProfitFactorCap is reported as the profit factor when there are winning
// closed trades and no losing ones. ProfitFactorCapped is set alongside it.
const ProfitFactorCap = 999.0

// Metrics holds figures computed from a starting balance and trade list.
// Nothing here is stored; every call recomputes from the inputs.
type Metrics struct {
	TotalProfit        float64 `json:"totalProfit"`
	RealizedProfit     float64 `json:"realizedProfit"`
	UnrealizedProfit   float64 `json:"unrealizedProfit"`
	DailyProfit        float64 `json:"dailyProfit"`
	BestTradingDay     float64 `json:"bestTradingDay"`
	BestSingleTrade    float64 `json:"bestSingleTrade"`
	TradingDays        int     `json:"tradingDays"`
	WinRate            float64 `json:"winRate"`
	ProfitFactor       float64 `json:"profitFactor"`
	ProfitFactorCapped bool    `json:"profitFactorCapped"`
	CurrentDrawdown    float64 `json:"currentDrawdown"`
	PeakEquity         float64 `json:"peakEquity"`
	GrossProfit        float64 `json:"grossProfit"`
	GrossLoss          float64 `json:"grossLoss"`
	ClosedTrades       int     `json:"closedTrades"`
	OpenTrades         int     `json:"openTrades"`
	WinningTrades      int     `json:"winningTrades"`
	LosingTrades       int     `json:"losingTrades"`
}

// equityPoint is one step of the drawdown walk.
type equityPoint struct {
	at  time.Time
	seq int
	net decimal.Decimal
}

// Compute derives metrics from the trades of an account. Trades are bucketed
// into days by open time in cal's location. An empty trade list yields zero
// metrics. Compute never mutates trades. Trade figures must be finite; use
// AccountSnapshot.Validate on untrusted input first.
func Compute(startingBalance float64, trades []models.Trade, cal models.Calendar) Metrics {
	var (
		m            Metrics
		total        = decimal.Zero
		realized     = decimal.Zero
		unrealized   = decimal.Zero
		daily        = decimal.Zero
		grossProfit  = decimal.Zero
		grossLoss    = decimal.Zero
		bestTrade    = decimal.Zero
		dayBuckets   = make(map[string]decimal.Decimal)
		today        = cal.Today()
		equityPoints = make([]equityPoint, 0, len(trades))
	)

	for i, t := range trades {
		net := t.Net()
		total = total.Add(net)

		day := cal.DayKey(t.OpenTime)
		dayBuckets[day] = dayBuckets[day].Add(net)
		if day == today {
			daily = daily.Add(net)
		}

		if !t.IsClosed() {
			m.OpenTrades++
			unrealized = unrealized.Add(net)
			equityPoints = append(equityPoints, equityPoint{at: cal.Now, seq: i, net: net})
			continue
		}

		m.ClosedTrades++
		realized = realized.Add(net)
		equityPoints = append(equityPoints, equityPoint{at: *t.CloseTime, seq: i, net: net})

		switch net.Sign() {
		case 1:
			m.WinningTrades++
			grossProfit = grossProfit.Add(net)
		case -1:
			m.LosingTrades++
			grossLoss = grossLoss.Add(net.Abs())
		}
		if net.GreaterThan(bestTrade) {
			bestTrade = net
		}
	}

	bestDay := decimal.Zero
	for _, v := range dayBuckets {
		if v.GreaterThan(bestDay) {
			bestDay = v
		}
	}

	m.TotalProfit = total.InexactFloat64()
	m.RealizedProfit = realized.InexactFloat64()
	m.UnrealizedProfit = unrealized.InexactFloat64()
	m.DailyProfit = daily.InexactFloat64()
	m.BestTradingDay = bestDay.InexactFloat64()
	m.BestSingleTrade = bestTrade.InexactFloat64()
	m.TradingDays = len(dayBuckets)
	m.GrossProfit = grossProfit.InexactFloat64()
	m.GrossLoss = grossLoss.InexactFloat64()

	if m.ClosedTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.ClosedTrades) * 100
	}

	m.ProfitFactor, m.ProfitFactorCapped = profitFactor(grossProfit, grossLoss)
	m.CurrentDrawdown, m.PeakEquity = drawdown(startingBalance, equityPoints)

	return m
}

func profitFactor(grossProfit, grossLoss decimal.Decimal) (float64, bool) {
	if grossLoss.IsZero() {
		if grossProfit.IsPositive() {
			return ProfitFactorCap, true
		}
		return 0, false
	}
	pf := grossProfit.Div(grossLoss).InexactFloat64()
	if pf > ProfitFactorCap {
		return ProfitFactorCap, true
	}
	return pf, false
}

// drawdown walks the equity curve in time order and returns the largest
// peak-to-trough decline as a percent of the starting balance, and the peak
// equity seen. The high-water mark starts at the starting balance.
func drawdown(startingBalance float64, points []equityPoint) (float64, float64) {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].at.Equal(points[j].at) {
			return points[i].seq < points[j].seq
		}
		return points[i].at.Before(points[j].at)
	})

	start := decimal.NewFromFloat(startingBalance)
	equity := start
	peak := start
	maxDD := decimal.Zero

	for _, p := range points {
		equity = equity.Add(p.net)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}

	if !start.IsPositive() {
		return 0, peak.InexactFloat64()
	}
	return maxDD.Div(start).Mul(decimal.NewFromInt(100)).InexactFloat64(), peak.InexactFloat64()
}
