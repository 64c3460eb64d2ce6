package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propguard/internal/errors"
)

func f(v float64) *float64 { return &v }

func TestPhaseTransitions(t *testing.T) {
	next, ok := Phase1.Next()
	assert.True(t, ok)
	assert.Equal(t, Phase2, next)

	next, ok = Phase2.Next()
	assert.True(t, ok)
	assert.Equal(t, Funded, next)

	_, ok = Funded.Next()
	assert.False(t, ok)

	_, ok = Phase("PHASE_3").Next()
	assert.False(t, ok)
	assert.False(t, Phase("PHASE_3").Valid())
}

func TestParsePhase(t *testing.T) {
	tests := []struct {
		in   string
		want Phase
	}{
		{"PHASE_1", Phase1},
		{"phase-1", Phase1},
		{" 2 ", Phase2},
		{"p2", Phase2},
		{"funded", Funded},
	}
	for _, tt := range tests {
		got, err := ParsePhase(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParsePhase("evaluation")
	assert.Error(t, err)
}

func TestParseSide(t *testing.T) {
	side, err := ParseSide("sell")
	require.NoError(t, err)
	assert.Equal(t, SideSell, side)
	assert.Equal(t, -1.0, side.Direction())
	assert.Equal(t, 1.0, SideBuy.Direction())

	_, err = ParseSide("flat")
	assert.Error(t, err)
}

func TestSnapshotValidate(t *testing.T) {
	var nilSnap *AccountSnapshot
	assert.True(t, errors.IsData(nilSnap.Validate()))

	snap := &AccountSnapshot{AccountID: "1", StartingBalance: 0, CurrentPhase: Phase1}
	assert.True(t, errors.IsData(snap.Validate()))

	snap.StartingBalance = 100000
	snap.CurrentPhase = "TRIAL"
	assert.True(t, errors.IsData(snap.Validate()))

	snap.CurrentPhase = Funded
	assert.NoError(t, snap.Validate())

	snap.Trades = []Trade{{ID: "1", GrossPnL: math.NaN()}}
	err := snap.Validate()
	assert.True(t, errors.IsData(err))
	assert.Contains(t, err.Error(), "trades[0]")

	snap.Trades = []Trade{{ID: "1", GrossPnL: 10, Commission: f(math.Inf(-1))}}
	assert.True(t, errors.IsData(snap.Validate()))

	snap.Trades = nil
	snap.OpenPositions = []OpenPosition{{Ticket: "1", StopLossRisk: f(math.Inf(1))}}
	err = snap.Validate()
	assert.True(t, errors.IsData(err))
	assert.Contains(t, err.Error(), "openPositions[0]")
}

func TestTradeNet(t *testing.T) {
	tr := Trade{GrossPnL: 100.10, Swap: f(-0.20), Commission: f(-7)}
	assert.Equal(t, "92.9", tr.Net().String())
	assert.Equal(t, 92.9, tr.NetPnL())
	assert.False(t, tr.IsClosed())

	bare := Trade{GrossPnL: -50}
	assert.Equal(t, -50.0, bare.NetPnL())
}

func TestLossIfStopped(t *testing.T) {
	tests := []struct {
		name     string
		pos      OpenPosition
		want     float64
		wantOK   bool
		unpriced bool
	}{
		{
			name:   "explicit figure",
			pos:    OpenPosition{StopLossRisk: f(1200)},
			want:   1200,
			wantOK: true,
		},
		{
			name:   "explicit negative clamps to zero",
			pos:    OpenPosition{StopLossRisk: f(-30)},
			want:   0,
			wantOK: true,
		},
		{
			name:   "buy below price",
			pos:    OpenPosition{Side: SideBuy, Volume: 2, CurrentPrice: 1.1050, StopLoss: f(1.1000), PointValue: 100000},
			want:   1000,
			wantOK: true,
		},
		{
			name:   "sell above price",
			pos:    OpenPosition{Side: SideSell, Volume: 1, CurrentPrice: 2000, StopLoss: f(2010), PointValue: 100},
			want:   1000,
			wantOK: true,
		},
		{
			name:   "stop locked in profit",
			pos:    OpenPosition{Side: SideBuy, Volume: 1, CurrentPrice: 1.2, StopLoss: f(1.25), PointValue: 100000},
			want:   0,
			wantOK: true,
		},
		{
			name:   "no stop",
			pos:    OpenPosition{Side: SideBuy, Volume: 1, CurrentPrice: 1.2},
			wantOK: false,
		},
		{
			name:     "stop without point value",
			pos:      OpenPosition{Side: SideBuy, Volume: 5, CurrentPrice: 1.1, StopLoss: f(1.06)},
			unpriced: true,
		},
		{
			name:     "stop with negative volume",
			pos:      OpenPosition{Side: SideBuy, Volume: -5, CurrentPrice: 1.1, StopLoss: f(1.06), PointValue: 100000},
			unpriced: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.pos.LossIfStopped()
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.wantOK, tt.pos.StopPriced())
			assert.Equal(t, tt.wantOK || tt.unpriced, tt.pos.HasStop())
		})
	}
}

func TestCalendarDayKey(t *testing.T) {
	athens := time.FixedZone("EET", 2*60*60)
	now := time.Date(2024, 3, 4, 23, 30, 0, 0, time.UTC)

	utc := NewCalendar(nil, now)
	assert.Equal(t, "2024-03-04", utc.Today())

	eet := NewCalendar(athens, now)
	assert.Equal(t, "2024-03-05", eet.Today())

	trade := time.Date(2024, 3, 4, 21, 0, 0, 0, time.UTC)
	assert.True(t, utc.IsToday(trade))
	assert.False(t, eet.IsToday(trade))

	var zero Calendar
	assert.Equal(t, "2024-03-04", zero.DayKey(trade))
}
