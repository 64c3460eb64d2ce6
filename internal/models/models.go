// Package models provides domain models for the prop-firm compliance engine.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"propguard/internal/errors"
)

// Phase represents a stage of a funded-trading challenge.
type Phase string

const (
	Phase1 Phase = "PHASE_1"
	Phase2 Phase = "PHASE_2"
	Funded Phase = "FUNDED"
)

// Phases lists every phase in challenge order.
var Phases = []Phase{Phase1, Phase2, Funded}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case Phase1, Phase2, Funded:
		return true
	default:
		return false
	}
}

// Next returns the phase that follows p. Transitions only move forward;
// FUNDED is terminal and returns ok=false.
func (p Phase) Next() (Phase, bool) {
	switch p {
	case Phase1:
		return Phase2, true
	case Phase2:
		return Funded, true
	case Funded:
		return "", false
	default:
		return "", false
	}
}

// ParsePhase converts user or store input into a Phase.
// Accepts "PHASE_1", "phase1", "phase-1", "1", "funded" and similar spellings.
func ParsePhase(s string) (Phase, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	switch norm {
	case "PHASE1", "1", "P1":
		return Phase1, nil
	case "PHASE2", "2", "P2":
		return Phase2, nil
	case "FUNDED", "LIVE", "F":
		return Funded, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Side represents the direction of a trade or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Direction returns +1 for BUY and -1 for SELL.
func (s Side) Direction() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// ParseSide converts MetaTrader style side strings into a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG", "0":
		return SideBuy, nil
	case "SELL", "SHORT", "1":
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Severity ranks violations and alerts.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// AccountSnapshot is a point-in-time read of an account supplied by the
// account store. StartingBalance is fixed when the current phase starts.
type AccountSnapshot struct {
	AccountID       string         `json:"accountId"`
	StartingBalance float64        `json:"startingBalance"`
	CurrentPhase    Phase          `json:"currentPhase"`
	Trades          []Trade        `json:"trades"`
	OpenPositions   []OpenPosition `json:"openPositions"`
}

// Validate rejects snapshots no evaluation can be produced from.
func (s *AccountSnapshot) Validate() error {
	if s == nil {
		return errors.NewDataError("snapshot", nil, "account snapshot is required")
	}
	if math.IsNaN(s.StartingBalance) || math.IsInf(s.StartingBalance, 0) || s.StartingBalance <= 0 {
		return errors.NewDataError("startingBalance", s.StartingBalance, "must be a positive number")
	}
	if !s.CurrentPhase.Valid() {
		return errors.NewDataError("currentPhase", s.CurrentPhase, "unknown phase")
	}
	for i, t := range s.Trades {
		if err := finite(fmt.Sprintf("trades[%d]", i), t.Volume, t.GrossPnL, deref(t.Swap), deref(t.Commission)); err != nil {
			return err
		}
	}
	for i, p := range s.OpenPositions {
		field := fmt.Sprintf("openPositions[%d]", i)
		if err := finite(field, p.Volume, p.OpenPrice, p.CurrentPrice, p.FloatingPnL, deref(p.StopLoss), p.PointValue, deref(p.StopLossRisk)); err != nil {
			return err
		}
	}
	return nil
}

// finite rejects NaN and infinite values, which no money figure can hold.
func finite(field string, values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.NewDataError(field, v, "must be a finite number")
		}
	}
	return nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// Calendar pins the day boundary used for every "daily" decision.
// Trades are bucketed by the calendar date of their open time in Location.
type Calendar struct {
	Location *time.Location
	Now      time.Time
}

// NewCalendar returns a calendar for loc anchored at now.
// A nil location means UTC.
func NewCalendar(loc *time.Location, now time.Time) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Location: loc, Now: now}
}

func (c Calendar) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// DayKey returns the YYYY-MM-DD date of t in the calendar's location.
func (c Calendar) DayKey(t time.Time) string {
	return t.In(c.location()).Format("2006-01-02")
}

// Today returns the day key of the calendar's current instant.
func (c Calendar) Today() string {
	return c.DayKey(c.Now)
}

// IsToday reports whether t falls on the current calendar day.
func (c Calendar) IsToday(t time.Time) bool {
	return c.DayKey(t) == c.Today()
}
