// Package risk computes how much more an account can lose before breaching
// a loss limit once the protective stop of every open position is hit.
package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"propguard/internal/errors"
	"propguard/internal/models"
	"propguard/internal/rules"
)

// ControllingLimit names the loss limit that binds first.
type ControllingLimit string

const (
	LimitDaily   ControllingLimit = "DAILY"
	LimitOverall ControllingLimit = "OVERALL"
	LimitNone    ControllingLimit = "NONE"
)

// Level classifies the true safe capacity.
type Level string

const (
	LevelSafe     Level = "SAFE"
	LevelCaution  Level = "CAUTION"
	LevelDanger   Level = "DANGER"
	LevelCritical Level = "CRITICAL"
)

// Rank orders levels from SAFE (0) to CRITICAL (3).
func (l Level) Rank() int {
	switch l {
	case LevelSafe:
		return 0
	case LevelCaution:
		return 1
	case LevelDanger:
		return 2
	case LevelCritical:
		return 3
	default:
		return -1
	}
}

// AlertType identifies a risk alert.
type AlertType string

const (
	AlertNoStopLoss            AlertType = "NO_STOP_LOSS"
	AlertWouldViolate          AlertType = "WOULD_VIOLATE"
	AlertLimitExhausted        AlertType = "LIMIT_EXHAUSTED"
	AlertFloatingProfitMasking AlertType = "FLOATING_PROFIT_MASKING"
	AlertNoLossLimits          AlertType = "NO_LOSS_LIMITS"
)

// Alert is a risk finding for the presentation layer.
type Alert struct {
	Type     AlertType       `json:"type"`
	Severity models.Severity `json:"severity"`
	Message  string          `json:"message"`
	Ticket   string          `json:"ticket,omitempty"`
	Symbol   string          `json:"symbol,omitempty"`
}

// TraceStep is one position of the worst-case stop-loss fold.
type TraceStep struct {
	Ticket        string  `json:"ticket"`
	Symbol        string  `json:"symbol"`
	LossIfStopped float64 `json:"lossIfStopped"`
	EquityAfter   float64 `json:"equityAfter"`
	Unbounded     bool    `json:"unbounded"`
}

// Report is the safe-capacity verdict for one account snapshot.
//
// TheoreticalSafeCapacity ignores open positions and overstates safety.
// TrueSafeCapacity subtracts OpenRisk and is the figure to act on.
//
// OpenRisk is the sum of every position's loss-if-stopped plus the floating
// losses already carried by losing positions. It is therefore larger than
// the bare stop-loss sum whenever floating P&L is negative, and
// TrueSafeCapacity is lower by the same amount. Floating profit is never
// credited.
type Report struct {
	AccountID               string           `json:"accountId,omitempty"`
	Phase                   models.Phase     `json:"phase"`
	CurrentEquity           float64          `json:"currentEquity"`
	ClosedBalance           float64          `json:"closedBalance"`
	FloatingPnL             float64          `json:"floatingPnL"`
	DailyLimit              float64          `json:"dailyLimit"`
	OverallLimit            float64          `json:"overallLimit"`
	DailyRealizedLoss       float64          `json:"dailyRealizedLoss"`
	TotalLossesFromStart    float64          `json:"totalLossesFromStart"`
	DailyMarginLeft         float64          `json:"dailyMarginLeft"`
	OverallMarginLeft       float64          `json:"overallMarginLeft"`
	TheoreticalSafeCapacity float64          `json:"theoreticalSafeCapacity"`
	TrueSafeCapacity        float64          `json:"trueSafeCapacity"`
	ControllingLimit        ControllingLimit `json:"controllingLimit"`
	OpenRisk                float64          `json:"openRisk"`
	MinEquityTouched        float64          `json:"minEquityTouched"`
	EquityFloor             float64          `json:"equityFloor"`
	WouldViolate            bool             `json:"wouldViolate"`
	UnprotectedPositions    int              `json:"unprotectedPositions"`
	RiskLevel               Level            `json:"riskLevel"`
	Alerts                  []Alert          `json:"alerts"`
	Trace                   []TraceStep      `json:"trace"`
	ComputedAt              time.Time        `json:"computedAt"`
}

// HasCritical reports whether any alert is CRITICAL.
func (r *Report) HasCritical() bool {
	for _, a := range r.Alerts {
		if a.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

// Thresholds map the true safe capacity to a risk level. Both bounds are
// inclusive: a capacity equal to Danger is DANGER.
type Thresholds struct {
	Danger  float64 `json:"danger"`
	Caution float64 `json:"caution"`
}

// DefaultThresholds returns the standard 500/1000 account-currency bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Danger: 500, Caution: 1000}
}

// Validate requires 0 <= Danger <= Caution.
func (t Thresholds) Validate() error {
	if t.Danger < 0 {
		return errors.NewConfigError("thresholds.danger", t.Danger, "must not be negative")
	}
	if t.Caution < t.Danger {
		return errors.NewConfigError("thresholds.caution", t.Caution, "must be at least the danger threshold")
	}
	return nil
}

// Classify returns the level for a true safe capacity when every position is
// protected.
func (t Thresholds) Classify(capacity float64) Level {
	switch {
	case capacity <= 0:
		return LevelCritical
	case capacity <= t.Danger:
		return LevelDanger
	case capacity <= t.Caution:
		return LevelCaution
	default:
		return LevelSafe
	}
}

// DefaultMaskingRatio is the share of theoretical capacity that open risk must
// consume before a floating profit is reported as masking it.
const DefaultMaskingRatio = 0.25

// Options tune a risk computation.
type Options struct {
	Calendar     models.Calendar
	Thresholds   *Thresholds
	MaskingRatio float64
}

func (o Options) withDefaults() (Options, error) {
	if o.Calendar.Now.IsZero() {
		o.Calendar.Now = time.Now()
	}
	if o.Calendar.Location == nil {
		o.Calendar.Location = time.UTC
	}
	if o.Thresholds == nil {
		t := DefaultThresholds()
		o.Thresholds = &t
	}
	if err := o.Thresholds.Validate(); err != nil {
		return o, err
	}
	if o.MaskingRatio < 0 || o.MaskingRatio > 1 {
		return o, errors.NewConfigError("maskingRatio", o.MaskingRatio, "must be between 0 and 1")
	}
	if o.MaskingRatio == 0 {
		o.MaskingRatio = DefaultMaskingRatio
	}
	return o, nil
}

// ComputeRisk folds the worst-case stop-loss outcome of every open position
// into the remaining loss margin. A position without a stop is unbounded risk:
// the true capacity is then zero and a CRITICAL alert is raised for it.
// ComputeRisk never mutates its inputs.
func ComputeRisk(snapshot *models.AccountSnapshot, ruleSet *rules.RuleSet, opts Options) (*Report, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if ruleSet != nil {
		if err := ruleSet.Validate(); err != nil {
			return nil, err
		}
	}
	pr, err := ruleSet.ForPhase(snapshot.CurrentPhase)
	if err != nil {
		return nil, err
	}

	cal := opts.Calendar
	start := decimal.NewFromFloat(snapshot.StartingBalance)

	closedNet := decimal.Zero
	todayClosedNet := decimal.Zero
	for _, t := range snapshot.Trades {
		if !t.IsClosed() {
			continue
		}
		net := t.Net()
		closedNet = closedNet.Add(net)
		if cal.IsToday(t.OpenTime) {
			todayClosedNet = todayClosedNet.Add(net)
		}
	}

	floating := decimal.Zero
	floatingLoss := decimal.Zero
	for _, p := range snapshot.OpenPositions {
		fp := decimal.NewFromFloat(p.FloatingPnL)
		floating = floating.Add(fp)
		if fp.IsNegative() {
			floatingLoss = floatingLoss.Add(fp.Neg())
		}
	}

	closedBalance := start.Add(closedNet)
	currentEquity := closedBalance.Add(floating)
	totalLosses := decimal.Max(decimal.Zero, start.Sub(closedBalance))
	dailyRealizedLoss := decimal.Max(decimal.Zero, todayClosedNet.Neg())
	dayStartBalance := closedBalance.Sub(todayClosedNet)

	report := &Report{
		AccountID:            snapshot.AccountID,
		Phase:                snapshot.CurrentPhase,
		CurrentEquity:        currentEquity.InexactFloat64(),
		ClosedBalance:        closedBalance.InexactFloat64(),
		FloatingPnL:          floating.InexactFloat64(),
		DailyRealizedLoss:    dailyRealizedLoss.InexactFloat64(),
		TotalLossesFromStart: totalLosses.InexactFloat64(),
		ControllingLimit:     LimitNone,
		Alerts:               []Alert{},
		Trace:                make([]TraceStep, 0, len(snapshot.OpenPositions)),
		ComputedAt:           cal.Now,
	}

	var (
		margins []limitMargin
		floor   decimal.Decimal
		limited bool
	)
	if pr != nil && pr.DailyLossLimit != nil && !pr.DailyLossLimit.IsZero() {
		limit := decimal.NewFromFloat(pr.DailyLossLimit.Amount(snapshot.StartingBalance))
		margin := decimal.Max(decimal.Zero, limit.Sub(dailyRealizedLoss))
		report.DailyLimit = limit.InexactFloat64()
		report.DailyMarginLeft = margin.InexactFloat64()
		margins = append(margins, limitMargin{LimitDaily, margin})
		floor, limited = dayStartBalance.Sub(limit), true
	}
	if pr != nil && pr.OverallLossLimit != nil && !pr.OverallLossLimit.IsZero() {
		limit := decimal.NewFromFloat(pr.OverallLossLimit.Amount(snapshot.StartingBalance))
		margin := decimal.Max(decimal.Zero, limit.Sub(totalLosses))
		report.OverallLimit = limit.InexactFloat64()
		report.OverallMarginLeft = margin.InexactFloat64()
		margins = append(margins, limitMargin{LimitOverall, margin})
		overallFloor := start.Sub(limit)
		if !limited || overallFloor.GreaterThan(floor) {
			floor = overallFloor
		}
		limited = true
	}

	theoretical := decimal.Zero
	if len(margins) > 0 {
		binding := margins[0]
		for _, m := range margins[1:] {
			if m.margin.LessThan(binding.margin) {
				binding = m
			}
		}
		report.ControllingLimit = binding.limit
		theoretical = binding.margin
	}

	f := foldStops(currentEquity, snapshot.OpenPositions)
	report.Trace = f.trace
	report.UnprotectedPositions = len(f.unprotected)

	openRisk := f.stopRisk.Add(floatingLoss)
	report.OpenRisk = openRisk.InexactFloat64()
	report.MinEquityTouched = f.minEquity.InexactFloat64()
	report.TheoreticalSafeCapacity = theoretical.InexactFloat64()

	trueCapacity := decimal.Max(decimal.Zero, theoretical.Sub(openRisk))
	if len(f.unprotected) > 0 || !limited {
		trueCapacity = decimal.Zero
	}
	report.TrueSafeCapacity = trueCapacity.InexactFloat64()

	if limited {
		report.EquityFloor = floor.InexactFloat64()
		report.WouldViolate = f.minEquity.LessThan(floor)
	}
	if len(f.unprotected) > 0 {
		report.WouldViolate = true
	}

	for _, p := range f.unprotected {
		msg := fmt.Sprintf("position %s %s has no stop loss: risk is unbounded", p.Ticket, p.Symbol)
		if p.HasStop() {
			msg = fmt.Sprintf("position %s %s has a stop without a positive volume and point value: risk is unbounded", p.Ticket, p.Symbol)
		}
		report.Alerts = append(report.Alerts, Alert{
			Type:     AlertNoStopLoss,
			Severity: models.SeverityCritical,
			Message:  msg,
			Ticket:   p.Ticket,
			Symbol:   p.Symbol,
		})
	}

	if !limited {
		report.Alerts = append(report.Alerts, Alert{
			Type:     AlertNoLossLimits,
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("no loss limits apply to phase %s", snapshot.CurrentPhase),
		})
		if len(f.unprotected) > 0 {
			report.RiskLevel = LevelCritical
		} else {
			report.RiskLevel = LevelSafe
		}
		return report, nil
	}

	if theoretical.IsZero() {
		report.Alerts = append(report.Alerts, Alert{
			Type:     AlertLimitExhausted,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("%s loss limit is exhausted", report.ControllingLimit),
		})
	}
	if report.WouldViolate && len(f.unprotected) == 0 {
		report.Alerts = append(report.Alerts, Alert{
			Type:     AlertWouldViolate,
			Severity: models.SeverityCritical,
			Message: fmt.Sprintf("equity would fall to %.2f if every stop is hit, below the floor of %.2f",
				report.MinEquityTouched, report.EquityFloor),
		})
	}
	if floating.IsPositive() && theoretical.IsPositive() {
		masked := theoretical.Sub(trueCapacity)
		if masked.GreaterThanOrEqual(theoretical.Mul(decimal.NewFromFloat(opts.MaskingRatio))) {
			report.Alerts = append(report.Alerts, Alert{
				Type:     AlertFloatingProfitMasking,
				Severity: models.SeverityWarning,
				Message: fmt.Sprintf("floating profit of %.2f masks open risk: true capacity %.2f vs theoretical %.2f",
					report.FloatingPnL, report.TrueSafeCapacity, report.TheoreticalSafeCapacity),
			})
		}
	}

	if len(f.unprotected) > 0 {
		report.RiskLevel = LevelCritical
	} else {
		report.RiskLevel = opts.Thresholds.Classify(report.TrueSafeCapacity)
	}
	return report, nil
}

type limitMargin struct {
	limit  ControllingLimit
	margin decimal.Decimal
}

type fold struct {
	trace       []TraceStep
	stopRisk    decimal.Decimal
	minEquity   decimal.Decimal
	unprotected []models.OpenPosition
}

// foldStops applies each position's loss-if-stopped to the equity in input
// order. Order changes the trace only; the final equity is the minimum.
func foldStops(equity decimal.Decimal, positions []models.OpenPosition) fold {
	f := fold{
		trace:     make([]TraceStep, 0, len(positions)),
		stopRisk:  decimal.Zero,
		minEquity: equity,
	}
	for _, p := range positions {
		loss, ok := p.LossIfStopped()
		step := TraceStep{Ticket: p.Ticket, Symbol: p.Symbol}
		if !ok {
			step.Unbounded = true
			f.unprotected = append(f.unprotected, p)
		} else {
			l := decimal.NewFromFloat(loss)
			f.stopRisk = f.stopRisk.Add(l)
			f.minEquity = f.minEquity.Sub(l)
			step.LossIfStopped = loss
		}
		step.EquityAfter = f.minEquity.InexactFloat64()
		f.trace = append(f.trace, step)
	}
	return f
}
