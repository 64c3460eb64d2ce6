// Package compliance applies a phase's rules to an account's metrics and
// decides whether the account may advance to the next challenge phase.
package compliance

import (
	"fmt"
	"math"
	"time"

	"propguard/internal/errors"
	"propguard/internal/metrics"
	"propguard/internal/models"
	"propguard/internal/rules"
)

// RuleType identifies a compliance rule.
type RuleType string

const (
	RuleDailyLoss         RuleType = "DAILY_LOSS"
	RuleOverallLoss       RuleType = "OVERALL_LOSS"
	RuleConsistency       RuleType = "CONSISTENCY"
	RuleProfitTarget      RuleType = "PROFIT_TARGET"
	RuleMinTradingDays    RuleType = "MIN_TRADING_DAYS"
	RuleMaxOpenPositions  RuleType = "MAX_OPEN_POSITIONS"
	RuleMaxPositionVolume RuleType = "MAX_POSITION_VOLUME"
	RuleStopLossRequired  RuleType = "STOP_LOSS_REQUIRED"
)

// CheckStatus tells whether a rule was evaluated and with what outcome.
type CheckStatus string

const (
	StatusPassed        CheckStatus = "PASSED"
	StatusFailed        CheckStatus = "FAILED"
	StatusNotApplicable CheckStatus = "NOT_APPLICABLE"
)

// Violation is a rule breach found during evaluation.
type Violation struct {
	RuleType     RuleType        `json:"ruleType"`
	Severity     models.Severity `json:"severity"`
	Message      string          `json:"message"`
	CurrentValue float64         `json:"currentValue"`
	LimitValue   float64         `json:"limitValue"`
}

// Check records the outcome of one rule category.
type Check struct {
	RuleType RuleType    `json:"ruleType"`
	Status   CheckStatus `json:"status"`
}

// PhaseProgress is the advancement verdict for the current phase.
// ProfitProgressPercent is nil when the phase has no usable profit target.
type PhaseProgress struct {
	ProfitProgressPercent *float64     `json:"profitProgressPercent,omitempty"`
	TargetAmount          float64      `json:"targetAmount"`
	TargetMet             bool         `json:"targetMet"`
	TradingDaysMet        bool         `json:"tradingDaysMet"`
	CanAdvance            bool         `json:"canAdvance"`
	NextPhase             models.Phase `json:"nextPhase,omitempty"`
}

// Evaluation is the compliance verdict for one account snapshot.
type Evaluation struct {
	AccountID     string          `json:"accountId,omitempty"`
	Phase         models.Phase    `json:"phase"`
	IsCompliant   bool            `json:"isCompliant"`
	Violations    []Violation     `json:"violations"`
	Checks        []Check         `json:"checks"`
	PhaseProgress PhaseProgress   `json:"phaseProgress"`
	Metrics       metrics.Metrics `json:"metrics"`
	EvaluatedAt   time.Time       `json:"evaluatedAt"`
}

// HasCritical reports whether any violation is CRITICAL.
func (e *Evaluation) HasCritical() bool {
	for _, v := range e.Violations {
		if v.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

// Status returns the recorded status of a rule, or NOT_APPLICABLE.
func (e *Evaluation) Status(rt RuleType) CheckStatus {
	for _, c := range e.Checks {
		if c.RuleType == rt {
			return c.Status
		}
	}
	return StatusNotApplicable
}

// Options tune an evaluation.
type Options struct {
	// Calendar fixes "today" and the day boundary. A zero Now means time.Now().
	Calendar models.Calendar
	// ConsistencySeverity is the severity of consistency breaches.
	// Defaults to WARNING, which does not block compliance or advancement.
	ConsistencySeverity models.Severity
}

func (o Options) withDefaults() (Options, error) {
	if o.Calendar.Now.IsZero() {
		o.Calendar.Now = time.Now()
	}
	if o.Calendar.Location == nil {
		o.Calendar.Location = time.UTC
	}
	if o.ConsistencySeverity == "" {
		o.ConsistencySeverity = models.SeverityWarning
	}
	if !o.ConsistencySeverity.Valid() {
		return o, errors.NewConfigError("consistencySeverity", o.ConsistencySeverity, "must be INFO, WARNING or CRITICAL")
	}
	return o, nil
}

// Evaluate applies the rules of the snapshot's current phase. It never
// changes the snapshot; advancement is only recommended through
// PhaseProgress.CanAdvance. A rule set without a slot for the phase yields
// NOT_APPLICABLE for every rule.
func Evaluate(snapshot *models.AccountSnapshot, ruleSet *rules.RuleSet, opts Options) (*Evaluation, error) {
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

	ev := &evaluator{
		start:   snapshot.StartingBalance,
		rules:   pr,
		opts:    opts,
		metrics: metrics.Compute(snapshot.StartingBalance, snapshot.Trades, opts.Calendar),
	}

	ev.checkDailyLoss()
	ev.checkOverallLoss()
	ev.checkConsistency()
	progress := ev.checkProgress()
	ev.checkSpecialConstraints(snapshot.OpenPositions)

	result := &Evaluation{
		AccountID:     snapshot.AccountID,
		Phase:         snapshot.CurrentPhase,
		Violations:    ev.violations,
		Checks:        ev.checks,
		PhaseProgress: progress,
		Metrics:       ev.metrics,
		EvaluatedAt:   opts.Calendar.Now,
	}
	if result.Violations == nil {
		result.Violations = []Violation{}
	}
	result.IsCompliant = !result.HasCritical()

	next, hasNext := snapshot.CurrentPhase.Next()
	result.PhaseProgress.CanAdvance = pr != nil &&
		hasNext &&
		ev.targetSatisfied &&
		progress.TradingDaysMet &&
		result.IsCompliant
	if result.PhaseProgress.CanAdvance {
		result.PhaseProgress.NextPhase = next
	}

	return result, nil
}

type evaluator struct {
	start      float64
	rules      *rules.PhaseRules
	opts       Options
	metrics    metrics.Metrics
	violations []Violation
	checks     []Check

	targetSatisfied bool
}

func (e *evaluator) record(rt RuleType, status CheckStatus) {
	e.checks = append(e.checks, Check{RuleType: rt, Status: status})
}

func (e *evaluator) violate(rt RuleType, sev models.Severity, current, limit float64, format string, args ...interface{}) {
	e.violations = append(e.violations, Violation{
		RuleType:     rt,
		Severity:     sev,
		Message:      fmt.Sprintf(format, args...),
		CurrentValue: current,
		LimitValue:   limit,
	})
}

func (e *evaluator) lossPercent(profit float64) float64 {
	if profit >= 0 {
		return 0
	}
	return math.Abs(profit) * 100 / e.start
}

func (e *evaluator) checkDailyLoss() {
	if e.rules == nil || e.rules.DailyLossLimit == nil || e.rules.DailyLossLimit.IsZero() {
		e.record(RuleDailyLoss, StatusNotApplicable)
		return
	}
	limit := e.rules.DailyLossLimit.Percent(e.start)
	loss := e.lossPercent(e.metrics.DailyProfit)
	if e.metrics.DailyProfit < 0 && loss > limit {
		e.violate(RuleDailyLoss, models.SeverityCritical, loss, limit,
			"daily loss %.2f%% exceeds limit %.2f%%", loss, limit)
		e.record(RuleDailyLoss, StatusFailed)
		return
	}
	e.record(RuleDailyLoss, StatusPassed)
}

func (e *evaluator) checkOverallLoss() {
	if e.rules == nil || e.rules.OverallLossLimit == nil || e.rules.OverallLossLimit.IsZero() {
		e.record(RuleOverallLoss, StatusNotApplicable)
		return
	}
	limit := e.rules.OverallLossLimit.Percent(e.start)
	loss := e.lossPercent(e.metrics.TotalProfit)
	if e.metrics.TotalProfit < 0 && loss > limit {
		e.violate(RuleOverallLoss, models.SeverityCritical, loss, limit,
			"overall loss %.2f%% exceeds limit %.2f%%", loss, limit)
		e.record(RuleOverallLoss, StatusFailed)
		return
	}
	e.record(RuleOverallLoss, StatusPassed)
}

func (e *evaluator) checkConsistency() {
	if e.rules == nil || e.rules.Consistency == nil || !e.rules.Consistency.Enabled || e.metrics.TotalProfit <= 0 {
		e.record(RuleConsistency, StatusNotApplicable)
		return
	}
	c := e.rules.Consistency
	total := e.metrics.TotalProfit
	failed := false

	if c.RequiredMultipleOfBestDay > 0 {
		required := c.RequiredMultipleOfBestDay * e.metrics.BestTradingDay
		if total < required {
			failed = true
			e.violate(RuleConsistency, e.opts.ConsistencySeverity, total, required,
				"total profit %.2f is below %.1fx best trading day %.2f", total, c.RequiredMultipleOfBestDay, e.metrics.BestTradingDay)
		}
	}
	if c.RequiredMultipleOfBestTrade > 0 {
		required := c.RequiredMultipleOfBestTrade * e.metrics.BestSingleTrade
		if total < required {
			failed = true
			e.violate(RuleConsistency, e.opts.ConsistencySeverity, total, required,
				"total profit %.2f is below %.1fx best single trade %.2f", total, c.RequiredMultipleOfBestTrade, e.metrics.BestSingleTrade)
		}
	}

	if failed {
		e.record(RuleConsistency, StatusFailed)
	} else {
		e.record(RuleConsistency, StatusPassed)
	}
}

// checkProgress records the profit target and trading day checks. A required
// target whose amount resolves to zero cannot be proven met, so it blocks
// advancement.
func (e *evaluator) checkProgress() PhaseProgress {
	var p PhaseProgress

	switch {
	case e.rules == nil || e.rules.ProfitTarget == nil:
		e.record(RuleProfitTarget, StatusNotApplicable)
		e.targetSatisfied = true
	default:
		target := e.rules.ProfitTarget
		amount := target.Amount(e.start)
		if amount <= 0 {
			e.record(RuleProfitTarget, StatusNotApplicable)
			e.targetSatisfied = !target.Required
			break
		}
		pct := e.metrics.TotalProfit / amount * 100
		p.ProfitProgressPercent = &pct
		p.TargetAmount = amount
		p.TargetMet = e.metrics.TotalProfit >= amount
		e.targetSatisfied = p.TargetMet || !target.Required
		if p.TargetMet {
			e.record(RuleProfitTarget, StatusPassed)
		} else {
			e.record(RuleProfitTarget, StatusFailed)
		}
	}

	if e.rules == nil || e.rules.MinTradingDays == 0 {
		e.record(RuleMinTradingDays, StatusNotApplicable)
		p.TradingDaysMet = true
		return p
	}
	p.TradingDaysMet = e.metrics.TradingDays >= e.rules.MinTradingDays
	if p.TradingDaysMet {
		e.record(RuleMinTradingDays, StatusPassed)
	} else {
		e.record(RuleMinTradingDays, StatusFailed)
	}
	return p
}

func (e *evaluator) checkSpecialConstraints(positions []models.OpenPosition) {
	var sc *rules.SpecialConstraints
	if e.rules != nil {
		sc = e.rules.SpecialConstraints
	}

	if sc == nil || sc.MaxOpenPositions == 0 {
		e.record(RuleMaxOpenPositions, StatusNotApplicable)
	} else if len(positions) > sc.MaxOpenPositions {
		e.violate(RuleMaxOpenPositions, models.SeverityWarning, float64(len(positions)), float64(sc.MaxOpenPositions),
			"%d open positions exceed the maximum of %d", len(positions), sc.MaxOpenPositions)
		e.record(RuleMaxOpenPositions, StatusFailed)
	} else {
		e.record(RuleMaxOpenPositions, StatusPassed)
	}

	if sc == nil || sc.MaxPositionVolume == 0 {
		e.record(RuleMaxPositionVolume, StatusNotApplicable)
	} else {
		status := StatusPassed
		for _, pos := range positions {
			if pos.Volume > sc.MaxPositionVolume {
				status = StatusFailed
				e.violate(RuleMaxPositionVolume, models.SeverityWarning, pos.Volume, sc.MaxPositionVolume,
					"position %s %s volume %.2f exceeds the maximum of %.2f", pos.Ticket, pos.Symbol, pos.Volume, sc.MaxPositionVolume)
			}
		}
		e.record(RuleMaxPositionVolume, status)
	}

	if sc == nil || !sc.StopLossRequired {
		e.record(RuleStopLossRequired, StatusNotApplicable)
	} else {
		status := StatusPassed
		for _, pos := range positions {
			if !pos.HasStop() {
				status = StatusFailed
				e.violate(RuleStopLossRequired, models.SeverityWarning, 0, 0,
					"position %s %s has no stop loss", pos.Ticket, pos.Symbol)
			}
		}
		e.record(RuleStopLossRequired, status)
	}
}
