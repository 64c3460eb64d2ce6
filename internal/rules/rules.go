// Package rules provides the per-phase rule sets prop firms apply to a
// challenge account, and the loader for rule templates.
package rules

import (
	"fmt"
	"math"

	"propguard/internal/errors"
	"propguard/internal/models"
)

// Threshold is a money limit expressed against the starting balance of the
// current challenge. AbsoluteAmount wins when both are set.
type Threshold struct {
	PercentOfStartingBalance float64 `json:"percentOfStartingBalance,omitempty" yaml:"percentOfStartingBalance,omitempty"`
	AbsoluteAmount           float64 `json:"absoluteAmount,omitempty" yaml:"absoluteAmount,omitempty"`
}

// Amount returns the threshold in account currency for the given starting balance.
func (t Threshold) Amount(startingBalance float64) float64 {
	if t.AbsoluteAmount > 0 {
		return t.AbsoluteAmount
	}
	return t.PercentOfStartingBalance * startingBalance / 100
}

// Percent returns the threshold as a percentage of the starting balance.
func (t Threshold) Percent(startingBalance float64) float64 {
	if t.PercentOfStartingBalance > 0 {
		return t.PercentOfStartingBalance
	}
	if startingBalance <= 0 {
		return 0
	}
	return t.AbsoluteAmount * 100 / startingBalance
}

// IsZero reports whether neither a percent nor an amount is configured.
func (t Threshold) IsZero() bool {
	return t.PercentOfStartingBalance <= 0 && t.AbsoluteAmount <= 0
}

// ProfitTarget is the gain required before a phase can be passed.
type ProfitTarget struct {
	Threshold `yaml:",inline"`
	Required  bool `json:"required" yaml:"required"`
}

// Consistency limits how much of the total profit a single day or a single
// trade may account for. A multiple of 2 means no day (or trade) may exceed
// half of the total profit. A zero multiple disables that half of the rule.
type Consistency struct {
	Enabled                     bool    `json:"enabled" yaml:"enabled"`
	RequiredMultipleOfBestDay   float64 `json:"requiredMultipleOfBestDay,omitempty" yaml:"requiredMultipleOfBestDay,omitempty"`
	RequiredMultipleOfBestTrade float64 `json:"requiredMultipleOfBestTrade,omitempty" yaml:"requiredMultipleOfBestTrade,omitempty"`
}

// SpecialConstraints are firm specific trading restrictions. Zero values
// disable the corresponding constraint.
type SpecialConstraints struct {
	MaxOpenPositions  int     `json:"maxOpenPositions,omitempty" yaml:"maxOpenPositions,omitempty"`
	MaxPositionVolume float64 `json:"maxPositionVolume,omitempty" yaml:"maxPositionVolume,omitempty"`
	StopLossRequired  bool    `json:"stopLossRequired,omitempty" yaml:"stopLossRequired,omitempty"`
}

// PhaseRules holds the thresholds of one phase. A nil sub-rule, or a zero
// MinTradingDays, means the rule does not apply to the phase.
type PhaseRules struct {
	ProfitTarget       *ProfitTarget       `json:"profitTarget,omitempty" yaml:"profitTarget,omitempty"`
	DailyLossLimit     *Threshold          `json:"dailyLossLimit,omitempty" yaml:"dailyLossLimit,omitempty"`
	OverallLossLimit   *Threshold          `json:"overallLossLimit,omitempty" yaml:"overallLossLimit,omitempty"`
	MinTradingDays     int                 `json:"minTradingDays,omitempty" yaml:"minTradingDays,omitempty"`
	Consistency        *Consistency        `json:"consistency,omitempty" yaml:"consistency,omitempty"`
	SpecialConstraints *SpecialConstraints `json:"specialConstraints,omitempty" yaml:"specialConstraints,omitempty"`
}

// RuleSet is the immutable rule configuration for a challenge, keyed by phase.
// It is loaded once and shared read-only across evaluations.
type RuleSet struct {
	Name   string      `json:"name,omitempty" yaml:"name,omitempty"`
	Firm   string      `json:"firm,omitempty" yaml:"firm,omitempty"`
	Phase1 *PhaseRules `json:"PHASE_1,omitempty" yaml:"PHASE_1,omitempty"`
	Phase2 *PhaseRules `json:"PHASE_2,omitempty" yaml:"PHASE_2,omitempty"`
	Funded *PhaseRules `json:"FUNDED,omitempty" yaml:"FUNDED,omitempty"`
}

// ForPhase returns the rules of phase p. A nil result with a nil error means
// the rule set has no slot for that phase and every rule is not applicable.
func (rs *RuleSet) ForPhase(p models.Phase) (*PhaseRules, error) {
	if rs == nil {
		return nil, nil
	}
	switch p {
	case models.Phase1:
		return rs.Phase1, nil
	case models.Phase2:
		return rs.Phase2, nil
	case models.Funded:
		return rs.Funded, nil
	default:
		return nil, errors.NewDataError("currentPhase", p, "unknown phase")
	}
}

// Validate rejects negative or non-finite thresholds.
func (rs *RuleSet) Validate() error {
	if rs == nil {
		return errors.NewConfigError("ruleSet", nil, "rule set is required")
	}
	for _, phase := range models.Phases {
		pr, err := rs.ForPhase(phase)
		if err != nil {
			return err
		}
		if pr == nil {
			continue
		}
		if err := pr.validate(string(phase)); err != nil {
			return err
		}
	}
	return nil
}

func (pr *PhaseRules) validate(prefix string) error {
	if pr.ProfitTarget != nil {
		if err := validateThreshold(prefix+".profitTarget", pr.ProfitTarget.Threshold); err != nil {
			return err
		}
	}
	if pr.DailyLossLimit != nil {
		if err := validateThreshold(prefix+".dailyLossLimit", *pr.DailyLossLimit); err != nil {
			return err
		}
	}
	if pr.OverallLossLimit != nil {
		if err := validateThreshold(prefix+".overallLossLimit", *pr.OverallLossLimit); err != nil {
			return err
		}
	}
	if pr.MinTradingDays < 0 {
		return errors.NewConfigError(prefix+".minTradingDays", pr.MinTradingDays, "must not be negative")
	}
	if c := pr.Consistency; c != nil {
		if err := validateValue(prefix+".consistency.requiredMultipleOfBestDay", c.RequiredMultipleOfBestDay); err != nil {
			return err
		}
		if err := validateValue(prefix+".consistency.requiredMultipleOfBestTrade", c.RequiredMultipleOfBestTrade); err != nil {
			return err
		}
	}
	if sc := pr.SpecialConstraints; sc != nil {
		if sc.MaxOpenPositions < 0 {
			return errors.NewConfigError(prefix+".specialConstraints.maxOpenPositions", sc.MaxOpenPositions, "must not be negative")
		}
		if err := validateValue(prefix+".specialConstraints.maxPositionVolume", sc.MaxPositionVolume); err != nil {
			return err
		}
	}
	return nil
}

func validateThreshold(field string, t Threshold) error {
	if err := validateValue(field+".percentOfStartingBalance", t.PercentOfStartingBalance); err != nil {
		return err
	}
	return validateValue(field+".absoluteAmount", t.AbsoluteAmount)
}

func validateValue(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.NewConfigError(field, v, "must be a finite number")
	}
	if v < 0 {
		return errors.NewConfigError(field, v, "must not be negative")
	}
	return nil
}

// String returns a short label for logs and tables.
func (rs *RuleSet) String() string {
	if rs == nil {
		return "<none>"
	}
	if rs.Firm == "" {
		return rs.Name
	}
	return fmt.Sprintf("%s (%s)", rs.Name, rs.Firm)
}
