// Package monitoring exports engine results as Prometheus metrics for the
// node_exporter textfile collector.
package monitoring

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"propguard/internal/engine"
)

// Collector holds the gauges for one export. Each Collector owns a private
// registry, so concurrent exports never share series.
type Collector struct {
	registry *prometheus.Registry

	trueCapacity        *prometheus.GaugeVec
	theoreticalCapacity *prometheus.GaugeVec
	currentEquity       *prometheus.GaugeVec
	riskLevel           *prometheus.GaugeVec
	compliant           *prometheus.GaugeVec
	canAdvance          *prometheus.GaugeVec
	violations          *prometheus.GaugeVec
	unprotected         *prometheus.GaugeVec
	lastEvaluation      *prometheus.GaugeVec
}

// NewCollector creates and registers the propguard gauges.
func NewCollector() *Collector {
	labels := []string{"account", "phase"}
	c := &Collector{
		registry: prometheus.NewRegistry(),

		trueCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "propguard_true_safe_capacity",
				Help: "Loss still absorbable after every open position hits its stop",
			},
			labels,
		),
		theoreticalCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "propguard_theoretical_safe_capacity",
				Help: "Remaining margin to the controlling loss limit",
			},
			labels,
		),
		currentEquity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "propguard_current_equity",
				Help: "Starting balance plus realized and floating profit",
			},
			labels,
		),
		riskLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "propguard_risk_level",
				Help: "Risk level: 0 SAFE, 1 CAUTION, 2 DANGER, 3 CRITICAL",
			},
			labels,
		),
		compliant: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "propguard_compliant",
				Help: "1 when the account has no CRITICAL violation",
			},
			labels,
		),
		canAdvance: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "propguard_can_advance",
				Help: "1 when the account may move to the next phase",
			},
			labels,
		),
		violations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "propguard_violations",
				Help: "Number of rule violations by severity",
			},
			[]string{"account", "phase", "severity"},
		),
		unprotected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "propguard_unprotected_positions",
				Help: "Open positions without a stop-loss",
			},
			labels,
		),
		lastEvaluation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "propguard_last_evaluation_timestamp_seconds",
				Help: "Unix time of the last evaluation",
			},
			labels,
		),
	}

	c.registry.MustRegister(
		c.trueCapacity,
		c.theoreticalCapacity,
		c.currentEquity,
		c.riskLevel,
		c.compliant,
		c.canAdvance,
		c.violations,
		c.unprotected,
		c.lastEvaluation,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe records one account report.
func (c *Collector) Observe(report *engine.Report) {
	if report == nil {
		return
	}

	if ev := report.Evaluation; ev != nil {
		phase := string(ev.Phase)
		c.compliant.WithLabelValues(ev.AccountID, phase).Set(boolGauge(ev.IsCompliant))
		c.canAdvance.WithLabelValues(ev.AccountID, phase).Set(boolGauge(ev.PhaseProgress.CanAdvance))

		bySeverity := map[string]float64{"INFO": 0, "WARNING": 0, "CRITICAL": 0}
		for _, v := range ev.Violations {
			bySeverity[string(v.Severity)]++
		}
		for severity, n := range bySeverity {
			c.violations.WithLabelValues(ev.AccountID, phase, severity).Set(n)
		}
		c.lastEvaluation.WithLabelValues(ev.AccountID, phase).Set(float64(ev.EvaluatedAt.Unix()))
	}

	if r := report.Risk; r != nil {
		phase := string(r.Phase)
		c.trueCapacity.WithLabelValues(r.AccountID, phase).Set(r.TrueSafeCapacity)
		c.theoreticalCapacity.WithLabelValues(r.AccountID, phase).Set(r.TheoreticalSafeCapacity)
		c.currentEquity.WithLabelValues(r.AccountID, phase).Set(r.CurrentEquity)
		c.riskLevel.WithLabelValues(r.AccountID, phase).Set(float64(r.RiskLevel.Rank()))
		c.unprotected.WithLabelValues(r.AccountID, phase).Set(float64(r.UnprotectedPositions))
	}
}

// WriteTextfile writes the collected series to path atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating textfile directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}

// WriteRiskTextfile exports reports to a node_exporter textfile at path.
func WriteRiskTextfile(path string, reports []*engine.Report) error {
	c := NewCollector()
	for _, r := range reports {
		c.Observe(r)
	}
	return c.WriteTextfile(path)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
