// Package engine combines metrics, compliance and safe-capacity computation
// for one account, and evaluates many accounts concurrently.
package engine

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"propguard/internal/compliance"
	"propguard/internal/errors"
	"propguard/internal/models"
	"propguard/internal/performance"
	"propguard/internal/risk"
	"propguard/internal/rules"
)

// Options configures an Engine.
type Options struct {
	// Location fixes the day boundary. Nil means UTC.
	Location            *time.Location
	ConsistencySeverity models.Severity
	Thresholds          risk.Thresholds
	MaskingRatio        float64
	// Workers bounds RunBatch concurrency. Zero means runtime.NumCPU().
	Workers int
	// Clock returns the evaluation instant. Nil means time.Now.
	Clock func() time.Time
	// Logger receives batch diagnostics. Nil discards them.
	Logger *zerolog.Logger
}

// DefaultOptions returns UTC days, WARNING consistency and 500/1000 thresholds.
func DefaultOptions() Options {
	return Options{
		Location:            time.UTC,
		ConsistencySeverity: models.SeverityWarning,
		Thresholds:          risk.DefaultThresholds(),
		MaskingRatio:        risk.DefaultMaskingRatio,
	}
}

// Engine evaluates account snapshots. It holds no per-account state and is
// safe for concurrent use.
type Engine struct {
	opts Options
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.ConsistencySeverity == "" {
		opts.ConsistencySeverity = models.SeverityWarning
	}
	if !opts.ConsistencySeverity.Valid() {
		return nil, errors.NewConfigError("consistencySeverity", opts.ConsistencySeverity, "must be INFO, WARNING or CRITICAL")
	}
	if opts.Thresholds == (risk.Thresholds{}) {
		opts.Thresholds = risk.DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if opts.MaskingRatio < 0 || opts.MaskingRatio > 1 {
		return nil, errors.NewConfigError("maskingRatio", opts.MaskingRatio, "must be between 0 and 1")
	}
	if opts.Workers < 0 {
		return nil, errors.NewConfigError("workers", opts.Workers, "must not be negative")
	}
	return &Engine{opts: opts}, nil
}

// Calendar returns the calendar for the current instant.
func (e *Engine) Calendar() models.Calendar {
	return models.NewCalendar(e.opts.Location, e.opts.Clock())
}

// Evaluate returns the compliance verdict of snapshot under ruleSet.
func (e *Engine) Evaluate(snapshot *models.AccountSnapshot, ruleSet *rules.RuleSet) (*compliance.Evaluation, error) {
	return e.evaluate(snapshot, ruleSet, e.Calendar())
}

// ComputeRisk returns the safe-capacity report of snapshot under ruleSet.
func (e *Engine) ComputeRisk(snapshot *models.AccountSnapshot, ruleSet *rules.RuleSet) (*risk.Report, error) {
	return e.computeRisk(snapshot, ruleSet, e.Calendar())
}

func (e *Engine) evaluate(snapshot *models.AccountSnapshot, ruleSet *rules.RuleSet, cal models.Calendar) (*compliance.Evaluation, error) {
	return compliance.Evaluate(snapshot, ruleSet, compliance.Options{
		Calendar:            cal,
		ConsistencySeverity: e.opts.ConsistencySeverity,
	})
}

func (e *Engine) computeRisk(snapshot *models.AccountSnapshot, ruleSet *rules.RuleSet, cal models.Calendar) (*risk.Report, error) {
	thresholds := e.opts.Thresholds
	return risk.ComputeRisk(snapshot, ruleSet, risk.Options{
		Calendar:     cal,
		Thresholds:   &thresholds,
		MaskingRatio: e.opts.MaskingRatio,
	})
}

// Report holds both outputs for one account, computed at the same instant.
type Report struct {
	AccountID  string                 `json:"accountId"`
	Template   string                 `json:"template,omitempty"`
	Evaluation *compliance.Evaluation `json:"evaluation"`
	Risk       *risk.Report           `json:"risk"`
}

// Run evaluates compliance and risk for one snapshot.
func (e *Engine) Run(snapshot *models.AccountSnapshot, ruleSet *rules.RuleSet) (*Report, error) {
	cal := e.Calendar()

	ev, err := e.evaluate(snapshot, ruleSet, cal)
	if err != nil {
		return nil, err
	}
	rr, err := e.computeRisk(snapshot, ruleSet, cal)
	if err != nil {
		return nil, err
	}

	report := &Report{
		AccountID:  snapshot.AccountID,
		Evaluation: ev,
		Risk:       rr,
	}
	if ruleSet != nil {
		report.Template = ruleSet.Name
	}
	return report, nil
}

// Job is one account to evaluate in a batch.
type Job struct {
	Snapshot *models.AccountSnapshot
	RuleSet  *rules.RuleSet
}

// BatchResult is the outcome of one Job. Exactly one of Report and Err is set.
type BatchResult struct {
	AccountID string
	Report    *Report
	Err       error
}

// RunBatch evaluates jobs concurrently on a worker pool. Results keep the
// order of jobs. Jobs that have not started when ctx is cancelled carry
// ctx.Err().
func (e *Engine) RunBatch(ctx context.Context, jobs []Job) []BatchResult {
	results := make([]BatchResult, len(jobs))
	for i, job := range jobs {
		if job.Snapshot != nil {
			results[i].AccountID = job.Snapshot.AccountID
		}
	}
	if len(jobs) == 0 {
		return results
	}

	workers := e.opts.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	pool := performance.NewWorkerPool(workers)
	pool.Start()

	var submitted int
	for i := range jobs {
		i := i
		err := pool.SubmitContext(ctx, func() {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return
			}
			results[i].Report, results[i].Err = e.Run(jobs[i].Snapshot, jobs[i].RuleSet)
		})
		if err != nil {
			break
		}
		submitted++
	}
	pool.Stop()

	stats := pool.Stats()
	e.opts.Logger.Debug().
		Int("workers", stats.Workers).
		Uint64("submitted", stats.TasksTotal).
		Uint64("completed", stats.TasksDone).
		Int("jobs", len(jobs)).
		Msg("Batch evaluation finished")

	for i := submitted; i < len(jobs); i++ {
		results[i].Err = ctx.Err()
		if results[i].Err == nil {
			results[i].Err = performance.ErrPoolStopped
		}
	}
	return results
}
