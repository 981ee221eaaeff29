// internal/chaos/engine.go
package chaos

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Experiment is one fault-injection run: verify the steady state, inject
// the fault, observe, roll back, then check the assertions.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Inject      []Action
	Rollback    []Action
	Assertions  []Assertion
	Duration    time.Duration
}

// Metric is a measurable system property with an acceptance threshold.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action injects or removes a fault.
type Action struct {
	Name    string
	Execute func(context.Context) error
}

// Assertion validates the outcome once the fault is rolled back.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// Result captures one experiment execution.
type Result struct {
	Experiment     string             `json:"experiment"`
	StartTime      time.Time          `json:"start_time"`
	Duration       time.Duration      `json:"duration"`
	HypothesisHeld bool               `json:"hypothesis_held"`
	Violations     []Violation        `json:"violations,omitempty"`
	Samples        map[string]float64 `json:"samples,omitempty"`
}

type Violation struct {
	Metric   string    `json:"metric"`
	Expected float64   `json:"expected"`
	Actual   float64   `json:"actual"`
	At       time.Time `json:"at"`
}

// Engine runs fault-injection experiments against a live stack.
type Engine struct {
	db     *sql.DB
	logger zerolog.Logger
	tracer trace.Tracer

	mu          sync.Mutex
	experiments []Experiment
}

func NewEngine(db *sql.DB, logger zerolog.Logger) *Engine {
	return &Engine{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("libris/chaos"),
	}
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// RunAll executes every registered experiment in order and returns their
// results. The first steady-state failure aborts the run.
func (e *Engine) RunAll(ctx context.Context) ([]Result, error) {
	e.mu.Lock()
	experiments := make([]Experiment, len(e.experiments))
	copy(experiments, e.experiments)
	e.mu.Unlock()

	var results []Result
	for _, exp := range experiments {
		result, err := e.Run(ctx, exp)
		if err != nil {
			return results, err
		}
		results = append(results, *result)
	}
	return results, nil
}

// Run executes one experiment.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		Experiment: exp.Name,
		StartTime:  time.Now(),
		Samples:    make(map[string]float64),
	}

	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, errors.New("steady state invalid, aborting experiment")
	}

	for _, action := range exp.Inject {
		if err := action.Execute(ctx); err != nil {
			e.logger.Error().Err(err).Str("action", action.Name).Msg("fault injection failed")
			span.RecordError(err)
		}
	}

	e.observe(ctx, exp, result)

	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			e.logger.Error().Err(err).Str("action", action.Name).Msg("rollback failed")
			span.RecordError(err)
		}
	}

	result.HypothesisHeld = e.checkAssertions(exp.Assertions, result)
	result.Duration = time.Since(result.StartTime)

	span.SetAttributes(
		attribute.Bool("hypothesis.held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	e.logger.Info().
		Str("experiment", exp.Name).
		Bool("hypothesis_held", result.HypothesisHeld).
		Int("violations", len(result.Violations)).
		Msg("experiment finished")

	return result, nil
}

// observe samples the steady-state metrics for the experiment duration
// while the fault is active.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-observeCtx.Done():
			return
		case <-ticker.C:
			for _, metric := range exp.SteadyState {
				value, err := metric.Query(ctx)
				if err != nil {
					e.logger.Warn().Err(err).Str("metric", metric.Name).Msg("metric query failed")
					continue
				}
				result.Samples[metric.Name] = value
				if !evaluate(value, metric.Threshold) {
					result.Violations = append(result.Violations, Violation{
						Metric:   metric.Name,
						Expected: metric.Threshold.Value,
						Actual:   value,
						At:       time.Now(),
					})
				}
			}
		}
	}
}

func (e *Engine) checkSteadyState(ctx context.Context, metrics []Metric) []Violation {
	var violations []Violation
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			violations = append(violations, Violation{
				Metric:   metric.Name,
				Expected: metric.Threshold.Value,
				Actual:   -1,
				At:       time.Now(),
			})
			continue
		}
		if !evaluate(value, metric.Threshold) {
			violations = append(violations, Violation{
				Metric:   metric.Name,
				Expected: metric.Threshold.Value,
				Actual:   value,
				At:       time.Now(),
			})
		}
	}
	return violations
}

func (e *Engine) checkAssertions(assertions []Assertion, result *Result) bool {
	held := true
	for _, assertion := range assertions {
		value, ok := result.Samples[assertion.Metric]
		if !ok {
			continue
		}
		if !assertion.Condition(value) {
			e.logger.Warn().
				Str("metric", assertion.Metric).
				Float64("value", value).
				Msg(assertion.Message)
			held = false
		}
	}
	return held
}

func evaluate(value float64, t Threshold) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}
