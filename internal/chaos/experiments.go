// internal/chaos/experiments.go
package chaos

import (
	"context"
	"fmt"
	"time"
)

// RegisterExperiments registers the standard experiment suite for the
// circulation stack.
func (e *Engine) RegisterExperiments() {
	e.Register(e.CopiesInvariantExperiment())
	e.Register(e.NotificationOutageExperiment())
}

// CopiesInvariantExperiment verifies that no catalog row ever leaves the
// 0 <= available <= total window while checkouts run.
func (e *Engine) CopiesInvariantExperiment() Experiment {
	return Experiment{
		Name:       "copies-invariant-under-load",
		Hypothesis: "Concurrent checkouts never drive a copy counter outside its bounds",
		SteadyState: []Metric{
			{
				Name: "invariant_violations",
				Query: func(ctx context.Context) (float64, error) {
					var violations float64
					err := e.db.QueryRowContext(ctx, `
						SELECT COUNT(*)
						FROM books
						WHERE available_copies < 0 OR available_copies > total_copies
					`).Scan(&violations)
					return violations, err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "open_records",
				Query: func(ctx context.Context) (float64, error) {
					var open float64
					err := e.db.QueryRowContext(ctx, `
						SELECT COUNT(*)
						FROM records
						WHERE (kind = 'rental' AND NOT returned)
						   OR (kind = 'hold' AND active)
					`).Scan(&open)
					return open, err
				},
				Threshold: Threshold{Operator: ">=", Value: 0},
			},
		},
		Assertions: []Assertion{
			{
				Metric:    "invariant_violations",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "copy counters must stay within bounds",
			},
		},
		Duration: 30 * time.Second,
	}
}

// NotificationOutageExperiment pauses the broker container and verifies
// that checkouts still complete: the acknowledgement wait is best-effort
// and must not fail durable operations.
func (e *Engine) NotificationOutageExperiment() Experiment {
	return Experiment{
		Name:       "notification-broker-outage",
		Hypothesis: "Checkouts complete while the notification broker is unreachable",
		SteadyState: []Metric{
			{
				Name: "recent_records",
				Query: func(ctx context.Context) (float64, error) {
					var count float64
					err := e.db.QueryRowContext(ctx, `
						SELECT COUNT(*)
						FROM records
						WHERE created_at > NOW() - INTERVAL '5 minutes'
					`).Scan(&count)
					return count, err
				},
				Threshold: Threshold{Operator: ">=", Value: 0},
			},
		},
		Inject: []Action{
			{
				Name:    "pause-broker",
				Execute: dockerCommand("pause", "rabbitmq"),
			},
		},
		Rollback: []Action{
			{
				Name:    "unpause-broker",
				Execute: dockerCommand("unpause", "rabbitmq"),
			},
		},
		Duration: 30 * time.Second,
	}
}

// dockerCommand shells out to docker compose for container-level faults.
func dockerCommand(verb, service string) func(context.Context) error {
	return func(ctx context.Context) error {
		cmd := composeCommand(ctx, verb, service)
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("docker compose %s %s: %w: %s", verb, service, err, output)
		}
		return nil
	}
}
