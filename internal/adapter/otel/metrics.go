package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "taskforge"

// StatsFunc supplies the current load snapshot for the observable gauges.
type StatsFunc func() (running, queued int)

// Metrics holds all TaskForge metric instruments.
type Metrics struct {
	TasksLaunched metric.Int64Counter
	TasksResolved metric.Int64Counter
	TasksRejected metric.Int64Counter
	TaskDuration  metric.Float64Histogram

	running metric.Int64ObservableGauge
	queued  metric.Int64ObservableGauge
}

// NewMetrics creates all metric instruments. stats feeds the running and
// queued gauges; nil disables them.
func NewMetrics(stats StatsFunc) (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksLaunched, err = meter.Int64Counter("taskforge.tasks.launched",
		metric.WithDescription("Number of tasks admitted (run or queued)"))
	if err != nil {
		return nil, err
	}

	m.TasksResolved, err = meter.Int64Counter("taskforge.tasks.resolved",
		metric.WithDescription("Number of tasks reaching a terminal state"))
	if err != nil {
		return nil, err
	}

	m.TasksRejected, err = meter.Int64Counter("taskforge.tasks.rejected",
		metric.WithDescription("Number of launches rejected by backpressure"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("taskforge.task.duration_seconds",
		metric.WithDescription("Task wall-clock duration in seconds"))
	if err != nil {
		return nil, err
	}

	if stats == nil {
		return m, nil
	}

	m.running, err = meter.Int64ObservableGauge("taskforge.tasks.running",
		metric.WithDescription("Tasks currently holding a running slot"))
	if err != nil {
		return nil, err
	}
	m.queued, err = meter.Int64ObservableGauge("taskforge.tasks.queued",
		metric.WithDescription("Tasks waiting in the admission queue"))
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		running, queued := stats()
		o.ObserveInt64(m.running, int64(running))
		o.ObserveInt64(m.queued, int64(queued))
		return nil
	}, m.running, m.queued)
	if err != nil {
		return nil, err
	}

	return m, nil
}
