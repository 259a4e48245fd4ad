package resolve

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage names a step of a resolution.
type Stage string

const (
	StageMemory    Stage = "memory"
	StageSecondary Stage = "secondary"
	StageCompute   Stage = "compute"
	StageRemote    Stage = "remote"
)

// Observer receives one event per resolution stage. hit is meaningful for
// the cache stages only.
type Observer interface {
	OnResolve(ctx context.Context, stage Stage, key string, hit bool, err error, dur time.Duration)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, stage Stage, key string, hit bool, err error, dur time.Duration)

// OnResolve implements Observer.
func (f ObserverFunc) OnResolve(ctx context.Context, stage Stage, key string, hit bool, err error, dur time.Duration) {
	if f == nil {
		return
	}
	f(ctx, stage, key, hit, err, dur)
}

func (r *Resources) observe(ctx context.Context, stage Stage, key string, hit bool, err error, start time.Time) {
	if r.observer == nil {
		return
	}
	r.observer.OnResolve(ctx, stage, key, hit, err, time.Since(start))
}

// MetricsObserver exports resolution events as prometheus metrics.
type MetricsObserver struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsObserver registers cradle_resolve_total and
// cradle_resolve_duration_seconds with reg.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	m := &MetricsObserver{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolve_total",
			Help: "Resolution stage outcomes.",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resolve_duration_seconds",
			Help:    "Resolution stage latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"stage"}),
	}
	reg = prometheus.WrapRegistererWithPrefix("cradle_", reg)
	for _, c := range []prometheus.Collector{m.total, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// OnResolve implements Observer.
func (m *MetricsObserver) OnResolve(_ context.Context, stage Stage, _ string, hit bool, err error, dur time.Duration) {
	m.total.WithLabelValues(string(stage), outcome(stage, hit, err)).Inc()
	m.duration.WithLabelValues(string(stage)).Observe(dur.Seconds())
}

func outcome(stage Stage, hit bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case stage == StageMemory || stage == StageSecondary:
		if hit {
			return "hit"
		}
		return "miss"
	default:
		return "ok"
	}
}
