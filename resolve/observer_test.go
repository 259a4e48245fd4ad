package resolve_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/open-cradle/cradle-sub002/resolve"
	"github.com/open-cradle/cradle-sub002/sample"
)

func TestMetricsObserverCountsStages(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := resolve.NewMetricsObserver(reg)
	if err != nil {
		t.Fatalf("new metrics observer failed: %v", err)
	}
	res := newTestResources(t, resolve.WithObserver(metrics))
	rc := resolve.NewLocalContext(res)

	for i := 0; i < 2; i++ {
		if _, err := resolve.Resolve[int64](context.Background(), rc, sample.Sum{Values: []int64{1}}); err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
	}
	if _, err := resolve.Resolve[string](context.Background(), rc, sample.Fail{Message: "x"}); err == nil {
		t.Fatalf("expected failure")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	counts := map[string]float64{}
	durationSeries := 0
	for _, mf := range families {
		if mf.GetName() == "cradle_resolve_duration_seconds" {
			durationSeries = len(mf.GetMetric())
		}
		if mf.GetName() != "cradle_resolve_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var stage, outcome string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "stage":
					stage = lp.GetValue()
				case "outcome":
					outcome = lp.GetValue()
				}
			}
			counts[stage+"/"+outcome] = m.GetCounter().GetValue()
		}
	}
	want := map[string]float64{
		"memory/hit":    1,
		"memory/miss":   2,
		"compute/ok":    1,
		"compute/error": 1,
	}
	for k, v := range want {
		if counts[k] != v {
			t.Fatalf("expected %s=%v, got %v (all: %v)", k, v, counts[k], counts)
		}
	}
	if durationSeries != 2 {
		t.Fatalf("expected duration series for 2 stages, got %d", durationSeries)
	}
}

func TestMetricsObserverRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := resolve.NewMetricsObserver(reg); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if _, err := resolve.NewMetricsObserver(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestObserverFuncNilIsNoop(t *testing.T) {
	var f resolve.ObserverFunc
	f.OnResolve(context.Background(), resolve.StageCompute, "k", false, nil, 0)
}
