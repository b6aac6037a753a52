package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/myrjola/groupworkout/internal/allocation"
	"github.com/myrjola/groupworkout/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestManager_ObserveBlueprint(t *testing.T) {
	m, reg := metrics.NewTestManagerAndRegistry()

	bp := allocation.Blueprint{
		TemplateID: "standard",
		ClientPools: map[string]allocation.ClientExercisePool{
			"alice": { //nolint:exhaustruct // gaps only.
				ClientID: "alice",
				BucketedSelection: allocation.BucketingResult{ //nolint:exhaustruct // gaps only.
					Gaps: []allocation.Gap{
						{BucketType: allocation.BucketMovementPattern, Constraint: "lunge", Required: 1, Filled: 0},
						{BucketType: allocation.BucketFunctional, Constraint: "capacity", Required: 1, Filled: 0},
					},
				},
			},
		},
		ClientOrder:        []string{"alice"},
		SharedExercisePool: make([]allocation.GroupScoredExercise, 3),
		ValidationWarnings: []string{"one", "two", "three"},
		FailedClients:      map[string]string{"bob": "unknown workout type"},
	}
	m.ObserveBlueprint(bp, errors.New("client bob failed"), 20*time.Millisecond)
	m.ObserveBlueprint(allocation.Blueprint{}, nil, time.Millisecond) //nolint:exhaustruct // empty run.

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"partial runs", testutil.ToFloat64(m.CounterRuns.WithLabelValues(metrics.OutcomePartial)), 1},
		{"ok runs", testutil.ToFloat64(m.CounterRuns.WithLabelValues(metrics.OutcomeOK)), 1},
		{"failed clients", testutil.ToFloat64(m.CounterClients.WithLabelValues(metrics.OutcomeFailed)), 1},
		{"warnings", testutil.ToFloat64(m.CounterWarnings), 3},
		{"pattern gaps", testutil.ToFloat64(m.CounterGaps.WithLabelValues("movement_pattern")), 1},
		{"shared pool of the latest run", testutil.ToFloat64(m.GaugeSharedPool), 0},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n, err := testutil.GatherAndCount(reg, "groupworkout_test_assemble_duration_seconds"); err != nil || n != 1 {
		t.Errorf("GatherAndCount() = %d, %v, want 1 histogram", n, err)
	}
}

func TestManager_nil(t *testing.T) {
	var m *metrics.Manager
	m.ObserveBlueprint(allocation.Blueprint{}, nil, time.Second) //nolint:exhaustruct // empty run.
	m.ObserveRefinement("fallback", time.Second)
}

func TestManager_ObserveRefinement(t *testing.T) {
	m, _ := metrics.NewTestManagerAndRegistry()
	m.ObserveRefinement("llm", time.Second)
	m.ObserveRefinement("fallback", time.Millisecond)
	m.ObserveRefinement("fallback", time.Millisecond)

	if got := testutil.ToFloat64(m.CounterRefinements.WithLabelValues("fallback")); got != 2 {
		t.Errorf("fallback refinements = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.CounterRefinements); got != 2 {
		t.Errorf("refinement series = %d, want 2", got)
	}
}
