package scenarios

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/wastefleet/core/bucket"
	"github.com/kilianp07/wastefleet/core/dispatch"
	"github.com/kilianp07/wastefleet/core/events"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/core/store"
	"github.com/kilianp07/wastefleet/infra/docstore"
	"github.com/kilianp07/wastefleet/infra/logger"
	"github.com/kilianp07/wastefleet/infra/metrics"
	"github.com/kilianp07/wastefleet/internal/eventbus"
	"github.com/kilianp07/wastefleet/jobs/sweep"
)

// shiftDirectory is a driver roster that steps can replace mid-run.
type shiftDirectory struct {
	mu      sync.Mutex
	drivers []string
}

func (d *shiftDirectory) set(ids []string) {
	d.mu.Lock()
	d.drivers = append([]string(nil), ids...)
	d.mu.Unlock()
}

func (d *shiftDirectory) AvailableDrivers(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.drivers...), nil
}

func RunScenario(t *testing.T, sc *Scenario) {
	dispatch.ResetMetrics(nil)
	t.Cleanup(func() { dispatch.ResetMetrics(nil) })

	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}
	bus := eventbus.NewTyped[events.Event]()
	defer bus.Close()
	sub := bus.Subscribe()

	st := docstore.NewMemoryStore()
	dir := &shiftDirectory{}
	dir.set(sc.Drivers)

	coord, err := dispatch.NewCoordinator(st, dir, dispatch.FirstSelector{}, dispatch.Config{}, logger.NopLogger{})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	coord.SetMetricsSink(sink)
	coord.SetEventBus(bus)
	svc, err := bucket.NewService(st, coord, 0, logger.NopLogger{})
	if err != nil {
		t.Fatalf("bucket service: %v", err)
	}
	sw, err := sweep.New(st, coord, logger.NopLogger{})
	if err != nil {
		t.Fatalf("sweeper: %v", err)
	}

	ctx := context.Background()
	ids := make(map[string]string, len(sc.Bins))
	for _, def := range sc.Bins {
		up, err := svc.Create(ctx, def.ToInput())
		if err != nil {
			t.Fatalf("create bin %s: %v", def.Code, err)
		}
		ids[def.Code] = up.Bucket.ID
	}

	for i, step := range sc.Steps {
		id, known := ids[step.Bin]
		if step.Bin != "" && !known {
			t.Fatalf("step %d: unknown bin %s", i, step.Bin)
		}
		switch step.Action {
		case ActionFill:
			if _, err := svc.UpdateFill(ctx, id, step.Fill); err != nil {
				t.Fatalf("step %d: fill %s: %v", i, step.Bin, err)
			}
		case ActionTrash:
			in := bucket.TrashInput{BucketID: id, TrashType: step.TrashType, Weight: step.Weight}
			if _, err := svc.AddTrash(ctx, in); err != nil {
				t.Fatalf("step %d: trash %s: %v", i, step.Bin, err)
			}
		case ActionCollect:
			open, err := coord.ListCollections(ctx, store.CollectionFilter{BucketID: id, OpenOnly: true})
			if err != nil || len(open) != 1 {
				t.Fatalf("step %d: bin %s has %d open requests (%v)", i, step.Bin, len(open), err)
			}
			if _, err := coord.MarkCollected(ctx, open[0].ID); err != nil {
				t.Fatalf("step %d: collect %s: %v", i, step.Bin, err)
			}
		case ActionDrivers:
			dir.set(step.Drivers)
		case ActionSweep:
			if _, err := sw.Run(ctx); err != nil {
				t.Fatalf("step %d: sweep: %v", i, err)
			}
		}
	}

	assignments := driverAssignments(t, reg)
	if !equalCounts(assignments, sc.Expected.Assignments) {
		t.Errorf("scenario %s expected assignments %v, got %v", sc.Name, sc.Expected.Assignments, assignments)
	}

	all, err := coord.ListCollections(ctx, store.CollectionFilter{})
	if err != nil {
		t.Fatalf("list collections: %v", err)
	}
	collected, open := 0, 0
	for _, r := range all {
		if r.Status == model.CollectionCollected {
			collected++
		} else if r.Status.Open() {
			open++
		}
	}
	if collected != sc.Expected.Collected {
		t.Errorf("scenario %s expected %d collected, got %d", sc.Name, sc.Expected.Collected, collected)
	}
	if open != sc.Expected.Open {
		t.Errorf("scenario %s expected %d open, got %d", sc.Name, sc.Expected.Open, open)
	}

	var assigned []string
	for code, id := range ids {
		b, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", code, err)
		}
		if b.IsAssigned {
			assigned = append(assigned, code)
		}
	}
	sort.Strings(assigned)
	want := append([]string(nil), sc.Expected.Assigned...)
	sort.Strings(want)
	if !equalStrings(assigned, want) {
		t.Errorf("scenario %s expected assigned bins %v, got %v", sc.Name, want, assigned)
	}

	assignedEvents, collectedEvents := drain(sub)
	if assignedEvents != len(all) || collectedEvents != collected {
		t.Errorf("scenario %s bus saw %d assigned and %d collected events for %d requests",
			sc.Name, assignedEvents, collectedEvents, len(all))
	}
}

// driverAssignments reads driver_assignments_total back from the registry.
func driverAssignments(t *testing.T, reg *prometheus.Registry) map[string]int {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]int)
	for _, mf := range families {
		if mf.GetName() != "driver_assignments_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "driver_id" {
					out[l.GetValue()] = int(m.GetCounter().GetValue())
				}
			}
		}
	}
	return out
}

func drain(sub <-chan events.Event) (assigned, collected int) {
	for {
		select {
		case ev := <-sub:
			switch ev.(type) {
			case events.AssignedEvent:
				assigned++
			case events.CollectedEvent:
				collected++
			}
		default:
			return assigned, collected
		}
	}
}

func equalCounts(got, want map[string]int) bool {
	if len(got) != len(want) {
		return false
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
