package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shopfloor/internal/config"
	"shopfloor/internal/db"
	"shopfloor/internal/domain"
	"shopfloor/internal/engine"
	"shopfloor/internal/events"
	"shopfloor/internal/hub"
	"shopfloor/internal/migrate"
	"shopfloor/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Hub    *hub.Hub
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	h := hub.New(64)
	eng := engine.New(conn, config.Default(), h)
	return testEnv{Engine: eng, Hub: h, Ctx: context.Background()}
}

func mustOrder(t *testing.T, env testEnv, number string) domain.ProductionOrder {
	t.Helper()
	o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		OrderNumber: number,
		ProductName: "widget",
		Quantity:    10,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func mustResource(t *testing.T, env testEnv, name string, capacity *float64) domain.Resource {
	t.Helper()
	res, err := env.Engine.CreateResource(env.Ctx, engine.ResourceCreateOptions{
		Name:     name,
		Type:     domain.ResourceMachine,
		Capacity: capacity,
	})
	if err != nil {
		t.Fatalf("create resource: %v", err)
	}
	return res
}

func f64(v float64) *float64 { return &v }

func TestCreateOrderDefaults(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	if o.Status != domain.OrderPending {
		t.Fatalf("new order status = %s, want pending", o.Status)
	}
	if o.Priority != 3 {
		t.Fatalf("default priority = %d, want 3", o.Priority)
	}
	got, err := env.Engine.GetOrder(env.Ctx, o.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.OrderNumber != "PO-001" || got.CreatedAt != o.CreatedAt {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, o)
	}
	// creation writes no event rows
	evts, err := env.Engine.Repo.OrderHistoryAsc(env.Ctx, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(evts) != 0 {
		t.Fatalf("expected empty history after create, got %d events", len(evts))
	}
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.OrderCreateOptions{
		{ProductName: "w", Quantity: 1},                            // missing number
		{OrderNumber: "X", Quantity: 1},                            // missing product
		{OrderNumber: "X", ProductName: "w", Quantity: 0},          // zero quantity
		{OrderNumber: "X", ProductName: "w", Quantity: -5},         // negative quantity
		{OrderNumber: "X", ProductName: "w", Quantity: 1, Priority: 6},
	}
	for i, opts := range cases {
		var ve engine.ValidationError
		if _, err := env.Engine.CreateOrder(env.Ctx, opts); !errors.As(err, &ve) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestDuplicateOrderNumber(t *testing.T) {
	env := newTestEnv(t)
	mustOrder(t, env, "PO-001")
	_, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
		OrderNumber: "PO-001", ProductName: "other", Quantity: 1,
	})
	var de engine.DuplicateKeyError
	if !errors.As(err, &de) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	if de.Field != "order_number" {
		t.Fatalf("duplicate field = %s", de.Field)
	}
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")

	o, err := env.Engine.ChangeStatus(env.Ctx, o.ID, domain.OrderScheduled)
	if err != nil || o.Status != domain.OrderScheduled {
		t.Fatalf("to scheduled: %v", err)
	}
	o, err = env.Engine.ChangeStatus(env.Ctx, o.ID, domain.OrderInProgress)
	if err != nil || o.Status != domain.OrderInProgress {
		t.Fatalf("to in_progress: %v", err)
	}
	if o.ActualStart == nil {
		t.Fatalf("actual_start not stamped")
	}
	o, err = env.Engine.ChangeStatus(env.Ctx, o.ID, domain.OrderCompleted)
	if err != nil || o.Status != domain.OrderCompleted {
		t.Fatalf("to completed: %v", err)
	}
	if o.ActualEnd == nil {
		t.Fatalf("actual_end not stamped")
	}

	// each accepted transition left one event, in order
	evts, err := env.Engine.Repo.OrderHistoryAsc(env.Ctx, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(evts) != 3 {
		t.Fatalf("expected 3 status events, got %d", len(evts))
	}
	want := []string{domain.OrderScheduled, domain.OrderInProgress, domain.OrderCompleted}
	for i, evt := range evts {
		if evt.EventType != events.TypeStatusChanged {
			t.Fatalf("event %d type = %s", i, evt.EventType)
		}
		if evt.NewStatus == nil || *evt.NewStatus != want[i] {
			t.Fatalf("event %d new status = %v, want %s", i, evt.NewStatus, want[i])
		}
	}
}

func TestInvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")

	// skip a state
	if _, err := env.Engine.ChangeStatus(env.Ctx, o.ID, domain.OrderInProgress); err == nil {
		t.Fatalf("pending -> in_progress should fail")
	}
	// same-state no-op is rejected too
	var te engine.InvalidTransitionError
	if _, err := env.Engine.ChangeStatus(env.Ctx, o.ID, domain.OrderPending); !errors.As(err, &te) {
		t.Fatalf("pending -> pending should be invalid transition, got %v", err)
	}
	// terminal states have no exits
	if _, err := env.Engine.ChangeStatus(env.Ctx, o.ID, domain.OrderCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, o.ID, domain.OrderScheduled); !errors.As(err, &te) {
		t.Fatalf("cancelled -> scheduled should be invalid, got %v", err)
	}
	// unknown status is a validation error, not a transition error
	var ve engine.ValidationError
	if _, err := env.Engine.ChangeStatus(env.Ctx, o.ID, "bogus"); !errors.As(err, &ve) {
		t.Fatalf("unknown status: got %v", err)
	}
	// rejected transition appends nothing
	evts, _ := env.Engine.Repo.OrderHistoryAsc(env.Ctx, o.ID)
	if len(evts) != 1 {
		t.Fatalf("expected only the cancel event, got %d", len(evts))
	}
}

func TestReplayMatchesStoredStatus(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	for _, s := range []string{domain.OrderScheduled, domain.OrderInProgress, domain.OrderCompleted} {
		if _, err := env.Engine.ChangeStatus(env.Ctx, o.ID, s); err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}
	replayed, err := env.Engine.ReplayStatus(env.Ctx, o.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	stored, err := env.Engine.GetOrder(env.Ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if replayed != stored.Status {
		t.Fatalf("replay = %s, stored = %s", replayed, stored.Status)
	}
}

func TestUpdateOrderNotes(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	notes := "rush job"
	o, err := env.Engine.UpdateOrder(env.Ctx, engine.OrderUpdateOptions{ID: o.ID, Notes: &notes})
	if err != nil {
		t.Fatalf("update notes: %v", err)
	}
	if o.Notes != "rush job" {
		t.Fatalf("notes = %q", o.Notes)
	}
	// status untouched, audit row set, no status change recorded
	if o.Status != domain.OrderPending {
		t.Fatalf("status changed by notes update: %s", o.Status)
	}
	evts, _ := env.Engine.Repo.OrderHistoryAsc(env.Ctx, o.ID)
	if len(evts) != 1 || evts[0].EventType != events.TypeOrderUpdated {
		t.Fatalf("expected one order.updated event, got %+v", evts)
	}
	if evts[0].OldStatus != nil || evts[0].NewStatus != nil {
		t.Fatalf("notes event must not carry statuses")
	}
	// replay ignores non-status events
	replayed, err := env.Engine.ReplayStatus(env.Ctx, o.ID)
	if err != nil || replayed != domain.OrderPending {
		t.Fatalf("replay after notes = %s, %v", replayed, err)
	}
}

func TestAllocateCapacity(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	res := mustResource(t, env, "CNC-01", f64(100))

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	_, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		OrderID: o.ID, ResourceID: res.ID, Quantity: 60, Start: base,
	})
	if err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	// 60 + 50 > 100 over the overlap
	_, err = env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		OrderID: o.ID, ResourceID: res.ID, Quantity: 50, Start: base.Add(time.Hour),
	})
	var ce engine.CapacityExceededError
	if !errors.As(err, &ce) {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}
	if ce.InUse != 60 || ce.Requested != 50 {
		t.Fatalf("capacity error detail: %+v", ce)
	}
	// 60 + 40 == 100 is allowed: the invariant is exceed, not reach
	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		OrderID: o.ID, ResourceID: res.ID, Quantity: 40, Start: base.Add(time.Hour),
	}); err != nil {
		t.Fatalf("exact fit rejected: %v", err)
	}
}

func TestAllocateDisjointIntervals(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	res := mustResource(t, env, "CNC-01", f64(100))

	morning := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	noon := morning.Add(4 * time.Hour)
	evening := morning.Add(8 * time.Hour)
	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		OrderID: o.ID, ResourceID: res.ID, Quantity: 90, Start: morning, End: &noon,
	}); err != nil {
		t.Fatalf("morning: %v", err)
	}
	// interval ends exactly where the next starts: no overlap
	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		OrderID: o.ID, ResourceID: res.ID, Quantity: 90, Start: noon, End: &evening,
	}); err != nil {
		t.Fatalf("afternoon back-to-back rejected: %v", err)
	}
}

func TestAllocateFlipsResourceStatus(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	res := mustResource(t, env, "CNC-01", nil)

	a, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		OrderID: o.ID, ResourceID: res.ID, Quantity: 1, Start: time.Now(),
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	got, _ := env.Engine.GetResource(env.Ctx, res.ID)
	if got.Status != domain.ResourceInUse {
		t.Fatalf("resource status after allocate = %s", got.Status)
	}
	if _, err := env.Engine.Release(env.Ctx, a.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, _ = env.Engine.GetResource(env.Ctx, res.ID)
	if got.Status != domain.ResourceAvailable {
		t.Fatalf("resource status after release = %s", got.Status)
	}
}

func TestReleaseKeepsStatusWithOtherOpenAllocations(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	res := mustResource(t, env, "CNC-01", f64(100))
	start := time.Now()

	a1, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{OrderID: o.ID, ResourceID: res.ID, Quantity: 10, Start: start})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{OrderID: o.ID, ResourceID: res.ID, Quantity: 10, Start: start.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Release(env.Ctx, a1.ID, start.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetResource(env.Ctx, res.ID)
	if got.Status != domain.ResourceInUse {
		t.Fatalf("resource reverted while another allocation is open: %s", got.Status)
	}
}

func TestDoubleRelease(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	res := mustResource(t, env, "CNC-01", nil)
	start := time.Now()

	a, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{OrderID: o.ID, ResourceID: res.ID, Quantity: 1, Start: start})
	if err != nil {
		t.Fatal(err)
	}
	released, err := env.Engine.Release(env.Ctx, a.ID, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("first release: %v", err)
	}
	_, err = env.Engine.Release(env.Ctx, a.ID, start.Add(2*time.Hour))
	var are engine.AlreadyReleasedError
	if !errors.As(err, &are) {
		t.Fatalf("expected already released, got %v", err)
	}
	// second release changed nothing
	got, _ := env.Engine.Repo.GetAllocation(env.Ctx, a.ID)
	if got.EndTime == nil || *got.EndTime != *released.EndTime {
		t.Fatalf("end_time churned on double release: %v", got.EndTime)
	}
}

func TestReleaseEndBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	res := mustResource(t, env, "CNC-01", nil)
	start := time.Now()

	a, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{OrderID: o.ID, ResourceID: res.ID, Quantity: 1, Start: start})
	if err != nil {
		t.Fatal(err)
	}
	var ve engine.ValidationError
	if _, err := env.Engine.Release(env.Ctx, a.ID, start.Add(-time.Hour)); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAllocateToTerminalOrder(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	res := mustResource(t, env, "CNC-01", nil)
	if _, err := env.Engine.ChangeStatus(env.Ctx, o.ID, domain.OrderCancelled); err != nil {
		t.Fatal(err)
	}
	var ve engine.ValidationError
	_, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{OrderID: o.ID, ResourceID: res.ID, Quantity: 1, Start: time.Now()})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error allocating to cancelled order, got %v", err)
	}
}

func TestConcurrentAllocationsRespectCapacity(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	res := mustResource(t, env, "CNC-01", f64(100))
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
				OrderID: o.ID, ResourceID: res.ID, Quantity: 60, Start: start.Add(time.Duration(i) * time.Minute),
			})
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			var ce engine.CapacityExceededError
			if !errors.As(err, &ce) {
				t.Fatalf("unexpected error kind: %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("exactly one of two 60-unit allocations must fail at capacity 100, got %d failures", failures)
	}
}

func TestSetResourceStatusForce(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	res := mustResource(t, env, "CNC-01", nil)
	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{OrderID: o.ID, ResourceID: res.ID, Quantity: 1, Start: time.Now()}); err != nil {
		t.Fatal(err)
	}
	// busy resource refuses maintenance without force
	_, err := env.Engine.SetResourceStatus(env.Ctx, res.ID, domain.ResourceMaintenance, false)
	var be engine.ResourceBusyError
	if !errors.As(err, &be) {
		t.Fatalf("expected resource busy, got %v", err)
	}
	if be.OpenAllocations != 1 {
		t.Fatalf("open allocations = %d", be.OpenAllocations)
	}
	// force goes through and leaves the allocation open
	got, err := env.Engine.SetResourceStatus(env.Ctx, res.ID, domain.ResourceMaintenance, true)
	if err != nil {
		t.Fatalf("forced: %v", err)
	}
	if got.Status != domain.ResourceMaintenance {
		t.Fatalf("status = %s", got.Status)
	}
	allocs, _ := env.Engine.Repo.ListAllocationsForResource(env.Ctx, res.ID)
	if len(allocs) != 1 || allocs[0].EndTime != nil {
		t.Fatalf("forcing must not close allocations: %+v", allocs)
	}
}

func TestUtilization(t *testing.T) {
	env := newTestEnv(t)
	o := mustOrder(t, env, "PO-001")
	res := mustResource(t, env, "CNC-01", f64(100))
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	end := base.Add(4 * time.Hour)

	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{OrderID: o.ID, ResourceID: res.ID, Quantity: 30, Start: base, End: &end}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{OrderID: o.ID, ResourceID: res.ID, Quantity: 20, Start: base.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	inUse, err := env.Engine.Utilization(env.Ctx, res.ID, base.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if inUse != 50 {
		t.Fatalf("utilization mid-window = %g, want 50", inUse)
	}
	inUse, err = env.Engine.Utilization(env.Ctx, res.ID, base.Add(5*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if inUse != 20 {
		t.Fatalf("utilization after bounded allocation ends = %g, want 20", inUse)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.GetOrder(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, "missing", domain.OrderScheduled); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.Release(env.Ctx, "missing", time.Now()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHubNotifications(t *testing.T) {
	env := newTestEnv(t)
	sub := env.Hub.Subscribe(hub.ScopeOrders)
	defer sub.Unsubscribe()

	o := mustOrder(t, env, "PO-001")
	if _, err := env.Engine.ChangeStatus(env.Ctx, o.ID, domain.OrderScheduled); err != nil {
		t.Fatal(err)
	}

	first := <-sub.C()
	if first.Type != hub.OrderCreated || first.EntityID != o.ID {
		t.Fatalf("first notification = %+v", first)
	}
	second := <-sub.C()
	if second.Type != hub.OrderStatusChanged {
		t.Fatalf("second notification = %+v", second)
	}
	if second.Payload["new_status"] != domain.OrderScheduled {
		t.Fatalf("payload = %+v", second.Payload)
	}
}
