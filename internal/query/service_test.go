package query_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"shopfloor/internal/config"
	"shopfloor/internal/db"
	"shopfloor/internal/domain"
	"shopfloor/internal/engine"
	"shopfloor/internal/migrate"
	"shopfloor/internal/query"
	"shopfloor/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Query  query.Service
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
	return testEnv{
		Engine: engine.New(conn, config.Default(), nil),
		Query:  queryService(conn),
		Ctx:    context.Background(),
	}
}

func queryService(conn *sql.DB) query.Service {
	return query.New(conn)
}

func seedOrders(t *testing.T, env testEnv, n int) []domain.ProductionOrder {
	t.Helper()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	orders := make([]domain.ProductionOrder, 0, n)
	for i := 0; i < n; i++ {
		// distinct created_at values keep the keyset cursor deterministic
		ts := now.Add(time.Duration(i) * time.Second)
		env.Engine.Now = func() time.Time { return ts }
		o, err := env.Engine.CreateOrder(env.Ctx, engine.OrderCreateOptions{
			OrderNumber: fmt.Sprintf("PO-%03d", i),
			ProductName: "widget",
			Quantity:    1 + i,
			Priority:    1 + i%5,
		})
		if err != nil {
			t.Fatalf("seed order %d: %v", i, err)
		}
		orders = append(orders, o)
	}
	return orders
}

func TestListOrdersFilters(t *testing.T) {
	env := newTestEnv(t)
	orders := seedOrders(t, env, 6)
	if _, err := env.Engine.ChangeStatus(env.Ctx, orders[0].ID, domain.OrderScheduled); err != nil {
		t.Fatal(err)
	}

	scheduled, err := env.Query.ListOrders(env.Ctx, repo.OrderFilters{Status: domain.OrderScheduled, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(scheduled) != 1 || scheduled[0].ID != orders[0].ID {
		t.Fatalf("status filter returned %d rows", len(scheduled))
	}

	prio := 2
	byPriority, err := env.Query.ListOrders(env.Ctx, repo.OrderFilters{Priority: prio, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range byPriority {
		if o.Priority != prio {
			t.Fatalf("priority filter leaked priority %d", o.Priority)
		}
	}
}

func TestListOrdersKeysetPagination(t *testing.T) {
	env := newTestEnv(t)
	seedOrders(t, env, 7)

	seen := map[string]bool{}
	var cursorCreated, cursorID string
	for {
		page, err := env.Query.ListOrders(env.Ctx, repo.OrderFilters{
			Limit:           3,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		for _, o := range page {
			if seen[o.ID] {
				t.Fatalf("order %s returned twice", o.ID)
			}
			seen[o.ID] = true
		}
		last := page[len(page)-1]
		cursorCreated, cursorID = last.CreatedAt, last.ID
		if len(page) < 3 {
			break
		}
	}
	if len(seen) != 7 {
		t.Fatalf("pagination visited %d of 7 orders", len(seen))
	}
}

func TestOrderHistoryPagination(t *testing.T) {
	env := newTestEnv(t)
	o := seedOrders(t, env, 1)[0]
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	steps := []string{domain.OrderScheduled, domain.OrderInProgress, domain.OrderCompleted}
	for i, s := range steps {
		ts := base.Add(time.Duration(i) * time.Second)
		env.Engine.Now = func() time.Time { return ts }
		if _, err := env.Engine.ChangeStatus(env.Ctx, o.ID, s); err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}

	page, err := env.Query.OrderHistory(env.Ctx, o.ID, 2, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("first page = %d events", len(page))
	}
	// newest first
	if *page[0].NewStatus != domain.OrderCompleted || *page[1].NewStatus != domain.OrderInProgress {
		t.Fatalf("unexpected first page: %v %v", *page[0].NewStatus, *page[1].NewStatus)
	}
	last := page[len(page)-1]
	rest, err := env.Query.OrderHistory(env.Ctx, o.ID, 10, last.CreatedAt, last.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || *rest[0].NewStatus != domain.OrderScheduled {
		t.Fatalf("unexpected second page: %+v", rest)
	}
}

func TestOrderHistoryUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Query.OrderHistory(env.Ctx, "missing", 10, "", 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	orders := seedOrders(t, env, 4)
	if _, err := env.Engine.ChangeStatus(env.Ctx, orders[0].ID, domain.OrderScheduled); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, orders[1].ID, domain.OrderCancelled); err != nil {
		t.Fatal(err)
	}
	capacity := 100.0
	res, err := env.Engine.CreateResource(env.Ctx, engine.ResourceCreateOptions{
		Name: "CNC-01", Type: domain.ResourceMachine, Capacity: &capacity,
	})
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		OrderID: orders[0].ID, ResourceID: res.ID, Quantity: 25, Start: at.Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	st, err := env.Query.Stats(env.Ctx, at)
	if err != nil {
		t.Fatal(err)
	}
	if st.OrdersByStatus[domain.OrderPending] != 2 ||
		st.OrdersByStatus[domain.OrderScheduled] != 1 ||
		st.OrdersByStatus[domain.OrderCancelled] != 1 {
		t.Fatalf("orders by status = %+v", st.OrdersByStatus)
	}
	if st.UtilizationByType[domain.ResourceMachine] != 25 {
		t.Fatalf("utilization by type = %+v", st.UtilizationByType)
	}
}

func TestGetOrderDetail(t *testing.T) {
	env := newTestEnv(t)
	o := seedOrders(t, env, 1)[0]
	res, err := env.Engine.CreateResource(env.Ctx, engine.ResourceCreateOptions{Name: "W-1", Type: domain.ResourceWorker})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ChangeStatus(env.Ctx, o.ID, domain.OrderScheduled); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Allocate(env.Ctx, engine.AllocateOptions{
		OrderID: o.ID, ResourceID: res.ID, Quantity: 1, Start: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	d, err := env.Query.GetOrderDetail(env.Ctx, o.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if d.Order.Status != domain.OrderScheduled {
		t.Fatalf("detail status = %s", d.Order.Status)
	}
	if len(d.Allocations) != 1 {
		t.Fatalf("detail allocations = %d", len(d.Allocations))
	}
	if len(d.Events) != 2 { // status change + allocation audit
		t.Fatalf("detail events = %d", len(d.Events))
	}
}
