// Package engine owns the order lifecycle state machine and the resource
// allocation ledger. Every command validates against current state under a
// per-entity lock, applies the mutation and its event-log append in one
// transaction, and publishes a notification only after commit.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"shopfloor/internal/config"
	"shopfloor/internal/domain"
	"shopfloor/internal/events"
	"shopfloor/internal/hub"
	"shopfloor/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Hub    *hub.Hub
	Config *config.Config
	Now    func() time.Time

	locks *keyedMutex
}

func New(db *sql.DB, cfg *config.Config, h *hub.Hub) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Hub:    h,
		Config: cfg,
		Now:    time.Now,
		locks:  newKeyedMutex(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func (e Engine) publish(scope hub.Scope, typ, entityID string, payload map[string]any) {
	if e.Hub == nil {
		return
	}
	e.Hub.Publish(hub.Notification{
		Scope:    scope,
		Type:     typ,
		EntityID: entityID,
		TS:       e.nowString(),
		Payload:  payload,
	})
}

// --- Order Lifecycle Manager ---

// OrderCreateOptions are parameters for creating a production order.
type OrderCreateOptions struct {
	OrderNumber    string
	ProductName    string
	Quantity       int
	Priority       int
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
	Notes          string
}

func (e Engine) CreateOrder(ctx context.Context, opts OrderCreateOptions) (domain.ProductionOrder, error) {
	var o domain.ProductionOrder
	if opts.OrderNumber == "" {
		return o, ValidationError{Field: "order_number", Reason: "required"}
	}
	if opts.ProductName == "" {
		return o, ValidationError{Field: "product_name", Reason: "required"}
	}
	if opts.Quantity <= 0 {
		return o, ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if opts.Priority == 0 {
		opts.Priority = 3
	}
	if opts.Priority < 1 || opts.Priority > 5 {
		return o, ValidationError{Field: "priority", Reason: "must be in [1,5]"}
	}
	if opts.ScheduledStart != nil && opts.ScheduledEnd != nil && !opts.ScheduledEnd.After(*opts.ScheduledStart) {
		return o, ValidationError{Field: "scheduled_end", Reason: "must be after scheduled_start"}
	}
	now := e.nowString()
	o = domain.ProductionOrder{
		ID:          uuid.New().String(),
		OrderNumber: opts.OrderNumber,
		ProductName: opts.ProductName,
		Quantity:    opts.Quantity,
		Status:      domain.OrderPending,
		Priority:    opts.Priority,
		Notes:       opts.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.ScheduledStart != nil {
		s := ts(*opts.ScheduledStart)
		o.ScheduledStart = &s
	}
	if opts.ScheduledEnd != nil {
		s := ts(*opts.ScheduledEnd)
		o.ScheduledEnd = &s
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, unavailable(err)
	}
	defer tx.Rollback()

	exists, err := e.Repo.OrderNumberExistsTx(ctx, tx, o.OrderNumber)
	if err != nil {
		return o, unavailable(err)
	}
	if exists {
		return o, DuplicateKeyError{Field: "order_number", Value: o.OrderNumber}
	}
	// The event log records status transitions; creation in pending is the
	// replay origin and writes no event row.
	if err := e.Repo.InsertOrder(ctx, tx, o); err != nil {
		if isUniqueViolation(err) {
			return o, DuplicateKeyError{Field: "order_number", Value: o.OrderNumber}
		}
		return o, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return o, unavailable(err)
	}
	e.publish(hub.ScopeOrders, hub.OrderCreated, o.ID, map[string]any{
		"order_number": o.OrderNumber,
		"status":       o.Status,
	})
	return o, nil
}

// ensureOrderTransition enforces the lifecycle table. Terminal states have no
// outgoing transitions and same-state no-ops are rejected like any other
// invalid request.
func ensureOrderTransition(orderID, oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.OrderPending:
		if newStatus == domain.OrderScheduled || newStatus == domain.OrderCancelled {
			return nil
		}
	case domain.OrderScheduled:
		if newStatus == domain.OrderInProgress || newStatus == domain.OrderCancelled {
			return nil
		}
	case domain.OrderInProgress:
		if newStatus == domain.OrderCompleted || newStatus == domain.OrderCancelled {
			return nil
		}
	}
	return InvalidTransitionError{OrderID: orderID, Current: oldStatus, Requested: newStatus}
}

func validOrderStatus(status string) bool {
	switch status {
	case domain.OrderPending, domain.OrderScheduled, domain.OrderInProgress, domain.OrderCompleted, domain.OrderCancelled:
		return true
	}
	return false
}

// ChangeStatus applies one validated lifecycle transition. Serialized per
// order, so concurrent callers cannot both succeed from the same prior state.
func (e Engine) ChangeStatus(ctx context.Context, orderID, newStatus string) (domain.ProductionOrder, error) {
	var o domain.ProductionOrder
	if !validOrderStatus(newStatus) {
		return o, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", newStatus)}
	}
	e.locks.lock(orderKey(orderID))
	defer e.locks.unlock(orderKey(orderID))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, unavailable(err)
	}
	defer tx.Rollback()

	o, err = e.Repo.GetOrderTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return o, err
		}
		return o, unavailable(err)
	}
	oldStatus := o.Status
	if err := ensureOrderTransition(orderID, oldStatus, newStatus); err != nil {
		return o, err
	}
	now := e.nowString()
	o.Status = newStatus
	switch {
	case newStatus == domain.OrderInProgress:
		o.ActualStart = &now
	case domain.OrderTerminal(newStatus):
		o.ActualEnd = &now
	}
	if now > o.UpdatedAt {
		o.UpdatedAt = now
	}
	if err := e.Repo.UpdateOrder(ctx, tx, o); err != nil {
		return o, unavailable(err)
	}
	if err := e.Events.Append(ctx, tx, o.ID, events.TypeStatusChanged, &oldStatus, &newStatus, nil); err != nil {
		return o, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return o, unavailable(err)
	}
	e.publish(hub.ScopeOrders, hub.OrderStatusChanged, o.ID, map[string]any{
		"order_number": o.OrderNumber,
		"old_status":   oldStatus,
		"new_status":   newStatus,
	})
	return o, nil
}

func (e Engine) GetOrder(ctx context.Context, orderID string) (domain.ProductionOrder, error) {
	return e.Repo.GetOrder(ctx, orderID)
}

// OrderUpdateOptions are non-status edits to an order.
type OrderUpdateOptions struct {
	ID             string
	Notes          *string
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
}

// UpdateOrder applies notes/schedule edits. Status never changes here; the
// audit row carries no old/new status.
func (e Engine) UpdateOrder(ctx context.Context, opts OrderUpdateOptions) (domain.ProductionOrder, error) {
	var o domain.ProductionOrder
	e.locks.lock(orderKey(opts.ID))
	defer e.locks.unlock(orderKey(opts.ID))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, unavailable(err)
	}
	defer tx.Rollback()

	o, err = e.Repo.GetOrderTx(ctx, tx, opts.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return o, err
		}
		return o, unavailable(err)
	}
	changed := map[string]any{}
	if opts.Notes != nil {
		o.Notes = *opts.Notes
		changed["notes"] = *opts.Notes
	}
	if opts.ScheduledStart != nil {
		s := ts(*opts.ScheduledStart)
		o.ScheduledStart = &s
		changed["scheduled_start"] = s
	}
	if opts.ScheduledEnd != nil {
		s := ts(*opts.ScheduledEnd)
		o.ScheduledEnd = &s
		changed["scheduled_end"] = s
	}
	if len(changed) == 0 {
		return o, ValidationError{Field: "update", Reason: "no fields to update"}
	}
	if o.ScheduledStart != nil && o.ScheduledEnd != nil && *o.ScheduledEnd <= *o.ScheduledStart {
		return o, ValidationError{Field: "scheduled_end", Reason: "must be after scheduled_start"}
	}
	now := e.nowString()
	if now > o.UpdatedAt {
		o.UpdatedAt = now
	}
	if err := e.Repo.UpdateOrder(ctx, tx, o); err != nil {
		return o, unavailable(err)
	}
	if err := e.Events.Append(ctx, tx, o.ID, events.TypeOrderUpdated, nil, nil, events.Metadata(changed)); err != nil {
		return o, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return o, unavailable(err)
	}
	e.publish(hub.ScopeOrders, hub.OrderUpdated, o.ID, changed)
	return o, nil
}

// --- Resource Ledger ---

// ResourceCreateOptions are parameters for registering a resource.
type ResourceCreateOptions struct {
	Name        string
	Type        string
	Status      string
	Capacity    *float64
	HourlyCost  float64
	Description string
}

func validResourceType(typ string) bool {
	switch typ {
	case domain.ResourceMachine, domain.ResourceWorker, domain.ResourceMaterial:
		return true
	}
	return false
}

func validResourceStatus(status string) bool {
	switch status {
	case domain.ResourceAvailable, domain.ResourceInUse, domain.ResourceMaintenance, domain.ResourceUnavailable:
		return true
	}
	return false
}

func (e Engine) CreateResource(ctx context.Context, opts ResourceCreateOptions) (domain.Resource, error) {
	var res domain.Resource
	if opts.Name == "" {
		return res, ValidationError{Field: "name", Reason: "required"}
	}
	if !validResourceType(opts.Type) {
		return res, ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", opts.Type)}
	}
	if opts.Status == "" {
		opts.Status = domain.ResourceAvailable
	}
	if !validResourceStatus(opts.Status) {
		return res, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", opts.Status)}
	}
	if opts.Capacity != nil && *opts.Capacity < 0 {
		return res, ValidationError{Field: "capacity", Reason: "must be non-negative"}
	}
	if opts.HourlyCost < 0 {
		return res, ValidationError{Field: "hourly_cost", Reason: "must be non-negative"}
	}
	now := e.nowString()
	res = domain.Resource{
		ID:          uuid.New().String(),
		Name:        opts.Name,
		Type:        opts.Type,
		Status:      opts.Status,
		Capacity:    opts.Capacity,
		HourlyCost:  opts.HourlyCost,
		Description: opts.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, unavailable(err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertResource(ctx, tx, res); err != nil {
		return res, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return res, unavailable(err)
	}
	e.publish(hub.ScopeResources, hub.ResourceCreated, res.ID, map[string]any{
		"name":   res.Name,
		"type":   res.Type,
		"status": res.Status,
	})
	return res, nil
}

func (e Engine) GetResource(ctx context.Context, resourceID string) (domain.Resource, error) {
	return e.Repo.GetResource(ctx, resourceID)
}

// SetResourceStatus changes a resource's status. Any status is reachable from
// any other, but taking an in_use resource out of service while it still has
// open allocations on active orders requires force; forcing leaves the
// allocations open and surfaces a warning instead of blocking.
func (e Engine) SetResourceStatus(ctx context.Context, resourceID, newStatus string, force bool) (domain.Resource, error) {
	var res domain.Resource
	if !validResourceStatus(newStatus) {
		return res, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", newStatus)}
	}
	e.locks.lock(resourceKey(resourceID))
	defer e.locks.unlock(resourceKey(resourceID))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, unavailable(err)
	}
	defer tx.Rollback()

	res, err = e.Repo.GetResourceTx(ctx, tx, resourceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return res, err
		}
		return res, unavailable(err)
	}
	oldStatus := res.Status
	var warning string
	outOfService := newStatus == domain.ResourceMaintenance || newStatus == domain.ResourceUnavailable
	if oldStatus == domain.ResourceInUse && outOfService {
		open, err := e.Repo.OpenAllocationsOnActiveOrdersTx(ctx, tx, resourceID)
		if err != nil {
			return res, unavailable(err)
		}
		if len(open) > 0 {
			if !force {
				return res, ResourceBusyError{ResourceID: resourceID, Requested: newStatus, OpenAllocations: len(open)}
			}
			warning = fmt.Sprintf("forced to %s with %d open allocation(s) on active orders", newStatus, len(open))
			log.Printf("ledger: resource %s %s", resourceID, warning)
		}
	}
	now := e.nowString()
	if err := e.Repo.UpdateResourceStatus(ctx, tx, resourceID, newStatus, now); err != nil {
		return res, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return res, unavailable(err)
	}
	res.Status = newStatus
	res.UpdatedAt = now
	payload := map[string]any{"old_status": oldStatus, "new_status": newStatus}
	if warning != "" {
		payload["warning"] = warning
	}
	e.publish(hub.ScopeResources, hub.ResourceChanged, resourceID, payload)
	return res, nil
}

// AllocateOptions are parameters for committing a resource to an order.
type AllocateOptions struct {
	OrderID    string
	ResourceID string
	Quantity   float64
	Start      time.Time
	End        *time.Time // nil leaves the allocation open
}

// Allocate creates a time-bounded allocation after checking the capacity
// overlap invariant. Resource and order locks are taken in that fixed order;
// Release uses the same order, which rules out deadlock between them.
func (e Engine) Allocate(ctx context.Context, opts AllocateOptions) (domain.ResourceAllocation, error) {
	var a domain.ResourceAllocation
	if opts.Quantity <= 0 {
		return a, ValidationError{Field: "allocated_quantity", Reason: "must be positive"}
	}
	if opts.Start.IsZero() {
		return a, ValidationError{Field: "start_time", Reason: "required"}
	}
	if opts.End != nil && !opts.End.After(opts.Start) {
		return a, ValidationError{Field: "end_time", Reason: "must be after start_time"}
	}
	e.locks.lock(resourceKey(opts.ResourceID))
	defer e.locks.unlock(resourceKey(opts.ResourceID))
	e.locks.lock(orderKey(opts.OrderID))
	defer e.locks.unlock(orderKey(opts.OrderID))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, unavailable(err)
	}
	defer tx.Rollback()

	res, err := e.Repo.GetResourceTx(ctx, tx, opts.ResourceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return a, err
		}
		return a, unavailable(err)
	}
	o, err := e.Repo.GetOrderTx(ctx, tx, opts.OrderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return a, err
		}
		return a, unavailable(err)
	}
	if domain.OrderTerminal(o.Status) {
		return a, ValidationError{Field: "order_id", Reason: fmt.Sprintf("order is %s", o.Status)}
	}
	start := ts(opts.Start)
	var end *string
	if opts.End != nil {
		s := ts(*opts.End)
		end = &s
	}
	if res.Capacity != nil {
		if err := e.checkCapacity(ctx, tx, res, start, end, opts.Quantity); err != nil {
			return a, err
		}
	}
	a = domain.ResourceAllocation{
		ID:                uuid.New().String(),
		OrderID:           opts.OrderID,
		ResourceID:        opts.ResourceID,
		AllocatedQuantity: opts.Quantity,
		StartTime:         start,
		EndTime:           end,
		CreatedAt:         e.nowString(),
	}
	if err := e.Repo.InsertAllocation(ctx, tx, a); err != nil {
		if isUniqueViolation(err) {
			return a, DuplicateKeyError{Field: "allocation", Value: fmt.Sprintf("%s/%s@%s", opts.OrderID, opts.ResourceID, start)}
		}
		return a, unavailable(err)
	}
	statusFlipped := false
	if res.Status == domain.ResourceAvailable {
		if err := e.Repo.UpdateResourceStatus(ctx, tx, res.ID, domain.ResourceInUse, e.nowString()); err != nil {
			return a, unavailable(err)
		}
		statusFlipped = true
	}
	if err := e.Events.Append(ctx, tx, o.ID, events.TypeAllocationCreated, nil, nil, events.Metadata{
		"allocation_id": a.ID,
		"resource_id":   a.ResourceID,
		"quantity":      a.AllocatedQuantity,
		"start_time":    a.StartTime,
	}); err != nil {
		return a, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return a, unavailable(err)
	}
	payload := map[string]any{
		"allocation_id": a.ID,
		"order_id":      a.OrderID,
		"quantity":      a.AllocatedQuantity,
	}
	if statusFlipped {
		payload["new_status"] = domain.ResourceInUse
	}
	e.publish(hub.ScopeResources, hub.AllocationCreated, a.ResourceID, payload)
	return a, nil
}

// checkCapacity enforces the overlap invariant: at no instant may the sum of
// overlapping allocated quantities exceed the resource's capacity. The
// concurrent sum only changes where an interval starts, so it is enough to
// evaluate the candidate instants in a sweep over this resource's overlapping
// allocations ordered by start_time.
func (e Engine) checkCapacity(ctx context.Context, tx *sql.Tx, res domain.Resource, start string, end *string, quantity float64) error {
	overlapping, err := e.Repo.OverlappingAllocationsTx(ctx, tx, res.ID, start, end)
	if err != nil {
		return unavailable(err)
	}
	candidates := []string{start}
	for _, a := range overlapping {
		if a.StartTime > start && (end == nil || a.StartTime < *end) {
			candidates = append(candidates, a.StartTime)
		}
	}
	for _, at := range candidates {
		var inUse float64
		for _, a := range overlapping {
			if a.StartTime <= at && (a.EndTime == nil || *a.EndTime > at) {
				inUse += a.AllocatedQuantity
			}
		}
		if inUse+quantity > *res.Capacity {
			return CapacityExceededError{
				ResourceID: res.ID,
				Capacity:   *res.Capacity,
				InUse:      inUse,
				Requested:  quantity,
				At:         at,
			}
		}
	}
	return nil
}

// Release closes an open allocation. If the configured policy allows it and
// no other open allocation remains, an in_use resource reverts to available.
func (e Engine) Release(ctx context.Context, allocationID string, endTime time.Time) (domain.ResourceAllocation, error) {
	a, err := e.Repo.GetAllocation(ctx, allocationID)
	if err != nil {
		return a, err
	}
	e.locks.lock(resourceKey(a.ResourceID))
	defer e.locks.unlock(resourceKey(a.ResourceID))
	e.locks.lock(orderKey(a.OrderID))
	defer e.locks.unlock(orderKey(a.OrderID))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, unavailable(err)
	}
	defer tx.Rollback()

	// Re-read under the locks; the unlocked read above only located the ids.
	a, err = e.Repo.GetAllocationTx(ctx, tx, allocationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return a, err
		}
		return a, unavailable(err)
	}
	if a.EndTime != nil {
		return a, AlreadyReleasedError{AllocationID: a.ID, EndTime: *a.EndTime}
	}
	end := ts(endTime)
	if end <= a.StartTime {
		return a, ValidationError{Field: "end_time", Reason: "must be after start_time"}
	}
	if err := e.Repo.SetAllocationEndTx(ctx, tx, a.ID, end); err != nil {
		return a, unavailable(err)
	}
	reverted := false
	if e.Config.ReleaseReverts() {
		openCount, err := e.Repo.CountOpenAllocationsTx(ctx, tx, a.ResourceID, a.ID)
		if err != nil {
			return a, unavailable(err)
		}
		if openCount == 0 {
			res, err := e.Repo.GetResourceTx(ctx, tx, a.ResourceID)
			if err != nil {
				return a, unavailable(err)
			}
			// Only in_use reverts; maintenance and unavailable stay put.
			if res.Status == domain.ResourceInUse {
				if err := e.Repo.UpdateResourceStatus(ctx, tx, a.ResourceID, domain.ResourceAvailable, e.nowString()); err != nil {
					return a, unavailable(err)
				}
				reverted = true
			}
		}
	}
	if err := e.Events.Append(ctx, tx, a.OrderID, events.TypeAllocationReleased, nil, nil, events.Metadata{
		"allocation_id": a.ID,
		"resource_id":   a.ResourceID,
		"end_time":      end,
	}); err != nil {
		return a, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return a, unavailable(err)
	}
	a.EndTime = &end
	payload := map[string]any{
		"allocation_id": a.ID,
		"order_id":      a.OrderID,
		"end_time":      end,
	}
	if reverted {
		payload["new_status"] = domain.ResourceAvailable
	}
	e.publish(hub.ScopeResources, hub.AllocationReleased, a.ResourceID, payload)
	return a, nil
}

// Utilization returns the quantity of a resource claimed by allocations whose
// interval contains the instant.
func (e Engine) Utilization(ctx context.Context, resourceID string, at time.Time) (float64, error) {
	if _, err := e.Repo.GetResource(ctx, resourceID); err != nil {
		return 0, err
	}
	return e.Repo.UtilizationAt(ctx, resourceID, ts(at))
}

// ReplayStatus folds an order's event log from pending through its recorded
// transitions. The result must equal the order's stored status; exposed so
// callers and tests can audit the invariant.
func (e Engine) ReplayStatus(ctx context.Context, orderID string) (string, error) {
	if _, err := e.Repo.GetOrder(ctx, orderID); err != nil {
		return "", err
	}
	evts, err := e.Repo.OrderHistoryAsc(ctx, orderID)
	if err != nil {
		return "", err
	}
	status := domain.OrderPending
	for _, evt := range evts {
		if evt.EventType != events.TypeStatusChanged || evt.OldStatus == nil || evt.NewStatus == nil {
			continue
		}
		if *evt.OldStatus != status {
			return "", fmt.Errorf("event %d: gap in log, expected old status %s, got %s", evt.ID, status, *evt.OldStatus)
		}
		status = *evt.NewStatus
	}
	return status, nil
}
