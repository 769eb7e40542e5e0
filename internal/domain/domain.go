package domain

// Order statuses. Orders start in pending and end in completed or cancelled.
const (
	OrderPending    = "pending"
	OrderScheduled  = "scheduled"
	OrderInProgress = "in_progress"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
)

// OrderTerminal reports whether a status has no outgoing transitions.
func OrderTerminal(status string) bool {
	return status == OrderCompleted || status == OrderCancelled
}

// Resource types.
const (
	ResourceMachine  = "machine"
	ResourceWorker   = "worker"
	ResourceMaterial = "material"
)

// Resource statuses. Not a state machine: any status is reachable from any
// other, subject to the open-allocation guard in the engine.
const (
	ResourceAvailable   = "available"
	ResourceInUse       = "in_use"
	ResourceMaintenance = "maintenance"
	ResourceUnavailable = "unavailable"
)

type ProductionOrder struct {
	ID             string  `json:"id"`
	OrderNumber    string  `json:"order_number"`
	ProductName    string  `json:"product_name"`
	Quantity       int     `json:"quantity" minimum:"1"`
	Status         string  `json:"status" enum:"pending,scheduled,in_progress,completed,cancelled"`
	Priority       int     `json:"priority" minimum:"1" maximum:"5"`
	ScheduledStart *string `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty" format:"date-time"`
	ActualStart    *string `json:"actual_start,omitempty" format:"date-time"`
	ActualEnd      *string `json:"actual_end,omitempty" format:"date-time"`
	Notes          string  `json:"notes,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type Resource struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type" enum:"machine,worker,material"`
	Status      string   `json:"status" enum:"available,in_use,maintenance,unavailable"`
	Capacity    *float64 `json:"capacity,omitempty"`
	HourlyCost  float64  `json:"hourly_cost"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

// ResourceAllocation is a time-bounded claim of a quantity of a resource by an
// order. EndTime is nil while the allocation is open.
type ResourceAllocation struct {
	ID                string  `json:"id"`
	OrderID           string  `json:"order_id"`
	ResourceID        string  `json:"resource_id"`
	AllocatedQuantity float64 `json:"allocated_quantity"`
	StartTime         string  `json:"start_time" format:"date-time"`
	EndTime           *string `json:"end_time,omitempty" format:"date-time"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

// OrderEvent is one row of the append-only per-order audit log. OldStatus and
// NewStatus are nil for events that are not status transitions.
type OrderEvent struct {
	ID        int64   `json:"id"`
	OrderID   string  `json:"order_id"`
	EventType string  `json:"event_type"`
	OldStatus *string `json:"old_status,omitempty"`
	NewStatus *string `json:"new_status,omitempty"`
	Metadata  string  `json:"metadata_json"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}
