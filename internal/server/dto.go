package server

import (
	"encoding/json"

	"shopfloor/internal/domain"
)

// Request payloads

type CreateOrderRequest struct {
	OrderNumber    string  `json:"order_number"`
	ProductName    string  `json:"product_name"`
	Quantity       int     `json:"quantity"`
	Priority       *int    `json:"priority,omitempty"`
	ScheduledStart *string `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty" format:"date-time"`
	Notes          *string `json:"notes,omitempty"`
}

type UpdateOrderRequest struct {
	Notes          *string `json:"notes,omitempty"`
	ScheduledStart *string `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty" format:"date-time"`
}

type SetOrderStatusRequest struct {
	Status string `json:"status" enum:"pending,scheduled,in_progress,completed,cancelled"`
}

type CreateResourceRequest struct {
	Name        string   `json:"name"`
	Type        string   `json:"type" enum:"machine,worker,material"`
	Status      *string  `json:"status,omitempty" enum:"available,in_use,maintenance,unavailable"`
	Capacity    *float64 `json:"capacity,omitempty"`
	HourlyCost  *float64 `json:"hourly_cost,omitempty"`
	Description *string  `json:"description,omitempty"`
}

type SetResourceStatusRequest struct {
	Status string `json:"status" enum:"available,in_use,maintenance,unavailable"`
}

type CreateAllocationRequest struct {
	OrderID           string  `json:"order_id"`
	ResourceID        string  `json:"resource_id"`
	AllocatedQuantity float64 `json:"allocated_quantity"`
	StartTime         string  `json:"start_time" format:"date-time"`
	EndTime           *string `json:"end_time,omitempty" format:"date-time"`
}

type ReleaseAllocationRequest struct {
	EndTime *string `json:"end_time,omitempty" format:"date-time"`
}

// Response payloads

type OrderResponse struct {
	ID             string  `json:"id"`
	OrderNumber    string  `json:"order_number"`
	ProductName    string  `json:"product_name"`
	Quantity       int     `json:"quantity"`
	Status         string  `json:"status" enum:"pending,scheduled,in_progress,completed,cancelled"`
	Priority       int     `json:"priority"`
	ScheduledStart *string `json:"scheduled_start,omitempty" format:"date-time"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty" format:"date-time"`
	ActualStart    *string `json:"actual_start,omitempty" format:"date-time"`
	ActualEnd      *string `json:"actual_end,omitempty" format:"date-time"`
	Notes          string  `json:"notes,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type ResourceResponse struct {
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

type AllocationResponse struct {
	ID                string  `json:"id"`
	OrderID           string  `json:"order_id"`
	ResourceID        string  `json:"resource_id"`
	AllocatedQuantity float64 `json:"allocated_quantity"`
	StartTime         string  `json:"start_time" format:"date-time"`
	EndTime           *string `json:"end_time,omitempty" format:"date-time"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	OrderID   string         `json:"order_id"`
	EventType string         `json:"event_type"`
	OldStatus *string        `json:"old_status,omitempty"`
	NewStatus *string        `json:"new_status,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type UtilizationResponse struct {
	ResourceID string  `json:"resource_id"`
	At         string  `json:"at" format:"date-time"`
	InUse      float64 `json:"in_use"`
}

type paginatedOrders struct {
	Items      []OrderResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type OrderDetailResponse struct {
	Order       OrderResponse        `json:"order"`
	Allocations []AllocationResponse `json:"allocations"`
	Events      []EventResponse      `json:"events"`
}

func orderResponse(o domain.ProductionOrder) OrderResponse {
	return OrderResponse{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		ProductName:    o.ProductName,
		Quantity:       o.Quantity,
		Status:         o.Status,
		Priority:       o.Priority,
		ScheduledStart: o.ScheduledStart,
		ScheduledEnd:   o.ScheduledEnd,
		ActualStart:    o.ActualStart,
		ActualEnd:      o.ActualEnd,
		Notes:          o.Notes,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func mapOrders(items []domain.ProductionOrder) []OrderResponse {
	out := make([]OrderResponse, 0, len(items))
	for _, o := range items {
		out = append(out, orderResponse(o))
	}
	return out
}

func resourceResponse(r domain.Resource) ResourceResponse {
	return ResourceResponse{
		ID:          r.ID,
		Name:        r.Name,
		Type:        r.Type,
		Status:      r.Status,
		Capacity:    r.Capacity,
		HourlyCost:  r.HourlyCost,
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func mapResources(items []domain.Resource) []ResourceResponse {
	out := make([]ResourceResponse, 0, len(items))
	for _, r := range items {
		out = append(out, resourceResponse(r))
	}
	return out
}

func allocationResponse(a domain.ResourceAllocation) AllocationResponse {
	return AllocationResponse{
		ID:                a.ID,
		OrderID:           a.OrderID,
		ResourceID:        a.ResourceID,
		AllocatedQuantity: a.AllocatedQuantity,
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		CreatedAt:         a.CreatedAt,
	}
}

func mapAllocations(items []domain.ResourceAllocation) []AllocationResponse {
	out := make([]AllocationResponse, 0, len(items))
	for _, a := range items {
		out = append(out, allocationResponse(a))
	}
	return out
}

func eventResponse(e domain.OrderEvent) EventResponse {
	var meta map[string]any
	if e.Metadata != "" {
		_ = json.Unmarshal([]byte(e.Metadata), &meta)
	}
	return EventResponse{
		ID:        e.ID,
		OrderID:   e.OrderID,
		EventType: e.EventType,
		OldStatus: e.OldStatus,
		NewStatus: e.NewStatus,
		Metadata:  meta,
		CreatedAt: e.CreatedAt,
	}
}

func mapEvents(items []domain.OrderEvent) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
