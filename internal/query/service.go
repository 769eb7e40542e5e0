// Package query is the read-side facade: filtered listings, order detail with
// history, and aggregate statistics. Reads never take entity locks; they see
// whatever the last committed transaction left behind.
package query

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"shopfloor/internal/domain"
	"shopfloor/internal/repo"
)

type Service struct {
	Repo repo.Repo
}

func New(db *sql.DB) Service {
	return Service{Repo: repo.Repo{DB: db}}
}

const (
	readRetries    = 3
	readRetryDelay = 25 * time.Millisecond
)

func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry re-runs a read a few times when the database is briefly locked by
// a writer. Reads are side-effect free so retrying is safe.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < readRetries; i++ {
		if err = fn(); !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readRetryDelay << i):
		}
	}
	return err
}

func (s Service) ListOrders(ctx context.Context, f repo.OrderFilters) ([]domain.ProductionOrder, error) {
	var out []domain.ProductionOrder
	err := withRetry(ctx, func() error {
		var err error
		out, err = s.Repo.ListOrders(ctx, f)
		return err
	})
	return out, err
}

func (s Service) ListResources(ctx context.Context, f repo.ResourceFilters) ([]domain.Resource, error) {
	var out []domain.Resource
	err := withRetry(ctx, func() error {
		var err error
		out, err = s.Repo.ListResources(ctx, f)
		return err
	})
	return out, err
}

// OrderDetail is an order with its allocations and most recent events.
type OrderDetail struct {
	Order       domain.ProductionOrder      `json:"order"`
	Allocations []domain.ResourceAllocation `json:"allocations"`
	Events      []domain.OrderEvent         `json:"events"`
}

func (s Service) GetOrderDetail(ctx context.Context, orderID string, eventLimit int) (OrderDetail, error) {
	var d OrderDetail
	err := withRetry(ctx, func() error {
		o, err := s.Repo.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		allocs, err := s.Repo.ListAllocationsForOrder(ctx, orderID)
		if err != nil {
			return err
		}
		evts, err := s.Repo.OrderHistory(ctx, orderID, eventLimit, "", 0)
		if err != nil {
			return err
		}
		d = OrderDetail{Order: o, Allocations: allocs, Events: evts}
		return nil
	})
	return d, err
}

// OrderHistory pages an order's event log newest-first with a keyset cursor.
func (s Service) OrderHistory(ctx context.Context, orderID string, limit int, cursorCreatedAt string, cursorID int64) ([]domain.OrderEvent, error) {
	var out []domain.OrderEvent
	err := withRetry(ctx, func() error {
		if _, err := s.Repo.GetOrder(ctx, orderID); err != nil {
			return err
		}
		var err error
		out, err = s.Repo.OrderHistory(ctx, orderID, limit, cursorCreatedAt, cursorID)
		return err
	})
	return out, err
}

func (s Service) AllocationsForResource(ctx context.Context, resourceID string) ([]domain.ResourceAllocation, error) {
	var out []domain.ResourceAllocation
	err := withRetry(ctx, func() error {
		if _, err := s.Repo.GetResource(ctx, resourceID); err != nil {
			return err
		}
		var err error
		out, err = s.Repo.ListAllocationsForResource(ctx, resourceID)
		return err
	})
	return out, err
}

// Stats is a point-in-time operational summary.
type Stats struct {
	OrdersByStatus    map[string]int     `json:"orders_by_status"`
	OrdersByPriority  map[int]int        `json:"orders_by_priority"`
	UtilizationByType map[string]float64 `json:"utilization_by_type"`
	GeneratedAt       string             `json:"generated_at"`
}

func (s Service) Stats(ctx context.Context, at time.Time) (Stats, error) {
	var st Stats
	err := withRetry(ctx, func() error {
		byStatus, err := s.Repo.CountOrdersByStatus(ctx)
		if err != nil {
			return err
		}
		byPriority, err := s.Repo.CountOrdersByPriority(ctx)
		if err != nil {
			return err
		}
		util, err := s.Repo.UtilizationByType(ctx, at.UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
		st = Stats{
			OrdersByStatus:    byStatus,
			OrdersByPriority:  byPriority,
			UtilizationByType: util,
			GeneratedAt:       at.UTC().Format(time.RFC3339),
		}
		return nil
	})
	return st, err
}
