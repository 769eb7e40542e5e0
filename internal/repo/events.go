package repo

import (
	"context"
	"database/sql"
	"strings"

	"shopfloor/internal/domain"
)

const eventColumns = `id,order_id,event_type,old_status,new_status,metadata,created_at`

func scanEvent(row orderScanner) (domain.OrderEvent, error) {
	var e domain.OrderEvent
	var oldStatus, newStatus sql.NullString
	err := row.Scan(&e.ID, &e.OrderID, &e.EventType, &oldStatus, &newStatus, &e.Metadata, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if oldStatus.Valid {
		e.OldStatus = &oldStatus.String
	}
	if newStatus.Valid {
		e.NewStatus = &newStatus.String
	}
	return e, nil
}

// OrderHistory returns an order's events most recent first. Paginate by passing
// the (created_at, id) of the last row seen; the cursor restarts the scan there
// rather than truncating history at a fixed limit.
func (r Repo) OrderHistory(ctx context.Context, orderID string, limit int, cursorCreatedAt string, cursorID int64) ([]domain.OrderEvent, error) {
	clauses := []string{"order_id=?"}
	args := []any{orderID}
	if cursorCreatedAt != "" && cursorID > 0 {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT ` + eventColumns + ` FROM order_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrderEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// OrderHistoryAsc returns the full event sequence oldest first, the replay order.
func (r Repo) OrderHistoryAsc(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM order_events WHERE order_id=? ORDER BY created_at ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrderEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order. Drives the webhook dispatcher.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.OrderEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM order_events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrderEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM order_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
