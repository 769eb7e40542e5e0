package repo

import (
	"context"
	"database/sql"

	"shopfloor/internal/domain"
)

const allocationColumns = `id,order_id,resource_id,allocated_quantity,start_time,end_time,created_at`

func scanAllocation(row orderScanner) (domain.ResourceAllocation, error) {
	var a domain.ResourceAllocation
	var endTime sql.NullString
	err := row.Scan(&a.ID, &a.OrderID, &a.ResourceID, &a.AllocatedQuantity, &a.StartTime, &endTime, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if endTime.Valid {
		a.EndTime = &endTime.String
	}
	return a, nil
}

func (r Repo) InsertAllocation(ctx context.Context, tx *sql.Tx, a domain.ResourceAllocation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resource_allocations(`+allocationColumns+`) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.OrderID, a.ResourceID, a.AllocatedQuantity, a.StartTime, nullableStringPtr(a.EndTime), a.CreatedAt)
	return err
}

func (r Repo) GetAllocation(ctx context.Context, id string) (domain.ResourceAllocation, error) {
	return scanAllocation(r.DB.QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM resource_allocations WHERE id=?`, id))
}

func (r Repo) GetAllocationTx(ctx context.Context, tx *sql.Tx, id string) (domain.ResourceAllocation, error) {
	return scanAllocation(tx.QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM resource_allocations WHERE id=?`, id))
}

func (r Repo) SetAllocationEndTx(ctx context.Context, tx *sql.Tx, id, endTime string) error {
	res, err := tx.ExecContext(ctx, `UPDATE resource_allocations SET end_time=? WHERE id=?`, endTime, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAllocationsForOrder(ctx context.Context, orderID string) ([]domain.ResourceAllocation, error) {
	return r.listAllocations(ctx, `SELECT `+allocationColumns+` FROM resource_allocations WHERE order_id=? ORDER BY start_time ASC, id ASC`, orderID)
}

func (r Repo) ListAllocationsForResource(ctx context.Context, resourceID string) ([]domain.ResourceAllocation, error) {
	return r.listAllocations(ctx, `SELECT `+allocationColumns+` FROM resource_allocations WHERE resource_id=? ORDER BY start_time ASC, id ASC`, resourceID)
}

func (r Repo) listAllocations(ctx context.Context, query string, args ...any) ([]domain.ResourceAllocation, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResourceAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// OverlappingAllocationsTx returns the resource's allocations whose
// [start_time, end_time) interval intersects [start, end), ordered by
// start_time. A nil end on either side means the interval is open-ended.
// The (resource_id, start_time) index keeps this proportional to the
// resource's own allocations.
func (r Repo) OverlappingAllocationsTx(ctx context.Context, tx *sql.Tx, resourceID, start string, end *string) ([]domain.ResourceAllocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM resource_allocations
WHERE resource_id=? AND (end_time IS NULL OR end_time > ?)`
	args := []any{resourceID, start}
	if end != nil {
		query += ` AND start_time < ?`
		args = append(args, *end)
	}
	query += ` ORDER BY start_time ASC, id ASC`
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResourceAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// OpenAllocationsOnActiveOrdersTx returns allocations with no end_time whose
// owning order is not in a terminal state. Used for the resource-busy guard.
func (r Repo) OpenAllocationsOnActiveOrdersTx(ctx context.Context, tx *sql.Tx, resourceID string) ([]domain.ResourceAllocation, error) {
	rows, err := tx.QueryContext(ctx, `SELECT a.id,a.order_id,a.resource_id,a.allocated_quantity,a.start_time,a.end_time,a.created_at
FROM resource_allocations a
JOIN production_orders o ON o.id = a.order_id
WHERE a.resource_id=? AND a.end_time IS NULL AND o.status NOT IN ('completed','cancelled')
ORDER BY a.start_time ASC, a.id ASC`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ResourceAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) CountOpenAllocationsTx(ctx context.Context, tx *sql.Tx, resourceID, excludeID string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM resource_allocations WHERE resource_id=? AND end_time IS NULL AND id != ?`,
		resourceID, excludeID).Scan(&count)
	return count, err
}

// UtilizationAt sums allocated quantity over the resource's allocations whose
// interval contains the instant.
func (r Repo) UtilizationAt(ctx context.Context, resourceID, at string) (float64, error) {
	var total sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT SUM(allocated_quantity) FROM resource_allocations
WHERE resource_id=? AND start_time <= ? AND (end_time IS NULL OR end_time > ?)`, resourceID, at, at).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}

// UtilizationByType aggregates in-use quantity per resource type at an instant.
func (r Repo) UtilizationByType(ctx context.Context, at string) (map[string]float64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT res.type, COALESCE(SUM(a.allocated_quantity),0)
FROM resources res
LEFT JOIN resource_allocations a
  ON a.resource_id = res.id AND a.start_time <= ? AND (a.end_time IS NULL OR a.end_time > ?)
GROUP BY res.type`, at, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]float64{}
	for rows.Next() {
		var typ string
		var total float64
		if err := rows.Scan(&typ, &total); err != nil {
			return nil, err
		}
		res[typ] = total
	}
	return res, rows.Err()
}
