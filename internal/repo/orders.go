package repo

import (
	"context"
	"database/sql"
	"strings"

	"shopfloor/internal/domain"
)

const orderColumns = `id,order_number,product_name,quantity,status,priority,scheduled_start,scheduled_end,actual_start,actual_end,notes,created_at,updated_at`

type orderScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row orderScanner) (domain.ProductionOrder, error) {
	var o domain.ProductionOrder
	var schedStart, schedEnd, actStart, actEnd, notes sql.NullString
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ProductName, &o.Quantity, &o.Status, &o.Priority,
		&schedStart, &schedEnd, &actStart, &actEnd, &notes, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if schedStart.Valid {
		o.ScheduledStart = &schedStart.String
	}
	if schedEnd.Valid {
		o.ScheduledEnd = &schedEnd.String
	}
	if actStart.Valid {
		o.ActualStart = &actStart.String
	}
	if actEnd.Valid {
		o.ActualEnd = &actEnd.String
	}
	if notes.Valid {
		o.Notes = notes.String
	}
	return o, nil
}

func (r Repo) InsertOrder(ctx context.Context, tx *sql.Tx, o domain.ProductionOrder) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO production_orders(`+orderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.OrderNumber, o.ProductName, o.Quantity, o.Status, o.Priority,
		nullableStringPtr(o.ScheduledStart), nullableStringPtr(o.ScheduledEnd),
		nullableStringPtr(o.ActualStart), nullableStringPtr(o.ActualEnd),
		nullable(o.Notes), o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) UpdateOrder(ctx context.Context, tx *sql.Tx, o domain.ProductionOrder) error {
	_, err := tx.ExecContext(ctx, `UPDATE production_orders SET product_name=?, quantity=?, status=?, priority=?, scheduled_start=?, scheduled_end=?, actual_start=?, actual_end=?, notes=?, updated_at=? WHERE id=?`,
		o.ProductName, o.Quantity, o.Status, o.Priority,
		nullableStringPtr(o.ScheduledStart), nullableStringPtr(o.ScheduledEnd),
		nullableStringPtr(o.ActualStart), nullableStringPtr(o.ActualEnd),
		nullable(o.Notes), o.UpdatedAt, o.ID)
	return err
}

func (r Repo) GetOrder(ctx context.Context, id string) (domain.ProductionOrder, error) {
	return scanOrder(r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM production_orders WHERE id=?`, id))
}

func (r Repo) GetOrderTx(ctx context.Context, tx *sql.Tx, id string) (domain.ProductionOrder, error) {
	return scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM production_orders WHERE id=?`, id))
}

// OrderNumberExistsTx checks the unique key inside the create transaction. The
// UNIQUE index remains the backstop for writers racing on different order ids.
func (r Repo) OrderNumberExistsTx(ctx context.Context, tx *sql.Tx, orderNumber string) (bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT 1 FROM production_orders WHERE order_number=? LIMIT 1`, orderNumber)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), nil
}

type OrderFilters struct {
	Status          string
	Priority        int
	ScheduledAfter  string
	ScheduledBefore string
	Sort            string // created_at (default), priority, scheduled_start
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.ProductionOrder, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority > 0 {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.ScheduledAfter != "" {
		clauses = append(clauses, "scheduled_start >= ?")
		args = append(args, f.ScheduledAfter)
	}
	if f.ScheduledBefore != "" {
		clauses = append(clauses, "scheduled_start < ?")
		args = append(args, f.ScheduledBefore)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	order := "ORDER BY created_at DESC, id DESC"
	switch f.Sort {
	case "priority":
		order = "ORDER BY priority DESC, created_at DESC, id DESC"
	case "scheduled_start":
		order = "ORDER BY scheduled_start ASC, id ASC"
	}
	query := `SELECT ` + orderColumns + ` FROM production_orders ` + where + ` ` + order
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProductionOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) CountOrdersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM production_orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) CountOrdersByPriority(ctx context.Context) (map[int]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT priority, count(*) FROM production_orders GROUP BY priority`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[int]int{}
	for rows.Next() {
		var priority, count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		res[priority] = count
	}
	return res, rows.Err()
}
