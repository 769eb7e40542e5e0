package repo

import (
	"context"
	"database/sql"
	"strings"

	"shopfloor/internal/domain"
)

const resourceColumns = `id,name,type,status,capacity,hourly_cost,description,created_at,updated_at`

func scanResource(row orderScanner) (domain.Resource, error) {
	var res domain.Resource
	var capacity sql.NullFloat64
	var description sql.NullString
	err := row.Scan(&res.ID, &res.Name, &res.Type, &res.Status, &capacity, &res.HourlyCost, &description, &res.CreatedAt, &res.UpdatedAt)
	if err == sql.ErrNoRows {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	if capacity.Valid {
		res.Capacity = &capacity.Float64
	}
	if description.Valid {
		res.Description = description.String
	}
	return res, nil
}

func (r Repo) InsertResource(ctx context.Context, tx *sql.Tx, res domain.Resource) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resources(`+resourceColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		res.ID, res.Name, res.Type, res.Status, nullableFloatPtr(res.Capacity), res.HourlyCost,
		nullable(res.Description), res.CreatedAt, res.UpdatedAt)
	return err
}

func (r Repo) UpdateResourceStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE resources SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	return scanResource(r.DB.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=?`, id))
}

func (r Repo) GetResourceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Resource, error) {
	return scanResource(tx.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id=?`, id))
}

type ResourceFilters struct {
	Type   string
	Status string
	Limit  int
}

func (r Repo) ListResources(ctx context.Context, f ResourceFilters) ([]domain.Resource, error) {
	var clauses []string
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + resourceColumns + ` FROM resources ` + where + ` ORDER BY name ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Resource
	for rows.Next() {
		item, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}
