package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the order log. Only TypeStatusChanged rows carry
// old/new status; the rest are non-status audit entries.
const (
	TypeStatusChanged      = "order.status_changed"
	TypeOrderUpdated       = "order.updated"
	TypeAllocationCreated  = "allocation.created"
	TypeAllocationReleased = "allocation.released"
)

// Writer appends rows to the order event log. Append must run inside the same
// transaction as the mutation it records so the log can never desynchronize
// from order state.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Metadata map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, orderID, eventType string, oldStatus, newStatus *string, meta Metadata) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if meta == nil {
		meta = Metadata{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO order_events(order_id,event_type,old_status,new_status,metadata,created_at) VALUES (?,?,?,?,?,?)`,
		orderID, eventType, nullable(oldStatus), nullable(newStatus), string(data), ts)
	return err
}

func nullable(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
