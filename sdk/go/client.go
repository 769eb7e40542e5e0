package shopfloorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Shopfloor HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Order represents the API production order model.
type Order struct {
	ID             string  `json:"id"`
	OrderNumber    string  `json:"order_number"`
	ProductName    string  `json:"product_name"`
	Quantity       int     `json:"quantity"`
	Status         string  `json:"status"`
	Priority       int     `json:"priority"`
	ScheduledStart *string `json:"scheduled_start,omitempty"`
	ScheduledEnd   *string `json:"scheduled_end,omitempty"`
	ActualStart    *string `json:"actual_start,omitempty"`
	ActualEnd      *string `json:"actual_end,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// Resource represents the API resource model.
type Resource struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Status      string   `json:"status"`
	Capacity    *float64 `json:"capacity,omitempty"`
	HourlyCost  float64  `json:"hourly_cost"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// Allocation represents a resource allocation.
type Allocation struct {
	ID                string  `json:"id"`
	OrderID           string  `json:"order_id"`
	ResourceID        string  `json:"resource_id"`
	AllocatedQuantity float64 `json:"allocated_quantity"`
	StartTime         string  `json:"start_time"`
	EndTime           *string `json:"end_time,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID        int64          `json:"id"`
	OrderID   string         `json:"order_id"`
	EventType string         `json:"event_type"`
	OldStatus *string        `json:"old_status,omitempty"`
	NewStatus *string        `json:"new_status,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedOrders wraps list responses with cursors.
type PaginatedOrders struct {
	Items      []Order `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// OrderDetail is an order with its allocations and recent events.
type OrderDetail struct {
	Order       Order        `json:"order"`
	Allocations []Allocation `json:"allocations"`
	Events      []Event      `json:"events"`
}

// CreateOrder creates a production order.
func (c *Client) CreateOrder(ctx context.Context, orderNumber, productName string, quantity int) (Order, error) {
	body := map[string]any{
		"order_number": orderNumber,
		"product_name": productName,
		"quantity":     quantity,
	}
	var resp Order
	err := c.do(ctx, http.MethodPost, "v0/orders", body, &resp)
	return resp, err
}

// GetOrder fetches an order with its allocations and recent events.
func (c *Client) GetOrder(ctx context.Context, id string) (OrderDetail, error) {
	var resp OrderDetail
	err := c.do(ctx, http.MethodGet, "v0/orders/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SetOrderStatus transitions an order.
func (c *Client) SetOrderStatus(ctx context.Context, id, status string) (Order, error) {
	var resp Order
	endpoint := fmt.Sprintf("v0/orders/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Orders returns a paginated order listing.
func (c *Client) Orders(ctx context.Context, status string, limit int, cursor string) (PaginatedOrders, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/orders"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedOrders
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// OrderEvents returns an order's history, newest first.
func (c *Client) OrderEvents(ctx context.Context, id string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := fmt.Sprintf("v0/orders/%s/events", url.PathEscape(id))
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateResource registers a resource. Pass a nil capacity for unlimited.
func (c *Client) CreateResource(ctx context.Context, name, resourceType string, capacity *float64) (Resource, error) {
	body := map[string]any{
		"name": name,
		"type": resourceType,
	}
	if capacity != nil {
		body["capacity"] = *capacity
	}
	var resp Resource
	err := c.do(ctx, http.MethodPost, "v0/resources", body, &resp)
	return resp, err
}

// Allocate commits a resource quantity to an order starting at start
// (RFC 3339). An empty end leaves the allocation open.
func (c *Client) Allocate(ctx context.Context, orderID, resourceID string, quantity float64, start, end string) (Allocation, error) {
	body := map[string]any{
		"order_id":           orderID,
		"resource_id":        resourceID,
		"allocated_quantity": quantity,
		"start_time":         start,
	}
	if end != "" {
		body["end_time"] = end
	}
	var resp Allocation
	err := c.do(ctx, http.MethodPost, "v0/allocations", body, &resp)
	return resp, err
}

// Release closes an open allocation. An empty end releases at server time.
func (c *Client) Release(ctx context.Context, allocationID, end string) (Allocation, error) {
	body := map[string]any{}
	if end != "" {
		body["end_time"] = end
	}
	var resp Allocation
	endpoint := fmt.Sprintf("v0/allocations/%s/release", url.PathEscape(allocationID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
