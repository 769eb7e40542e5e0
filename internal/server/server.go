// Package server exposes the HTTP API: order lifecycle commands, resource and
// allocation management, the query surface, and the live notification stream.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"shopfloor/internal/config"
	"shopfloor/internal/engine"
	"shopfloor/internal/hub"
	"shopfloor/internal/query"
	"shopfloor/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Query    query.Service
	Hub      *hub.Hub
	BasePath string
	Webhooks []config.WebhookConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"order cannot move from completed to scheduled"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Shopfloor API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	hcfg := huma.DefaultConfig("Shopfloor API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerOrders(group, cfg.Engine, cfg.Query)
	registerResources(group, cfg.Engine, cfg.Query)
	registerAllocations(group, cfg.Engine, cfg.Query)
	registerStats(group, cfg.Query)
	registerStream(router, basePath, cfg.Hub)
	registerOpenAPI(router, api, basePath)
	startWebhookDispatcher(cfg.Engine, cfg.Webhooks)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var de engine.DuplicateKeyError
	if errors.As(err, &de) {
		return newAPIError(http.StatusConflict, "duplicate", err.Error(), map[string]any{"field": de.Field, "value": de.Value})
	}
	var te engine.InvalidTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"current": te.Current, "requested": te.Requested,
		})
	}
	var ce engine.CapacityExceededError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "capacity_exceeded", err.Error(), map[string]any{
			"resource_id": ce.ResourceID, "capacity": ce.Capacity, "in_use": ce.InUse, "requested": ce.Requested, "at": ce.At,
		})
	}
	var be engine.ResourceBusyError
	if errors.As(err, &be) {
		return newAPIError(http.StatusConflict, "resource_busy", err.Error(), map[string]any{
			"resource_id": be.ResourceID, "open_allocations": be.OpenAllocations,
		})
	}
	var re engine.AlreadyReleasedError
	if errors.As(err, &re) {
		return newAPIError(http.StatusConflict, "already_released", err.Error(), map[string]any{
			"allocation_id": re.AllocationID, "end_time": re.EndTime,
		})
	}
	if errors.Is(err, engine.ErrUnavailable) {
		return newAPIError(http.StatusServiceUnavailable, "unavailable", "storage unavailable", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

// Cursors are opaque base64 of "created_at|id".
func composeCursor(createdAt string, id any) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("%s|%v", createdAt, id)))
}

func parseCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed cursor")
	}
	return parts[0], parts[1], nil
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, engine.ValidationError{Field: field, Reason: "must be RFC 3339"}
	}
	return t, nil
}

func parseTimePtr(field string, value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := parseTime(field, *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Shopfloor API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerOrders(api huma.API, e engine.Engine, q query.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Create production order",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOrderRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		opts := engine.OrderCreateOptions{
			OrderNumber: input.Body.OrderNumber,
			ProductName: input.Body.ProductName,
			Quantity:    input.Body.Quantity,
			Notes:       stringOrEmpty(input.Body.Notes),
		}
		if input.Body.Priority != nil {
			opts.Priority = *input.Body.Priority
		}
		var err error
		if opts.ScheduledStart, err = parseTimePtr("scheduled_start", input.Body.ScheduledStart); err != nil {
			return nil, handleError(err)
		}
		if opts.ScheduledEnd, err = parseTimePtr("scheduled_end", input.Body.ScheduledEnd); err != nil {
			return nil, handleError(err)
		}
		o, err := e.CreateOrder(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List orders",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status"`
		Priority        int    `query:"priority"`
		ScheduledAfter  string `query:"scheduled_after"`
		ScheduledBefore string `query:"scheduled_before"`
		Sort            string `query:"sort" enum:"created_at,priority,scheduled_start" default:"created_at"`
		Limit           int    `query:"limit" default:"50"`
		Cursor          string `query:"cursor"`
	}) (*struct {
		Body paginatedOrders `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := q.ListOrders(ctx, repo.OrderFilters{
			Status:          input.Status,
			Priority:        input.Priority,
			ScheduledAfter:  input.ScheduledAfter,
			ScheduledBefore: input.ScheduledBefore,
			Sort:            input.Sort,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedOrders{Items: []OrderResponse{}}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = mapOrders(items)
		return &struct {
			Body paginatedOrders `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{id}",
		Summary:     "Get order with allocations and recent events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body OrderDetailResponse `json:"body"`
	}, error) {
		d, err := q.GetOrderDetail(ctx, input.ID, 20)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderDetailResponse `json:"body"`
		}{Body: OrderDetailResponse{
			Order:       orderResponse(d.Order),
			Allocations: mapAllocations(d.Allocations),
			Events:      mapEvents(d.Events),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-order",
		Method:      http.MethodPatch,
		Path:        "/orders/{id}",
		Summary:     "Update order notes or schedule",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateOrderRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		opts := engine.OrderUpdateOptions{ID: input.ID, Notes: input.Body.Notes}
		var err error
		if opts.ScheduledStart, err = parseTimePtr("scheduled_start", input.Body.ScheduledStart); err != nil {
			return nil, handleError(err)
		}
		if opts.ScheduledEnd, err = parseTimePtr("scheduled_end", input.Body.ScheduledEnd); err != nil {
			return nil, handleError(err)
		}
		o, err := e.UpdateOrder(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-order-status",
		Method:      http.MethodPatch,
		Path:        "/orders/{id}/status",
		Summary:     "Transition order status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body SetOrderStatusRequest `json:"body"`
	}) (*struct {
		Body OrderResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		o, err := e.ChangeStatus(ctx, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrderResponse `json:"body"`
		}{Body: orderResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "order-history",
		Method:      http.MethodGet,
		Path:        "/orders/{id}/events",
		Summary:     "Order event history, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, rawID, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		var cursorID int64
		if rawID != "" {
			if cursorID, err = strconv.ParseInt(rawID, 10, 64); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
		}
		items, err := q.OrderHistory(ctx, input.ID, limit+1, cursorCreated, cursorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = mapEvents(items)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerResources(api huma.API, e engine.Engine, q query.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-resource",
		Method:        http.MethodPost,
		Path:          "/resources",
		Summary:       "Register resource",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateResourceRequest `json:"body"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		opts := engine.ResourceCreateOptions{
			Name:        input.Body.Name,
			Type:        input.Body.Type,
			Status:      stringOrEmpty(input.Body.Status),
			Capacity:    input.Body.Capacity,
			Description: stringOrEmpty(input.Body.Description),
		}
		if input.Body.HourlyCost != nil {
			opts.HourlyCost = *input.Body.HourlyCost
		}
		res, err := e.CreateResource(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-resources",
		Method:      http.MethodGet,
		Path:        "/resources",
		Summary:     "List resources",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Status string `query:"status"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ResourceResponse `json:"body"`
	}, error) {
		items, err := q.ListResources(ctx, repo.ResourceFilters{
			Type:   input.Type,
			Status: input.Status,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ResourceResponse `json:"body"`
		}{Body: mapResources(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-resource",
		Method:      http.MethodGet,
		Path:        "/resources/{id}",
		Summary:     "Get resource",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		res, err := e.GetResource(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-resource-status",
		Method:      http.MethodPatch,
		Path:        "/resources/{id}/status",
		Summary:     "Change resource status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID    string                   `path:"id"`
		Force bool                     `query:"force"`
		Body  SetResourceStatusRequest `json:"body"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		res, err := e.SetResourceStatus(ctx, input.ID, input.Body.Status, input.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resource-allocations",
		Method:      http.MethodGet,
		Path:        "/resources/{id}/allocations",
		Summary:     "Allocations on a resource",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []AllocationResponse `json:"body"`
	}, error) {
		items, err := q.AllocationsForResource(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AllocationResponse `json:"body"`
		}{Body: mapAllocations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resource-utilization",
		Method:      http.MethodGet,
		Path:        "/resources/{id}/utilization",
		Summary:     "Quantity in use at an instant",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
		At string `query:"at"`
	}) (*struct {
		Body UtilizationResponse `json:"body"`
	}, error) {
		at := time.Now()
		if input.At != "" {
			var err error
			if at, err = parseTime("at", input.At); err != nil {
				return nil, handleError(err)
			}
		}
		inUse, err := e.Utilization(ctx, input.ID, at)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UtilizationResponse `json:"body"`
		}{Body: UtilizationResponse{
			ResourceID: input.ID,
			At:         at.UTC().Format(time.RFC3339),
			InUse:      inUse,
		}}, nil
	})
}

func registerAllocations(api huma.API, e engine.Engine, q query.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-allocation",
		Method:        http.MethodPost,
		Path:          "/allocations",
		Summary:       "Allocate a resource to an order",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAllocationRequest `json:"body"`
	}) (*struct {
		Body AllocationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.OrderID == "" || input.Body.ResourceID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "order_id and resource_id are required", nil)
		}
		if input.Body.StartTime == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "start_time is required", nil)
		}
		start, err := parseTime("start_time", input.Body.StartTime)
		if err != nil {
			return nil, handleError(err)
		}
		end, err := parseTimePtr("end_time", input.Body.EndTime)
		if err != nil {
			return nil, handleError(err)
		}
		a, err := e.Allocate(ctx, engine.AllocateOptions{
			OrderID:    input.Body.OrderID,
			ResourceID: input.Body.ResourceID,
			Quantity:   input.Body.AllocatedQuantity,
			Start:      start,
			End:        end,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AllocationResponse `json:"body"`
		}{Body: allocationResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-allocation",
		Method:      http.MethodPost,
		Path:        "/allocations/{id}/release",
		Summary:     "Release an open allocation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body ReleaseAllocationRequest `json:"body"`
	}) (*struct {
		Body AllocationResponse `json:"body"`
	}, error) {
		end := time.Now()
		if input.Body.EndTime != nil {
			var err error
			if end, err = parseTime("end_time", *input.Body.EndTime); err != nil {
				return nil, handleError(err)
			}
		}
		a, err := e.Release(ctx, input.ID, end)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AllocationResponse `json:"body"`
		}{Body: allocationResponse(a)}, nil
	})
}

func registerStats(api huma.API, q query.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Operational summary",
	}, func(ctx context.Context, input *struct {
		At string `query:"at"`
	}) (*struct {
		Body query.Stats `json:"body"`
	}, error) {
		at := time.Now()
		if input.At != "" {
			var err error
			if at, err = parseTime("at", input.At); err != nil {
				return nil, handleError(err)
			}
		}
		st, err := q.Stats(ctx, at)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body query.Stats `json:"body"`
		}{Body: st}, nil
	})
}
