package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shopfloor/internal/config"
	"shopfloor/internal/db"
	"shopfloor/internal/domain"
	"shopfloor/internal/engine"
	"shopfloor/internal/hub"
	"shopfloor/internal/migrate"
	"shopfloor/internal/query"
	"shopfloor/internal/repo"
	"shopfloor/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Shopfloor CLI",
	Long: `Shopfloor tracks production orders and the resources they consume.
- Orders: production work items flowing pending -> scheduled -> in_progress -> completed (cancelled exits from any active state).
- Resources: machines, workers, and materials with optional capacity limits.
- Allocations: time-bounded claims of a resource quantity by an order; capacity is enforced over overlapping intervals.
- Event log: append-only diary of every order change, view with 'sf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHOPFLOOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(resourceCmd())
	rootCmd.AddCommand(allocCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func orderCmd() *cobra.Command {
	o := &cobra.Command{
		Use:   "order",
		Short: "Manage production orders",
		Long:  "Orders flow pending -> scheduled -> in_progress -> completed; cancelled exits from any active state. Completed and cancelled orders never change again.",
	}
	o.AddCommand(orderCreateCmd())
	o.AddCommand(orderListCmd())
	o.AddCommand(orderShowCmd())
	o.AddCommand(orderStatusCmd())
	o.AddCommand(orderUpdateCmd())
	o.AddCommand(orderEventsCmd())
	return o
}

func orderCreateCmd() *cobra.Command {
	var opts engine.OrderCreateOptions
	var scheduledStart, scheduledEnd string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a production order",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.ScheduledStart, err = parseTimeFlag("scheduled-start", scheduledStart); err != nil {
				return err
			}
			if opts.ScheduledEnd, err = parseTimeFlag("scheduled-end", scheduledEnd); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.OrderNumber, "number", "", "order number (unique)")
	cmd.Flags().StringVar(&opts.ProductName, "product", "", "product name")
	cmd.Flags().IntVar(&opts.Quantity, "quantity", 0, "quantity to produce")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "priority 1-5 (default 3)")
	cmd.Flags().StringVar(&scheduledStart, "scheduled-start", "", "planned start (RFC 3339)")
	cmd.Flags().StringVar(&scheduledEnd, "scheduled-end", "", "planned end (RFC 3339)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("number")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func orderListCmd() *cobra.Command {
	var f repo.OrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(cmd.Context(), func(ctx context.Context, q query.Service) error {
				if f.Limit == 0 {
					f.Limit = 50
				}
				orders, err := q.ListOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "Product", "Qty", "Status", "Priority", "Scheduled Start"})
				for _, o := range orders {
					start := ""
					if o.ScheduledStart != nil {
						start = *o.ScheduledStart
					}
					tw.AppendRow(table.Row{o.ID, o.OrderNumber, o.ProductName, o.Quantity, o.Status, o.Priority, start})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Priority, "priority", 0, "priority filter")
	cmd.Flags().StringVar(&f.ScheduledAfter, "scheduled-after", "", "scheduled_start lower bound (RFC 3339)")
	cmd.Flags().StringVar(&f.ScheduledBefore, "scheduled-before", "", "scheduled_start upper bound (RFC 3339)")
	cmd.Flags().StringVar(&f.Sort, "sort", "created_at", "sort key (created_at, priority, scheduled_start)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func orderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an order with allocations and recent events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(cmd.Context(), func(ctx context.Context, q query.Service) error {
				d, err := q.GetOrderDetail(ctx, args[0], 20)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func orderStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Transition order status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.ChangeStatus(ctx, args[0], status)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func orderUpdateCmd() *cobra.Command {
	var notes, scheduledStart, scheduledEnd string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update order notes or schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.OrderUpdateOptions{ID: args[0]}
			if cmd.Flags().Changed("notes") {
				opts.Notes = &notes
			}
			var err error
			if opts.ScheduledStart, err = parseTimeFlag("scheduled-start", scheduledStart); err != nil {
				return err
			}
			if opts.ScheduledEnd, err = parseTimeFlag("scheduled-end", scheduledEnd); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpdateOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&scheduledStart, "scheduled-start", "", "planned start (RFC 3339)")
	cmd.Flags().StringVar(&scheduledEnd, "scheduled-end", "", "planned end (RFC 3339)")
	return cmd
}

func orderEventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show an order's event history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(cmd.Context(), func(ctx context.Context, q query.Service) error {
				events, err := q.OrderHistory(ctx, args[0], n, "", 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func resourceCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "resource",
		Short: "Manage resources",
		Long:  "Resources are machines, workers, or materials. A resource with a capacity rejects overlapping allocations that would exceed it.",
	}
	r.AddCommand(resourceCreateCmd())
	r.AddCommand(resourceListCmd())
	r.AddCommand(resourceShowCmd())
	r.AddCommand(resourceStatusCmd())
	r.AddCommand(resourceUtilCmd())
	return r
}

func resourceCreateCmd() *cobra.Command {
	var opts engine.ResourceCreateOptions
	var capacity float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("capacity") {
				opts.Capacity = &capacity
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreateResource(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "resource name")
	cmd.Flags().StringVar(&opts.Type, "type", "", "type (machine, worker, material)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (default available)")
	cmd.Flags().Float64Var(&capacity, "capacity", 0, "capacity limit (omit for unlimited)")
	cmd.Flags().Float64Var(&opts.HourlyCost, "hourly-cost", 0, "hourly cost")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func resourceListCmd() *cobra.Command {
	var f repo.ResourceFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(cmd.Context(), func(ctx context.Context, q query.Service) error {
				items, err := q.ListResources(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Capacity"})
				for _, r := range items {
					capacity := "-"
					if r.Capacity != nil {
						capacity = fmt.Sprintf("%g", *r.Capacity)
					}
					tw.AppendRow(table.Row{r.ID, r.Name, r.Type, r.Status, capacity})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func resourceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a resource and its allocations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.GetResource(ctx, args[0])
				if err != nil {
					return err
				}
				allocs, err := e.Repo.ListAllocationsForResource(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"resource":    res,
					"allocations": allocs,
				})
			})
		},
	}
	return cmd
}

func resourceStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Change resource status",
		Long:  "Taking an in-use resource out of service while it still has open allocations on active orders is refused unless --force is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SetResourceStatus(ctx, args[0], status, viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func resourceUtilCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "util <id>",
		Short: "Show quantity in use at an instant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instant := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339: %w", err)
				}
				instant = t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				inUse, err := e.Utilization(ctx, args[0], instant)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"resource_id": args[0],
					"at":          instant.UTC().Format(time.RFC3339),
					"in_use":      inUse,
				})
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "instant to evaluate (RFC 3339, default now)")
	return cmd
}

func allocCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "alloc",
		Short: "Manage allocations",
		Long:  "Allocations commit a quantity of a resource to an order over a time interval. Open allocations (no end time) are released with 'sf alloc release'.",
	}
	a.AddCommand(allocCreateCmd())
	a.AddCommand(allocReleaseCmd())
	return a
}

func allocCreateCmd() *cobra.Command {
	var opts engine.AllocateOptions
	var start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Allocate a resource to an order",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return fmt.Errorf("--start must be RFC 3339: %w", err)
			}
			opts.Start = t
			if opts.End, err = parseTimeFlag("end", end); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Allocate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.OrderID, "order", "", "order id")
	cmd.Flags().StringVar(&opts.ResourceID, "resource", "", "resource id")
	cmd.Flags().Float64Var(&opts.Quantity, "quantity", 0, "allocated quantity")
	cmd.Flags().StringVar(&start, "start", "", "start time (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "end time (RFC 3339, omit for open)")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("quantity")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func allocReleaseCmd() *cobra.Command {
	var end string
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release an open allocation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			endTime := time.Now()
			if end != "" {
				t, err := time.Parse(time.RFC3339, end)
				if err != nil {
					return fmt.Errorf("--end must be RFC 3339: %w", err)
				}
				endTime = t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Release(ctx, args[0], endTime)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&end, "end", "", "end time (RFC 3339, default now)")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened to orders: status transitions, updates, allocations, releases.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				latest, err := e.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				cursor := latest - int64(n)
				if cursor < 0 {
					cursor = 0
				}
				events, err := e.Repo.EventsAfter(ctx, n, cursor)
				if err != nil {
					return err
				}
				if err := printEvents(events); err != nil {
					return err
				}
				cursor = latest
				if !follow {
					return nil
				}
				ticker := time.NewTicker(time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					events, err := e.Repo.EventsAfter(ctx, 100, cursor)
					if err != nil {
						return err
					}
					if len(events) == 0 {
						continue
					}
					if err := printEvents(events); err != nil {
						return err
					}
					cursor = events[len(events)-1].ID
				}
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep polling for new events")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Operational summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQuery(cmd.Context(), func(ctx context.Context, q query.Service) error {
				st, err := q.Stats(ctx, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Println("Orders by status:")
				for status, c := range st.OrdersByStatus {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Orders by priority:")
				for prio, c := range st.OrdersByPriority {
					fmt.Printf("  %d: %d\n", prio, c)
				}
				fmt.Println("Utilization by resource type:")
				for typ, u := range st.UtilizationByType {
					fmt.Printf("  %s: %g\n", typ, u)
				}
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in shopfloor.yml: server listen address, notification buffer size, release policy, webhook endpoints.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Listen
			}
			if addr == "" {
				addr = "127.0.0.1:8080"
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			h := hub.New(cfg.HubBuffer())
			e := engine.New(conn, cfg, h)
			handler, err := server.New(server.Config{
				Engine:   e,
				Query:    query.New(conn),
				Hub:      h,
				BasePath: basePath,
				Webhooks: cfg.Webhooks,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Shopfloor API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, nil)
	return fn(ctx, e)
}

func withQuery(ctx context.Context, fn func(context.Context, query.Service) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, query.New(conn))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEvents(events []domain.OrderEvent) error {
	if viper.GetBool("json") {
		return printJSON(events)
	}
	for _, evt := range events {
		line := fmt.Sprintf("%s  #%d  %s  order=%s", evt.CreatedAt, evt.ID, evt.EventType, evt.OrderID)
		if evt.OldStatus != nil && evt.NewStatus != nil {
			line += fmt.Sprintf("  %s -> %s", *evt.OldStatus, *evt.NewStatus)
		}
		fmt.Println(line)
	}
	return nil
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("--%s must be RFC 3339: %w", name, err)
	}
	return &t, nil
}
