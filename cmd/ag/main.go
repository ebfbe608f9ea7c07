package main

import (
	"context"
	"database/sql"
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

	"actiongate/internal/config"
	"actiongate/internal/db"
	"actiongate/internal/dispatch"
	"actiongate/internal/domain"
	"actiongate/internal/engine"
	"actiongate/internal/migrate"
	"actiongate/internal/repo"
	"actiongate/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ag",
	Short: "Actiongate CLI",
	Long: `Actiongate is a human-in-the-loop governance layer for autonomous agents.
Agents propose actions; actions wait in a queue until a human approves,
denies, or edits them, unless an auto-approve rule matches first. Approved
actions are dispatched to external executors. A second queue hands
planning-complete tasks to agents, with explicit retry on dispatch failure.
Every disposition lands in the event log ('ag log tail').`,
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
	viper.SetEnvPrefix("ACTIONGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with a default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
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
			fmt.Printf("Initialized workspace: %s\n", path)
			return nil
		},
	}
	return cmd
}

func actionCmd() *cobra.Command {
	action := &cobra.Command{
		Use:   "action",
		Short: "Manage the action queue",
		Long:  "Actions proposed by agents wait here as pending until reviewed. Approve, deny (with feedback), or edit the payload before it runs.",
	}
	action.AddCommand(actionCreateCmd())
	action.AddCommand(actionListCmd())
	action.AddCommand(actionShowCmd())
	action.AddCommand(actionApproveCmd())
	action.AddCommand(actionDenyCmd())
	action.AddCommand(actionEditCmd())
	action.AddCommand(actionExecuteCmd())
	return action
}

func actionCreateCmd() *cobra.Command {
	var actionType, dataJSON, contextJSON, riskLevel string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Propose an action",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := parseJSONMap(dataJSON, "--data")
			if err != nil {
				return err
			}
			var ctxData map[string]any
			if contextJSON != "" {
				ctxData, err = parseJSONMap(contextJSON, "--context")
				if err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CreateAction(ctx, engine.CreateActionOptions{
					ActionType:  actionType,
					ActionData:  data,
					ContextData: ctxData,
					RiskLevel:   riskLevel,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&actionType, "type", "", "action type")
	cmd.Flags().StringVar(&dataJSON, "data", "", "action data (JSON object)")
	cmd.Flags().StringVar(&contextJSON, "context", "", "context data (JSON object)")
	cmd.Flags().StringVar(&riskLevel, "risk", "", "risk level (low, medium, high)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("data")
	_ = cmd.MarkFlagRequired("risk")
	return cmd
}

func actionListCmd() *cobra.Command {
	var f repo.ActionFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListActions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Risk", "Status", "Executed", "Created"})
				for _, a := range items {
					executed := ""
					if a.ExecutedAt != nil {
						executed = *a.ExecutedAt
					}
					tw.AppendRow(table.Row{a.ID, a.ActionType, a.RiskLevel, a.Status, executed, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ActionType, "type", "", "action type filter")
	cmd.Flags().StringVar(&f.RiskLevel, "risk", "", "risk level filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}

func actionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAction(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func actionApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ApproveAction(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func actionDenyCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "deny <id>",
		Short: "Deny a pending action with feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.DenyAction(ctx, args[0], feedback, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "reason for denial")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func actionEditCmd() *cobra.Command {
	var dataJSON string
	var execute bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Replace a pending action's payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			edited, err := parseJSONMap(dataJSON, "--data")
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.EditAction(ctx, args[0], edited, execute, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&dataJSON, "data", "", "edited action data (JSON object)")
	cmd.Flags().BoolVar(&execute, "execute", false, "dispatch immediately after editing")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func actionExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Dispatch a reviewed action to its executor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ExecuteAction(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{
		Use:   "rule",
		Short: "Manage auto-approve rules",
		Long:  "Rules skip human review for low-stakes actions: when all conditions match the proposed action's data, the action is stored as auto_approved.",
	}
	rule.AddCommand(ruleAddCmd())
	rule.AddCommand(ruleListCmd())
	rule.AddCommand(ruleShowCmd())
	rule.AddCommand(ruleEnableCmd())
	rule.AddCommand(ruleDisableCmd())
	rule.AddCommand(ruleRmCmd())
	return rule
}

func ruleAddCmd() *cobra.Command {
	var actionType, conditionsJSON string
	var priority int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create an auto-approve rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			var conds []struct {
				Field    string `json:"field"`
				Operator string `json:"operator"`
				Value    any    `json:"value"`
			}
			if err := json.Unmarshal([]byte(conditionsJSON), &conds); err != nil {
				return fmt.Errorf("--conditions: %w", err)
			}
			opts := engine.CreateRuleOptions{
				ActionType: actionType,
				Priority:   priority,
				ActorID:    viper.GetString("actor-id"),
			}
			for _, c := range conds {
				opts.Conditions = append(opts.Conditions, domain.Condition{Field: c.Field, Operator: c.Operator, Value: c.Value})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rl, err := e.CreateRule(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(rl)
			})
		},
	}
	cmd.Flags().StringVar(&actionType, "type", "", "action type the rule applies to")
	cmd.Flags().StringVar(&conditionsJSON, "conditions", "", `conditions (JSON array of {"field","operator","value"})`)
	cmd.Flags().IntVar(&priority, "priority", 0, "evaluation priority (lower first)")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("conditions")
	return cmd
}

func ruleListCmd() *cobra.Command {
	var f repo.RuleFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRules(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Enabled", "Priority", "Triggers", "Success"})
				for _, rl := range items {
					tw.AppendRow(table.Row{rl.ID, rl.ActionType, rl.Enabled, rl.Priority, rl.TriggerCount, fmt.Sprintf("%.2f", rl.SuccessRate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ActionType, "type", "", "action type filter")
	cmd.Flags().BoolVar(&f.EnabledOnly, "enabled", false, "enabled rules only")
	return cmd
}

func ruleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rl, err := e.Repo.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rl)
			})
		},
	}
	return cmd
}

func ruleEnableCmd() *cobra.Command {
	return ruleToggleCmd("enable", "Enable a rule", true)
}

func ruleDisableCmd() *cobra.Command {
	return ruleToggleCmd("disable", "Disable a rule", false)
}

func ruleToggleCmd(use, short string, enabled bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rl, err := e.UpdateRule(ctx, args[0], engine.UpdateRuleOptions{Enabled: &enabled})
				if err != nil {
					return err
				}
				return printJSONOrTable(rl)
			})
		},
	}
	return cmd
}

func ruleRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteRule(ctx, args[0])
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage dispatchable tasks",
		Long:  "Tasks start in pending_dispatch. Once planning is complete and an agent is assigned, 'ag task dispatch' hands them over; a failed dispatch stores the error and can be retried.",
	}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDispatchCmd())
	task.AddCommand(taskRetryCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var opts engine.CreateTaskOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.AssignedAgentID, "agent", "", "assigned agent id")
	cmd.Flags().StringVar(&opts.WorkspaceID, "workspace-id", "", "agent workspace id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Agent", "Planning", "Error"})
				for _, t := range items {
					agent := ""
					if t.AssignedAgentID != nil {
						agent = *t.AssignedAgentID
					}
					dispatchErr := ""
					if t.PlanningDispatchError != nil {
						dispatchErr = *t.PlanningDispatchError
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, agent, t.PlanningComplete, dispatchErr})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "rows to skip")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, agent, workspaceID string
	var planningComplete bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.UpdateTaskOptions
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("agent") {
				opts.AssignAgent = &agent
			}
			if cmd.Flags().Changed("workspace-id") {
				opts.WorkspaceID = &workspaceID
			}
			if cmd.Flags().Changed("planning-complete") {
				opts.PlanningComplete = &planningComplete
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&agent, "agent", "", "assigned agent id")
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "agent workspace id")
	cmd.Flags().BoolVar(&planningComplete, "planning-complete", false, "mark planning complete")
	return cmd
}

func taskDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <id>",
		Short: "Dispatch a task to its assigned agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.DispatchTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed task dispatch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.RetryDispatch(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of every disposition: creations, approvals, denials, edits, executions, dispatches, and their failures.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
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
			e := buildEngine(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			server.StartOutcomePusher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Actiongate API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

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
	return fn(ctx, buildEngine(conn, cfg))
}

func buildEngine(conn *sql.DB, cfg *config.Config) engine.Engine {
	d := dispatch.New(time.Duration(cfg.Dispatch.TimeoutSeconds) * time.Second)
	for actionType, ex := range cfg.Dispatch.Executors {
		if cfg.ExecutorEnabled(actionType) {
			d.Register(&dispatch.HTTPExecutor{Type: actionType, URL: ex.URL})
		}
	}
	agents := &dispatch.AgentRunner{
		BaseURL: cfg.Agents.BaseURL,
		Timeout: time.Duration(cfg.Agents.TimeoutSeconds) * time.Second,
	}
	return engine.New(conn, cfg, d, agents)
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

func parseJSONMap(raw, flag string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("%s: %w", flag, err)
	}
	return m, nil
}
