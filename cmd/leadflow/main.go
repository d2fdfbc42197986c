package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"leadflow/internal/app"
	"leadflow/internal/config"
	"leadflow/internal/db"
	"leadflow/internal/domain"
	"leadflow/internal/engine"
	"leadflow/internal/logging"
	"leadflow/internal/migrate"
	"leadflow/internal/realtime"
	"leadflow/internal/repo"
	"leadflow/internal/server"
	"leadflow/internal/store"
	leadflowsdk "leadflow/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "leadflow",
	Short: "Leadflow CLI",
	Long: `Leadflow tracks construction-engineering leads from intake to order.
Core concepts:
- Lead: one enquiry moving Nieuw -> Triage -> Calculatie -> Offerte Verzonden -> Opdracht (Archief is the exit).
- Quote: line items priced by an engineer, submitted for approval, approved or rejected with feedback by an admin, then sent.
- Roles: admins see everything, projectleiders see the leads they lead, engineers only see accepted work in their slot.
- Local mode: without --server the CLI works on the workspace database (.leadflow/leadflow.db).
- Remote mode: with --server every action goes through the HTTP API and 'leadflow watch' follows the live change stream.
- Event log: every change is recorded with before and after images, view with 'leadflow log tail'.`,
	SilenceUsage: true,
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
	workspace := viper.GetString("workspace")
	if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	viper.SetEnvPrefix("LEADFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("server", "", "API base URL; empty works on the local workspace")
	flags.String("api-key", "", "API key for --server")
	flags.String("token", "", "bearer token for --server")
	flags.String("actor", "", "actor id (local mode)")
	flags.String("name", "", "display name (local mode)")
	flags.String("role", "", "role: admin, projectleider or engineer (local mode)")
	flags.String("engineer-type", "", "rekenaar or tekenaar (local mode, engineers only)")
	flags.String("log-level", "", "override logging.level")
	for _, name := range []string{"workspace", "json", "server", "api-key", "token", "actor", "name", "role", "engineer-type", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and leadflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(orgID)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.EnsureRBAC(ctx); err != nil {
					return err
				}
				fmt.Printf("Workspace ready at %s\n", db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "leadflow", "organization id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect leadflow.yml",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate leadflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "validate this file instead of the workspace config")
	return cmd
}

func dbCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "db",
		Short: "Workspace database",
	}
	d.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			items, err := migrate.Status(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Version", "Name", "Applied"})
			for _, m := range items {
				applied := m.AppliedAt
				if applied == "" {
					applied = "pending"
				}
				tw.AppendRow(table.Row{m.Version, m.Name, applied})
			}
			fmt.Println(tw.Render())
			return nil
		},
	})
	return d
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live lead changes and quote decisions",
		Long:  "Keeps the session store in sync with the server (or the local event log) and prints every change visible to you. Approved and rejected quotes are highlighted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withSession(ctx, func(ctx context.Context, s *app.Session) error {
				if err := s.Store.Hydrate(ctx); err != nil {
					return err
				}
				feed := realtime.NewApprovalFeed(32, s.Logger)
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case ev := <-feed.C():
							printApproval(ev)
						}
					}
				}()
				s.Logger.Info("watching", "actor", s.Identity.ID, "leads", len(s.Store.Visible()), "remote", s.Remote())
				err := s.Watch(ctx, func(c realtime.Change) {
					feed.Observe(c)
					printChange(c)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count live leads per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				var counts map[string]int
				var err error
				if s.Remote() {
					counts, err = s.Client.Stats(ctx)
				} else {
					if err = s.Perms.Require("lead_stats", domain.PermLeadReadAll); err == nil {
						counts, err = s.Engine.Stats(ctx)
					}
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Status", "Leads"})
				for _, st := range domain.Statuses() {
					tw.AppendRow(table.Row{st, counts[string(st)]})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every lead change, role change and seed is recorded with the acting user.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				var items []leadflowsdk.Event
				if s.Remote() {
					page, err := s.Client.EventsPage(ctx, leadflowsdk.EventQuery{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n})
					if err != nil {
						return err
					}
					items = page.Items
				} else {
					evts, err := s.Engine.Events(ctx, s.Identity, repo.EventFilters{Type: evtType, EntityKind: entityKind, EntityID: entityID, Limit: n})
					if err != nil {
						return err
					}
					for _, e := range evts {
						item := leadflowsdk.Event{ID: e.ID, TS: e.TS, Type: e.Type, EntityKind: e.EntityKind, EntityID: e.EntityID, ActorID: e.ActorID}
						_ = json.Unmarshal([]byte(e.Payload), &item.Payload)
						items = append(items, item)
					}
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "RBAC management",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacActorsCmd())
	cmd.AddCommand(rbacChangeCmd("grant-role", "Grant role to actor", true))
	cmd.AddCommand(rbacChangeCmd("revoke-role", "Revoke role from actor", false))
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show current identity, permissions and their tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				out := map[string]any{
					"actor_id":      s.Identity.ID,
					"name":          s.Identity.Name,
					"role":          s.Identity.Role,
					"engineer_type": s.Identity.EngineerType,
					"tier":          s.Perms.Tier,
					"permissions":   s.Perms.Perms,
					"remote":        s.Remote(),
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func rbacActorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actors",
		Short: "List known actors (local workspace only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if s.Remote() {
					return errors.New("actors are listed from the local workspace")
				}
				if err := s.Perms.Require("list_actors", domain.PermRBACManage); err != nil {
					return err
				}
				actors, err := s.Engine.Repo.ListActors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Engineer", "Since"})
				for _, a := range actors {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Role, a.EngineerType, a.CreatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	return cmd
}

func rbacChangeCmd(use, short string, grant bool) *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--target and --target-role required")
			}
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				switch {
				case s.Remote() && grant:
					return s.Client.GrantRole(ctx, target, r)
				case s.Remote():
					return s.Client.RevokeRole(ctx, target, r)
				case grant:
					return s.Engine.GrantRole(ctx, s.Identity, target, r)
				default:
					return s.Engine.RevokeRole(ctx, s.Identity, target, r)
				}
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "actor id to change")
	cmd.Flags().StringVar(&role, "target-role", "", "role to grant or revoke")
	return cmd
}

func tokenCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "token",
		Short: "API keys (local workspace only)",
	}
	var name string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if s.Remote() {
					return errors.New("api keys are issued against the local workspace")
				}
				plain, key, err := s.Engine.Repo.IssueAPIKey(ctx, nil, s.Identity.ID, name)
				if err != nil {
					return err
				}
				out := map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plain}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", key.ID, key.ActorID, plain)
				return nil
			})
		},
	}
	issue.Flags().StringVar(&name, "label", "", "key label")
	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	t.AddCommand(issue, revoke)
	return t
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, metrics bool
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
			if err := migrate.MigrateContext(cmd.Context(), conn); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, logger)
			if err := e.EnsureRBAC(cmd.Context()); err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt_secret"), DevLogin: devLogin, Logger: logger.WithPrefix("auth")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("LEADFLOW_JWT_SECRET is required for bearer auth")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := realtime.NewHub(e.Repo, realtime.HubOptions{
				PollInterval: cfg.Realtime.PollInterval,
				BatchSize:    cfg.Realtime.BatchSize,
				Buffer:       cfg.Realtime.Buffer,
				Logger:       logger.WithPrefix("realtime"),
			})
			if err := hub.Prime(ctx); err != nil {
				return err
			}
			go hub.Run(ctx)
			server.StartWebhooks(ctx, e)

			srvCfg := server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Hub: hub, Logger: logger}
			if metrics {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				srvCfg.Registry = reg
			}
			handler, err := server.New(srvCfg)
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving Leadflow API", "addr", "http://"+addr+basePath, "openapi", basePath+"/openapi.json", "docs", "/docs", "dev_login", devLogin)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login (local testing only)")
	cmd.Flags().BoolVar(&metrics, "metrics", true, "expose Prometheus metrics at /metrics")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("leadflow")
	}
	if lvl := viper.GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*charmLog.Logger, error) {
	return logging.New(os.Stderr, "leadflow", cfg.Logging)
}

func identityFromFlags() domain.Identity {
	who := domain.Identity{
		ID:           strings.TrimSpace(viper.GetString("actor")),
		Name:         strings.TrimSpace(viper.GetString("name")),
		Role:         domain.Role(strings.TrimSpace(viper.GetString("role"))),
		EngineerType: domain.EngineerType(strings.TrimSpace(viper.GetString("engineer-type"))),
	}
	if who.Name == "" {
		who.Name = who.ID
	}
	return who
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	s, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		ServerURL: viper.GetString("server"),
		APIKey:    viper.GetString("api-key"),
		Token:     viper.GetString("token"),
		Identity:  identityFromFlags(),
		Logger:    logger,
		Metrics:   store.NewMetrics(prometheus.NewRegistry()),
	})
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg, logger))
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
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

func printChange(c realtime.Change) {
	if viper.GetBool("json") {
		_ = printJSON(c)
		return
	}
	if c.EventType == realtime.EventDelete || c.New == nil {
		fmt.Printf("#%d %-6s %s\n", c.Seq, c.EventType, c.LeadID())
		return
	}
	fmt.Printf("#%d %-6s %s %s [%s/%s]\n", c.Seq, c.EventType, c.LeadID(), c.New.ProjectType, c.New.Status, c.New.EffectiveApproval())
}

func printApproval(ev realtime.ApprovalEvent) {
	if viper.GetBool("json") {
		_ = printJSON(ev)
		return
	}
	switch ev.Kind {
	case realtime.ApprovalApproved:
		fmt.Printf(">> quote for %s approved", ev.LeadID)
	default:
		fmt.Printf(">> quote for %s rejected", ev.LeadID)
	}
	if ev.Message != "" {
		fmt.Printf(": %s", ev.Message)
	}
	fmt.Println()
}
