package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shaman/internal/config"
	"shaman/internal/db"
	"shaman/internal/docstore"
	"shaman/internal/domain"
	"shaman/internal/engine"
	"shaman/internal/identity"
	"shaman/internal/memstore"
	"shaman/internal/migrate"
	"shaman/internal/repo"
	"shaman/internal/server"
	"shaman/internal/settings"
	"shaman/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "shaman",
	Short: "Shaman task assistant",
	Long: `Shaman turns requests into tasks that a worker carries out on your behalf.
- Tasks: what you asked for; statuses go pending -> in-progress -> completed, with need-input when the worker is blocked and scheduled for later work.
- Notifications: what the worker tells you back, some of them asking for action.
- Profile: personal details and a signature the worker uses to fill forms.
- Workspace: the .shaman directory holding the database and your local settings.
- Event log: diary of changes, view with 'shaman log tail'.`,
	SilenceUsage: true,
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
		if identity.CodeOf(err) != "" {
			fmt.Println("error:", identity.Describe(err))
		} else {
			fmt.Println("error:", err)
		}
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHAMAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "", "act as this user id instead of the signed-in user")
	rootCmd.PersistentFlags().String("store", "", "store backend: sqlite, memory or firestore (overrides config)")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/shaman.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("store", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath, seedUser string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the JSON API, the task and notification streams, and dispatches new tasks to the configured worker webhooks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRuntime(ctx, func(ctx context.Context, rt runtime) error {
				if err := checkServeConfig(rt.Engine.Config); err != nil {
					return err
				}
				if seedUser != "" {
					mem, ok := rt.Engine.Store.(*memstore.Store)
					if !ok {
						return fmt.Errorf("--seed only works with the memory store")
					}
					mem.Seed(seedUser, time.Now())
				}
				cfg := rt.Engine.Config
				if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
					addr = cfg.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
					basePath = cfg.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:      rt.Engine,
					Identity:    rt.Identity,
					BasePath:    basePath,
					CORSOrigins: cfg.Server.CORSOrigins,
					Logger:      rt.Logger,
				})
				if err != nil {
					return err
				}
				if d := server.NewDispatcher(rt.Engine, log.New(os.Stderr, "dispatcher: ", log.LstdFlags)); d != nil {
					go d.Run(ctx)
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Shaman API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&seedUser, "seed", "", "load sample tasks and notifications for this user id (memory store)")
	return cmd
}

// checkServeConfig refuses settings that are only safe on a single machine.
func checkServeConfig(cfg *config.Config) error {
	if cfg.InsecureSecret() {
		return fmt.Errorf("auth.jwt_secret is the built-in development secret; run shaman config init or set auth.jwt_secret in shaman.yml")
	}
	return nil
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened to your tasks, notifications and account.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt runtime) error {
				evlog, ok := rt.Engine.Store.(store.EventLog)
				if !ok {
					return fmt.Errorf("the %s store keeps no event log", rt.Engine.Config.Store.Backend)
				}
				userID, err := rt.userID(ctx)
				if err != nil {
					return err
				}
				events, err := evlog.LatestEvents(ctx, n, 0, userID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Entity")
				for _, evt := range events {
					tw.AppendRow(row(evt.ID, evt.TS, evt.Type, evt.EntityKind+"/"+evt.EntityID))
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "shaman.yml picks the store backend, session lifetimes, federated sign-in, list limits, worker webhooks and server settings.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default shaman.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				path = config.Path(viper.GetString("workspace"))
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			doc, err := config.GenerateDefault()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// --- helpers ---

// runtime is everything a command needs, opened from the workspace.
type runtime struct {
	Engine   engine.Engine
	Identity *identity.Provider
	Settings *settings.Settings
	Logger   *log.Logger
}

// userID resolves who the command acts for: --user, else the signed-in user
// whose session must still be valid.
func (rt runtime) userID(ctx context.Context) (string, error) {
	if uid := strings.TrimSpace(viper.GetString("user")); uid != "" {
		return uid, nil
	}
	snap := rt.Settings.Snapshot()
	if snap.UserID == "" || snap.Token == "" {
		return "", fmt.Errorf("not signed in; run shaman user signin or pass --user")
	}
	claims, err := rt.Identity.Verify(ctx, snap.Token)
	if errors.Is(err, store.ErrUnavailable) {
		return "", err
	}
	if err != nil || claims.Subject != snap.UserID {
		return "", fmt.Errorf("session expired; run shaman user signin")
	}
	return snap.UserID, nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	if backend := strings.TrimSpace(viper.GetString("store")); backend != "" {
		cfg.Store.Backend = backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config, workspace string, logger *log.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memstore.New(), nil
	case config.BackendFirestore:
		return docstore.Open(ctx, cfg.Store.Firestore.ProjectID, logger)
	default:
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, err
		}
		if err := migrate.Migrate(conn); err != nil {
			conn.Close()
			return nil, err
		}
		return repo.New(conn), nil
	}
}

func withRuntime(ctx context.Context, fn func(context.Context, runtime) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)
	st, err := openStore(ctx, cfg, workspace, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	prefs, err := settings.Load(settings.Path(db.StateDir(workspace)))
	if err != nil {
		return err
	}
	rt := runtime{
		Engine:   engine.New(st, cfg, logger),
		Identity: identity.NewProvider(st, cfg, logger),
		Settings: prefs,
		Logger:   logger,
	}
	return fn(ctx, rt)
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
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func statusFlag(s string) (*domain.Status, error) {
	if s == "" {
		return nil, nil
	}
	st := domain.Status(s)
	if !st.Valid() {
		return nil, fmt.Errorf("invalid status %q", s)
	}
	return &st, nil
}
