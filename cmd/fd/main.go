package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"frontdesk/internal/app"
	"frontdesk/internal/config"
	"frontdesk/internal/domain"
	"frontdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fd",
	Short: "Frontdesk CLI",
	Long: `Frontdesk answers customer questions from a knowledge base and escalates
the ones it cannot answer to a human supervisor.
- Ask: a cache hit answers immediately; a miss records a pending help request
  and the caller gets the fallback answer.
- Resolve: a supervisor answers a pending request; the answer is added to the
  knowledge base so the next caller gets it directly.
- Timeout: a request nobody resolves within the escalation delay becomes
  unresolved. Exactly one of resolve or timeout wins.
- Event log: every transition is recorded, view it with 'fd log tail'.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FRONTDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.StringP("config", "c", "", "config file (default <workspace>/frontdesk.yml)")
	pf.Bool("json", false, "output JSON")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.Duration("escalation-delay", 0, "override escalation.delay")
	pf.String("storage", "", "override storage.backend (sqlite, dynamodb)")
	for _, name := range []string{"workspace", "config", "json", "log-level", "escalation-delay", "storage"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(replyCmd())
	rootCmd.AddCommand(requestsCmd())
	rootCmd.AddCommand(kbCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func isJSON() bool { return viper.GetBool("json") }

// loadConfig reads the config file and applies environment and flag
// overrides on top.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.Load(workspace)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Workspace == "" {
		cfg.Storage.Workspace = workspace
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if d := viper.GetDuration("escalation-delay"); d > 0 {
		cfg.Escalation.Delay = d
	}
	if b := viper.GetString("storage"); b != "" {
		cfg.Storage.Backend = b
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, newLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				rep, err := a.Engine.Recover(ctx)
				if err != nil {
					a.Logger.Error("recovery incomplete", "err", err)
				}
				a.Logger.Info("recovered pending help requests", "timed_out", rep.TimedOut, "rearmed", rep.Rearmed)
				if iv := a.Config.Escalation.SweepInterval; iv > 0 && !noSweep {
					go func() {
						if err := a.Engine.RunSweeper(ctx, iv); err != nil && !errors.Is(err, context.Canceled) {
							a.Logger.Error("sweeper stopped", "err", err)
						}
					}()
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Voice:    a.Voice,
					VoiceURL: a.Config.Voice.URL,
					Logger:   a.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Frontdesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default server.base_path)")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the periodic overdue sweep")
	return cmd
}

func askCmd() *cobra.Command {
	var customerID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question as a customer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				res, err := a.Engine.Ask(ctx, strings.Join(args, " "), customerID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(res.Answer)
				if res.Escalated {
					fmt.Printf("%s help request %s for customer %s\n", statusColor("pending").Sprint("escalated:"), res.RequestID, res.CustomerID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id (generated when empty)")
	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <request-id> <answer>",
		Short: "Resolve a pending help request",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				res, err := a.Engine.Resolve(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s %s (customer %s)\n", statusColor("resolved").Sprint("resolved"), args[0], res.CustomerID)
				if !res.CacheUpdated {
					fmt.Println("warning: knowledge base was not updated")
				}
				return nil
			})
		},
	}
}

func replyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reply <request-id> <text>",
		Short: "Attach a supervisor reply to a help request",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				req, err := a.Engine.UpdateSupervisorReply(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return printRequests([]domain.HelpRequest{req})
			})
		},
	}
}

func requestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List help requests",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "List pending help requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.Queries().ListPending(ctx)
				if err != nil {
					return err
				}
				return printRequests(items)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "List every help request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.Queries().ListAll(ctx)
				if err != nil {
					return err
				}
				return printRequests(items)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "resolved <customer-id>",
		Short: "List resolved answers for a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.Queries().ListResolvedFor(ctx, args[0])
				if err != nil {
					return err
				}
				return printResolved(items)
			})
		},
	})
	return cmd
}

func kbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Knowledge base",
		Long:  "Answers the assistant gives without escalating. Questions are matched case-insensitively, ignoring ? . , ! and surrounding spaces.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List knowledge base entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				items, err := a.Engine.ListKnowledge(ctx)
				if err != nil {
					return err
				}
				return printKnowledge(items)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "upsert <question> <answer>",
		Short: "Add or replace an answer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				e, err := a.Engine.UpsertKnowledge(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(e)
				}
				fmt.Printf("stored %q\n", e.Key)
				return nil
			})
		},
	})
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Time out every overdue pending help request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				n, err := a.Engine.Sweep(ctx)
				if viper.GetBool("json") {
					out := map[string]any{"timed_out": n}
					if err != nil {
						out["error"] = err.Error()
					}
					if perr := printJSON(out); perr != nil {
						return perr
					}
					return err
				}
				fmt.Printf("timed out %d help request(s)\n", n)
				return err
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every escalation, resolution, timeout, supervisor reply and knowledge base change.",
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
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if a.Events == nil {
					return fmt.Errorf("the %s backend does not keep an event log", a.Config.Storage.Backend)
				}
				evts, err := a.Events.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printEvents(evts)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (help_request, knowledge)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect config",
		Long:  "Config is read from frontdesk.yml in the workspace, then FRONTDESK_* variables and flags are applied.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(redacted(c))
			}
			return printYAML(redacted(c))
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Print the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault())
			return nil
		},
	})
	return cfg
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <identity> <room>",
		Short: "Issue a voice room access token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				if a.Voice == nil {
					return errors.New("voice credentials not configured (voice.api_key and voice.api_secret or voice.api_secret_param)")
				}
				tok, err := a.Voice.Token(args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": tok, "roomName": args[1], "url": a.Config.Voice.URL})
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
}
