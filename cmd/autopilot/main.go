// gsd-autopilot — workflow controller that drives an agent runtime through
// the discuss/plan/execute/verify loop for every roadmap phase, persists
// crash-safe state under .planning/, and answers questions over notification
// channels and a loopback HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/NexeraDigital/get-shit-done/pkg/activity"
	"github.com/NexeraDigital/get-shit-done/pkg/agent"
	"github.com/NexeraDigital/get-shit-done/pkg/broker"
	"github.com/NexeraDigital/get-shit-done/pkg/config"
	"github.com/NexeraDigital/get-shit-done/pkg/ipc"
	"github.com/NexeraDigital/get-shit-done/pkg/notify"
	"github.com/NexeraDigital/get-shit-done/pkg/orchestrator"
	"github.com/NexeraDigital/get-shit-done/pkg/ringlog"
	"github.com/NexeraDigital/get-shit-done/pkg/server"
	"github.com/NexeraDigital/get-shit-done/pkg/state"
	"github.com/NexeraDigital/get-shit-done/pkg/version"
)

func main() {
	root := newRootCommand()
	root.AddCommand(newVersionCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		projectDir  string
		prdPath     string
		port        int
		tunnelURL   string
		logLevel    string
		skipDiscuss bool
		skipVerify  bool
		resume      bool
		autoAnswer  bool
		phases      string
		depth       string
		model       string
		notifyCSV   string
		webhookURL  string
		configPath  string
	)

	cmd := &cobra.Command{
		Use:           version.AppName,
		Short:         "Autonomous product-brief-to-working-code workflow controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Flags the user did not set stay nil so lower-precedence
			// configuration sources remain in effect.
			flagString := func(name string, v *string) *string {
				if cmd.Flags().Changed(name) {
					return v
				}
				return nil
			}
			flagBool := func(name string, v *bool) *bool {
				if cmd.Flags().Changed(name) {
					return v
				}
				return nil
			}
			var portPtr *int
			if cmd.Flags().Changed("port") {
				portPtr = &port
			}

			overrides := config.Overrides{
				ProjectDir:  flagString("project-dir", &projectDir),
				PRDPath:     flagString("prd", &prdPath),
				Port:        portPtr,
				TunnelURL:   flagString("tunnel-url", &tunnelURL),
				LogLevel:    flagString("log-level", &logLevel),
				SkipDiscuss: flagBool("skip-discuss", &skipDiscuss),
				SkipVerify:  flagBool("skip-verify", &skipVerify),
				Resume:      flagBool("resume", &resume),
				AutoAnswer:  flagBool("auto-answer", &autoAnswer),
				Phases:      flagString("phases", &phases),
				Depth:       flagString("depth", &depth),
				Model:       flagString("model", &model),
				Notify:      flagString("notify", &notifyCSV),
				WebhookURL:  flagString("webhook-url", &webhookURL),
			}
			return run(configPath, overrides)
		},
	}

	f := cmd.Flags()
	f.StringVar(&projectDir, "project-dir", ".", "repository the workflow operates on")
	f.StringVar(&prdPath, "prd", "", "path to the product brief (required unless --resume)")
	f.IntVar(&port, "port", 0, "response surface port (default: derived from the project path)")
	f.StringVar(&tunnelURL, "tunnel-url", "", "external base URL for notification respond links")
	f.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.BoolVar(&skipDiscuss, "skip-discuss", false, "skip the discuss step, leaving decisions to the agent")
	f.BoolVar(&skipVerify, "skip-verify", false, "skip the verify step and the gap loop")
	f.BoolVar(&resume, "resume", false, "resume from persisted state")
	f.BoolVar(&autoAnswer, "auto-answer", false, "answer every agent question with its first option")
	f.StringVar(&phases, "phases", "", "phase selector, e.g. 3 or 2-4")
	f.StringVar(&depth, "depth", "", "roadmap depth: quick, standard, comprehensive")
	f.StringVar(&model, "model", "", "model profile: quality, balanced, budget")
	f.StringVar(&notifyCSV, "notify", "", "notification channels, comma separated: webhook, slack, desktop, webpush")
	f.StringVar(&webhookURL, "webhook-url", "", "webhook or Slack incoming-webhook URL")
	f.StringVar(&configPath, "config", "", "explicit autopilot.yaml path")

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}

// run wires the whole controller and blocks until the workflow finishes or a
// shutdown signal arrives. It only returns configuration errors; runtime
// failures exit directly so the shutdown sequence controls the exit code.
func run(configPath string, overrides config.Overrides) error {
	// 1. Environment and configuration. The .env next to the project config
	// is best-effort: a missing file is the normal case.
	if overrides.ProjectDir != nil {
		envPath := filepath.Join(*overrides.ProjectDir, ".planning", ".env")
		if err := godotenv.Load(envPath); err == nil {
			slog.Info("Loaded environment", "path", envPath)
		}
	}

	cfg, err := config.Resolve(configPath, overrides)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("Starting controller",
		"version", version.Full(),
		"project_dir", cfg.ProjectDir,
		"port", cfg.Port,
		"resume", cfg.Resume)

	// 2. Project-local file layout.
	paths := ipc.NewPaths(cfg.ProjectDir)
	if err := paths.EnsureLayout(); err != nil {
		return fmt.Errorf("preparing %s: %w", paths.PlanningDir(), err)
	}

	// 3. Workflow state: validated restore on --resume, fresh otherwise.
	var store *state.Store
	if cfg.Resume {
		store, err = state.Restore(paths.StateFile(), logger)
		if err != nil {
			return fmt.Errorf("restoring state: %w", err)
		}
	} else {
		store = state.NewStore(paths.StateFile(), logger)
	}

	// 4. Event log, ring log, raw agent stream, activity feed.
	events, err := ipc.NewEventWriter(paths.EventLog(), logger)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	ring, err := ringlog.New(filepath.Join(paths.LogDir(), "autopilot.log"), cfg.Log.RingCapacity, logger)
	if err != nil {
		return fmt.Errorf("opening ring log: %w", err)
	}
	sdkOutput, err := os.OpenFile(paths.SDKOutputLog(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening agent output log: %w", err)
	}
	feed := activity.NewStore(paths.ActivityFile(), 0, logger)

	// 5. Notification channels.
	adapters, webpushAdapter := buildAdapters(cfg, paths)
	notifier := notify.NewManager(adapters, cfg.Notify.ReminderInterval, logger)

	// The run context is cancelled with ErrShuttingDown as its cause so
	// components can tell a process shutdown from a command abort; the broker
	// keeps the persisted pending questions for resume in the former case.
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	notifier.Init(ctx)

	// 6. Question plumbing. The wiring instance fans question lifecycle out
	// to notifications, the event log, and the activity feed.
	respondBase := cfg.TunnelURL
	if respondBase == "" {
		respondBase = fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
	}
	questions := orchestrator.NewQuestionEvents(notifier, events, feed, respondBase, logger)
	qb := broker.New(store, questions, logger)

	// 7. Agent runtime and facade.
	runtime := agent.NewCLIRuntime(cfg.Agent.Command, cfg.ProjectDir, paths.RuntimeConfig(), logger)
	facade := agent.New(runtime, qb, agent.Config{
		CommandTimeout: cfg.Agent.CommandTimeout,
		AutoAnswer:     cfg.AutoAnswer,
		RawWriter:      sdkOutput,
	}, logger)
	facade.Subscribe(func(msg agent.Message) {
		if m, ok := msg.(*agent.AssistantMessage); ok && m.Text != "" {
			ring.Log(m.Text)
		}
	})

	// 8. Loopback response surface.
	srv := server.New(cfg.Port, store, qb, events, feed, webpushAdapter, logger)
	if err := srv.Start(); err != nil {
		return err
	}

	// 9. Dashboard IPC: heartbeat and answer-drop poller.
	heartbeat := ipc.NewHeartbeat(paths.HeartbeatFile(), cfg.IPC.HeartbeatInterval, logger)
	heartbeat.Start()
	poller := ipc.NewAnswerPoller(paths.AnswersDir(), cfg.IPC.AnswerPollInterval, qb, logger)
	poller.Start()

	// 10. Shutdown sequence. Hooks run in reverse registration order, so the
	// teardown is: abort the in-flight command, reject suspended questions,
	// close the HTTP surface, stop the pollers, flush the logs, close the
	// notification channels.
	sd := orchestrator.NewShutdownManager(orchestrator.DefaultShutdownTimeout, logger)
	sd.OnShutdown("notifier", func(ctx context.Context) error {
		notifier.Close(ctx)
		return nil
	})
	sd.OnShutdown("ringlog", func(context.Context) error { return ring.Close() })
	sd.OnShutdown("agent-output", func(context.Context) error { return sdkOutput.Close() })
	sd.OnShutdown("events", func(context.Context) error { return events.Close() })
	sd.OnShutdown("heartbeat", func(context.Context) error {
		heartbeat.Stop()
		return nil
	})
	sd.OnShutdown("answer-poller", func(context.Context) error {
		poller.Stop()
		return nil
	})
	sd.OnShutdown("server", srv.Close)
	sd.OnShutdown("broker", func(context.Context) error {
		qb.RejectAll(broker.ErrShuttingDown)
		return nil
	})
	sd.OnShutdown("agent", func(context.Context) error {
		facade.Abort()
		return nil
	})
	sd.Listen(func() { cancel(broker.ErrShuttingDown) })

	// 11. Run the workflow.
	orch := orchestrator.New(cfg, store, facade, qb, notifier, events, feed, questions, logger)
	err = orch.Run(ctx)

	sd.Shutdown()

	switch {
	case err == nil:
		logger.Info("Workflow finished")
		os.Exit(0)
	case isGracefulStop(err):
		logger.Info("Workflow interrupted, state saved for resume")
		os.Exit(0)
	default:
		logger.Error("Workflow failed", "error", err)
		os.Exit(1)
	}
	return nil
}

// isGracefulStop covers shutdown paths that leave the persisted state
// resumable: signal-driven cancellation and operator-requested aborts.
func isGracefulStop(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, agent.ErrAborted) ||
		errors.Is(err, broker.ErrShuttingDown)
}

func buildAdapters(cfg *config.Config, paths ipc.Paths) ([]notify.Adapter, *notify.WebpushAdapter) {
	var adapters []notify.Adapter
	var webpushAdapter *notify.WebpushAdapter
	for _, ch := range cfg.Notify.Channels {
		switch ch {
		case config.ChannelWebhook:
			adapters = append(adapters, notify.NewWebhookAdapter(cfg.Notify.WebhookURL))
		case config.ChannelSlack:
			adapters = append(adapters, notify.NewSlackAdapter(cfg.Notify.WebhookURL))
		case config.ChannelDesktop:
			adapters = append(adapters, notify.NewDesktopAdapter())
		case config.ChannelWebPush:
			webpushAdapter = notify.NewWebpushAdapter(
				paths.PushSubscriptions(),
				cfg.Notify.VAPIDPublicKey,
				cfg.Notify.VAPIDPrivateKey,
				cfg.Notify.VAPIDSubject,
			)
			adapters = append(adapters, webpushAdapter)
		}
	}
	return adapters, webpushAdapter
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
