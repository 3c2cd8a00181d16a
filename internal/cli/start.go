package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avenhq/aven/internal/config"
	"github.com/avenhq/aven/internal/logger"
	"github.com/avenhq/aven/pkg/agent"
	"github.com/avenhq/aven/pkg/approval"
	"github.com/avenhq/aven/pkg/eventbus"
	"github.com/avenhq/aven/pkg/memory"
	"github.com/avenhq/aven/pkg/notify"
	"github.com/avenhq/aven/pkg/orchestration"
	"github.com/avenhq/aven/pkg/presence"
	"github.com/avenhq/aven/pkg/risk"
	"github.com/avenhq/aven/pkg/role"
	"github.com/avenhq/aven/pkg/session"
	"github.com/avenhq/aven/pkg/tools"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Aven daemon",
	Long: `Start the Aven daemon in the foreground. The daemon runs agent turns,
the approval continuation worker, the heartbeat monitor, and the HTTP
endpoints for events and metrics.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

// staticSchedules applies the configured autonomy schedule to every
// user. Per-user schedules would plug in here.
type staticSchedules struct {
	schedule risk.Schedule
}

func (s staticSchedules) ScheduleFor(userID string) risk.Schedule { return s.schedule }

func runStart(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()
	if isRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: true,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Close()
	zl := log.GetZerolog()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(cfg.DataDir, "aven.db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	queue, err := approval.NewQueue(db, zl.With().Str("component", "continuation").Logger())
	if err != nil {
		return err
	}
	approvals, err := approval.NewStore(approval.StoreConfig{
		DB:     db,
		Queue:  queue,
		Logger: zl.With().Str("component", "approval").Logger(),
	})
	if err != nil {
		return err
	}

	bus, err := eventbus.Open(filepath.Join(cfg.DataDir, "events.db"), zl.With().Str("component", "eventbus").Logger())
	if err != nil {
		return err
	}
	defer bus.Close()

	sessions := session.NewStore(session.DefaultCap, zl.With().Str("component", "session").Logger())
	runs := orchestration.NewStore(orchestration.DefaultCap, zl.With().Str("component", "orchestration").Logger())

	personas := role.DefaultPersonas()
	if cfg.PersonasPath != "" {
		personas, err = role.LoadPersonas(cfg.PersonasPath)
		if err != nil {
			return fmt.Errorf("failed to load personas: %w", err)
		}
	}
	roles := role.NewEngine(personas, nil, zl.With().Str("component", "role").Logger())

	catalog := tools.NewCatalog()
	runtime := tools.NewRuntime(catalog, zl.With().Str("component", "tools").Logger())
	workspace := filepath.Join(cfg.DataDir, "workspace")
	if err := tools.RegisterBuiltins(runtime, workspace); err != nil {
		return err
	}

	memories, err := memory.NewStore(db, zl.With().Str("component", "memory").Logger())
	if err != nil {
		return err
	}
	if err := memory.RegisterTools(runtime, memories); err != nil {
		return err
	}

	sinks := []notify.Sink{notify.NewLogSink(zl)}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramSink(cfg.Telegram.BotToken, zl.With().Str("component", "telegram").Logger())
		if err != nil {
			return fmt.Errorf("failed to start telegram sink: %w", err)
		}
		sinks = append(sinks, tg)
	}
	notifier := notify.NewFanout(zl, sinks...)

	var primary agent.Provider
	switch cfg.Providers.Primary {
	case "openai":
		primary = agent.NewOpenAIProvider(cfg.Providers.OpenAI)
	default:
		primary = agent.NewAnthropicProvider(cfg.Providers.Anthropic)
	}
	fallback := agent.NewLocalProvider(cfg.Providers.LocalURL, cfg.Providers.LocalModel)

	resume := approval.NewResumeTable()
	conversations := agent.NewMemoryConversationStore()

	loop, err := agent.NewLoop(agent.Config{
		Primary:       primary,
		Fallback:      fallback,
		Model:         cfg.Agent.Model,
		FallbackModel: cfg.Agent.FallbackModel,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxRounds:     cfg.Agent.MaxRounds,
		Catalog:       catalog,
		Executor:      runtime,
		Risk:          risk.NewEngine(zl.With().Str("component", "risk").Logger()),
		Schedules:     staticSchedules{schedule: cfg.Autonomy},
		Approvals:     approvals,
		Resume:        resume,
		Runs:          runs,
		Sessions:      sessions,
		Roles:         roles,
		Bus:           bus,
		Conversations: conversations,
		Logger:        zl.With().Str("component", "agent").Logger(),
	})
	if err != nil {
		return err
	}

	monitor, err := presence.NewMonitor(presence.Config{
		TickInterval:    time.Duration(cfg.Heartbeat.TickIntervalSec) * time.Second,
		MissedThreshold: time.Duration(cfg.Heartbeat.MissedThresholdSec) * time.Second,
		Lookback:        time.Duration(cfg.Heartbeat.LookbackHours) * time.Hour,
	}, sessions, memories, notifier, zl.With().Str("component", "presence").Logger())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	go monitor.Start(ctx)
	go queue.Run(ctx, func(ctx context.Context, job approval.ContinuationJob) error {
		_, err := loop.ResumeTurn(ctx, job)
		return err
	}, 2*time.Second)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: newHTTPHandler(loop, approvals, bus, zl.With().Str("component", "http").Logger()),
	}
	go func() {
		zl.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Error().Err(err).Msg("HTTP server stopped")
			cancel()
		}
	}()

	zl.Info().
		Str("provider", primary.Name()).
		Str("model", cfg.Agent.Model).
		Int("max_rounds", cfg.Agent.MaxRounds).
		Msg("Aven daemon started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		zl.Info().Str("signal", s.String()).Msg("Shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	cancel()
	return nil
}
