package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jholhewres/papelbot/pkg/papelbot/bot"
	"github.com/jholhewres/papelbot/pkg/papelbot/channels"
	"github.com/jholhewres/papelbot/pkg/papelbot/channels/whatsapp"
	"github.com/jholhewres/papelbot/pkg/papelbot/media"
)

// newServeCmd creates the `papelbot serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the attendant daemon",
		Long: `Start PapelBot as a daemon service, connecting to WhatsApp and
answering customer messages.

Examples:
  papelbot serve
  papelbot serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	logger := buildLogger(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Upload storage ──
	sink := media.NewFileSystemSink(cfg.Uploads, logger)
	if err := sink.EnsureDir(); err != nil {
		return fmt.Errorf("preparing upload dir: %w", err)
	}
	intake := media.NewIntake(sink, logger)

	// ── Channel manager + WhatsApp ──
	manager := channels.NewManager(logger)
	wa := whatsapp.New(cfg.Channels.WhatsApp, logger)
	if err := manager.Register(wa); err != nil {
		return fmt.Errorf("registering WhatsApp: %w", err)
	}

	// ── Engine ──
	clock, err := bot.NewSystemClock(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	gates := bot.NewGateChain(cfg.Blocked, cfg.Hours.Window(), clock)

	timers := bot.NewWallTimers()
	defer timers.Stop()

	store := bot.NewStore()
	engine := bot.NewEngine(
		cfg.Shop,
		cfg.Catalog,
		cfg.Copy,
		gates,
		store,
		timers,
		intake,
		&managerReplier{manager: manager, channel: wa.Name()},
		&channelLoader{channel: wa},
		clock,
		logger,
	)

	// ── Start channels ──
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	// ── Daily cleanup of stale uploads ──
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@daily", func() {
		if _, err := sink.CleanupStale(time.Now()); err != nil {
			logger.Warn("upload cleanup failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling upload cleanup: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// ── Message loop ──
	// Mensagens são processadas em série: a ordem por contato é a ordem
	// de chegada, e o lock por sessão do Store cobre os callbacks de timer.
	go func() {
		for msg := range manager.Messages() {
			engine.HandleMessage(ctx, msg)
		}
	}()

	logger.Info("PapelBot rodando. Ctrl+C para encerrar.",
		"shop", cfg.Shop.ShopName,
		"timezone", cfg.Timezone,
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		manager.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// managerReplier envia respostas de texto pelo gerenciador de canais.
type managerReplier struct {
	manager *channels.Manager
	channel string
}

func (r *managerReplier) Reply(ctx context.Context, contactID, text string) error {
	return r.manager.Send(ctx, r.channel, contactID, &channels.OutgoingMessage{Content: text})
}

// channelLoader baixa anexos pelo canal de mídia.
type channelLoader struct {
	channel channels.MediaChannel
}

func (l *channelLoader) Load(ctx context.Context, msg *channels.IncomingMessage) (media.Attachment, error) {
	data, mime, err := l.channel.DownloadMedia(ctx, msg)
	if err != nil {
		return media.Attachment{}, err
	}

	att := media.Attachment{
		Data:      data,
		MimeType:  mime,
		MessageID: msg.ID,
	}
	if msg.Media != nil {
		att.Filename = msg.Media.Filename
	}
	return att, nil
}

// buildLogger monta o slog.Logger a partir da config e da flag -v.
func buildLogger(cmd *cobra.Command, cfg *bot.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// resolveConfig loads config from an explicit path, a discovered file, or
// falls back to defaults plus environment variables.
func resolveConfig(cmd *cobra.Command) (*bot.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := bot.LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := bot.FindConfigFile(); found != "" {
		cfg, err := bot.LoadConfigFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	// No config file — defaults + environment still make a runnable bot.
	cfg, err := bot.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}
	slog.Info("no config file found, using defaults + environment")
	return cfg, nil
}
