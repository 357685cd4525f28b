package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/DreamPipe/internal/api"
	"github.com/BTreeMap/DreamPipe/internal/config"
	"github.com/BTreeMap/DreamPipe/internal/flow"
	"github.com/BTreeMap/DreamPipe/internal/genai"
	"github.com/BTreeMap/DreamPipe/internal/locale"
	"github.com/BTreeMap/DreamPipe/internal/lockfile"
	"github.com/BTreeMap/DreamPipe/internal/messaging"
	"github.com/BTreeMap/DreamPipe/internal/recovery"
	"github.com/BTreeMap/DreamPipe/internal/scheduler"
	"github.com/BTreeMap/DreamPipe/internal/store"
	"github.com/BTreeMap/DreamPipe/internal/telegram"
	"github.com/BTreeMap/DreamPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/DreamPipe/internal/whatsapp"
)

var serveFlags struct {
	transport string
	port      string
	stateDir  string
	qrOutput  string
	numeric   bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and its HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadEnv()
		applyServeFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		initializeLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.transport, "transport", "", "Transport: telegram, whatsapp or twilio (overrides TRANSPORT)")
	f.StringVar(&serveFlags.port, "port", "", "HTTP port (overrides PORT)")
	f.StringVar(&serveFlags.stateDir, "state-dir", "", "State directory for the lock file and SQLite databases (overrides DREAMPIPE_STATE_DIR)")
	f.StringVar(&serveFlags.qrOutput, "qr-output", "", "Write the WhatsApp login QR code to this file (overrides WHATSAPP_QR_OUTPUT)")
	f.BoolVar(&serveFlags.numeric, "numeric", false, "Log in to WhatsApp with a numeric pairing code")
}

// applyServeFlags overrides environment values with the flags that were set.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	applyLogFlags(cfg)
	f := cmd.Flags()
	if f.Changed("transport") {
		cfg.Transport = strings.ToLower(serveFlags.transport)
	}
	if f.Changed("port") {
		cfg.Port = serveFlags.port
	}
	if f.Changed("state-dir") {
		if cfg.WhatsAppDSN == filepath.Join(cfg.StateDir, config.DefaultWhatsAppDBFileName) {
			cfg.WhatsAppDSN = filepath.Join(serveFlags.stateDir, config.DefaultWhatsAppDBFileName)
		}
		cfg.StateDir = serveFlags.stateDir
	}
	if f.Changed("qr-output") {
		cfg.WhatsAppQRPath = serveFlags.qrOutput
	}
	if f.Changed("numeric") {
		cfg.WhatsAppNumeric = serveFlags.numeric
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("Bootstrapping DreamPipe", "version", version, "transport", cfg.Transport,
		"backend", cfg.SessionBackend, "provider", cfg.GenAIProvider, "state_dir", cfg.StateDir)

	lock, err := lockfile.Acquire(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	sessions, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()
	manager := flow.NewSessionManager(sessions)

	if err := recovery.NewManager(recovery.NewProcessingSessions(sessions, manager)).RecoverAll(ctx); err != nil {
		slog.Warn("Startup recovery incomplete", "error", err)
	}

	catalog, err := locale.Load(cfg.DefaultLanguage)
	if err != nil {
		return fmt.Errorf("failed to load locale tables: %w", err)
	}
	gen, err := genai.NewGenerator(ctx, cfg.GenAIProvider, catalog, cfg.GenAIOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	var machineOpts []flow.MachineOption
	if cfg.PromoChannel != "" {
		machineOpts = append(machineOpts, flow.WithPromoChannel(cfg.PromoChannel))
	}
	machine := flow.NewMachine(catalog, flow.NewQuotaGate(cfg.RequestLimit, cfg.PrivilegedUsers), machineOpts...)

	svc, webhooks, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}

	dispatcher := messaging.NewDispatcher(svc, machine, manager, gen,
		messaging.WithPromoDelay(cfg.PromoDelay),
		messaging.WithGenerationTimeout(cfg.GenAITimeout),
		messaging.WithSessionCounter(sessions),
		messaging.WithDeduper(sessions),
	)

	apiOpts := []api.Option{
		api.WithAddr(cfg.Addr()),
		api.WithVersion(version),
		api.WithTransport(svc.Name()),
		api.WithStats(dispatcher),
		api.WithStoreHealth(sessions),
	}
	for path, h := range webhooks {
		apiOpts = append(apiOpts, api.WithWebhook(path, h))
	}
	server := api.NewServer(apiOpts...)

	g, gctx := errgroup.WithContext(ctx)
	sched := scheduler.NewScheduler()
	if err := sched.AddJob("session-cleanup", cfg.CleanupSchedule, func() { store.SweepExpired(gctx, sessions) }); err != nil {
		return err
	}
	if err := svc.Start(gctx); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", svc.Name(), err)
	}
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	err = g.Wait()
	_ = svc.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("DreamPipe stopped with error", "error", err)
		return err
	}
	slog.Info("DreamPipe exited successfully")
	return nil
}

// openSessionStore opens the configured backend behind the in-memory fallback.
func openSessionStore(ctx context.Context, cfg *config.Config) (*store.Fallback, error) {
	primary, err := store.New(ctx, cfg.SessionBackend, cfg.StoreOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s session store: %w", cfg.SessionBackend, err)
	}
	return store.NewFallback(primary, store.WithTTL(cfg.SessionTTL)), nil
}

// buildTransport creates the messaging service for cfg.Transport and the
// webhook handlers it needs mounted on the HTTP server.
func buildTransport(ctx context.Context, cfg *config.Config) (messaging.Service, map[string]http.Handler, error) {
	webhooks := make(map[string]http.Handler)
	switch cfg.Transport {
	case config.TransportTelegram:
		client, err := telegram.NewClient(
			telegram.WithToken(cfg.BotToken),
			telegram.WithWebhookURL(cfg.WebhookURL),
			telegram.WithSecretToken(cfg.SecretToken),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Telegram client: %w", err)
		}
		if h := client.WebhookHandler(); h != nil {
			webhooks[telegram.WebhookPath] = h
		}
		return messaging.NewTelegramService(client), webhooks, nil

	case config.TransportWhatsApp:
		opts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN)}
		if cfg.WhatsAppQRPath != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(cfg.WhatsAppQRPath))
		}
		if cfg.WhatsAppNumeric {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), webhooks, nil

	case config.TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(twiliowhatsapp.Address(cfg.TwilioFromNumber)),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		publicURL := strings.TrimRight(cfg.WebhookURL, "/") + messaging.TwilioWebhookPath
		svc := messaging.NewTwilioService(client, messaging.WithSignatureValidation(cfg.TwilioAuthToken, publicURL))
		webhooks[messaging.TwilioWebhookPath] = http.HandlerFunc(svc.WebhookHandler)
		return svc, webhooks, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown TRANSPORT %q", config.ErrInvalid, cfg.Transport)
	}
}
