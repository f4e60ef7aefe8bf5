package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vendaflow/vendaflow/internal/api"
	"github.com/vendaflow/vendaflow/internal/genai"
	"github.com/vendaflow/vendaflow/internal/messaging"
	"github.com/vendaflow/vendaflow/internal/models"
	"github.com/vendaflow/vendaflow/internal/payment"
	"github.com/vendaflow/vendaflow/internal/scheduler"
	"github.com/vendaflow/vendaflow/internal/store"
	"github.com/vendaflow/vendaflow/internal/telegram"
	"github.com/vendaflow/vendaflow/internal/turn"
	"github.com/vendaflow/vendaflow/internal/util"
)

const (
	// DefaultStateDir is the default directory for VendaFlow state data.
	DefaultStateDir = "/var/lib/vendaflow"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "vendaflow.db"
	// DefaultSweepSchedule runs the recovery sweep every two minutes.
	DefaultSweepSchedule = "*/2 * * * *"

	jobPollInterval = 2 * time.Second
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	if err := run(flags); err != nil {
		slog.Error("VendaFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VendaFlow exited successfully")
}

// Config holds environment configuration.
type Config struct {
	DatabaseURL      string
	StateDir         string
	TelegramToken    string
	TelegramAPIBase  string
	OpenAIKey        string
	OpenAIBaseURL    string
	OpenAIModel      string
	WiinPayKey       string
	WiinPayBaseURL   string
	APIAddr          string
	AdminAPIKey      string
	SweepSchedule    string
	ShowerPhotoURL   string
	LingeriePhotoURL string
	WetPhotoURL      string
	VideoPreviewURL  string
	AppInstallURL    string
}

// Flags holds command line flag values, seeded from the environment.
type Flags struct {
	config        Config
	dbDSN         *string
	stateDir      *string
	telegramToken *string
	openaiKey     *string
	wiinpayKey    *string
	apiAddr       *string
	sweepSchedule *string
}

func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("VENDAFLOW_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("VENDAFLOW_STATE_DIR"),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAPIBase:  os.Getenv("TELEGRAM_API_SERVER"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		WiinPayKey:       os.Getenv("WIINPAY_API_KEY"),
		WiinPayBaseURL:   os.Getenv("WIINPAY_BASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		AdminAPIKey:      os.Getenv("ADMIN_API_KEY"),
		SweepSchedule:    os.Getenv("SWEEP_SCHEDULE"),
		ShowerPhotoURL:   os.Getenv("MEDIA_SHOWER_PHOTO_URL"),
		LingeriePhotoURL: os.Getenv("MEDIA_LINGERIE_PHOTO_URL"),
		WetPhotoURL:      os.Getenv("MEDIA_WET_PHOTO_URL"),
		VideoPreviewURL:  os.Getenv("MEDIA_VIDEO_PREVIEW_URL"),
		AppInstallURL:    os.Getenv("APP_INSTALL_URL"),
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.SweepSchedule == "" {
		config.SweepSchedule = DefaultSweepSchedule
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"VENDAFLOW_STATE_DIR", config.StateDir,
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"WIINPAY_API_KEY_SET", config.WiinPayKey != "",
		"API_ADDR", config.APIAddr,
		"SWEEP_SCHEDULE", config.SweepSchedule)
	return config
}

func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		config:        config,
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)"),
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for VendaFlow data (overrides $VENDAFLOW_STATE_DIR)"),
		telegramToken: flag.String("telegram-token", config.TelegramToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		wiinpayKey:    flag.String("wiinpay-api-key", config.WiinPayKey, "WiinPay API key (overrides $WIINPAY_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sweepSchedule: flag.String("sweep-schedule", config.SweepSchedule, "cron expression for the recovery sweep (overrides $SWEEP_SCHEDULE)"),
	}
	flag.Parse()
	return flags
}

func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// openStore selects the backend from the DSN. Both backends also provide the
// durable job queue.
func openStore(dsn string) (store.Store, store.JobRepo, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Info("Using PostgreSQL store")
		s, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
	slog.Info("Using SQLite store", "path", dsn)
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

// settingOrDefault prefers the operator-set DB value over the environment
// fallback, matching the original admin surface where the bot token and the
// media table are editable at runtime.
func settingOrDefault(st store.Store, key, fallback string) string {
	value, err := st.GetSetting(key)
	if err != nil {
		slog.Warn("Setting lookup failed, using fallback", "key", key, "error", err)
		return fallback
	}
	if value != "" {
		return value
	}
	return fallback
}

func buildMediaTable(st store.Store, config Config) map[models.Action]turn.MediaAsset {
	table := map[models.Action]turn.MediaAsset{}
	if url := settingOrDefault(st, "media_shower_photo_url", config.ShowerPhotoURL); url != "" {
		table[models.ActionSendShowerPhoto] = turn.MediaAsset{URL: url, Kind: models.MediaKindImage}
	}
	if url := settingOrDefault(st, "media_lingerie_photo_url", config.LingeriePhotoURL); url != "" {
		table[models.ActionSendLingeriePhoto] = turn.MediaAsset{URL: url, Kind: models.MediaKindImage}
	}
	if url := settingOrDefault(st, "media_wet_photo_url", config.WetPhotoURL); url != "" {
		table[models.ActionSendWetPhoto] = turn.MediaAsset{URL: url, Kind: models.MediaKindImage}
	}
	if url := settingOrDefault(st, "media_video_preview_url", config.VideoPreviewURL); url != "" {
		table[models.ActionSendVideoPreview] = turn.MediaAsset{URL: url, Kind: models.MediaKindVideo, Caption: "olha isso"}
	}
	if url := settingOrDefault(st, "app_install_url", config.AppInstallURL); url != "" {
		table[models.ActionRequestAppInstall] = turn.MediaAsset{URL: url, Caption: "baixa aqui amor:"}
	}
	return table
}

func run(flags Flags) error {
	config := flags.config

	st, jobs, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	botToken := settingOrDefault(st, "telegram_bot_token", *flags.telegramToken)
	var tgOpts []telegram.Option
	tgOpts = append(tgOpts, telegram.WithToken(botToken))
	if config.TelegramAPIBase != "" {
		tgOpts = append(tgOpts, telegram.WithAPIServer(config.TelegramAPIBase))
	}
	tgClient, err := telegram.NewClient(tgOpts...)
	if err != nil {
		return err
	}
	msgService := messaging.NewTelegramService(tgClient)

	genaiOpts := []genai.Option{genai.WithAPIKey(*flags.openaiKey)}
	if config.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(config.OpenAIBaseURL))
	}
	if config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(config.OpenAIModel))
	}
	genaiOpts = append(genaiOpts, genai.WithMaxAttempts(util.ParseIntEnv("OPENAI_MAX_ATTEMPTS", 3)))
	engine, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	var payOpts []payment.Option
	if config.WiinPayBaseURL != "" {
		payOpts = append(payOpts, payment.WithBaseURL(config.WiinPayBaseURL))
	}
	provider, err := payment.NewClient(*flags.wiinpayKey, payOpts...)
	if err != nil {
		return err
	}

	compositor := turn.NewCompositor(st, tgClient)
	dispatcher := turn.NewDispatcher(st, msgService, provider,
		turn.WithMediaTable(buildMediaTable(st, config)),
		turn.WithDefaultPaymentAmount(util.ParseFloatEnv("PAYMENT_DEFAULT_AMOUNT", turn.DefaultPaymentAmount)))
	processor := turn.NewProcessor(st, msgService, engine, compositor, dispatcher)
	ingress := turn.NewIngress(st, jobs)

	runner := store.NewJobRunner(jobs, jobPollInterval)
	runner.RegisterHandler(store.JobKindProcessTurn, processor.HandleProcessTurnJob)
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Warn("Stale job recovery failed at startup", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go runner.Run(ctx)

	cronRunner := scheduler.NewScheduler()
	defer cronRunner.Stop()
	sweep := scheduler.NewSweep(st, jobs, util.ParseDurationEnv("SWEEP_IDLE_AFTER", scheduler.DefaultIdleAfter))
	if err := cronRunner.AddJob(*flags.sweepSchedule, sweep.Run); err != nil {
		return err
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if config.AdminAPIKey != "" {
		apiOpts = append(apiOpts, api.WithAPIKey(config.AdminAPIKey))
	}
	apiOpts = append(apiOpts, api.WithTelegramConfigured(botToken != ""))
	server := api.NewServer(st, ingress, apiOpts...)
	return server.Run(ctx)
}
