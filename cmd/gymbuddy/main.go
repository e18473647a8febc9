package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gymops/gymbuddy/internal/api"
	"github.com/gymops/gymbuddy/internal/booking"
	"github.com/gymops/gymbuddy/internal/flow"
	"github.com/gymops/gymbuddy/internal/genai"
	"github.com/gymops/gymbuddy/internal/lockfile"
	"github.com/gymops/gymbuddy/internal/messaging"
	"github.com/gymops/gymbuddy/internal/store"
	"github.com/gymops/gymbuddy/internal/twiliowhatsapp"
	"github.com/gymops/gymbuddy/internal/util"
	"github.com/gymops/gymbuddy/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for GymBuddy state data
	DefaultStateDir = "/var/lib/gymbuddy"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "gymbuddy.db"
	// DefaultWhatsAppDBFileName holds the whatsmeow session store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("GymBuddy failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("GymBuddy exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	WhatsAppDSN string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	APIToken    string
	Backend     string
	GymName     string
	GymPhone    string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput *string
	numeric  *bool
	stateDir *string
	dbDSN    *string
	waDSN    *string
	openai   *string
	apiAddr  *string
	apiToken *string
	backend  *string
	gymName  *string
	gymPhone *string
}

// initializeLogger sets up structured logging. LOG_LEVEL selects the level,
// defaulting to info.
func initializeLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:    util.GetenvDefault("GYMBUDDY_STATE_DIR", DefaultStateDir),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		APIToken:    os.Getenv("API_TOKEN"),
		Backend:     util.GetenvDefault("MESSAGING_BACKEND", "whatsapp"),
		GymName:     os.Getenv("GYM_NAME"),
		GymPhone:    os.Getenv("GYM_PHONE"),
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "path", config.DatabaseURL)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"GYMBUDDY_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"API_TOKEN_SET", config.APIToken != "",
		"MESSAGING_BACKEND", config.Backend)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput: flag.String("qr-output", "", "path to write login QR code"),
		numeric:  flag.Bool("numeric-code", util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false), "use numeric login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)"),
		stateDir: flag.String("state-dir", config.StateDir, "state directory for GymBuddy data (overrides $GYMBUDDY_STATE_DIR)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "database DSN for the booking store (overrides $DATABASE_URL)"),
		waDSN:    flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN)"),
		openai:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:  flag.String("api-addr", config.APIAddr, "admin API server address (overrides $API_ADDR)"),
		apiToken: flag.String("api-token", config.APIToken, "admin API bearer token (overrides $API_TOKEN)"),
		backend:  flag.String("backend", config.Backend, "messaging backend, whatsapp or twilio (overrides $MESSAGING_BACKEND)"),
		gymName:  flag.String("gym-name", config.GymName, "gym display name used in replies (overrides $GYM_NAME)"),
		gymPhone: flag.String("gym-phone", config.GymPhone, "gym contact phone shown to members (overrides $GYM_PHONE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"waDSN_set", *flags.waDSN != "",
		"openaiKeySet", *flags.openai != "",
		"apiAddr", *flags.apiAddr,
		"backend", *flags.backend)

	// Follow a relocated state directory for the default file-based DSNs.
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		if *flags.waDSN == filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) {
			*flags.waDSN = filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
		}
	}

	return flags
}

func run(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		if err := os.MkdirAll(filepath.Dir(*flags.dbDSN), 0755); err != nil {
			return err
		}
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	windowHours := util.ParseIntEnv("CANCELLATION_WINDOW_HOURS", int(booking.DefaultCancellationWindow/time.Hour))
	engine := booking.NewEngine(st, booking.WithCancellationWindow(time.Duration(windowHours)*time.Hour))
	states := flow.NewStateManager(st)

	ai, err := newAIClient(flags)
	if err != nil {
		return err
	}

	handlers := flow.NewHandlers(engine, ai, *flags.gymName, *flags.gymPhone)
	orchestrator := flow.NewOrchestrator(st, states, engine, ai, handlers)

	svc, err := newMessagingService(flags)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return err
	}

	processor := messaging.NewProcessor(svc, orchestrator, st)
	go processor.Start(ctx)

	apiOpts := []api.Option{api.WithToken(*flags.apiToken)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(engine, st, orchestrator, apiOpts...)
	server.Start()

	slog.Info("GymBuddy running", "backend", *flags.backend, "apiAddr", *flags.apiAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutting down", "signal", sig.String())

	cancel()
	if err := svc.Stop(); err != nil {
		slog.Error("Failed to stop messaging service", "error", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down API server", "error", err)
	}
	return nil
}

// gymStore is the intersection of interfaces the wiring needs from a store.
type gymStore interface {
	store.Store
	store.DedupRepo
}

// openStore picks the SQL backend from the DSN shape.
func openStore(dsn string) (gymStore, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Info("Using PostgreSQL store")
		st, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	slog.Info("Using SQLite store", "path", dsn)
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	return st, nil
}

func newAIClient(flags Flags) (genai.ClientInterface, error) {
	var opts []genai.Option
	if *flags.openai != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openai))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// newMessagingService builds the configured chat transport.
func newMessagingService(flags Flags) (messaging.Service, error) {
	switch strings.ToLower(*flags.backend) {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	default:
		var waOpts []whatsapp.Option
		if *flags.waDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}
