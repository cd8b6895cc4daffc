package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iqcalorie/caloriebot/internal/api"
	"github.com/iqcalorie/caloriebot/internal/billing"
	"github.com/iqcalorie/caloriebot/internal/cache"
	"github.com/iqcalorie/caloriebot/internal/flow"
	"github.com/iqcalorie/caloriebot/internal/genai"
	"github.com/iqcalorie/caloriebot/internal/intent"
	"github.com/iqcalorie/caloriebot/internal/ledger"
	"github.com/iqcalorie/caloriebot/internal/messaging"
	"github.com/iqcalorie/caloriebot/internal/profile"
	"github.com/iqcalorie/caloriebot/internal/session"
	"github.com/iqcalorie/caloriebot/internal/store"
	"github.com/iqcalorie/caloriebot/internal/util"
)

// Default configuration constants
const (
	// DefaultAPIAddr is the default HTTP listen address
	DefaultAPIAddr = ":8080"
	// DefaultSQLitePath is the fallback database when no DATABASE_URL is set
	DefaultSQLitePath = "caloriebot.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("caloriebot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("caloriebot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL         string
	RedisURL            string
	OpenAIKey           string
	APIAddr             string
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	DashboardURL        string
	SupportEmail        string
	AllowedOrigins      string
}

// Flags holds command line flag values
type Flags struct {
	dbDSN     *string
	redisURL  *string
	openaiKey *string
	apiAddr   *string
	config    Config
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DEBUG", false) {
		level = slog.LevelDebug
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

	return Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		APIAddr:             util.GetEnvOr("API_ADDR", DefaultAPIAddr),
		TwilioAccountSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:    os.Getenv("TWILIO_FROM_NUMBER"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceID:       os.Getenv("STRIPE_PRICE_ID"),
		CheckoutSuccessURL:  os.Getenv("CHECKOUT_SUCCESS_URL"),
		CheckoutCancelURL:   os.Getenv("CHECKOUT_CANCEL_URL"),
		DashboardURL:        os.Getenv("DASHBOARD_URL"),
		SupportEmail:        util.GetEnvOr("SUPPORT_EMAIL", "support@iqcalorie.com"),
		AllowedOrigins:      util.GetEnvOr("ALLOWED_ORIGINS", "*"),
	}
}

// parseCommandLineFlags parses flags, using environment values as defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database connection string (postgres:// DSN or SQLite path)"),
		redisURL:  flag.String("redis-url", config.RedisURL, "Redis connection URL for sessions and caching"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "HTTP listen address"),
		config:    config,
	}
	flag.Parse()
	return flags
}

func run(flags Flags) error {
	config := flags.config

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	kv := openKV(*flags.redisURL)

	llm, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		return err
	}

	messenger, err := messaging.NewTwilioService(
		messaging.WithCredentials(config.TwilioAccountSID, config.TwilioAuthToken),
		messaging.WithFromNumber(config.TwilioFromNumber),
	)
	if err != nil {
		return err
	}

	profiles := profile.NewCache(st, kv)
	abuse := flow.NewAbuseTracker(kv)
	turns := flow.NewFlow(flow.Deps{
		Profiles:     profiles,
		Sessions:     session.NewStore(kv),
		Classifier:   intent.NewClassifier(llm),
		Ledger:       ledger.New(st),
		LLM:          llm,
		Abuse:        abuse,
		Media:        messenger,
		DashboardURL: config.DashboardURL,
		SupportEmail: config.SupportEmail,
	})

	billingSvc, err := billing.NewService(st, profiles, messenger,
		billing.WithKeys(config.StripeSecretKey, config.StripeWebhookSecret),
		billing.WithPrice(config.StripePriceID),
		billing.WithRedirects(config.CheckoutSuccessURL, config.CheckoutCancelURL),
	)
	if err != nil {
		return err
	}

	webhook := messaging.NewWebhookHandler(turns, messenger, flow.ImagePreAck())
	server := api.NewServer(webhook, billingSvc, abuse,
		api.WithAddr(*flags.apiAddr),
		api.WithAllowedOrigins(strings.Split(config.AllowedOrigins, ",")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping caloriebot", "api_addr", *flags.apiAddr, "postgres", strings.HasPrefix(*flags.dbDSN, "postgres"), "redis", *flags.redisURL != "")
	return server.Run(ctx)
}

// openStore picks the database backend from the DSN shape: postgres:// URLs
// go to Postgres, anything else is treated as a SQLite path.
func openStore(dsn string) (store.Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	if dsn == "" {
		dsn = DefaultSQLitePath
		slog.Debug("No DATABASE_URL set, using local SQLite", "path", dsn)
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// openKV connects Redis when configured, otherwise falls back to the
// in-process KV. Sessions and caches survive restarts only with Redis.
func openKV(redisURL string) cache.KV {
	if redisURL == "" {
		slog.Warn("No REDIS_URL set, sessions and caches are in-memory only")
		return cache.NewMemoryKV()
	}
	kv, err := cache.NewRedisKV(redisURL)
	if err != nil {
		slog.Error("Redis unavailable, falling back to in-memory KV", "error", err)
		return cache.NewMemoryKV()
	}
	return kv
}
