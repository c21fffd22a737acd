package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grocery-tracker/internal/auth"
	"grocery-tracker/internal/config"
	"grocery-tracker/internal/expiry"
	"grocery-tracker/internal/handlers"
	"grocery-tracker/internal/notify"
	"grocery-tracker/internal/recipes"
	"grocery-tracker/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	db, err := storage.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		slog.Error("Failed to initialize database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Database ready", "type", db.DatabaseType())

	if err := seedUser(db, os.Getenv("ADMIN_USER"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		slog.Error("Failed to create initial user", "error", err)
		os.Exit(1)
	}

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		slog.Error("Failed to create token issuer", "error", err)
		os.Exit(1)
	}
	classifier := expiry.New(cfg.Location, cfg.ExpiryWindowDays)

	provider, closeProvider := newRecipeProvider(cfg)
	defer closeProvider()

	scheduler := notify.NewScheduler(notify.NewNotifier(db, classifier, newSender(cfg)), cfg.NotifyInterval)
	scheduler.Start()
	defer scheduler.Stop()

	h := handlers.NewHandlers(db, issuer, classifier, provider)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("Server starting", "addr", server.Addr, "expiry_window_days", cfg.ExpiryWindowDays, "timezone", cfg.Location.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	slog.Info("Server exited")
}

// setupRouter wraps the API routes with the outer middleware chain.
func setupRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(handlers.LoggingMiddleware)
	r.Use(handlers.CORSMiddleware)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Mount("/", h.Routes())
	return r
}

// newRecipeProvider returns nil when no Spoonacular key is configured. Lookups
// are cached in Redis when REDIS_ADDR is set and in memory otherwise.
func newRecipeProvider(cfg *config.Config) (recipes.Provider, func()) {
	if cfg.SpoonacularKey == "" {
		slog.Warn("SPOONACULAR_API_KEY not set; recipe suggestions are disabled")
		return nil, func() {}
	}
	upstream := recipes.NewSpoonacular(cfg.SpoonacularURL, cfg.SpoonacularKey, &http.Client{Timeout: 10 * time.Second})

	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cache, err := recipes.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err == nil {
			slog.Info("Recipe cache using Redis", "addr", cfg.RedisAddr)
			return recipes.NewCachedProvider(upstream, cache, cfg.RecipeCacheTTL), func() { cache.Close() }
		}
		slog.Warn("Redis unavailable; falling back to in-memory recipe cache", "addr", cfg.RedisAddr, "error", err)
	}
	return recipes.NewCachedProvider(upstream, recipes.NewMemoryCache(), cfg.RecipeCacheTTL), func() {}
}

func newSender(cfg *config.Config) notify.Sender {
	if cfg.TwilioSID == "" {
		slog.Info("Twilio not configured; reminders are written to the log")
		return notify.LogSender{}
	}
	sender, err := notify.NewTwilioSender(cfg.TwilioSID, cfg.TwilioToken, cfg.TwilioFrom)
	if err != nil {
		slog.Warn("Invalid Twilio configuration; reminders are written to the log", "error", err)
		return notify.LogSender{}
	}
	return sender
}

// seedUser creates the initial account named by ADMIN_USER if it does not exist yet.
func seedUser(db storage.Store, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	if _, err := db.GetUserByUsername(username); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user, err := db.CreateUser(username, hash, "")
	if err != nil {
		return err
	}
	slog.Info("Created initial user", "username", user.Username, "id", user.ID)
	return nil
}
