package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/tutorly/backend/internal/auth"
	"github.com/tutorly/backend/internal/coach"
	"github.com/tutorly/backend/internal/config"
	"github.com/tutorly/backend/internal/database"
	"github.com/tutorly/backend/internal/gamification"
	"github.com/tutorly/backend/internal/jobs"
	"github.com/tutorly/backend/internal/logging"
	"github.com/tutorly/backend/internal/middleware"
	"github.com/tutorly/backend/internal/notify"
	"github.com/tutorly/backend/internal/storage/memory"
	"github.com/tutorly/backend/internal/storage/postgres"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := gamification.NewMetrics(reg)

	// Notifications
	var llm coach.LLMClient
	if cfg.Coach.AnthropicAPIKey != "" {
		llm = coach.NewAnthropicClient(cfg.Coach.AnthropicAPIKey, cfg.Coach.Model, logger.Named("coach"))
	}
	composer := coach.NewComposer(llm, cfg.Coach.Timeout, logger.Named("coach"))

	var sender notify.Sender = notify.NewLogSender(logger.Named("mail"))
	if cfg.Notify.SendGridAPIKey != "" {
		sender = notify.NewSendGridSender(cfg.Notify.SendGridAPIKey, cfg.Notify.FromName, cfg.Notify.FromEmail)
	}
	dispatcher := notify.NewDispatcher(store, composer, sender, logger.Named("notify"))
	defer dispatcher.Close()

	// Engine
	events, err := cfg.EventTable()
	if err != nil {
		return err
	}
	service := gamification.NewService(store, events,
		gamification.WithLogger(logger.Named("gamification")),
		gamification.WithMetrics(metrics),
		gamification.WithNotifier(dispatcher),
		gamification.WithRewardExpiry(cfg.RewardExpiry()),
		gamification.WithMaxStreakFreezes(cfg.Gamification.MaxStreakFreezes),
	)

	sched, err := jobs.Start(service, cfg.Jobs.MaintenanceInterval, logger.Named("jobs"))
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown", zap.Error(err))
		}
	}()

	if cfg.Auth.ServiceKeyHash == "" {
		logger.Warn("SERVICE_KEY_HASH not set; internal routes will reject every request")
	}

	h := gamification.NewHandler(service, logger.Named("http"))
	router := newRouter(h, auth.NewTokens(cfg.Auth.JWTSecret), auth.NewServiceKey(cfg.Auth.ServiceKeyHash), reg)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      middleware.RequestLogger(logger.Named("http"))(c.Handler(router)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (gamification.Store, *sql.DB, error) {
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("using in-memory store; state is lost on restart")
		store := memory.New()
		store.SeedDefaults(time.Now())
		return store, nil, nil
	}

	db, err := database.Connect(ctx, cfg.Database.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return postgres.NewStore(db), db, nil
}

func newRouter(h *gamification.Handler, tokens *auth.Tokens, serviceKey *auth.ServiceKey, reg *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()

	// User routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.RequireUser(tokens))
	api.HandleFunc("/gamification/me", h.GetSummary).Methods("GET")
	api.HandleFunc("/gamification/daily-login", h.DailyLogin).Methods("POST")
	api.HandleFunc("/gamification/badges", h.ListBadges).Methods("GET")
	api.HandleFunc("/gamification/challenges", h.ListChallenges).Methods("GET")
	api.HandleFunc("/gamification/xp-history", h.XPHistory).Methods("GET")
	api.HandleFunc("/gamification/leaderboard", h.Leaderboard).Methods("GET")
	api.HandleFunc("/rewards", h.ListRewards).Methods("GET")
	api.HandleFunc("/rewards/mine", h.ListUserRewards).Methods("GET")
	api.HandleFunc("/rewards/{id}/redeem", h.RedeemReward).Methods("POST")

	// Service-to-service routes
	internal := r.PathPrefix("/internal/v1").Subrouter()
	internal.Use(middleware.RequireServiceKey(serviceKey))
	internal.HandleFunc("/events", h.RecordEvent).Methods("POST")
	internal.HandleFunc("/xp", h.AwardXP).Methods("POST")
	internal.HandleFunc("/streaks/{userID}", h.UpdateStreak).Methods("POST")
	internal.HandleFunc("/badges/{userID}/check", h.CheckBadges).Methods("POST")
	internal.HandleFunc("/challenges/{userID}/progress", h.UpdateChallengeProgress).Methods("POST")

	// Operational
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

	return r
}
