// cmd/slotwise/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/slotwise/slotwise/internal/applog"
	"github.com/slotwise/slotwise/internal/calendar"
	"github.com/slotwise/slotwise/internal/config"
	"github.com/slotwise/slotwise/internal/database"
	"github.com/slotwise/slotwise/internal/dispatch"
	"github.com/slotwise/slotwise/internal/engine"
	"github.com/slotwise/slotwise/internal/handler"
	"github.com/slotwise/slotwise/internal/repository"
	"github.com/slotwise/slotwise/internal/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	applog.SetLevel(applog.Level(cfg.LogLevel))

	ctx := context.Background()

	// ── 1. Connect to PostgreSQL and apply migrations ─────────────────────
	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	applog.Info("connected to postgres", "host", cfg.Database.Host, "db", cfg.Database.Name)

	// ── 2. Wire up layers ────────────────────────────────────────────────
	store := repository.NewStore(pool)
	eng := engine.New(pool, cfg.LockTimeout)
	busy := calendar.NewICSFeedSource(cfg.FeedTimeout)
	dispatcher := dispatch.New(pool, dispatch.LogWriter{}, dispatch.LogNotifier{}, dispatch.LogCRM{}, cfg.DispatchAttempts)
	svc := service.NewBookingService(store, eng, busy, dispatcher)
	bookings := handler.NewBookingHandler(svc)

	// ── 3. Side-effect retry sweep on a cron schedule ─────────────────────
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.DispatchCron, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		dispatcher.Sweep(sweepCtx)
	}); err != nil {
		log.Fatalf("dispatch cron %q: %v", cfg.DispatchCron, err)
	}
	sched.Start()
	defer sched.Stop()

	// ── 4. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger)          // structured access log
	r.Use(handler.CORS)            // booking widgets embed cross-origin

	r.Get("/health", handler.HealthCheck)

	r.Route("/events", func(r chi.Router) {
		r.Post("/{id}/admissions", bookings.Admit)
		r.Get("/{id}/openings", bookings.Openings)
	})
	r.Get("/slots/{id}/waitlist", bookings.Waitlist)
	r.Route("/bookings", func(r chi.Router) {
		r.Get("/{token}", bookings.GetBooking)
		r.Post("/{token}/cancel", bookings.Cancel)
		r.Post("/{token}/reschedule", bookings.Reschedule)
	})
	r.Post("/admin/bookings/{id}/approve", bookings.Approve)

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		applog.Info("server listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	applog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	applog.Info("server stopped")
}
