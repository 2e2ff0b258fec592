package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirdesai22/mutualaid/internal/app"
	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/db"
	"github.com/sirdesai22/mutualaid/internal/elastic"
	"github.com/sirdesai22/mutualaid/internal/lottery"
	"github.com/sirdesai22/mutualaid/internal/metrics"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}

	pg := db.Connect(cfg.DatabaseURL)
	db.Migrate(pg)
	db.Seed(pg)

	metrics.Register()

	a, err := app.New(cfg, pg, nil)
	if err != nil {
		log.Fatalf("❌ wiring: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ElasticURL != "" {
		worker := workers.NewSyncWorker(pg, elastic.Connect(cfg.ElasticURL))
		go worker.Run(ctx, 2*time.Second)
		go worker.RetryDLQ(ctx, 30*time.Second)
	} else {
		log.Println("⚠️ ELASTIC_URL not set, dashboard index sync disabled")
	}

	go a.Dispatcher.Run(ctx, 5*time.Second)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := a.Dispatcher.Requeue(ctx, 5*time.Minute); err != nil {
					log.Printf("❌ requeue stale notifications: %v", err)
				} else if n > 0 {
					log.Printf("♻️ requeued %d stale notifications", n)
				}
			}
		}
	}()

	sched, err := schedule(ctx, a)
	if err != nil {
		log.Fatalf("❌ scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.API().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			log.Printf("❌ shutdown: %v", err)
		}
	}()

	log.Printf("🧭 API running on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("API listener failed: %v", err)
	}
	log.Println("👋 server stopped")
}

// schedule registers the periodic jobs: day-of reminders, re-geocoding and,
// when LOTTERY_SCHEDULE is set, the weekly draws.
func schedule(ctx context.Context, a *app.App) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(a.Config.Location()))

	if _, err := c.AddFunc(a.Config.ReminderSchedule, func() {
		n, err := a.Fulfillment.SendReminders(ctx, a.Now())
		if err != nil {
			log.Printf("❌ reminders: %v", err)
			return
		}
		log.Printf("⏰ queued reminders for %d deliveries", n)
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(a.Config.RegeocodeSchedule, func() {
		if _, err := a.Regeocoder.RunOnce(ctx); err != nil {
			log.Printf("❌ regeocode: %v", err)
		}
	}); err != nil {
		return nil, err
	}

	if a.Config.LotterySchedule != "" {
		if _, err := c.AddFunc(a.Config.LotterySchedule, func() {
			for _, cat := range []models.Category{models.CategoryMeal, models.CategoryGrocery} {
				res, err := a.Lottery.Run(ctx, cat, lottery.Options{})
				if err != nil {
					log.Printf("❌ %s lottery: %v", cat, err)
					continue
				}
				log.Printf("🎲 %s lottery %s: %d selected", cat, res.Week, len(res.Selected))
			}
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}
