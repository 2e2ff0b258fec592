// Package app wires the services shared by the server and the operator
// commands.
package app

import (
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"github.com/sirdesai22/mutualaid/internal/accounts"
	"github.com/sirdesai22/mutualaid/internal/api"
	"github.com/sirdesai22/mutualaid/internal/claims"
	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/fulfillment"
	"github.com/sirdesai22/mutualaid/internal/geo"
	"github.com/sirdesai22/mutualaid/internal/intake"
	"github.com/sirdesai22/mutualaid/internal/lottery"
	"github.com/sirdesai22/mutualaid/internal/notify"
	"github.com/sirdesai22/mutualaid/internal/workers"
	"gorm.io/gorm"
)

type App struct {
	Config      config.Config
	DB          *gorm.DB
	Now         func() time.Time
	Geocoder    *geo.Geocoder
	Notifier    *notify.Orchestrator
	Dispatcher  *notify.Dispatcher
	Gate        *intake.Gate
	Machine     *fulfillment.Machine
	Intake      *intake.Service
	Fulfillment *fulfillment.Service
	Broker      *claims.Broker
	Lottery     *lottery.Engine
	Accounts    *accounts.Service
	Authz       *accounts.Authorizer
	Regeocoder  *workers.RegeocodeWorker
}

// New builds every service over gdb. now may be nil for the wall clock.
func New(cfg config.Config, gdb *gorm.DB, now func() time.Time) (*App, error) {
	if now == nil {
		now = time.Now
	}
	loc := cfg.Location()

	provider, err := geocodingProvider(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := notificationSink(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, DB: gdb, Now: now}
	a.Geocoder = geo.NewGeocoder(provider, cfg.GeocodeTimeout, nil)
	a.Notifier = notify.NewOrchestrator(notify.DefaultCatalog(), loc, cfg.SMSDefaultGroup, cfg.SMSGroceriesGroup)
	a.Dispatcher = &notify.Dispatcher{
		DB:          gdb,
		Sink:        sink,
		Timeout:     cfg.NotifyTimeout,
		MaxAttempts: cfg.NotifyMaxAttempts,
		Backoff:     cfg.NotifyBackoff,
	}
	a.Gate = intake.NewGate(cfg, now)
	a.Machine = fulfillment.NewMachine(a.Notifier, now)
	a.Intake = intake.NewService(gdb, cfg, a.Geocoder, a.Notifier, a.Gate)
	a.Fulfillment = fulfillment.NewService(gdb, a.Machine, cfg, a.Gate)
	a.Broker = claims.NewBroker(gdb, a.Machine, cfg)
	a.Lottery = lottery.NewEngine(gdb, a.Machine, cfg, a.Gate, rand.New(rand.NewPCG(uint64(now().UnixNano()), rand.Uint64())))
	a.Accounts = accounts.NewService(gdb, a.Geocoder)
	a.Authz = accounts.NewAuthorizer(gdb)
	a.Regeocoder = workers.NewRegeocodeWorker(gdb, a.Geocoder)
	return a, nil
}

// API returns the HTTP server over the app's services.
func (a *App) API() *api.Server {
	return &api.Server{
		DB:          a.DB,
		Config:      a.Config,
		Secret:      []byte(a.Config.JWTSecret),
		Intake:      a.Intake,
		Fulfillment: a.Fulfillment,
		Broker:      a.Broker,
		Lottery:     a.Lottery,
		Authz:       a.Authz,
		Now:         a.Now,
	}
}

func geocodingProvider(cfg config.Config) (geo.Provider, error) {
	if cfg.GoogleMapsAPIKey == "" {
		log.Println("📍 GOOGLE_MAPS_API_KEY not set, every address will get a city-centre pin")
		return geo.StaticProvider{}, nil
	}
	return geo.NewGoogleProvider(cfg.GoogleMapsAPIKey)
}

func notificationSink(cfg config.Config) (notify.Sink, error) {
	var r notify.Router
	if cfg.SMSAPIURL != "" {
		r.SMS = notify.NewSMSSink(cfg.SMSAPIURL, cfg.SMSAccessToken, cfg.NotifyTimeout)
	} else {
		log.Println("⚠️ SMS_API_URL not set, text messages will fail")
	}
	if cfg.SMTPHost != "" {
		email, err := notify.NewEmailSink(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom, cfg.NotifyTimeout)
		if err != nil {
			return nil, fmt.Errorf("email sink: %w", err)
		}
		r.Email = email
	} else {
		log.Println("⚠️ SMTP_HOST not set, emails will fail")
	}
	return r, nil
}
