// Package api is the HTTP surface: public intake, volunteer claims and the
// organizer workflow.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirdesai22/mutualaid/internal/accounts"
	"github.com/sirdesai22/mutualaid/internal/claims"
	"github.com/sirdesai22/mutualaid/internal/config"
	"github.com/sirdesai22/mutualaid/internal/fulfillment"
	"github.com/sirdesai22/mutualaid/internal/intake"
	"github.com/sirdesai22/mutualaid/internal/lottery"
	"gorm.io/gorm"
)

type Server struct {
	DB          *gorm.DB
	Config      config.Config
	Secret      []byte
	Intake      *intake.Service
	Fulfillment *fulfillment.Service
	Broker      *claims.Broker
	Lottery     *lottery.Engine
	Authz       *accounts.Authorizer
	Now         func() time.Time
	// AllowedOrigins feeds the CORS policy.
	AllowedOrigins []string
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/intake/status", s.intakeStatus).Methods(http.MethodGet)
	api.HandleFunc("/requests/meals", s.submit("meal")).Methods(http.MethodPost)
	api.HandleFunc("/requests/groceries", s.submit("grocery")).Methods(http.MethodPost)

	vol := api.PathPrefix("/volunteer").Subrouter()
	vol.Use(s.authenticate)
	vol.Handle("/available/meals", s.require(accounts.CanViewAvailableMeals, s.availableMeals)).Methods(http.MethodGet)
	vol.Handle("/available/deliveries", s.require(accounts.CanViewAvailableDeliveries, s.availableDeliveries)).Methods(http.MethodGet)
	vol.HandleFunc("/mine", s.mine).Methods(http.MethodGet)
	vol.Handle("/requests/{uuid}/claim/chef", s.require(accounts.CanClaimChef, s.claimChef)).Methods(http.MethodPost)
	vol.Handle("/requests/{uuid}/claim/delivery", s.require(accounts.CanClaimDelivery, s.claimDelivery)).Methods(http.MethodPost)
	vol.Handle("/requests/{uuid}/delivered", s.require(accounts.CanMarkDelivered, s.markDelivered)).Methods(http.MethodPost)
	vol.Handle("/requests/{uuid}/reschedule", s.require(accounts.CanReschedule, s.reschedule)).Methods(http.MethodPost)
	vol.Handle("/requests/{uuid}/notes", s.require(accounts.CanAddNote, s.addNote)).Methods(http.MethodPost)

	org := api.PathPrefix("/organizer").Subrouter()
	org.Use(s.authenticate)
	org.Handle("/requests/confirm", s.require(accounts.CanConfirmDate, s.confirmMany)).Methods(http.MethodPost)
	org.Handle("/requests/copy", s.require(accounts.CanCopyRequest, s.copyMany)).Methods(http.MethodPost)
	org.Handle("/requests/{uuid}/select", s.require(accounts.CanSelectRequest, s.selectRequest)).Methods(http.MethodPost)
	org.Handle("/requests/{uuid}/assign", s.require(accounts.CanAssignGrocery, s.assignGrocery)).Methods(http.MethodPost)
	org.Handle("/requests/{uuid}/confirm-date", s.require(accounts.CanConfirmDate, s.confirmDate)).Methods(http.MethodPost)
	org.Handle("/requests/{uuid}/new-date", s.require(accounts.CanSetNewDate, s.newDate)).Methods(http.MethodPost)
	org.Handle("/requests/{uuid}/unclaim", s.require(accounts.CanUnclaim, s.unclaim)).Methods(http.MethodPost)
	org.Handle("/requests/{uuid}/copy", s.require(accounts.CanCopyRequest, s.copyRequest)).Methods(http.MethodPost)
	org.Handle("/lottery/{category}", s.require(accounts.CanRunLottery, s.runLottery)).Methods(http.MethodPost)
	org.Handle("/signup-sheet/{category}", s.require(accounts.CanExportSignupSheet, s.signupSheet)).Methods(http.MethodGet)

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
