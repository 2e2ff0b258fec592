package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/export"
	"github.com/sirdesai22/mutualaid/internal/fulfillment"
	"github.com/sirdesai22/mutualaid/internal/lottery"
	"github.com/sirdesai22/mutualaid/internal/models"
)

func organizer(r *http.Request) fulfillment.Actor {
	return fulfillment.Organizer(currentVolunteer(r).ID)
}

// transition runs a single-request organizer operation and answers with
// the updated request.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, op func(id int64) (*models.Request, error)) {
	req, ok := s.loadRequest(w, r)
	if !ok {
		return
	}
	out, err := op(req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.respondRequest(w, out, models.AudienceDeliverer)
}

func (s *Server) selectRequest(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id int64) (*models.Request, error) {
		return s.Fulfillment.OverrideSelect(r.Context(), id, organizer(r))
	})
}

func (s *Server) confirmDate(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(id int64) (*models.Request, error) {
		return s.Fulfillment.ConfirmDate(r.Context(), id, organizer(r))
	})
}

func (s *Server) copyRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadRequest(w, r)
	if !ok {
		return
	}
	c, err := s.Fulfillment.Copy(r.Context(), req.ID, organizer(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRequestView(c, models.AudienceDeliverer, s.Config.Location()))
}

type scheduleBody struct {
	DeliveryDate string `json:"delivery_date"`
	PickupStart  string `json:"pickup_start"`
	PickupEnd    string `json:"pickup_end"`
	DropoffStart string `json:"dropoff_start"`
	DropoffEnd   string `json:"dropoff_end"`
}

func (b scheduleBody) schedule(loc *time.Location) (fulfillment.Schedule, error) {
	var sc fulfillment.Schedule
	ve := &errs.ValidationError{}
	day, err := parseDate(b.DeliveryDate, loc)
	if err != nil {
		ve.Add("delivery_date", "must be YYYY-MM-DD")
		return sc, ve
	}
	sc.DeliveryDate = day
	optional := func(field, raw string) *time.Time {
		if raw == "" {
			return nil
		}
		t := clockOn(ve, field, day, raw, loc)
		return &t
	}
	sc.PickupStart = optional("pickup_start", b.PickupStart)
	sc.PickupEnd = optional("pickup_end", b.PickupEnd)
	sc.DropoffStart = optional("dropoff_start", b.DropoffStart)
	sc.DropoffEnd = optional("dropoff_end", b.DropoffEnd)
	return sc, ve.OrNil()
}

func (s *Server) scheduled(w http.ResponseWriter, r *http.Request, op func(id int64, sc fulfillment.Schedule) (*models.Request, error)) {
	var body scheduleBody
	if !decode(w, r, &body) {
		return
	}
	sc, err := body.schedule(s.Config.Location())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.transition(w, r, func(id int64) (*models.Request, error) { return op(id, sc) })
}

func (s *Server) assignGrocery(w http.ResponseWriter, r *http.Request) {
	s.scheduled(w, r, func(id int64, sc fulfillment.Schedule) (*models.Request, error) {
		return s.Fulfillment.AssignGrocery(r.Context(), id, organizer(r), sc)
	})
}

func (s *Server) newDate(w http.ResponseWriter, r *http.Request) {
	s.scheduled(w, r, func(id int64, sc fulfillment.Schedule) (*models.Request, error) {
		return s.Fulfillment.SetNewDate(r.Context(), id, organizer(r), sc)
	})
}

type unclaimBody struct {
	Slot   string `json:"slot"`
	Reason string `json:"reason"`
}

func (s *Server) unclaim(w http.ResponseWriter, r *http.Request) {
	var body unclaimBody
	if !decode(w, r, &body) {
		return
	}
	slot := fulfillment.Slot(body.Slot)
	if slot != fulfillment.SlotChef && slot != fulfillment.SlotDeliverer {
		badRequest(w, "slot", "must be chef or deliverer")
		return
	}
	s.transition(w, r, func(id int64) (*models.Request, error) {
		return s.Fulfillment.Unclaim(r.Context(), id, organizer(r), slot, body.Reason)
	})
}

// batchResponse is BatchResult plus the uuids that matched no request.
type batchResponse struct {
	fulfillment.BatchResult
	Unknown map[string]string `json:"unknown,omitempty"`
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request, op func(ids []int64) fulfillment.BatchResult) {
	var body uuidList
	if !decode(w, r, &body) {
		return
	}
	if len(body.UUIDs) == 0 {
		badRequest(w, "uuids", "at least one request is required")
		return
	}
	ids, unknown, err := s.resolveIDs(r, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res := batchResponse{BatchResult: op(ids)}
	if len(unknown) > 0 {
		res.Unknown = unknown
	}
	status := http.StatusOK
	if !res.OK() || len(unknown) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

func (s *Server) confirmMany(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, func(ids []int64) fulfillment.BatchResult {
		return s.Fulfillment.ConfirmMany(r.Context(), ids, organizer(r))
	})
}

func (s *Server) copyMany(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, func(ids []int64) fulfillment.BatchResult {
		return s.Fulfillment.CopyMany(r.Context(), ids, organizer(r))
	})
}

// runLottery draws the current week for a category; ?dry_run=true reports
// without saving.
func (s *Server) runLottery(w http.ResponseWriter, r *http.Request) {
	c, err := models.ParseCategory(mux.Vars(r)["category"])
	if err != nil {
		badRequest(w, "category", err.Error())
		return
	}
	dry, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	res, err := s.Lottery.Run(r.Context(), c, lottery.Options{DryRun: dry})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) signupSheet(w http.ResponseWriter, r *http.Request) {
	c, err := models.ParseCategory(mux.Vars(r)["category"])
	if err != nil {
		badRequest(w, "category", err.Error())
		return
	}
	now := s.now()
	var buf bytes.Buffer
	if _, err := export.WriteSignupSheet(r.Context(), s.DB, c, now, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	name := fmt.Sprintf("%s-signup-%s.xlsx", c, now.In(s.Config.Location()).Format(dateLayout))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
