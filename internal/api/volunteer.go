package api

import (
	"net/http"
	"time"

	"github.com/sirdesai22/mutualaid/internal/claims"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/fulfillment"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/store"
)

func (s *Server) availableMeals(w http.ResponseWriter, r *http.Request) {
	v := currentVolunteer(r)
	found, err := s.Broker.AvailableForChef(r.Context(), v.ID, pageOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]requestView, 0, len(found))
	for i := range found {
		view := newRequestView(&found[i].Request, models.AudienceChef, s.Config.Location())
		d := found[i].DistanceKm
		view.DistanceKm = &d
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) availableDeliveries(w http.ResponseWriter, r *http.Request) {
	found, err := s.Broker.AvailableForDeliverer(r.Context(), pageOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]requestView, 0, len(found))
	for i := range found {
		out = append(out, newRequestView(&found[i], models.AudienceDeliverer, s.Config.Location()))
	}
	writeJSON(w, http.StatusOK, out)
}

// mine lists the caller's meals and deliveries.
func (s *Server) mine(w http.ResponseWriter, r *http.Request) {
	v := currentVolunteer(r)
	st := store.New(s.DB)
	meals, err := st.ByChef(r.Context(), v.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	deliveries, err := st.ByDeliverer(r.Context(), v.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	loc := s.Config.Location()
	out := map[string][]requestView{"meals": {}, "deliveries": {}}
	for i := range meals {
		out["meals"] = append(out["meals"], newRequestView(&meals[i], models.AudienceChef, loc))
	}
	for i := range deliveries {
		out["deliveries"] = append(out["deliveries"], newRequestView(&deliveries[i], models.AudienceDeliverer, loc))
	}
	writeJSON(w, http.StatusOK, out)
}

type chefClaimBody struct {
	MealDescription string `json:"meal_description"`
	DeliveryDate    string `json:"delivery_date"`
	PickupStart     string `json:"pickup_start"`
	PickupEnd       string `json:"pickup_end"`
	AlsoDeliver     bool   `json:"also_deliver"`
	DropoffStart    string `json:"dropoff_start"`
	DropoffEnd      string `json:"dropoff_end"`
}

// claimResponse reports the broker outcome next to the request.
type claimResponse struct {
	Outcome claims.Outcome `json:"outcome"`
	Request requestView    `json:"request"`
}

func (s *Server) claimChef(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadRequest(w, r)
	if !ok {
		return
	}
	var body chefClaimBody
	if !decode(w, r, &body) {
		return
	}
	loc := s.Config.Location()
	c := claims.ChefClaim{MealDescription: body.MealDescription, AlsoDeliver: body.AlsoDeliver}
	ve := &errs.ValidationError{}
	if day, err := parseDate(body.DeliveryDate, loc); err != nil {
		ve.Add("delivery_date", "must be YYYY-MM-DD")
	} else {
		c.DeliveryDate = day
		c.PickupStart = clockOn(ve, "pickup_start", day, body.PickupStart, loc)
		c.PickupEnd = clockOn(ve, "pickup_end", day, body.PickupEnd, loc)
		if body.AlsoDeliver {
			c.DropoffStart = clockOn(ve, "dropoff_start", day, body.DropoffStart, loc)
			c.DropoffEnd = clockOn(ve, "dropoff_end", day, body.DropoffEnd, loc)
		}
	}
	if err := ve.OrNil(); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := s.Broker.ClaimAsChef(r.Context(), req.ID, currentVolunteer(r).ID, c)
	s.respondClaim(w, r, req, out, err, models.AudienceChef)
}

type deliveryClaimBody struct {
	DropoffStart string `json:"dropoff_start"`
	DropoffEnd   string `json:"dropoff_end"`
}

func (s *Server) claimDelivery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadRequest(w, r)
	if !ok {
		return
	}
	var body deliveryClaimBody
	if !decode(w, r, &body) {
		return
	}
	loc := s.Config.Location()
	day := s.now().In(loc)
	if req.Assignment.DeliveryDate != nil {
		day = localDay(*req.Assignment.DeliveryDate, loc)
	}
	ve := &errs.ValidationError{}
	d := claims.DeliveryClaim{
		DropoffStart: clockOn(ve, "dropoff_start", day, body.DropoffStart, loc),
		DropoffEnd:   clockOn(ve, "dropoff_end", day, body.DropoffEnd, loc),
	}
	if err := ve.OrNil(); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := s.Broker.ClaimAsDeliverer(r.Context(), req.ID, currentVolunteer(r).ID, d)
	s.respondClaim(w, r, req, out, err, models.AudienceDeliverer)
}

func (s *Server) respondClaim(w http.ResponseWriter, r *http.Request, req *models.Request, out claims.Outcome, err error, aud models.Audience) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	fresh, err := store.New(s.DB).ByID(r.Context(), req.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Outcome: out, Request: newRequestView(fresh, aud, s.Config.Location())})
}

func clockOn(ve *errs.ValidationError, field string, day time.Time, raw string, loc *time.Location) time.Time {
	t, err := parseClock(day, raw, loc)
	if err != nil {
		ve.Add(field, "must be HH:MM")
	}
	return t
}

func (s *Server) markDelivered(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadRequest(w, r)
	if !ok {
		return
	}
	out, err := s.Fulfillment.MarkDelivered(r.Context(), req.ID, fulfillment.Deliverer(currentVolunteer(r).ID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.respondRequest(w, out, models.AudienceDeliverer)
}

type reasonBody struct {
	Reason string `json:"reason"`
}

// reschedule is open to deliverers for their own deliveries and to
// organizers for any request.
func (s *Server) reschedule(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadRequest(w, r)
	if !ok {
		return
	}
	var body reasonBody
	if !decode(w, r, &body) {
		return
	}
	v := currentVolunteer(r)
	actor := fulfillment.Deliverer(v.ID)
	if v.HasRole(models.RoleOrganizer) && !assignedTo(req.Assignment.DelivererID, v.ID) {
		actor = fulfillment.Organizer(v.ID)
	}
	out, err := s.Fulfillment.Reschedule(r.Context(), req.ID, actor, body.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.respondRequest(w, out, models.AudienceDeliverer)
}

func assignedTo(slot *int64, id int64) bool { return slot != nil && *slot == id }

type noteBody struct {
	Body string `json:"body"`
}

func (s *Server) addNote(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadRequest(w, r)
	if !ok {
		return
	}
	var body noteBody
	if !decode(w, r, &body) {
		return
	}
	v := currentVolunteer(r)
	var actor fulfillment.Actor
	switch {
	case assignedTo(req.Assignment.DelivererID, v.ID):
		actor = fulfillment.Deliverer(v.ID)
	case v.HasRole(models.RoleOrganizer):
		actor = fulfillment.Organizer(v.ID)
	default:
		actor = fulfillment.Chef(v.ID)
	}
	n, err := s.Fulfillment.AddNote(r.Context(), req.ID, actor, body.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": n.ID, "created_at": n.CreatedAt})
}
