package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirdesai22/mutualaid/internal/errs"
	"github.com/sirdesai22/mutualaid/internal/intake"
	"github.com/sirdesai22/mutualaid/internal/models"
	"github.com/sirdesai22/mutualaid/internal/store"
)

// ---------------- PUBLIC ----------------

func (s *Server) intakeStatus(w http.ResponseWriter, r *http.Request) {
	g := s.Intake.Gate
	writeJSON(w, http.StatusOK, []intake.Status{
		g.Status(models.CategoryMeal),
		g.Status(models.CategoryGrocery),
	})
}

func (s *Server) submit(c models.Category) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub intake.Submission
		if !decode(w, r, &sub) {
			return
		}
		sub.Category = c
		req, err := s.Intake.Submit(r.Context(), sub)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{
			"uuid":   req.UUID.String(),
			"status": string(req.Status),
		})
	}
}

// ---------------- SHARED ----------------

// loadRequest resolves the {uuid} route variable.
func (s *Server) loadRequest(w http.ResponseWriter, r *http.Request) (*models.Request, bool) {
	id, err := uuid.Parse(mux.Vars(r)["uuid"])
	if err != nil {
		writeError(w, r, errs.ErrNotFound)
		return nil, false
	}
	req, err := store.New(s.DB).ByUUID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return req, true
}

func pageOf(r *http.Request) store.Page {
	q := r.URL.Query()
	n, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return store.Page{Number: n, Size: size}
}

func (s *Server) respondRequest(w http.ResponseWriter, req *models.Request, aud models.Audience) {
	writeJSON(w, http.StatusOK, newRequestView(req, aud, s.Config.Location()))
}

// uuidList is the body of the batch endpoints.
type uuidList struct {
	UUIDs []string `json:"uuids"`
}

// resolveIDs maps request uuids to row ids. Unknown uuids are reported
// as failures.
func (s *Server) resolveIDs(r *http.Request, list uuidList) ([]int64, map[string]string, error) {
	ids := make([]int64, 0, len(list.UUIDs))
	missing := map[string]string{}
	for _, raw := range list.UUIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			missing[raw] = "not_found: malformed uuid"
			continue
		}
		req, err := store.New(s.DB).ByUUID(r.Context(), id)
		if err != nil {
			if errs.Kind(err) == "not_found" {
				missing[raw] = "not_found: " + err.Error()
				continue
			}
			return nil, nil, err
		}
		ids = append(ids, req.ID)
	}
	return ids, missing, nil
}
