package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/wastefleet/core/bucket"
)

type technicianBody struct {
	BucketID string `json:"bucket_id" validate:"required"`
	Reason   string `json:"reason" validate:"max=500"`
}

type assignBody struct {
	TechnicianID string `json:"technician_id" validate:"required"`
}

func (s *Server) requestTechnician(w http.ResponseWriter, r *http.Request) {
	var body technicianBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := bucket.Validate("", body); err != nil {
		writeError(w, s.log, err)
		return
	}
	req, err := s.svc.Technicians.RequestService(r.Context(), body.BucketID, body.Reason)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) openTechnicianRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.svc.Technicians.ListOpen(r.Context(), r.URL.Query().Get("bucket_id"))
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(reqs))
}

func (s *Server) getTechnicianRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Technicians.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) assignTechnician(w http.ResponseWriter, r *http.Request) {
	var body assignBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := bucket.Validate("", body); err != nil {
		writeError(w, s.log, err)
		return
	}
	req, err := s.svc.Technicians.Assign(r.Context(), mux.Vars(r)["id"], body.TechnicianID)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) resolveTechnician(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Technicians.Resolve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
