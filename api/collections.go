package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kilianp07/wastefleet/core/dispatch/audit"
	"github.com/kilianp07/wastefleet/core/errs"
	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/core/store"
)

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.CollectionFilter{
		BucketID: q.Get("bucket_id"),
		DriverID: q.Get("driver_id"),
		Status:   model.CollectionStatus(q.Get("status")),
	}
	switch f.Status {
	case "", model.CollectionPending, model.CollectionInProgress, model.CollectionCollected:
	default:
		writeError(w, s.log, errs.New(errs.ErrInvalidInput, "", "unknown status %q", f.Status))
		return
	}
	if v := q.Get("open"); v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, s.log, errs.New(errs.ErrInvalidInput, "", "open must be a boolean"))
			return
		}
		f.OpenOnly = open
	}
	reqs, err := s.svc.Collections.ListCollections(r.Context(), f)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(reqs))
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Collections.GetCollection(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) startCollection(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Collections.StartCollection(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) completeCollection(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Collections.MarkCollected(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// collectionHistory serves the audit trail. start and end are RFC 3339.
func (s *Server) collectionHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	aq := audit.Query{
		RequestID: q.Get("request_id"),
		BucketID:  q.Get("bucket_id"),
		DriverID:  q.Get("driver_id"),
		Action:    audit.Action(q.Get("action")),
	}
	for key, dst := range map[string]*time.Time{"start": &aq.Start, "end": &aq.End} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, s.log, errs.New(errs.ErrInvalidInput, "", "%s must be RFC 3339", key))
			return
		}
		*dst = t
	}
	recs, err := s.svc.Collections.History(r.Context(), aq)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(recs))
}
