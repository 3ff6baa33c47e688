package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kilianp07/wastefleet/core/errs"
)

func (s *Server) trashStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Fleet.TrashStats(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.Fleet.Summary(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) binLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := s.svc.Fleet.BinLocations(r.Context())
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(locs))
}

// nearbyBins answers ?lat=&lng=&radius_km= with bins sorted by distance.
func (s *Server) nearbyBins(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var coords [3]float64
	for i, key := range []string{"lat", "lng", "radius_km"} {
		v, err := strconv.ParseFloat(q.Get(key), 64)
		if err != nil {
			writeError(w, s.log, errs.New(errs.ErrInvalidInput, "", "%s must be a number", key))
			return
		}
		coords[i] = v
	}
	near, err := s.svc.Fleet.Nearby(r.Context(), coords[0], coords[1], coords[2])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(near))
}
