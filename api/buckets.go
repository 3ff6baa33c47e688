package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kilianp07/wastefleet/core/bucket"
	"github.com/kilianp07/wastefleet/core/model"
)

// BucketResponse reports a bucket after a mutation with the collection
// request it triggered, if any.
type BucketResponse struct {
	Bucket        model.Bucket             `json:"bucket"`
	Collection    *model.CollectionRequest `json:"collection,omitempty"`
	DispatchError string                   `json:"dispatch_error,omitempty"`
}

func bucketResponse(u bucket.Update) BucketResponse {
	return BucketResponse{Bucket: u.Bucket, Collection: u.Collection, DispatchError: errorString(u.DispatchErr)}
}

type fillBody struct {
	FillPercentage *float64 `json:"fill_percentage" validate:"required"`
}

// TrashResponse reports a deposit and the bucket it landed in.
type TrashResponse struct {
	Trash model.TrashItem `json:"trash"`
	BucketResponse
}

func (s *Server) createBucket(w http.ResponseWriter, r *http.Request) {
	var in bucket.CreateInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, s.log, err)
		return
	}
	u, err := s.svc.Buckets.Create(r.Context(), in)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, bucketResponse(u))
}

func (s *Server) getBucket(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Buckets.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Buckets.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) bucketIDUnique(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	unique, err := s.svc.Buckets.IsBucketIDUnique(r.Context(), code)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bucket_id": code, "unique": unique})
}

func (s *Server) updateFill(w http.ResponseWriter, r *http.Request) {
	var body fillBody
	if err := decode(w, r, &body); err != nil {
		writeError(w, s.log, err)
		return
	}
	if err := bucket.Validate("", body); err != nil {
		writeError(w, s.log, err)
		return
	}
	u, err := s.svc.Buckets.UpdateFill(r.Context(), mux.Vars(r)["id"], *body.FillPercentage)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, bucketResponse(u))
}

func (s *Server) updateHealth(w http.ResponseWriter, r *http.Request) {
	var in bucket.HealthInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, s.log, err)
		return
	}
	u, err := s.svc.Buckets.UpdateHealth(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, bucketResponse(u))
}

func (s *Server) addTrash(w http.ResponseWriter, r *http.Request) {
	var in bucket.TrashInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, s.log, err)
		return
	}
	res, err := s.svc.Buckets.AddTrash(r.Context(), in)
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, TrashResponse{Trash: res.Item, BucketResponse: bucketResponse(res.Update)})
}

func (s *Server) removeTrash(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Buckets.RemoveTrash(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, s.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) userBuckets(w http.ResponseWriter, r *http.Request) {
	bs, err := s.svc.Buckets.ListByOwner(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(bs))
}
