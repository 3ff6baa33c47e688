package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/core/store"
)

// MemoryStore keeps every document in process memory. It honours the same
// version and atomicity rules as the SQLite store.
type MemoryStore struct {
	mu          sync.RWMutex
	buckets     map[string]model.Bucket
	collections map[string]model.CollectionRequest
	technicians map[string]model.TechnicianRequest
	trash       map[string]model.TrashItem
	closed      bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:     map[string]model.Bucket{},
		collections: map[string]model.CollectionRequest{},
		technicians: map[string]model.TechnicianRequest{},
		trash:       map[string]model.TrashItem{},
	}
}

var _ store.Store = (*MemoryStore)(nil)

func (s *MemoryStore) rlock() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed
	}
	return nil
}

func (s *MemoryStore) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	return nil
}

func (s *MemoryStore) GetBucket(ctx context.Context, id string) (model.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return model.Bucket{}, err
	}
	if err := s.rlock(); err != nil {
		return model.Bucket{}, err
	}
	defer s.mu.RUnlock()
	b, ok := s.buckets[id]
	if !ok {
		return model.Bucket{}, fmt.Errorf("bucket %s: %w", id, store.ErrNotFound)
	}
	return cloneBucket(b), nil
}

func (s *MemoryStore) FindBucketByCode(ctx context.Context, code string) (model.Bucket, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Bucket{}, false, err
	}
	if err := s.rlock(); err != nil {
		return model.Bucket{}, false, err
	}
	defer s.mu.RUnlock()
	for _, b := range s.buckets {
		if b.BucketID == code {
			return cloneBucket(b), true, nil
		}
	}
	return model.Bucket{}, false, nil
}

func (s *MemoryStore) CreateBucket(ctx context.Context, b model.Bucket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.buckets[b.ID]; ok {
		return fmt.Errorf("bucket %s: %w", b.ID, store.ErrDuplicateKey)
	}
	for _, other := range s.buckets {
		if b.BucketID != "" && other.BucketID == b.BucketID {
			return fmt.Errorf("bucket code %s: %w", b.BucketID, store.ErrDuplicateKey)
		}
	}
	b.Version = 1
	s.buckets[b.ID] = cloneBucket(b)
	return nil
}

func (s *MemoryStore) PutBucket(ctx context.Context, b model.Bucket, expectedVersion int64) error {
	return s.Apply(ctx, store.Mutation{Bucket: &b, ExpectedVersion: expectedVersion})
}

func (s *MemoryStore) DeleteBucket(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.buckets[id]; !ok {
		return fmt.Errorf("bucket %s: %w", id, store.ErrNotFound)
	}
	delete(s.buckets, id)
	return nil
}

func (s *MemoryStore) ListBuckets(ctx context.Context) ([]model.Bucket, error) {
	return s.listBuckets(ctx, "")
}

func (s *MemoryStore) ListBucketsByOwner(ctx context.Context, userID string) ([]model.Bucket, error) {
	return s.listBuckets(ctx, userID)
}

func (s *MemoryStore) listBuckets(ctx context.Context, owner string) ([]model.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	out := make([]model.Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		if owner != "" && b.UserID != owner {
			continue
		}
		out = append(out, cloneBucket(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketID < out[j].BucketID })
	return out, nil
}

func (s *MemoryStore) CreateCollectionRequest(ctx context.Context, r model.CollectionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.lock(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	if err := s.insertCollection(&r); err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *MemoryStore) insertCollection(r *model.CollectionRequest) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if _, ok := s.collections[r.ID]; ok {
		return fmt.Errorf("collection request %s: %w", r.ID, store.ErrDuplicateKey)
	}
	s.collections[r.ID] = cloneCollection(*r)
	return nil
}

func (s *MemoryStore) GetCollectionRequest(ctx context.Context, id string) (model.CollectionRequest, error) {
	if err := ctx.Err(); err != nil {
		return model.CollectionRequest{}, err
	}
	if err := s.rlock(); err != nil {
		return model.CollectionRequest{}, err
	}
	defer s.mu.RUnlock()
	r, ok := s.collections[id]
	if !ok {
		return model.CollectionRequest{}, fmt.Errorf("collection request %s: %w", id, store.ErrNotFound)
	}
	return cloneCollection(r), nil
}

func (s *MemoryStore) UpdateCollectionRequest(ctx context.Context, r model.CollectionRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.collections[r.ID]; !ok {
		return fmt.Errorf("collection request %s: %w", r.ID, store.ErrNotFound)
	}
	s.collections[r.ID] = cloneCollection(r)
	return nil
}

func (s *MemoryStore) ListCollectionRequests(ctx context.Context, f store.CollectionFilter) ([]model.CollectionRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	var out []model.CollectionRequest
	for _, r := range s.collections {
		if f.Match(r) {
			out = append(out, cloneCollection(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *MemoryStore) CreateTechnicianRequest(ctx context.Context, r model.TechnicianRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.lock(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	if _, ok := s.technicians[r.ID]; ok {
		return "", fmt.Errorf("technician request %s: %w", r.ID, store.ErrDuplicateKey)
	}
	s.technicians[r.ID] = cloneTechnician(r)
	return r.ID, nil
}

func (s *MemoryStore) GetTechnicianRequest(ctx context.Context, id string) (model.TechnicianRequest, error) {
	if err := ctx.Err(); err != nil {
		return model.TechnicianRequest{}, err
	}
	if err := s.rlock(); err != nil {
		return model.TechnicianRequest{}, err
	}
	defer s.mu.RUnlock()
	r, ok := s.technicians[id]
	if !ok {
		return model.TechnicianRequest{}, fmt.Errorf("technician request %s: %w", id, store.ErrNotFound)
	}
	return cloneTechnician(r), nil
}

func (s *MemoryStore) UpdateTechnicianRequest(ctx context.Context, r model.TechnicianRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.technicians[r.ID]; !ok {
		return fmt.Errorf("technician request %s: %w", r.ID, store.ErrNotFound)
	}
	s.technicians[r.ID] = cloneTechnician(r)
	return nil
}

func (s *MemoryStore) ListTechnicianRequests(ctx context.Context, f store.TechnicianFilter) ([]model.TechnicianRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	var out []model.TechnicianRequest
	for _, r := range s.technicians {
		if f.Match(r) {
			out = append(out, cloneTechnician(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateTrash(ctx context.Context, t model.TrashItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.insertTrash(&t)
}

func (s *MemoryStore) insertTrash(t *model.TrashItem) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if _, ok := s.trash[t.ID]; ok {
		return fmt.Errorf("trash %s: %w", t.ID, store.ErrDuplicateKey)
	}
	s.trash[t.ID] = *t
	return nil
}

func (s *MemoryStore) GetTrash(ctx context.Context, id string) (model.TrashItem, error) {
	if err := ctx.Err(); err != nil {
		return model.TrashItem{}, err
	}
	if err := s.rlock(); err != nil {
		return model.TrashItem{}, err
	}
	defer s.mu.RUnlock()
	t, ok := s.trash[id]
	if !ok {
		return model.TrashItem{}, fmt.Errorf("trash %s: %w", id, store.ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) UpdateTrash(ctx context.Context, t model.TrashItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.trash[t.ID]; !ok {
		return fmt.Errorf("trash %s: %w", t.ID, store.ErrNotFound)
	}
	s.trash[t.ID] = t
	return nil
}

func (s *MemoryStore) ListTrashByOwner(ctx context.Context, userID string) ([]model.TrashItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.rlock(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	var out []model.TrashItem
	for _, t := range s.trash {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Apply validates every precondition before touching any map, so a failed
// mutation leaves the store unchanged.
func (s *MemoryStore) Apply(ctx context.Context, m store.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if m.Bucket != nil {
		cur, ok := s.buckets[m.Bucket.ID]
		if !ok {
			return fmt.Errorf("bucket %s: %w", m.Bucket.ID, store.ErrNotFound)
		}
		if cur.Version != m.ExpectedVersion {
			return fmt.Errorf("bucket %s at version %d, expected %d: %w",
				m.Bucket.ID, cur.Version, m.ExpectedVersion, store.ErrVersionMismatch)
		}
	}
	if m.CreateCollection != nil && m.CreateCollection.ID != "" {
		if _, ok := s.collections[m.CreateCollection.ID]; ok {
			return fmt.Errorf("collection request %s: %w", m.CreateCollection.ID, store.ErrDuplicateKey)
		}
	}
	if m.UpdateCollection != nil {
		if _, ok := s.collections[m.UpdateCollection.ID]; !ok {
			return fmt.Errorf("collection request %s: %w", m.UpdateCollection.ID, store.ErrNotFound)
		}
	}
	if m.CreateTrash != nil && m.CreateTrash.ID != "" {
		if _, ok := s.trash[m.CreateTrash.ID]; ok {
			return fmt.Errorf("trash %s: %w", m.CreateTrash.ID, store.ErrDuplicateKey)
		}
	}

	if m.Bucket != nil {
		b := cloneBucket(*m.Bucket)
		b.Version = m.ExpectedVersion + 1
		s.buckets[b.ID] = b
	}
	if m.CreateCollection != nil {
		_ = s.insertCollection(m.CreateCollection)
	}
	if m.UpdateCollection != nil {
		s.collections[m.UpdateCollection.ID] = cloneCollection(*m.UpdateCollection)
	}
	if m.CreateTrash != nil {
		_ = s.insertTrash(m.CreateTrash)
	}
	return nil
}

// Close marks the store closed; later calls fail.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
