package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/wastefleet/core/model"
	"github.com/kilianp07/wastefleet/core/store"
)

const (
	colBuckets     = "buckets"
	colCollections = "collection_requests"
	colTechnicians = "technician_requests"
	colTrash       = "trashes"
)

// schema is valid for both SQLite and PostgreSQL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
        collection TEXT NOT NULL,
        id TEXT NOT NULL,
        version BIGINT NOT NULL DEFAULT 1,
        owner TEXT NOT NULL DEFAULT '',
        code TEXT NOT NULL DEFAULT '',
        bucket TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT '',
        ts BIGINT NOT NULL DEFAULT 0,
        data TEXT NOT NULL,
        PRIMARY KEY(collection, id)
    );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS documents_bucket_code
        ON documents(collection, code) WHERE code <> '';`,
	`CREATE INDEX IF NOT EXISTS documents_owner ON documents(collection, owner);`,
	`CREATE INDEX IF NOT EXISTS documents_bucket ON documents(collection, bucket);`,
}

// dialect captures what differs between SQL engines.
type dialect struct {
	name   string
	rebind func(query string) string
	unique func(err error) bool
}

// SQLStore persists documents as JSON rows keyed by (collection, id). The
// owner, code, bucket and status columns are denormalised for lookups.
type SQLStore struct {
	db      *sql.DB
	d       dialect
	timeout time.Duration
}

var _ store.Store = (*SQLStore)(nil)

func openSQL(db *sql.DB, d dialect, timeout time.Duration) (*SQLStore, error) {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			if cerr := db.Close(); cerr != nil {
				return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
			}
			return nil, fmt.Errorf("%s schema: %w", d.name, err)
		}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SQLStore{db: db, d: d, timeout: timeout}, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) conn() conn { return conn{q: s.db, d: s.d} }

func (s *SQLStore) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn binds a *sql.DB or *sql.Tx to the dialect that rewrites its queries.
type conn struct {
	q querier
	d dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

type row struct {
	id, owner, code, bucket, status string
	ts                              int64
	doc                             any
}

func insert(ctx context.Context, c conn, collection string, r row, version int64) error {
	b, err := json.Marshal(r.doc)
	if err != nil {
		return err
	}
	_, err = c.exec(ctx,
		`INSERT INTO documents (collection, id, version, owner, code, bucket, status, ts, data)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		collection, r.id, version, r.owner, r.code, r.bucket, r.status, r.ts, string(b))
	if err != nil && c.d.unique(err) {
		return fmt.Errorf("%s %s: %w", collection, r.id, store.ErrDuplicateKey)
	}
	return err
}

// update rewrites a document. A negative expected version skips the check.
func update(ctx context.Context, c conn, collection string, r row, expected int64) error {
	b, err := json.Marshal(r.doc)
	if err != nil {
		return err
	}
	q := `UPDATE documents SET version = version + 1, owner = ?, code = ?, bucket = ?, status = ?, ts = ?, data = ?
        WHERE collection = ? AND id = ?`
	args := []any{r.owner, r.code, r.bucket, r.status, r.ts, string(b), collection, r.id}
	if expected >= 0 {
		q += ` AND version = ?`
		args = append(args, expected)
	}
	res, err := c.exec(ctx, q, args...)
	if err != nil {
		if c.d.unique(err) {
			return fmt.Errorf("%s %s: %w", collection, r.id, store.ErrDuplicateKey)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var cur int64
	err = c.queryRow(ctx, `SELECT version FROM documents WHERE collection = ? AND id = ?`, collection, r.id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", collection, r.id, store.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s at version %d, expected %d: %w", collection, r.id, cur, expected, store.ErrVersionMismatch)
}

func get[T any](ctx context.Context, c conn, collection, id string) (T, int64, error) {
	var (
		out     T
		data    string
		version int64
	)
	err := c.queryRow(ctx, `SELECT version, data FROM documents WHERE collection = ? AND id = ?`, collection, id).
		Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return out, 0, fmt.Errorf("%s %s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return out, 0, err
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return out, 0, fmt.Errorf("unmarshal %s %s: %w", collection, id, err)
	}
	return out, version, nil
}

func (s *SQLStore) list(ctx context.Context, query string, args ...any) ([]string, []int64, error) {
	rows, err := s.conn().query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()
	var (
		docs     []string
		versions []int64
	)
	for rows.Next() {
		var (
			v    int64
			data string
		)
		if err := rows.Scan(&v, &data); err != nil {
			return nil, nil, err
		}
		docs = append(docs, data)
		versions = append(versions, v)
	}
	return docs, versions, rows.Err()
}

func decodeAll[T any](docs []string) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal([]byte(d), &v); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func bucketRow(b model.Bucket) row {
	return row{id: b.ID, owner: b.UserID, code: b.BucketID, ts: b.LastUpdated.Unix(), doc: b}
}

func collectionRow(r model.CollectionRequest) row {
	return row{id: r.ID, owner: r.DriverID, bucket: r.BucketID, status: string(r.Status), ts: r.RequestedAt.UnixNano(), doc: r}
}

func technicianRow(r model.TechnicianRequest) row {
	return row{id: r.ID, bucket: r.BucketID, status: string(r.Status), ts: r.CreatedAt.UnixNano(), doc: r}
}

func trashRow(t model.TrashItem) row {
	return row{id: t.ID, owner: t.UserID, bucket: t.BucketID, status: string(t.Status), ts: t.CreatedAt.UnixNano(), doc: t}
}

func (s *SQLStore) GetBucket(ctx context.Context, id string) (model.Bucket, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	b, v, err := get[model.Bucket](ctx, s.conn(), colBuckets, id)
	b.Version = v
	return b, err
}

func (s *SQLStore) FindBucketByCode(ctx context.Context, code string) (model.Bucket, bool, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	docs, versions, err := s.list(ctx,
		`SELECT version, data FROM documents WHERE collection = ? AND code = ?`, colBuckets, code)
	if err != nil || len(docs) == 0 {
		return model.Bucket{}, false, err
	}
	bs, err := decodeAll[model.Bucket](docs)
	if err != nil {
		return model.Bucket{}, false, err
	}
	bs[0].Version = versions[0]
	return bs[0], true, nil
}

func (s *SQLStore) CreateBucket(ctx context.Context, b model.Bucket) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	b.Version = 1
	return insert(ctx, s.conn(), colBuckets, bucketRow(b), 1)
}

func (s *SQLStore) PutBucket(ctx context.Context, b model.Bucket, expectedVersion int64) error {
	return s.Apply(ctx, store.Mutation{Bucket: &b, ExpectedVersion: expectedVersion})
}

func (s *SQLStore) DeleteBucket(ctx context.Context, id string) error {
	return s.delete(ctx, colBuckets, id)
}

func (s *SQLStore) delete(ctx context.Context, collection, id string) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	res, err := s.conn().exec(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", collection, id, store.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) ListBuckets(ctx context.Context) ([]model.Bucket, error) {
	return s.listBuckets(ctx, `SELECT version, data FROM documents WHERE collection = ? ORDER BY code`, colBuckets)
}

func (s *SQLStore) ListBucketsByOwner(ctx context.Context, userID string) ([]model.Bucket, error) {
	return s.listBuckets(ctx,
		`SELECT version, data FROM documents WHERE collection = ? AND owner = ? ORDER BY code`, colBuckets, userID)
}

func (s *SQLStore) listBuckets(ctx context.Context, query string, args ...any) ([]model.Bucket, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	docs, versions, err := s.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	bs, err := decodeAll[model.Bucket](docs)
	if err != nil {
		return nil, err
	}
	for i := range bs {
		bs[i].Version = versions[i]
	}
	return bs, nil
}

func (s *SQLStore) CreateCollectionRequest(ctx context.Context, r model.CollectionRequest) (string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if r.ID == "" {
		r.ID = newID()
	}
	if err := insert(ctx, s.conn(), colCollections, collectionRow(r), 1); err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *SQLStore) GetCollectionRequest(ctx context.Context, id string) (model.CollectionRequest, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	r, _, err := get[model.CollectionRequest](ctx, s.conn(), colCollections, id)
	return r, err
}

func (s *SQLStore) UpdateCollectionRequest(ctx context.Context, r model.CollectionRequest) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return update(ctx, s.conn(), colCollections, collectionRow(r), -1)
}

func (s *SQLStore) ListCollectionRequests(ctx context.Context, f store.CollectionFilter) ([]model.CollectionRequest, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	q := `SELECT version, data FROM documents WHERE collection = ?`
	args := []any{colCollections}
	if f.BucketID != "" {
		q += ` AND bucket = ?`
		args = append(args, f.BucketID)
	}
	if f.DriverID != "" {
		q += ` AND owner = ?`
		args = append(args, f.DriverID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY ts`
	docs, _, err := s.list(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	all, err := decodeAll[model.CollectionRequest](docs)
	if err != nil {
		return nil, err
	}
	var out []model.CollectionRequest
	for _, r := range all {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *SQLStore) CreateTechnicianRequest(ctx context.Context, r model.TechnicianRequest) (string, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if r.ID == "" {
		r.ID = newID()
	}
	if err := insert(ctx, s.conn(), colTechnicians, technicianRow(r), 1); err != nil {
		return "", err
	}
	return r.ID, nil
}

func (s *SQLStore) GetTechnicianRequest(ctx context.Context, id string) (model.TechnicianRequest, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	r, _, err := get[model.TechnicianRequest](ctx, s.conn(), colTechnicians, id)
	return r, err
}

func (s *SQLStore) UpdateTechnicianRequest(ctx context.Context, r model.TechnicianRequest) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return update(ctx, s.conn(), colTechnicians, technicianRow(r), -1)
}

func (s *SQLStore) ListTechnicianRequests(ctx context.Context, f store.TechnicianFilter) ([]model.TechnicianRequest, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	q := `SELECT version, data FROM documents WHERE collection = ?`
	args := []any{colTechnicians}
	if f.BucketID != "" {
		q += ` AND bucket = ?`
		args = append(args, f.BucketID)
	}
	q += ` ORDER BY ts`
	docs, _, err := s.list(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	all, err := decodeAll[model.TechnicianRequest](docs)
	if err != nil {
		return nil, err
	}
	var out []model.TechnicianRequest
	for _, r := range all {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *SQLStore) CreateTrash(ctx context.Context, t model.TrashItem) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	if t.ID == "" {
		t.ID = newID()
	}
	return insert(ctx, s.conn(), colTrash, trashRow(t), 1)
}

func (s *SQLStore) GetTrash(ctx context.Context, id string) (model.TrashItem, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	t, _, err := get[model.TrashItem](ctx, s.conn(), colTrash, id)
	return t, err
}

func (s *SQLStore) UpdateTrash(ctx context.Context, t model.TrashItem) error {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	return update(ctx, s.conn(), colTrash, trashRow(t), -1)
}

func (s *SQLStore) ListTrashByOwner(ctx context.Context, userID string) ([]model.TrashItem, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	docs, _, err := s.list(ctx,
		`SELECT version, data FROM documents WHERE collection = ? AND owner = ? ORDER BY ts DESC`, colTrash, userID)
	if err != nil {
		return nil, err
	}
	return decodeAll[model.TrashItem](docs)
}

// Apply runs the mutation in one transaction. The bucket version check is the
// UPDATE's WHERE clause, so a concurrent writer makes it affect zero rows and
// the whole transaction rolls back.
func (s *SQLStore) Apply(ctx context.Context, m store.Mutation) (err error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	txc := conn{q: tx, d: s.d}

	if m.Bucket != nil {
		b := *m.Bucket
		b.Version = m.ExpectedVersion + 1
		if err = update(ctx, txc, colBuckets, bucketRow(b), m.ExpectedVersion); err != nil {
			return err
		}
	}
	if m.CreateCollection != nil {
		if m.CreateCollection.ID == "" {
			m.CreateCollection.ID = newID()
		}
		if err = insert(ctx, txc, colCollections, collectionRow(*m.CreateCollection), 1); err != nil {
			return err
		}
	}
	if m.UpdateCollection != nil {
		if err = update(ctx, txc, colCollections, collectionRow(*m.UpdateCollection), -1); err != nil {
			return err
		}
	}
	if m.CreateTrash != nil {
		if m.CreateTrash.ID == "" {
			m.CreateTrash.ID = newID()
		}
		if err = insert(ctx, txc, colTrash, trashRow(*m.CreateTrash), 1); err != nil {
			return err
		}
	}
	return nil
}
