package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"kbetl/internal/kberr"
)

// memoryStore is an in-process Store used for tests and the "memory"
// backend configuration. Vectors are keyed by (kbID, vectorID).
type memoryStore struct {
	mu  sync.RWMutex
	dim int
	kbs map[string]map[string]Record
}

// NewMemory builds an in-memory Store. Suitable for tests and single-process
// development; not durable.
func NewMemory(dim int) Store {
	return &memoryStore{dim: dim, kbs: make(map[string]map[string]Record)}
}

func (m *memoryStore) Dimension() int { return m.dim }
func (m *memoryStore) Close() error   { return nil }

func (m *memoryStore) Upsert(_ context.Context, kbID, workspaceID string, records []Record) error {
	if err := validateRecords(kbID, workspaceID, records); err != nil {
		return err
	}
	if m.dim > 0 {
		for _, r := range records {
			if len(r.Vector) != m.dim {
				return kberr.Newf(kberr.DataError, "record %s has %d dimensions, store expects %d", r.VectorID, len(r.Vector), m.dim)
			}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.kbs[kbID]
	if !ok {
		bucket = make(map[string]Record, len(records))
		m.kbs[kbID] = bucket
	}
	for _, r := range records {
		cp := make([]float32, len(r.Vector))
		copy(cp, r.Vector)
		r.Vector = cp
		bucket[r.VectorID] = r
	}
	return nil
}

func (m *memoryStore) Delete(_ context.Context, kbID string, filter Filter) error {
	if err := ensureFilterBuilt(filter); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket := m.kbs[kbID]
	if bucket == nil {
		return nil
	}
	if len(filter.ChunkIDs) > 0 {
		for _, id := range filter.ChunkIDs {
			delete(bucket, id)
		}
		return nil
	}
	for id, r := range bucket {
		if matches(r, filter) {
			delete(bucket, id)
		}
	}
	return nil
}

func (m *memoryStore) Search(_ context.Context, kbID string, query []float32, k int, filter Filter) ([]Result, error) {
	if err := ensureFilterBuilt(filter); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	qnorm := norm(query)
	bucket := m.kbs[kbID]
	out := make([]Result, 0, len(bucket))
	for _, r := range bucket {
		if !matches(r, filter) {
			continue
		}
		out = append(out, Result{VectorID: r.VectorID, Score: cosine(query, r.Vector, qnorm), Payload: r.Payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memoryStore) Count(_ context.Context, kbID string, filter Filter) (int, error) {
	if err := ensureFilterBuilt(filter); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.kbs[kbID] {
		if matches(r, filter) {
			n++
		}
	}
	return n, nil
}

func matches(r Record, f Filter) bool {
	if r.Payload.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.DocumentID != "" && r.Payload.DocumentID != f.DocumentID {
		return false
	}
	if f.EnabledOnly && !r.Payload.Enabled {
		return false
	}
	if len(f.ChunkIDs) > 0 {
		found := false
		for _, id := range f.ChunkIDs {
			if id == r.VectorID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
