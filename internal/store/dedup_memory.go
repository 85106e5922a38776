package store

import (
	"sync"
	"time"
)

// Compile-time check that InMemoryDedupRepo implements DedupStore.
var _ DedupStore = (*InMemoryDedupRepo)(nil)

// InMemoryDedupRepo keeps de-duplication records in process memory.
type InMemoryDedupRepo struct {
	mu      sync.Mutex
	records map[string]DedupRecord
	now     func() time.Time
}

// NewInMemoryDedupRepo creates an empty in-memory repo.
func NewInMemoryDedupRepo() *InMemoryDedupRepo {
	return &InMemoryDedupRepo{records: make(map[string]DedupRecord), now: time.Now}
}

func (r *InMemoryDedupRepo) IsDuplicate(messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[messageID]
	return ok, nil
}

func (r *InMemoryDedupRepo) RecordInbound(messageID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[messageID]; ok {
		return false, nil
	}
	r.records[messageID] = DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: r.now()}
	return true, nil
}

func (r *InMemoryDedupRepo) MarkProcessed(messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[messageID]
	if !ok {
		return nil
	}
	now := r.now()
	rec.ProcessedAt = &now
	r.records[messageID] = rec
	return nil
}

func (r *InMemoryDedupRepo) PruneBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.records {
		if rec.ReceivedAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

// Get returns the record for messageID.
func (r *InMemoryDedupRepo) Get(messageID string) (DedupRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[messageID]
	return rec, ok
}

// Close is a no-op.
func (r *InMemoryDedupRepo) Close() error {
	return nil
}
