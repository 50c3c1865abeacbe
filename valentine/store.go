/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package valentine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store is the system of record. Every write is a single atomic update of
// one row; failures are *PersistenceError or ErrNotFound and never leave a
// partially applied change.
//
// ClaimReceiver and SubmitChoice report whether they changed the row; a
// repeated identical call returns the current record and false.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Fetch(ctx context.Context, id string) (Record, error)
	ClaimReceiver(ctx context.Context, id, visitorID string, at time.Time) (Record, bool, error)
	SubmitChoice(ctx context.Context, id, visitorID string, choice Choice, at time.Time) (Record, bool, error)
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

// MemoryStore keeps records in process. It is the default backend when no
// database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

func (m *MemoryStore) Create(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return Persistence("create valentine", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ID]; exists {
		return Persistence("create valentine", fmt.Errorf("duplicate id %q", rec.ID))
	}

	m.records[rec.ID] = rec.Clone()

	return nil
}

func (m *MemoryStore) Fetch(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, Persistence("fetch valentine", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}

	return rec.Clone(), nil
}

func (m *MemoryStore) ClaimReceiver(ctx context.Context, id, visitorID string, at time.Time) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, Persistence("claim valentine", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return Record{}, false, ErrNotFound
	}

	held, err := ClaimOutcome(rec, visitorID)
	if err != nil {
		return Record{}, false, err
	}
	if held {
		return rec.Clone(), false, nil
	}

	rec.ReceiverVisitorID = &visitorID
	if rec.Status.Before(StatusOpened) {
		rec.Status = StatusOpened
	}
	if rec.OpenedAt == nil {
		rec.OpenedAt = &at
	}
	m.records[id] = rec.Clone()

	return rec.Clone(), true, nil
}

func (m *MemoryStore) SubmitChoice(ctx context.Context, id, visitorID string, choice Choice, at time.Time) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, Persistence("submit choice", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return Record{}, false, ErrNotFound
	}

	same, err := ChoiceOutcome(rec, visitorID, choice)
	if err != nil {
		return Record{}, false, err
	}
	if same {
		return rec.Clone(), false, nil
	}

	if rec.ReceiverVisitorID == nil {
		rec.ReceiverVisitorID = &visitorID
	}
	rec.ReceiverChoice = &choice
	rec.Status = StatusComplete
	rec.CompletedAt = &at
	m.records[id] = rec.Clone()

	return rec.Clone(), true, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, Persistence("count valentines", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.records)), nil
}

// List returns up to limit records, newest first. A limit <= 0 means all.
func (m *MemoryStore) List(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, Persistence("list valentines", err)
	}

	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}
