/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package valentine

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrNoIdentity = errors.New("no visitor identity stored")

// IdentityStore is wherever a visitor's id survives between visits: a
// cookie, a file, a map in tests.
type IdentityStore interface {
	Load() (string, error)
	Save(id string) error
	Remove() error
}

// Identity hands out a stable per-visitor id without accounts.
type Identity struct {
	store IdentityStore
}

func NewIdentity(store IdentityStore) *Identity {
	return &Identity{store: store}
}

// VisitorID returns the persisted id, creating and saving one on first use.
// If the store cannot be read or written, every call yields a fresh
// throwaway id instead of failing.
func (i *Identity) VisitorID() string {
	id, err := i.store.Load()
	if err == nil && id != "" {
		return id
	}

	id = NewVisitorID()
	if err != nil && !errors.Is(err, ErrNoIdentity) {
		return id
	}

	_ = i.store.Save(id)

	return id
}

// Clear forgets the stored id; the next VisitorID call rotates it.
func (i *Identity) Clear() error {
	err := i.store.Remove()
	if errors.Is(err, ErrNoIdentity) {
		return nil
	}
	return err
}

func NewVisitorID() string {
	return uuid.NewString()
}

// MemoryIdentityStore keeps a single id in memory.
type MemoryIdentityStore struct {
	mu sync.Mutex
	id string
}

func (m *MemoryIdentityStore) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.id == "" {
		return "", ErrNoIdentity
	}
	return m.id, nil
}

func (m *MemoryIdentityStore) Save(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.id = id
	return nil
}

func (m *MemoryIdentityStore) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.id = ""
	return nil
}
