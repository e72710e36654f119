package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

// Memory is an in-process adapter. It backs dry runs and tests.
type Memory struct {
	name string
	now  func() time.Time

	mu          sync.Mutex
	collections map[schema.Kind][]schema.Record
	unavailable bool
	failWrites  error
}

// NewMemory returns an empty in-memory adapter reporting name.
func NewMemory(name string) *Memory {
	return &Memory{
		name:        name,
		now:         time.Now,
		collections: make(map[schema.Kind][]schema.Record),
	}
}

func (m *Memory) Name() string { return m.name }

// SetUnavailable makes LoadAll fail with ErrStorageUnavailable.
func (m *Memory) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

// FailWrites makes SaveAll and Upsert return err until reset with nil.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

func (m *Memory) LoadAll(ctx context.Context, kind schema.Kind) ([]schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, fmt.Errorf("%w: %s", ErrStorageUnavailable, m.name)
	}
	return cloneAll(m.collections[kind]), nil
}

func (m *Memory) SaveAll(ctx context.Context, kind schema.Kind, records []schema.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	m.collections[kind] = cloneAll(records)
	return nil
}

func (m *Memory) Upsert(ctx context.Context, kind schema.Kind, record schema.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}

	rec := record.Clone()
	rec.Touch(m.now())
	list := m.collections[kind]
	for i, r := range list {
		if r.ID() == rec.ID() {
			list[i] = rec
			return nil
		}
	}
	m.collections[kind] = append(list, rec)
	return nil
}

// Remove drops kind's collection.
func (m *Memory) Remove(ctx context.Context, kind schema.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, kind)
	return nil
}

func (m *Memory) Close() error { return nil }

func cloneAll(records []schema.Record) []schema.Record {
	out := make([]schema.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
