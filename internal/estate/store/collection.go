package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

// Result is the outcome of a lookup by id: either a record or not found.
type Result struct {
	record schema.Record
}

// Found wraps a located record.
func Found(r schema.Record) Result { return Result{record: r} }

// NotFound is the empty lookup result.
func NotFound() Result { return Result{} }

// Found reports whether the lookup located a record.
func (r Result) Found() bool { return r.record != nil }

// Record returns the located record, or nil when not found.
func (r Result) Record() schema.Record { return r.record }

// Collection is a CRUD service over one kind of one adapter.
type Collection struct {
	adapter Adapter
	kind    schema.Kind
	schema  *schema.Schema
	now     func() time.Time
	newID   func() string

	// serialises read-modify-write cycles within the process; the adapter
	// locks the medium itself
	mu sync.Mutex
}

// NewCollection binds a CRUD service to kind on adapter.
func NewCollection(a Adapter, kind schema.Kind) (*Collection, error) {
	s, ok := schema.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return &Collection{
		adapter: a,
		kind:    kind,
		schema:  s,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// WithClock overrides the time source used for timestamps.
func (c *Collection) WithClock(now func() time.Time) *Collection {
	c.now = now
	return c
}

// List returns every record of the collection. An unavailable medium reads
// as an empty collection.
func (c *Collection) List(ctx context.Context) ([]schema.Record, error) {
	records, err := LoadOrEmpty(ctx, c.adapter, c.kind, nil)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	return records, nil
}

// Get looks up one record by id.
func (c *Collection) Get(ctx context.Context, id string) (Result, error) {
	records, err := c.List(ctx)
	if err != nil {
		return NotFound(), err
	}
	for _, r := range records {
		if r.ID() == id {
			return Found(r), nil
		}
	}
	return NotFound(), nil
}

// Create normalises raw, assigns a UUID when no id is given and stores it.
func (c *Collection) Create(ctx context.Context, raw map[string]any) (schema.Record, error) {
	now := c.now()
	rec, _ := c.schema.Normalize(raw, now)
	if rec.ID() == "" {
		rec[schema.FieldID] = c.newID()
	}
	rec.Touch(now)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.adapter.Upsert(ctx, c.kind, rec); err != nil {
		return nil, fmt.Errorf("failed to create %s record: %w", c.kind, err)
	}
	return rec, nil
}

// Update merges patch into the record with id and stores it. Returns
// ErrNotFound when no such record exists.
func (c *Collection) Update(ctx context.Context, id string, patch map[string]any) (schema.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !res.Found() {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, c.kind, id)
	}

	merged := make(map[string]any, len(res.Record())+len(patch))
	for k, v := range res.Record() {
		merged[k] = v
	}
	for k, v := range patch {
		f, ok := c.schema.Field(k)
		if !ok || f.Name == schema.FieldID || f.Name == schema.FieldCreatedAt {
			continue
		}
		merged[f.Name] = v
	}

	now := c.now()
	rec, _ := c.schema.Normalize(merged, now)
	rec.Touch(now)
	if err := c.adapter.Upsert(ctx, c.kind, rec); err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", c.kind, id, err)
	}
	return rec, nil
}

// Delete removes the record with id. Returns ErrNotFound when absent.
func (c *Collection) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.List(ctx)
	if err != nil {
		return err
	}
	kept := make([]schema.Record, 0, len(records))
	for _, r := range records {
		if r.ID() != id {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(records) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, c.kind, id)
	}
	if err := c.adapter.SaveAll(ctx, c.kind, kept); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", c.kind, id, err)
	}
	return nil
}
