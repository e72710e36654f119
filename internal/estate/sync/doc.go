// Package sync reconciles one entity collection between two stores.
//
// Overview
//
// The same records live in a JSON document, CSV files and a database, and
// any of them may be edited independently. A Reconciler loads a collection
// from store A and store B, merges the two into one deduplicated collection
// and writes it back to the target side (or both sides).
//
//	store A ──LoadAll──┐
//	                   ├─► normalise ─► split protected ─► dedup by key ─► union ─► SaveAll
//	store B ──LoadAll──┘
//
// Winner selection
//
// Records sharing a dedup key (name and address for properties, id for every
// other kind) collapse to one winner, chosen by:
//  1. the authoritative side, when one is designated
//  2. the latest updated_at
//  3. the most complete record (most non-empty fields)
//  4. the preferred side (authoritative, else the source), or first seen
//
// A cross-side tie that reaches step 4 with differing content is reported as
// a conflict and logged with ErrConflictUnresolved.
//
// Protected records
//
// Work orders and messages raised from the tenant portal, and maintenance
// request messages, never take part in deduplication. They are unioned back
// into the result, the target side's copy winning.
//
// Usage
//
//	r := sync.New(jsonStore, csvStore, sync.WithLogger(logger))
//	res, err := r.Reconcile(ctx, sync.Request{
//	    Kind:      schema.KindProperty,
//	    Direction: sync.AToB,
//	})
//
// Loads that fail are treated as empty collections and recorded as warnings
// on the Result; write failures are returned.
package sync
