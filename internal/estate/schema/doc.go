// Package schema defines the canonical record shapes shared by every store.
//
// # Overview
//
// Property management data lives in three places at once: a JSON document
// (data.json, written by the browser front end), one CSV file per entity kind,
// and a relational database. Each medium names fields differently. This
// package owns the single canonical definition of every entity kind so that
// stores only translate names at their boundary.
//
// # Kinds
//
// Seven kinds are defined:
//   - properties - buildings, units, revenue and purchase price
//   - tenants - leases and balances
//   - workOrders - maintenance requests (protected when raised from the tenant portal)
//   - transactions - income and expenses
//   - documents - uploaded file metadata
//   - applications - rental applications
//   - messages - tenant correspondence (protected for portal and maintenance requests)
//
// # Records
//
// A Record maps canonical snake_case field names to normalised Go scalars
// (string, int64, float64, bool, time.Time). Normalize accepts canonical
// names, camelCase JSON names and legacy aliases, and reports every value it
// had to default as an Issue rather than failing:
//
//	s, _ := schema.Lookup(schema.KindProperty)
//	rec, issues := s.Normalize(map[string]any{
//	    "id":             "p1",
//	    "name":           "Oak Street",
//	    "monthlyRevenue": "1200",
//	}, time.Now())
//
// # Keys
//
// Properties deduplicate on (name, address); every other kind deduplicates
// on id. NaturalKey returns the comparable key string for a record.
package schema
