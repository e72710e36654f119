// Package seed generates realistic fake estate data for demos and tests.
// Output is fully determined by Options.Seed and Options.Now.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// Options sizes the generated data set.
type Options struct {
	Seed               int64
	Now                time.Time
	Properties         int
	TenantsPerProperty int
	WorkOrders         int
	Transactions       int
	// Duplicates adds copies of existing properties under new ids with a
	// later updated_at, for exercising dedup and sync.
	Duplicates int
	// PortalShare is the fraction of work orders submitted through the
	// tenant portal.
	PortalShare float64
}

// DefaultOptions is a small portfolio.
func DefaultOptions() Options {
	return Options{
		Seed:               1,
		Now:                time.Now().UTC().Truncate(time.Second),
		Properties:         8,
		TenantsPerProperty: 3,
		WorkOrders:         12,
		Transactions:       40,
		PortalShare:        0.25,
	}
}

// Data is a generated set of collections.
type Data map[schema.Kind][]schema.Record

// Count returns the number of records across all kinds.
func (d Data) Count() int {
	n := 0
	for _, recs := range d {
		n += len(recs)
	}
	return n
}

var (
	propertyTypes = []string{"residential", "commercial", "mixed"}
	tenantStatus  = []string{"active", "active", "active", "overdue", "inactive"}
	priorities    = []string{"Low", "Medium", "High", "Urgent"}
	woStatus      = []string{"Open", "In Progress", "Completed", "Closed"}
	woCategories  = []string{"plumbing", "electrical", "hvac", "appliance", "general"}
	incomeCats    = []string{"rent", "late_fee", "deposit"}
	expenseCats   = []string{"repairs", "utilities", "insurance", "taxes", "management"}
	payMethods    = []string{"ach", "check", "card", "cash"}
)

type generator struct {
	f    *gofakeit.Faker
	now  time.Time
	opts Options
}

// Generate builds the collections described by opts.
//
// Example:
//
//	data, err := seed.Generate(seed.Options{Seed: 42, Now: now, Properties: 10, Duplicates: 3})
func Generate(opts Options) (Data, error) {
	if opts.Properties < 0 || opts.TenantsPerProperty < 0 || opts.WorkOrders < 0 || opts.Transactions < 0 || opts.Duplicates < 0 {
		return nil, fmt.Errorf("seed counts must not be negative")
	}
	if opts.Duplicates > opts.Properties {
		return nil, fmt.Errorf("cannot duplicate %d of %d properties", opts.Duplicates, opts.Properties)
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC().Truncate(time.Second)
	}

	g := &generator{f: gofakeit.New(opts.Seed), now: opts.Now.UTC(), opts: opts}
	data := Data{}

	props, err := g.properties()
	if err != nil {
		return nil, err
	}
	data[schema.KindProperty] = props

	if data[schema.KindTenant], err = g.tenants(props[:opts.Properties]); err != nil {
		return nil, err
	}
	if data[schema.KindWorkOrder], err = g.workOrders(props[:opts.Properties], data[schema.KindTenant]); err != nil {
		return nil, err
	}
	if data[schema.KindTransaction], err = g.transactions(props[:opts.Properties], data[schema.KindTenant]); err != nil {
		return nil, err
	}
	return data, nil
}

func (g *generator) past(maxDays int) time.Time {
	return g.now.Add(-time.Duration(g.f.Number(1, maxDays*24)) * time.Hour)
}

func (g *generator) record(kind schema.Kind, raw map[string]any) (schema.Record, error) {
	rec, issues := schema.MustLookup(kind).Normalize(raw, g.now)
	if len(issues) > 0 {
		return nil, fmt.Errorf("generated invalid %s: %w", kind, issues[0])
	}
	return rec, nil
}

func (g *generator) properties() ([]schema.Record, error) {
	out := make([]schema.Record, 0, g.opts.Properties+g.opts.Duplicates)
	for i := 0; i < g.opts.Properties; i++ {
		units := g.f.Number(1, 40)
		price := float64(g.f.Number(150, 4000)) * 1000
		created := g.past(720)
		rec, err := g.record(schema.KindProperty, map[string]any{
			"id":              g.f.UUID(),
			"name":            fmt.Sprintf("%s %s", g.f.LastName(), g.f.RandomString([]string{"Apartments", "Plaza", "Court", "Lofts", "Commons"})),
			"address":         fmt.Sprintf("%s %s", g.f.StreetNumber(), g.f.StreetName()),
			"type":            g.f.RandomString(propertyTypes),
			"units":           units,
			"occupied":        g.f.Number(0, units),
			"monthly_revenue": float64(units) * float64(g.f.Number(8, 25)) * 100,
			"purchase_price":  price,
			"purchase_date":   created.AddDate(0, -g.f.Number(1, 60), 0).Format("2006-01-02"),
			"status":          "active",
			"created_at":      created,
			"updated_at":      created.Add(time.Duration(g.f.Number(0, 240)) * time.Hour),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	for i := 0; i < g.opts.Duplicates; i++ {
		dup := out[i].Clone()
		dup[schema.FieldID] = g.f.UUID()
		dup[schema.FieldUpdatedAt] = out[i].UpdatedAt().Add(time.Hour)
		dup["monthly_revenue"] = out[i].Float("monthly_revenue") + 100
		out = append(out, dup)
	}
	return out, nil
}

func (g *generator) tenants(props []schema.Record) ([]schema.Record, error) {
	out := make([]schema.Record, 0, len(props)*g.opts.TenantsPerProperty)
	for _, p := range props {
		for i := 0; i < g.opts.TenantsPerProperty; i++ {
			start := g.past(540)
			status := g.f.RandomString(tenantStatus)
			balance := 0.0
			if status == "overdue" {
				balance = float64(g.f.Number(1, 30)) * 50
			}
			first, last := g.f.FirstName(), g.f.LastName()
			rec, err := g.record(schema.KindTenant, map[string]any{
				"id":            g.f.UUID(),
				"name":          first + " " + last,
				"email":         fmt.Sprintf("%s.%s@%s", first, last, g.f.DomainName()),
				"phone":         g.f.Phone(),
				"property_id":   p.ID(),
				"property_name": p.String("name"),
				"unit":          fmt.Sprintf("%d%02d", g.f.Number(1, 5), g.f.Number(1, 20)),
				"rent":          float64(g.f.Number(8, 30)) * 100,
				"lease_start":   start.Format("2006-01-02"),
				"lease_end":     start.AddDate(1, 0, 0).Format("2006-01-02"),
				"status":        status,
				"balance":       balance,
				"created_at":    start,
			})
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (g *generator) workOrders(props, tenants []schema.Record) ([]schema.Record, error) {
	if len(props) == 0 {
		return []schema.Record{}, nil
	}
	out := make([]schema.Record, 0, g.opts.WorkOrders)
	for i := 0; i < g.opts.WorkOrders; i++ {
		p := props[g.f.Number(0, len(props)-1)]
		raw := map[string]any{
			"id":             g.f.UUID(),
			"property":       p.String("name"),
			"issue":          fmt.Sprintf("%s %s", g.f.RandomString([]string{"Broken", "Leaking", "Noisy", "Faulty"}), g.f.RandomString([]string{"faucet", "heater", "window", "outlet", "dishwasher"})),
			"description":    g.f.Sentence(8),
			"category":       g.f.RandomString(woCategories),
			"priority":       g.f.RandomString(priorities),
			"status":         g.f.RandomString(woStatus),
			"estimated_cost": float64(g.f.Number(5, 200)) * 10,
			"source":         "manager",
			"created_at":     g.past(90),
		}
		raw["date"] = raw["created_at"].(time.Time).Format("2006-01-02")
		if len(tenants) > 0 && g.f.Float64Range(0, 1) < g.opts.PortalShare {
			t := tenants[g.f.Number(0, len(tenants)-1)]
			raw["source"] = "tenant_portal"
			raw["tenant"] = t.String("name")
			raw["unit"] = t.String("unit")
			raw["property"] = t.String("property_name")
		}
		rec, err := g.record(schema.KindWorkOrder, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (g *generator) transactions(props, tenants []schema.Record) ([]schema.Record, error) {
	if len(props) == 0 {
		return []schema.Record{}, nil
	}
	out := make([]schema.Record, 0, g.opts.Transactions)
	for i := 0; i < g.opts.Transactions; i++ {
		p := props[g.f.Number(0, len(props)-1)]
		at := g.past(365)
		raw := map[string]any{
			"id":             g.f.UUID(),
			"date":           at.Format("2006-01-02"),
			"property_id":    p.ID(),
			"payment_method": g.f.RandomString(payMethods),
			"created_at":     at,
		}
		if g.f.Bool() {
			raw["type"] = "income"
			raw["category"] = g.f.RandomString(incomeCats)
			raw["amount"] = float64(g.f.Number(5, 30)) * 100
			raw["description"] = "Payment received"
			if len(tenants) > 0 {
				raw["tenant_id"] = tenants[g.f.Number(0, len(tenants)-1)].ID()
			}
		} else {
			raw["type"] = "expense"
			raw["category"] = g.f.RandomString(expenseCats)
			raw["amount"] = float64(g.f.Number(1, 50)) * 50
			raw["description"] = g.f.Company()
		}
		rec, err := g.record(schema.KindTransaction, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Write saves every generated collection to a, replacing what is there.
func Write(ctx context.Context, a store.Adapter, data Data) error {
	for _, kind := range schema.Kinds() {
		recs, ok := data[kind]
		if !ok {
			continue
		}
		if err := a.SaveAll(ctx, kind, recs); err != nil {
			return fmt.Errorf("failed to write %s to %s: %w", kind, a.Name(), err)
		}
	}
	return nil
}
