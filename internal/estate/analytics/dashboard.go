package analytics

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

// TenantSummary covers the tenants collection.
type TenantSummary struct {
	TotalTenants       int     `json:"total_tenants" yaml:"total_tenants"`
	Active             int     `json:"active" yaml:"active"`
	Overdue            int     `json:"overdue" yaml:"overdue"`
	TotalMonthlyRent   float64 `json:"total_monthly_rent" yaml:"total_monthly_rent"`
	OutstandingBalance float64 `json:"outstanding_balance" yaml:"outstanding_balance"`
}

// CategoryTotal is the sum of one transaction category.
type CategoryTotal struct {
	Category string  `json:"category" yaml:"category"`
	Type     string  `json:"type" yaml:"type"`
	Amount   float64 `json:"amount" yaml:"amount"`
	Count    int     `json:"count" yaml:"count"`
}

// TransactionSummary covers the transactions collection.
type TransactionSummary struct {
	TotalTransactions int             `json:"total_transactions" yaml:"total_transactions"`
	Income            float64         `json:"income" yaml:"income"`
	Expenses          float64         `json:"expenses" yaml:"expenses"`
	Net               float64         `json:"net" yaml:"net"`
	ByCategory        []CategoryTotal `json:"by_category" yaml:"by_category"`
}

// WorkOrderSummary counts open maintenance.
type WorkOrderSummary struct {
	TotalWorkOrders int `json:"total_work_orders" yaml:"total_work_orders"`
	Open            int `json:"open" yaml:"open"`
	Urgent          int `json:"urgent" yaml:"urgent"`
	FromPortal      int `json:"from_portal" yaml:"from_portal"`
}

// Dashboard is the combined view served by the stats command and endpoint.
type Dashboard struct {
	Portfolio    Portfolio          `json:"portfolio" yaml:"portfolio"`
	Tenants      TenantSummary      `json:"tenants" yaml:"tenants"`
	Transactions TransactionSummary `json:"transactions" yaml:"transactions"`
	WorkOrders   WorkOrderSummary   `json:"work_orders" yaml:"work_orders"`
}

// Build computes the dashboard from loaded collections. Missing kinds count
// as empty.
func Build(collections map[schema.Kind][]schema.Record) Dashboard {
	return Dashboard{
		Portfolio:    Analyze(collections[schema.KindProperty]),
		Tenants:      SummarizeTenants(collections[schema.KindTenant]),
		Transactions: SummarizeTransactions(collections[schema.KindTransaction]),
		WorkOrders:   SummarizeWorkOrders(collections[schema.KindWorkOrder]),
	}
}

func is(v, want string) bool {
	return strings.EqualFold(strings.TrimSpace(v), want)
}

// SummarizeTenants counts tenants by status and totals rent and balances.
func SummarizeTenants(records []schema.Record) TenantSummary {
	tenants := lo.Map(records, func(r schema.Record, _ int) schema.Tenant { return schema.TenantFromRecord(r) })
	return TenantSummary{
		TotalTenants:       len(tenants),
		Active:             lo.CountBy(tenants, func(t schema.Tenant) bool { return is(t.Status, "active") }),
		Overdue:            lo.CountBy(tenants, func(t schema.Tenant) bool { return is(t.Status, "overdue") }),
		TotalMonthlyRent:   lo.SumBy(tenants, func(t schema.Tenant) float64 { return t.Rent }),
		OutstandingBalance: lo.SumBy(tenants, func(t schema.Tenant) float64 { return max(t.Balance, 0) }),
	}
}

// SummarizeTransactions totals income and expenses. Amounts are taken as
// absolute values; the type decides the sign.
func SummarizeTransactions(records []schema.Record) TransactionSummary {
	txs := lo.Map(records, func(r schema.Record, _ int) schema.Transaction { return schema.TransactionFromRecord(r) })
	abs := func(v float64) float64 { return max(v, -v) }

	income := lo.SumBy(lo.Filter(txs, func(t schema.Transaction, _ int) bool { return is(t.Type, "income") }),
		func(t schema.Transaction) float64 { return abs(t.Amount) })
	expenses := lo.SumBy(lo.Filter(txs, func(t schema.Transaction, _ int) bool { return is(t.Type, "expense") }),
		func(t schema.Transaction) float64 { return abs(t.Amount) })

	type catKey struct{ category, typ string }
	groups := lo.GroupBy(txs, func(t schema.Transaction) catKey {
		c := strings.TrimSpace(t.Category)
		if c == "" {
			c = "uncategorized"
		}
		return catKey{category: c, typ: strings.ToLower(strings.TrimSpace(t.Type))}
	})
	cats := make([]CategoryTotal, 0, len(groups))
	for k, g := range groups {
		cats = append(cats, CategoryTotal{
			Category: k.category,
			Type:     k.typ,
			Amount:   lo.SumBy(g, func(t schema.Transaction) float64 { return abs(t.Amount) }),
			Count:    len(g),
		})
	}
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Type != cats[j].Type {
			return cats[i].Type < cats[j].Type
		}
		return cats[i].Category < cats[j].Category
	})

	return TransactionSummary{
		TotalTransactions: len(txs),
		Income:            income,
		Expenses:          expenses,
		Net:               income - expenses,
		ByCategory:        cats,
	}
}

// SummarizeWorkOrders counts work orders that are not yet completed or
// closed, urgent ones among them, and those submitted through the portal.
func SummarizeWorkOrders(records []schema.Record) WorkOrderSummary {
	open := lo.Filter(records, func(r schema.Record, _ int) bool {
		s := r.String("status")
		return !is(s, "completed") && !is(s, "closed")
	})
	return WorkOrderSummary{
		TotalWorkOrders: len(records),
		Open:            len(open),
		Urgent:          lo.CountBy(open, func(r schema.Record) bool { return is(r.String("priority"), "urgent") }),
		FromPortal:      lo.CountBy(records, func(r schema.Record) bool { return is(r.String("source"), "tenant_portal") }),
	}
}
