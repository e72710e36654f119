package schema

import "time"

// Property is a typed view of a properties record.
type Property struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	Type           string    `json:"type"`
	Units          int64     `json:"units"`
	Occupied       int64     `json:"occupied"`
	MonthlyRevenue float64   `json:"monthly_revenue"`
	PurchasePrice  float64   `json:"purchase_price"`
	PurchaseDate   string    `json:"purchase_date"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PropertyFromRecord converts a normalised properties record.
func PropertyFromRecord(r Record) Property {
	return Property{
		ID:             r.ID(),
		Name:           r.String("name"),
		Address:        r.String("address"),
		Type:           r.String("type"),
		Units:          r.Int("units"),
		Occupied:       r.Int("occupied"),
		MonthlyRevenue: r.Float("monthly_revenue"),
		PurchasePrice:  r.Float("purchase_price"),
		PurchaseDate:   r.String("purchase_date"),
		Status:         r.String("status"),
		CreatedAt:      r.CreatedAt(),
		UpdatedAt:      r.UpdatedAt(),
	}
}

// Record converts p back to a canonical record.
func (p Property) Record() Record {
	return Record{
		FieldID:           p.ID,
		"name":            p.Name,
		"address":         p.Address,
		"type":            p.Type,
		"units":           p.Units,
		"occupied":        p.Occupied,
		"monthly_revenue": p.MonthlyRevenue,
		"purchase_price":  p.PurchasePrice,
		"purchase_date":   p.PurchaseDate,
		"status":          p.Status,
		FieldCreatedAt:    p.CreatedAt.UTC(),
		FieldUpdatedAt:    p.UpdatedAt.UTC(),
	}
}

// Tenant is a typed view of a tenants record.
type Tenant struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	PropertyID string  `json:"property_id"`
	Rent       float64 `json:"rent"`
	Status     string  `json:"status"`
	Balance    float64 `json:"balance"`
}

// TenantFromRecord converts a normalised tenants record.
func TenantFromRecord(r Record) Tenant {
	return Tenant{
		ID:         r.ID(),
		Name:       r.String("name"),
		PropertyID: r.String("property_id"),
		Rent:       r.Float("rent"),
		Status:     r.String("status"),
		Balance:    r.Float("balance"),
	}
}

// Transaction is a typed view of a transactions record.
type Transaction struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
	Category   string  `json:"category"`
	Date       string  `json:"date"`
	PropertyID string  `json:"property_id"`
}

// TransactionFromRecord converts a normalised transactions record.
func TransactionFromRecord(r Record) Transaction {
	return Transaction{
		ID:         r.ID(),
		Type:       r.String("type"),
		Amount:     r.Float("amount"),
		Category:   r.String("category"),
		Date:       r.String("date"),
		PropertyID: r.String("property_id"),
	}
}
