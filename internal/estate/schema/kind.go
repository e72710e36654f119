package schema

import (
	"fmt"
	"strings"
)

// Kind identifies an entity collection. The value is the collection's key in
// the JSON document.
type Kind string

const (
	KindProperty    Kind = "properties"
	KindTenant      Kind = "tenants"
	KindWorkOrder   Kind = "workOrders"
	KindTransaction Kind = "transactions"
	KindDocument    Kind = "documents"
	KindApplication Kind = "applications"
	KindMessage     Kind = "messages"
)

// Kinds returns every kind in sync order.
func Kinds() []Kind {
	return []Kind{
		KindProperty,
		KindTenant,
		KindWorkOrder,
		KindTransaction,
		KindDocument,
		KindApplication,
		KindMessage,
	}
}

func (k Kind) String() string { return string(k) }

// ParseKind accepts a kind in any of the spellings used across the stores:
// JSON key, table name, CSV file stem, singular form.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.TrimSuffix(norm, ".csv")
	norm = strings.NewReplacer("_", "", "-", "", " ", "").Replace(norm)

	switch norm {
	case "properties", "property":
		return KindProperty, nil
	case "tenants", "tenant":
		return KindTenant, nil
	case "workorders", "workorder":
		return KindWorkOrder, nil
	case "transactions", "transaction":
		return KindTransaction, nil
	case "documents", "document":
		return KindDocument, nil
	case "applications", "application":
		return KindApplication, nil
	case "messages", "message":
		return KindMessage, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}
