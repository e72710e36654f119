package schema

import (
	"strings"
)

// FieldType is the normalised Go type a field's values are coerced to.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
)

func (t FieldType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	default:
		return "string"
	}
}

// Field describes one canonical field of a kind.
type Field struct {
	Name     string // canonical snake_case name (CSV header, SQL column)
	JSONName string // camelCase name used in the JSON document
	Type     FieldType
	Aliases  []string // legacy spellings accepted on load
}

// Rule marks a record protected when Field equals Value.
type Rule struct {
	Field string
	Value string
}

// Schema is the canonical definition of one kind.
type Schema struct {
	Kind      Kind
	Table     string
	File      string
	Fields    []Field
	KeyFields []string // natural key; empty means the id is the key
	Protected []Rule   // any matching rule protects the record

	byName map[string]int
}

// Canonical names shared by every kind.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

func str(name, jsonName string, aliases ...string) Field {
	return Field{Name: name, JSONName: jsonName, Type: TypeString, Aliases: aliases}
}

func integer(name, jsonName string, aliases ...string) Field {
	return Field{Name: name, JSONName: jsonName, Type: TypeInt, Aliases: aliases}
}

func float(name, jsonName string, aliases ...string) Field {
	return Field{Name: name, JSONName: jsonName, Type: TypeFloat, Aliases: aliases}
}

func boolean(name, jsonName string, aliases ...string) Field {
	return Field{Name: name, JSONName: jsonName, Type: TypeBool, Aliases: aliases}
}

func newSchema(kind Kind, table, file string, keys []string, rules []Rule, fields ...Field) *Schema {
	all := make([]Field, 0, len(fields)+3)
	all = append(all, str(FieldID, "id", "_id"))
	all = append(all, fields...)
	all = append(all,
		Field{Name: FieldCreatedAt, JSONName: "createdAt", Type: TypeTime, Aliases: []string{"created", "dateAdded"}},
		Field{Name: FieldUpdatedAt, JSONName: "updatedAt", Type: TypeTime, Aliases: []string{"updated", "lastModified"}},
	)

	s := &Schema{
		Kind:      kind,
		Table:     table,
		File:      file,
		Fields:    all,
		KeyFields: keys,
		Protected: rules,
		byName:    make(map[string]int),
	}
	for i, f := range all {
		s.byName[fold(f.Name)] = i
		s.byName[fold(f.JSONName)] = i
		for _, a := range f.Aliases {
			s.byName[fold(a)] = i
		}
	}
	return s
}

// fold makes field lookups insensitive to case and separators, so
// "monthly_revenue", "monthlyRevenue" and "Monthly Revenue" all match.
func fold(name string) string {
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(strings.TrimSpace(name)))
}

var registry = map[Kind]*Schema{
	KindProperty: newSchema(KindProperty, "properties", "properties.csv",
		[]string{"name", "address"}, nil,
		str("name", "name"),
		str("address", "address"),
		str("type", "type", "property_type"),
		integer("units", "units", "total_units"),
		integer("occupied", "occupied", "occupied_units"),
		float("monthly_revenue", "monthlyRevenue", "revenue"),
		float("purchase_price", "purchasePrice", "price", "value"),
		str("purchase_date", "purchaseDate"),
		str("status", "status"),
	),
	KindTenant: newSchema(KindTenant, "tenants", "tenants.csv",
		nil, nil,
		str("name", "name"),
		str("email", "email"),
		str("phone", "phone"),
		str("property_id", "propertyId"),
		str("property_name", "propertyName", "property"),
		str("unit", "unit"),
		float("rent", "rent", "monthly_rent"),
		str("lease_start", "leaseStart"),
		str("lease_end", "leaseEnd"),
		str("status", "status"),
		float("balance", "balance"),
	),
	KindWorkOrder: newSchema(KindWorkOrder, "work_orders", "workorders.csv",
		nil, []Rule{{Field: "source", Value: "tenant_portal"}},
		str("property", "property", "property_name"),
		str("tenant", "tenant", "tenant_name"),
		str("unit", "unit"),
		str("issue", "issue", "title"),
		str("description", "description"),
		str("category", "category"),
		str("priority", "priority"),
		str("status", "status"),
		str("date", "date", "date_submitted"),
		str("location", "location"),
		str("assigned_to", "assignedTo", "vendor"),
		float("estimated_cost", "estimatedCost"),
		float("actual_cost", "actualCost", "cost"),
		str("source", "source"),
		str("message_id", "messageId"),
	),
	KindTransaction: newSchema(KindTransaction, "transactions", "transactions.csv",
		nil, nil,
		str("type", "type"),
		float("amount", "amount"),
		str("description", "description"),
		str("date", "date"),
		str("category", "category"),
		str("property_id", "propertyId"),
		str("tenant_id", "tenantId"),
		str("payment_method", "paymentMethod"),
	),
	KindDocument: newSchema(KindDocument, "documents", "documents.csv",
		nil, nil,
		str("name", "name"),
		str("type", "type"),
		str("category", "category"),
		str("property_id", "propertyId"),
		str("tenant_id", "tenantId"),
		str("file_path", "filePath"),
		integer("file_size", "fileSize", "size"),
		str("mime_type", "mimeType"),
	),
	KindApplication: newSchema(KindApplication, "applications", "applications.csv",
		nil, nil,
		str("status", "status"),
		str("first_name", "firstName"),
		str("last_name", "lastName"),
		str("email", "email"),
		str("phone", "phone"),
		str("property_id", "propertyId"),
		str("property_name", "propertyName"),
		str("desired_unit", "desiredUnit"),
		str("desired_move_in_date", "desiredMoveInDate"),
		float("monthly_income", "monthlyIncome"),
		str("submitted_date", "submittedDate"),
	),
	KindMessage: newSchema(KindMessage, "messages", "messages.csv",
		nil, []Rule{{Field: "source", Value: "tenant_portal"}, {Field: "type", Value: "maintenance_request"}},
		str("from_name", "fromName", "from"),
		str("from_email", "fromEmail"),
		str("to_name", "toName", "to"),
		str("to_email", "toEmail"),
		str("property", "property"),
		str("unit", "unit"),
		str("subject", "subject"),
		str("message", "message", "body"),
		str("date", "date"),
		boolean("read", "read"),
		str("type", "type"),
		str("status", "status"),
		str("source", "source"),
		str("work_order_id", "workOrderId"),
	),
}

// Lookup returns the schema for kind.
func Lookup(kind Kind) (*Schema, bool) {
	s, ok := registry[kind]
	return s, ok
}

// MustLookup is Lookup for kinds known at compile time.
func MustLookup(kind Kind) *Schema {
	s, ok := registry[kind]
	if !ok {
		panic("schema: unknown kind " + string(kind))
	}
	return s
}

// All returns every schema in sync order.
func All() []*Schema {
	out := make([]*Schema, 0, len(registry))
	for _, k := range Kinds() {
		out = append(out, registry[k])
	}
	return out
}

// Field resolves a canonical, JSON or alias name to its field definition.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.byName[fold(name)]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// FieldNames returns the canonical field names in column order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// DedupKeyFields returns the natural key, or the id when the kind has none.
func (s *Schema) DedupKeyFields() []string {
	if len(s.KeyFields) == 0 {
		return []string{FieldID}
	}
	return s.KeyFields
}

// NaturalKey returns the comparable dedup key of r.
func (s *Schema) NaturalKey(r Record) string {
	return KeyOf(r, s.DedupKeyFields())
}

// KeyOf joins the trimmed, case-folded values of fields. A record whose key
// fields are all blank falls back to its id so that unrelated blank records
// are never merged.
func KeyOf(r Record, fields []string) string {
	parts := make([]string, len(fields))
	blank := true
	for i, name := range fields {
		v := strings.ToLower(strings.TrimSpace(FormatValue(r[name])))
		if v != "" {
			blank = false
		}
		parts[i] = v
	}
	if blank {
		return "id:" + r.ID()
	}
	return strings.Join(parts, "\x1f")
}

// Completeness counts the non-empty, non-zero data fields of r. The id and
// timestamps are not counted.
func (s *Schema) Completeness(r Record) int {
	n := 0
	for _, f := range s.Fields {
		switch f.Name {
		case FieldID, FieldCreatedAt, FieldUpdatedAt:
			continue
		}
		if !isZero(r[f.Name]) {
			n++
		}
	}
	return n
}

// IsProtected reports whether r must survive reconciliation untouched.
func (s *Schema) IsProtected(r Record) bool {
	for _, rule := range s.Protected {
		if r.String(rule.Field) == rule.Value {
			return true
		}
	}
	return false
}
