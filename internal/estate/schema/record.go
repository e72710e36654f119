package schema

import (
	"math"
	"strconv"
	"time"
)

// Record is one normalised entity keyed by canonical field name.
type Record map[string]any

// ID returns the record identifier.
func (r Record) ID() string { return r.String(FieldID) }

// CreatedAt returns the creation timestamp.
func (r Record) CreatedAt() time.Time { return r.Time(FieldCreatedAt) }

// UpdatedAt returns the last-mutation timestamp.
func (r Record) UpdatedAt() time.Time { return r.Time(FieldUpdatedAt) }

// Touch sets updated_at to now.
func (r Record) Touch(now time.Time) { r[FieldUpdatedAt] = now.UTC() }

// Clone returns a shallow copy; values are immutable scalars.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Record) String(name string) string {
	if s, ok := r[name].(string); ok {
		return s
	}
	return FormatValue(r[name])
}

func (r Record) Int(name string) int64 {
	switch v := r[name].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func (r Record) Float(name string) float64 {
	switch v := r[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func (r Record) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

func (r Record) Time(name string) time.Time {
	t, _ := r[name].(time.Time)
	return t
}

// TimeLayout is the on-disk timestamp format for every store.
const TimeLayout = time.RFC3339Nano

// FormatValue renders a normalised value as text, the form used in CSV cells
// and key comparisons. Zero times render as the empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "0"
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format(TimeLayout)
	}
	return ""
}

func isZero(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int64:
		return x == 0
	case float64:
		return x == 0
	case bool:
		return !x
	case time.Time:
		return x.IsZero()
	}
	return false
}
