package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrSchemaMismatch marks a record that is missing a required field or holds
// a value of the wrong type. Normalize reports these as Issues and defaults
// the value instead of failing.
var ErrSchemaMismatch = errors.New("schema mismatch")

// Issue describes one value Normalize could not use as given.
type Issue struct {
	Kind   Kind
	ID     string
	Field  string
	Value  any
	Reason string
}

func (i Issue) Error() string {
	if i.ID == "" {
		return fmt.Sprintf("%s: field %s: %s", i.Kind, i.Field, i.Reason)
	}
	return fmt.Sprintf("%s %s: field %s: %s", i.Kind, i.ID, i.Field, i.Reason)
}

func (i Issue) Unwrap() error { return ErrSchemaMismatch }

// Normalize maps raw into the canonical schema. Keys may use canonical, JSON
// or alias spellings; unknown keys are dropped. Values that cannot be coerced
// become the zero value of the field type and are reported as Issues.
//
// A missing updated_at defaults to created_at; both default to now only when
// neither is present. A missing id is reported but never invented: callers
// skip records whose ID() is empty.
func (s *Schema) Normalize(raw map[string]any, now time.Time) (Record, []Issue) {
	rec := make(Record, len(s.Fields))
	var issues []Issue

	keys := s.resolve(raw)
	for i, f := range s.Fields {
		key, ok := keys[i]
		if !ok {
			rec[f.Name] = zeroOf(f.Type)
			continue
		}
		val := raw[key]
		v, err := coerce(f.Type, val)
		if err != nil {
			issues = append(issues, Issue{Kind: s.Kind, Field: f.Name, Value: val, Reason: err.Error()})
		}
		rec[f.Name] = v
	}

	id := strings.TrimSpace(rec.String(FieldID))
	rec[FieldID] = id
	if id == "" {
		issues = append(issues, Issue{Kind: s.Kind, Field: FieldID, Reason: "missing id"})
	}

	created, updated := rec.CreatedAt(), rec.UpdatedAt()
	switch {
	case created.IsZero() && updated.IsZero():
		rec[FieldCreatedAt] = now.UTC()
		rec[FieldUpdatedAt] = now.UTC()
	case updated.IsZero():
		rec[FieldUpdatedAt] = created
	case created.IsZero():
		rec[FieldCreatedAt] = updated
	}

	for i := range issues {
		issues[i].ID = id
	}
	return rec, issues
}

// resolve picks, for each field index, the raw key to read it from. When a
// row carries several spellings of one field the canonical name wins, then
// the JSON name, then the aliases in declaration order. An exact spelling
// beats a case or separator variant of it; any remaining tie goes to the
// smaller key.
func (s *Schema) resolve(raw map[string]any) map[int]string {
	chosen := make(map[int]string, len(s.Fields))
	ranks := make(map[int]int, len(s.Fields))
	for key := range raw {
		i, ok := s.byName[fold(key)]
		if !ok {
			continue
		}
		r := s.Fields[i].precedence(key)
		if cur, seen := chosen[i]; seen && (ranks[i] < r || ranks[i] == r && cur < key) {
			continue
		}
		chosen[i], ranks[i] = key, r
	}
	return chosen
}

// precedence ranks key among f's spellings; lower is preferred.
func (f Field) precedence(key string) int {
	spellings := append([]string{f.Name, f.JSONName}, f.Aliases...)
	folded := fold(key)
	for n, sp := range spellings {
		if key == sp {
			return 2 * n
		}
		if folded == fold(sp) {
			return 2*n + 1
		}
	}
	return 2 * len(spellings)
}

func zeroOf(t FieldType) any {
	switch t {
	case TypeInt:
		return int64(0)
	case TypeFloat:
		return float64(0)
	case TypeBool:
		return false
	case TypeTime:
		return time.Time{}
	default:
		return ""
	}
}

func coerce(t FieldType, v any) (any, error) {
	switch t {
	case TypeInt:
		return toInt(v)
	case TypeFloat:
		return toFloat(v)
	case TypeBool:
		return toBool(v)
	case TypeTime:
		return toTime(v)
	default:
		return toString(v), nil
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	}
	return FormatValue(v)
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	default:
		s := strings.TrimSpace(toString(v))
		if s == "" {
			return 0, nil
		}
		p, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", s)
		}
		f = p
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	}
	s := strings.TrimSpace(toString(v))
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	}
	switch strings.ToLower(strings.TrimSpace(toString(v))) {
	case "", "false", "0", "no", "n", "f":
		return false, nil
	case "true", "1", "yes", "y", "t":
		return true, nil
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	"01/02/2006",
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x.UTC(), nil
	case float64:
		return fromEpoch(x), nil
	case int64:
		return fromEpoch(float64(x)), nil
	}
	s := strings.TrimSpace(toString(v))
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	// browser front ends store Date.now() milliseconds
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f), nil
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp %q", s)
}

func fromEpoch(f float64) time.Time {
	if f > 1e11 {
		return time.UnixMilli(int64(f)).UTC()
	}
	return time.Unix(int64(f), 0).UTC()
}
