package schema

import "time"

// JSONObject renders r with JSON document field names. Timestamps become
// RFC3339 strings; numbers stay numeric.
func (s *Schema) JSONObject(r Record) map[string]any {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		v, ok := r[f.Name]
		if !ok {
			v = zeroOf(f.Type)
		}
		if t, isTime := v.(time.Time); isTime {
			out[f.JSONName] = FormatValue(t)
			continue
		}
		out[f.JSONName] = v
	}
	return out
}

// Row renders r as text cells in FieldNames order.
func (s *Schema) Row(r Record) []string {
	row := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		row[i] = FormatValue(r[f.Name])
	}
	return row
}

// Values renders r as SQL arguments in FieldNames order. Timestamps are
// stored as text so both SQL dialects sort them identically.
func (s *Schema) Values(r Record) []any {
	vals := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		v, ok := r[f.Name]
		if !ok || v == nil {
			v = zeroOf(f.Type)
		}
		if t, isTime := v.(time.Time); isTime {
			v = FormatValue(t)
		}
		vals[i] = v
	}
	return vals
}
