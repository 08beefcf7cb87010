package docstore

import "time"

// ToUTC recursively walks a document (or any filter/pipeline value),
// descending into nested maps and slices, and converts every time.Time it
// finds to UTC. Naive local-zone semantics are not representable in Go's
// time.Time (every value already carries a location), so each value is
// converted from its own location to UTC: a time.Time built in time.Local
// is shifted from the process-local zone, any other value from its zone.
func ToUTC(v any) any {
	return walkTime(v, func(t time.Time) time.Time { return t.UTC() })
}

// ToLocal is the inverse of ToUTC applied on read: every time.Time in the
// document is converted from UTC back to loc.
func ToLocal(v any, loc *time.Location) any {
	if loc == nil {
		loc = time.Local
	}
	return walkTime(v, func(t time.Time) time.Time { return t.In(loc) })
}

func walkTime(v any, convert func(time.Time) time.Time) any {
	switch x := v.(type) {
	case time.Time:
		return convert(x)
	case *time.Time:
		if x == nil {
			return x
		}
		c := convert(*x)
		return &c
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = walkTime(val, convert)
		}
		return out
	case Document:
		out := make(Document, len(x))
		for k, val := range x {
			out[k] = walkTime(val, convert)
		}
		return out
	case Filter:
		out := make(Filter, len(x))
		for k, val := range x {
			out[k] = walkTime(val, convert)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = walkTime(val, convert)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(x))
		for i, val := range x {
			out[i], _ = walkTime(val, convert).(map[string]any)
		}
		return out
	default:
		return v
	}
}
