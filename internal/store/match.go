package store

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
)

// normalize converts fields to their JSON value shapes (string, float64, bool, nil,
// []any, map[string]any) so every backend compares the same things.
// Increment values are returned separately.
func normalize(fields Fields) (Fields, map[string]int64, error) {
	plain := make(map[string]any, len(fields))
	var incs map[string]int64
	for k, v := range fields {
		if inc, ok := v.(Increment); ok {
			if incs == nil {
				incs = make(map[string]int64)
			}
			incs[k] = int64(inc)
			continue
		}
		plain[k] = v
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return nil, nil, fmt.Errorf("store: encode fields: %w", err)
	}
	out := Fields{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("store: decode fields: %w", err)
	}
	delete(out, "id")
	return out, incs, nil
}

func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return out, nil
}

// merge applies normalized fields and increments on top of existing and returns a new map.
func merge(existing Fields, plain Fields, incs map[string]int64) Fields {
	out := make(Fields, len(existing)+len(plain)+len(incs))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range plain {
		out[k] = v
	}
	for k, n := range incs {
		current, _ := out[k].(float64)
		out[k] = current + float64(n)
	}
	return out
}

func cloneFields(f Fields) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type compiledFilter struct {
	field string
	op    Op
	value any
	set   []any
}

func compileFilters(filters []Filter) ([]compiledFilter, error) {
	out := make([]compiledFilter, 0, len(filters))
	for _, f := range filters {
		if f.Field == "" {
			return nil, fmt.Errorf("%w: empty field", ErrInvalidFilter)
		}
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nil, err
		}
		cf := compiledFilter{field: f.Field, op: f.Op, value: v}
		switch f.Op {
		case OpEq, OpNe, OpGte, OpLte:
		case OpIn:
			set, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %q needs a list value", ErrInvalidFilter, f.Field)
			}
			cf.set = set
		default:
			return nil, fmt.Errorf("%w: operator %q", ErrInvalidFilter, f.Op)
		}
		out = append(out, cf)
	}
	return out, nil
}

func matches(fields Fields, filters []compiledFilter) bool {
	for _, f := range filters {
		actual, present := fields[f.field]
		switch f.op {
		case OpEq:
			if !present || !reflect.DeepEqual(actual, f.value) {
				return false
			}
		case OpNe:
			if present && reflect.DeepEqual(actual, f.value) {
				return false
			}
		case OpIn:
			if !present || !slices.ContainsFunc(f.set, func(v any) bool { return reflect.DeepEqual(v, actual) }) {
				return false
			}
		case OpGte, OpLte:
			c, ok := compareValues(actual, f.value)
			if !present || !ok {
				return false
			}
			if (f.op == OpGte && c < 0) || (f.op == OpLte && c > 0) {
				return false
			}
		}
	}
	return true
}

// compareValues orders two JSON scalars of the same kind.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return cmp.Compare(av, bv), true
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func sortDocuments(docs []Document, order *Order) {
	if order == nil || order.Field == "" {
		slices.SortStableFunc(docs, func(a, b Document) int { return cmp.Compare(a.ID, b.ID) })
		return
	}
	slices.SortStableFunc(docs, func(a, b Document) int {
		av, aok := a.Fields[order.Field]
		bv, bok := b.Fields[order.Field]
		var c int
		switch {
		case !aok && !bok:
			c = 0
		case !aok:
			c = -1
		case !bok:
			c = 1
		default:
			c, _ = compareValues(av, bv)
		}
		if order.Desc {
			c = -c
		}
		if c == 0 {
			return cmp.Compare(a.ID, b.ID)
		}
		return c
	})
}

// filterAndSort is the in-process query used by backends that cannot push filters down.
func filterAndSort(docs []Document, filters []compiledFilter, order *Order) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if matches(d.Fields, filters) {
			out = append(out, d)
		}
	}
	sortDocuments(out, order)
	return out
}
