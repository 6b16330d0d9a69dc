package store

import (
	"fmt"
	"time"
)

// 合併更新：只覆蓋 patch 裡有的欄位，transform sentinel 在這裡套用
func merge(cur Row, patch Row, now time.Time) (Row, error) {
	out := copyRow(cur)
	if out == nil {
		out = Row{}
	}
	for k, v := range patch {
		nv, err := resolve(out[k], v, now)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func resolve(cur, v any, now time.Time) (any, error) {
	switch t := v.(type) {
	case serverTimestamp:
		return now.UTC(), nil
	case increment:
		return values{"n": cur}.num("n") + t.by, nil
	case arrayUnion:
		arr := asSlice(cur)
		for _, x := range t.vals {
			if !containsValue(arr, x) {
				arr = append(arr, x)
			}
		}
		return arr, nil
	case arrayRemove:
		arr := asSlice(cur)
		out := make([]any, 0, len(arr))
		for _, x := range arr {
			if !containsValue(t.vals, x) {
				out = append(out, x)
			}
		}
		return out, nil
	}
	return v, nil
}

func asSlice(v any) []any {
	switch x := v.(type) {
	case []any:
		return append([]any(nil), x...)
	case []string:
		return toAny(x)
	}
	return []any{}
}

func containsValue(list []any, v any) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func copyRow(r Row) Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		if arr, ok := v.([]any); ok {
			v = append([]any(nil), arr...)
		}
		out[k] = v
	}
	return out
}
