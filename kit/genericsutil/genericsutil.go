// Package genericsutil provides small generic helpers shared by the kit packages.
package genericsutil

// Returns the zero value of type T
func Zero[T any]() T {
	var zero T
	return zero
}

// Returns v cast as type T if possible, otherwise returns the zero value of T
func AssertOrZero[T any](v any) T {
	if typedV, ok := v.(T); ok {
		return typedV
	}
	return Zero[T]()
}

// Returns field if it is not the zero value for its type, otherwise returns defaultVal
func OrDefault[F comparable](field F, defaultVal F) F {
	var zero F
	if field == zero {
		return defaultVal
	}
	return field
}

// Returns s if it is non-empty, otherwise returns defaultVal
func OrDefaultSlice[T any](s []T, defaultVal []T) []T {
	if len(s) == 0 {
		return defaultVal
	}
	return s
}

// Returns a copy of s with later duplicates removed, preserving first-seen order
func Dedupe[T comparable](s []T) []T {
	if s == nil {
		return nil
	}
	seen := make(map[T]struct{}, len(s))
	out := make([]T, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
