// Package enums holds the string enums persisted in postgres and carried on
// the wire. Each type lists its members once; IsValid and ParseX check
// against that list.
package enums

import (
	"fmt"
	"slices"
)

func known[T ~string](members []T, v T) bool {
	return slices.Contains(members, v)
}

func parse[T ~string](members []T, field, raw string) (T, error) {
	if v := T(raw); known(members, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", field, raw)
}
