package transport

import (
	"fmt"
	"slices"

	rodserrors "github.com/marmos91/gorods/pkg/errors"
)

// SortParts orders parts by index in place.
func SortParts(parts []Part) {
	slices.SortFunc(parts, func(a, b Part) int { return a.Index - b.Index })
}

// CheckParts verifies that parts, sorted by index, cover [0, size) exactly
// once and without gaps. It sorts parts in place.
func CheckParts(op string, parts []Part, size int64) error {
	SortParts(parts)

	var next int64
	for i, p := range parts {
		if p.Index != i {
			return rodserrors.NewInvalidArgumentError(op, fmt.Sprintf("missing part %d", i))
		}
		if p.Offset != next {
			return rodserrors.NewInvalidArgumentError(op,
				fmt.Sprintf("part %d starts at %d, expected %d", p.Index, p.Offset, next))
		}
		next += p.Length
	}
	if next != size {
		return rodserrors.NewInvalidArgumentError(op,
			fmt.Sprintf("parts cover %d bytes, expected %d", next, size))
	}
	return nil
}
