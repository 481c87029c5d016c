package permission

import (
	"errors"
	"fmt"
)

// ErrInvalidTables is returned when the role tables disagree or break the hierarchy.
var ErrInvalidTables = errors.New("permission: invalid role tables")

func init() {
	if err := Validate(); err != nil {
		panic(err)
	}
	index = buildIndex(grants)
}

// Validate cross-checks the package role tables.
func Validate() error {
	return validateTables(ranks, grants, reserved)
}

// validateTables checks that:
//   - every ranked role has a capability set and vice versa,
//   - ranks form a contiguous order 0..n-1,
//   - each role's set contains every capability of the role ranked just below,
//   - reserved capabilities appear only on the top-ranked role, and all of them do.
func validateTables(rk map[Role]int, gr map[Role][]Capability, res []Capability) error {
	if len(rk) == 0 {
		return fmt.Errorf("%w: no roles", ErrInvalidTables)
	}
	if len(rk) != len(gr) {
		return fmt.Errorf("%w: %d ranked roles but %d capability sets", ErrInvalidTables, len(rk), len(gr))
	}

	byRank := make([]Role, len(rk))
	seen := make([]bool, len(rk))
	for r, n := range rk {
		if n < 0 || n >= len(rk) || seen[n] {
			return fmt.Errorf("%w: rank %d of %q is not part of a contiguous order", ErrInvalidTables, n, r)
		}
		if _, ok := gr[r]; !ok {
			return fmt.Errorf("%w: role %q has a rank but no capability set", ErrInvalidTables, r)
		}
		seen[n] = true
		byRank[n] = r
	}

	sets := buildIndex(gr)
	isReserved := make(map[Capability]struct{}, len(res))
	for _, c := range res {
		isReserved[c] = struct{}{}
	}

	top := byRank[len(byRank)-1]
	for i, r := range byRank {
		for c := range sets[r] {
			if _, ok := isReserved[c]; ok && r != top {
				return fmt.Errorf("%w: reserved capability %q granted to %q", ErrInvalidTables, c, r)
			}
		}
		if i == 0 {
			continue
		}
		lower := byRank[i-1]
		for c := range sets[lower] {
			if _, ok := sets[r][c]; !ok {
				return fmt.Errorf("%w: %q has %q but higher role %q does not", ErrInvalidTables, lower, c, r)
			}
		}
	}
	for _, c := range res {
		if _, ok := sets[top][c]; !ok {
			return fmt.Errorf("%w: reserved capability %q missing from %q", ErrInvalidTables, c, top)
		}
	}
	return nil
}

func buildIndex(gr map[Role][]Capability) map[Role]map[Capability]struct{} {
	out := make(map[Role]map[Capability]struct{}, len(gr))
	for r, cs := range gr {
		set := make(map[Capability]struct{}, len(cs))
		for _, c := range cs {
			set[c] = struct{}{}
		}
		out[r] = set
	}
	return out
}
