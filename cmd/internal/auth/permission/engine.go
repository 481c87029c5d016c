package permission

import "sort"

// index is the membership view of grants, built once in init.
var index map[Role]map[Capability]struct{}

// HasCapability reports whether role r is granted c.
func HasCapability(r Role, c Capability) bool {
	set, ok := index[r]
	if !ok {
		return false
	}
	_, ok = set[c]
	return ok
}

// HasAllCapabilities reports whether r holds every capability in cs.
// An empty list is vacuously true for a known role.
func HasAllCapabilities(r Role, cs []Capability) bool {
	if !r.Valid() {
		return false
	}
	for _, c := range cs {
		if !HasCapability(r, c) {
			return false
		}
	}
	return true
}

// HasAnyCapability reports whether r holds at least one capability in cs.
func HasAnyCapability(r Role, cs []Capability) bool {
	for _, c := range cs {
		if HasCapability(r, c) {
			return true
		}
	}
	return false
}

// CapabilitiesOf returns a sorted copy of the capabilities granted to r.
// Unknown roles yield an empty (non-nil) slice.
func CapabilitiesOf(r Role) []Capability {
	set := index[r]
	out := make([]Capability, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Capabilities converts raw tags into Capability values.
func Capabilities(tags ...string) []Capability {
	out := make([]Capability, 0, len(tags))
	for _, t := range tags {
		out = append(out, Capability(t))
	}
	return out
}
