package overlay

// ColumnSet is an insertion-ordered set of column names. The zero value is empty.
type ColumnSet struct {
	order   []string
	members map[string]struct{}
}

// NewColumnSet builds a set from names, ignoring duplicates.
func NewColumnSet(names ...string) ColumnSet {
	set := ColumnSet{}
	for _, name := range names {
		set = set.With(name)
	}
	return set
}

// Contains reports membership.
func (s ColumnSet) Contains(name string) bool {
	_, exists := s.members[name]
	return exists
}

// Len returns the number of members.
func (s ColumnSet) Len() int {
	return len(s.order)
}

// Names returns members in insertion order.
func (s ColumnSet) Names() []string {
	return append([]string(nil), s.order...)
}

// With returns a copy of the set that includes name.
func (s ColumnSet) With(name string) ColumnSet {
	if s.Contains(name) {
		return s
	}
	next := s.clone()
	next.order = append(next.order, name)
	next.members[name] = struct{}{}
	return next
}

// Union returns the members of s followed by the members of other not in s.
func (s ColumnSet) Union(other ColumnSet) ColumnSet {
	result := s
	for _, name := range other.order {
		result = result.With(name)
	}
	return result
}

// Equal reports whether both sets hold the same members, regardless of order.
func (s ColumnSet) Equal(other ColumnSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for _, name := range s.order {
		if !other.Contains(name) {
			return false
		}
	}
	return true
}

func (s ColumnSet) clone() ColumnSet {
	next := ColumnSet{
		order:   make([]string, len(s.order), len(s.order)+1),
		members: make(map[string]struct{}, len(s.order)+1),
	}
	copy(next.order, s.order)
	for _, name := range s.order {
		next.members[name] = struct{}{}
	}
	return next
}
