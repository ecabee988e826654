package streams

// stringSet tracks ids already selected during aggregation.
type stringSet struct {
	seen  map[string]struct{}
	order []string
}

func newStringSet() *stringSet {
	return &stringSet{seen: make(map[string]struct{})}
}

// add records v and reports whether it was new.
func (s *stringSet) add(v string) bool {
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.seen[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

// values returns the recorded ids in insertion order.
func (s *stringSet) values() []string {
	return s.order
}
