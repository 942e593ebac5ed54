package filters

// SearchSpace is the boolean candidate matrix for one agent at one decision
// point: rows are the agent's retained asset technologies, columns the
// replacement technologies still under consideration. Operations return new
// search spaces; no filter mutates its input.
type SearchSpace struct {
	assets       []string
	replacements []string
	assetIdx     map[string]int
	replIdx      map[string]int
	allowed      []bool
}

// NewSearchSpace builds a matrix over the given rows and columns with every
// entry set to allowed.
func NewSearchSpace(assets, replacements []string, allowed bool) *SearchSpace {
	s := &SearchSpace{
		assets:       append([]string(nil), assets...),
		replacements: append([]string(nil), replacements...),
		assetIdx:     make(map[string]int, len(assets)),
		replIdx:      make(map[string]int, len(replacements)),
		allowed:      make([]bool, len(assets)*len(replacements)),
	}
	for i, a := range s.assets {
		s.assetIdx[a] = i
	}
	for i, r := range s.replacements {
		s.replIdx[r] = i
	}
	if allowed {
		for i := range s.allowed {
			s.allowed[i] = true
		}
	}
	return s
}

func (s *SearchSpace) Clone() *SearchSpace {
	c := NewSearchSpace(s.assets, s.replacements, false)
	copy(c.allowed, s.allowed)
	return c
}

func (s *SearchSpace) Assets() []string       { return append([]string(nil), s.assets...) }
func (s *SearchSpace) Replacements() []string { return append([]string(nil), s.replacements...) }

// Allowed reports whether replacement r is still a candidate for asset a.
// Unknown rows or columns are simply not candidates.
func (s *SearchSpace) Allowed(a, r string) bool {
	i, ok := s.assetIdx[a]
	if !ok {
		return false
	}
	j, ok := s.replIdx[r]
	if !ok {
		return false
	}
	return s.allowed[i*len(s.replacements)+j]
}

func (s *SearchSpace) set(i, j int, v bool) {
	s.allowed[i*len(s.replacements)+j] = v
}

func (s *SearchSpace) at(i, j int) bool {
	return s.allowed[i*len(s.replacements)+j]
}

// TrueCount returns the number of allowed entries.
func (s *SearchSpace) TrueCount() int {
	n := 0
	for _, v := range s.allowed {
		if v {
			n++
		}
	}
	return n
}

// IsEmpty reports whether nothing at all is allowed.
func (s *SearchSpace) IsEmpty() bool { return s.TrueCount() == 0 }

// CandidatesFor lists the replacements still allowed for one asset.
func (s *SearchSpace) CandidatesFor(a string) []string {
	i, ok := s.assetIdx[a]
	if !ok {
		return nil
	}
	var out []string
	for j, r := range s.replacements {
		if s.at(i, j) {
			out = append(out, r)
		}
	}
	return out
}

// Narrow keeps only entries for which pred holds: a logical AND with the
// predicate.
func (s *SearchSpace) Narrow(pred func(a, r string) bool) *SearchSpace {
	c := s.Clone()
	for i, a := range c.assets {
		for j, r := range c.replacements {
			if c.at(i, j) && !pred(a, r) {
				c.set(i, j, false)
			}
		}
	}
	return c
}

// Widen also allows entries for which pred holds: a logical OR with the
// predicate.
func (s *SearchSpace) Widen(pred func(a, r string) bool) *SearchSpace {
	c := s.Clone()
	for i, a := range c.assets {
		for j, r := range c.replacements {
			if !c.at(i, j) && pred(a, r) {
				c.set(i, j, true)
			}
		}
	}
	return c
}

// Compress drops replacement columns no asset considers any more. Values are
// untouched; only the column set shrinks.
func (s *SearchSpace) Compress() *SearchSpace {
	keep := make([]string, 0, len(s.replacements))
	for j, r := range s.replacements {
		for i := range s.assets {
			if s.at(i, j) {
				keep = append(keep, r)
				break
			}
		}
	}
	c := NewSearchSpace(s.assets, keep, false)
	for i := range c.assets {
		for j, r := range c.replacements {
			c.set(i, j, s.at(i, s.replIdx[r]))
		}
	}
	return c
}

// AllowedPairs lists every allowed (asset, replacement) pair in row order,
// for deterministic iteration.
func (s *SearchSpace) AllowedPairs() [][2]string {
	var out [][2]string
	for i, a := range s.assets {
		for j, r := range s.replacements {
			if s.at(i, j) {
				out = append(out, [2]string{a, r})
			}
		}
	}
	return out
}
