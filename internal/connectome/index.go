package connectome

// regionIndex maps region names to ids. It is rebuilt from scratch after
// every structural change because an insertion shifts every later id.
// Repeated names resolve to the last id written.
type regionIndex map[string]int

func buildIndex(regions []Region) regionIndex {
	idx := make(regionIndex, len(regions))
	for i, r := range regions {
		idx[r.Name] = i
	}
	return idx
}

func (idx regionIndex) lookup(name string) (int, bool) {
	id, ok := idx[name]
	return id, ok
}

func (c *Connectome) reindex() {
	c.index = buildIndex(c.regions)
}
