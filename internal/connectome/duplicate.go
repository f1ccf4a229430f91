package connectome

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DuplicateRegion splits the named region into two adjacent regions named
// name+"a" (at the original id) and name+"b" (at id+1).
//
// Row and column of the region in the weights matrix are halved in place
// first (the diagonal cell is therefore quartered), then a copy of that row
// and column is inserted at the same id. Tract lengths are copied without
// halving. Both matrices grow from N×N to (N+1)×(N+1).
func (c *Connectome) DuplicateRegion(name string) error {
	idx, ok := c.index.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	n := len(c.regions)
	for j := 0; j < n; j++ {
		c.weights.Set(idx, j, c.weights.At(idx, j)/2)
	}
	for i := 0; i < n; i++ {
		c.weights.Set(i, idx, c.weights.At(i, idx)/2)
	}

	c.weights = insertRowCol(c.weights, idx)
	c.tracts = insertRowCol(c.tracts, idx)

	regions := make([]Region, 0, n+1)
	regions = append(regions, c.regions[:idx+1]...)
	regions = append(regions, c.regions[idx:]...)
	regions[idx].Name = name + "a"
	regions[idx+1].Name = name + "b"
	c.regions = regions

	c.reindex()
	return nil
}

// insertRowCol returns an (N+1)×(N+1) copy of m where row idx is inserted
// as a copy of row idx, followed by column idx inserted as a copy of the
// (post-insertion) column idx. Every new cell (a, b) therefore reads
// m[src(a)][src(b)] with src(k) = k for k <= idx and k-1 above.
func insertRowCol(m *mat.Dense, idx int) *mat.Dense {
	n, _ := m.Dims()
	src := func(k int) int {
		if k <= idx {
			return k
		}
		return k - 1
	}
	out := mat.NewDense(n+1, n+1, nil)
	for a := 0; a <= n; a++ {
		sa := src(a)
		for b := 0; b <= n; b++ {
			out.Set(a, b, m.At(sa, src(b)))
		}
	}
	return out
}
