// Package connectome loads, edits and saves a region-level brain
// connectivity dataset: a directed weights matrix, a tract-length matrix and
// the ordered region table that labels their rows and columns.
package connectome

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// Region is one anatomical area: a name and the coordinates of its centre.
type Region struct {
	Name   string     `json:"name"`
	Coords [3]float64 `json:"coords"`
}

// Connectome holds the weights and tract-length matrices and the region
// table. Row and column i of both matrices and regions[i] describe the same
// area. A Connectome is not safe for concurrent mutation.
type Connectome struct {
	weights *mat.Dense
	tracts  *mat.Dense
	regions []Region
	index   regionIndex
}

// New builds a Connectome from in-memory rows. The inputs are copied.
func New(weights, tracts [][]float64, regions []Region) (*Connectome, error) {
	n := len(regions)
	if n == 0 {
		return nil, fmt.Errorf("%w: region table is empty", ErrShapeMismatch)
	}
	w, err := denseFromRows("weights", weights, n)
	if err != nil {
		return nil, err
	}
	t, err := denseFromRows("tract lengths", tracts, n)
	if err != nil {
		return nil, err
	}
	c := &Connectome{
		weights: w,
		tracts:  t,
		regions: append([]Region(nil), regions...),
	}
	c.reindex()
	return c, nil
}

// Load reads weights.txt, tract_lengths.txt and centres.txt from dir.
func Load(dir string) (*Connectome, error) {
	weightsPath := filepath.Join(dir, WeightsFile)
	weights, err := readMatrix(weightsPath)
	if err != nil {
		return nil, &IOError{Op: "load", Path: weightsPath, Err: err}
	}

	tractsPath := filepath.Join(dir, TractLengthsFile)
	tracts, err := readMatrix(tractsPath)
	if err != nil {
		return nil, &IOError{Op: "load", Path: tractsPath, Err: err}
	}

	centresPath := filepath.Join(dir, CentresFile)
	regions, err := readCentres(centresPath)
	if err != nil {
		return nil, &IOError{Op: "load", Path: centresPath, Err: err}
	}

	c, err := New(weights, tracts, regions)
	if err != nil {
		return nil, &IOError{Op: "load", Path: dir, Err: err}
	}
	return c, nil
}

func denseFromRows(label string, rows [][]float64, n int) (*mat.Dense, error) {
	if len(rows) != n {
		return nil, fmt.Errorf("%w: %s has %d rows, region table has %d entries",
			ErrShapeMismatch, label, len(rows), n)
	}
	data := make([]float64, 0, n*n)
	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: %s row %d has %d columns, expected %d",
				ErrShapeMismatch, label, i, len(row), n)
		}
		data = append(data, row...)
	}
	return mat.NewDense(n, n, data), nil
}

// Len returns the number of regions.
func (c *Connectome) Len() int { return len(c.regions) }

// Regions returns a copy of the region table.
func (c *Connectome) Regions() []Region {
	return append([]Region(nil), c.regions...)
}

// Region returns the region at id.
func (c *Connectome) Region(id int) (Region, error) {
	if id < 0 || id >= len(c.regions) {
		return Region{}, fmt.Errorf("%w: id %d out of range [0, %d)", ErrNotFound, id, len(c.regions))
	}
	return c.regions[id], nil
}

// Weights returns a copy of the weights matrix.
func (c *Connectome) Weights() *mat.Dense { return mat.DenseCopyOf(c.weights) }

// TractLengths returns a copy of the tract-length matrix.
func (c *Connectome) TractLengths() *mat.Dense { return mat.DenseCopyOf(c.tracts) }

// IDFinder returns the id of each name, in input order. Names that do not
// resolve are dropped, so the result may be shorter than names.
func (c *Connectome) IDFinder(names []string) []int {
	ids := make([]int, 0, len(names))
	for _, name := range names {
		if id, ok := c.index.lookup(name); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Lookup resolves a single region name.
func (c *Connectome) Lookup(name string) (int, bool) {
	return c.index.lookup(name)
}

// RegionNameFinder returns the name of each id, in input order.
func (c *Connectome) RegionNameFinder(ids []int) ([]string, error) {
	names := make([]string, len(ids))
	for i, id := range ids {
		r, err := c.Region(id)
		if err != nil {
			return nil, err
		}
		names[i] = r.Name
	}
	return names, nil
}

// Weight returns weights[from][to].
func (c *Connectome) Weight(from, to string) (float64, error) {
	i, j, err := c.pair(from, to)
	if err != nil {
		return 0, err
	}
	return c.weights.At(i, j), nil
}

// SetWeight sets weights[from][to] = value. The reverse direction is left
// untouched.
func (c *Connectome) SetWeight(from, to string, value float64) error {
	i, j, err := c.pair(from, to)
	if err != nil {
		return err
	}
	c.weights.Set(i, j, value)
	return nil
}

// pair resolves two names through IDFinder. Because IDFinder drops unknown
// names, fewer than two ids means at least one side is missing.
func (c *Connectome) pair(from, to string) (int, int, error) {
	ids := c.IDFinder([]string{from, to})
	if len(ids) < 2 {
		return 0, 0, fmt.Errorf("%w: %q -> %q", ErrNotFound, from, to)
	}
	return ids[0], ids[1], nil
}
