package connectome

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegions() []Region {
	return []Region{
		{Name: "V1", Coords: [3]float64{-10.5, 2, 3.25}},
		{Name: "V2", Coords: [3]float64{-9, 4, 1}},
		{Name: "V4", Coords: [3]float64{-7.75, 6, 0}},
	}
}

func newTestConnectome(t *testing.T) *Connectome {
	t.Helper()
	weights := [][]float64{
		{0.4, 0.2, 0.1},
		{0.3, 0.0, 0.6},
		{0.8, 0.5, 0.0},
	}
	tracts := [][]float64{
		{0, 12, 30},
		{12, 0, 18},
		{30, 18, 0},
	}
	c, err := New(weights, tracts, testRegions())
	require.NoError(t, err)
	return c
}

func writeConnectivityDir(t *testing.T, weights, tracts, centres string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		WeightsFile:      weights,
		TractLengthsFile: tracts,
		CentresFile:      centres,
	}
	for name, content := range files {
		if content == "" {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeConnectivityDir(t,
		"# weights\n0 1.5\n2.5e-1 0\n",
		"0 10\n10 0\n\n",
		"V1 1 2 3\nV2 -4 5.5 6\n",
	)

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	w := c.Weights()
	assert.InDelta(t, 1.5, w.At(0, 1), 1e-12)
	assert.InDelta(t, 0.25, w.At(1, 0), 1e-12)
	assert.InDelta(t, 10, c.TractLengths().At(1, 0), 1e-12)

	r, err := c.Region(1)
	require.NoError(t, err)
	assert.Equal(t, Region{Name: "V2", Coords: [3]float64{-4, 5.5, 6}}, r)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name         string
		weights      string
		tracts       string
		centres      string
		wantNotExist bool
		wantShapeErr bool
	}{
		{
			name:         "missing weights",
			tracts:       "0\n",
			centres:      "V1 0 0 0\n",
			wantNotExist: true,
		},
		{
			name:         "missing centres",
			weights:      "0\n",
			tracts:       "0\n",
			wantNotExist: true,
		},
		{
			name:         "ragged weights",
			weights:      "0 1\n1\n",
			tracts:       "0 1\n1 0\n",
			centres:      "V1 0 0 0\nV2 0 0 0\n",
			wantShapeErr: true,
		},
		{
			name:         "matrix larger than region table",
			weights:      "0 1\n1 0\n",
			tracts:       "0 1\n1 0\n",
			centres:      "V1 0 0 0\n",
			wantShapeErr: true,
		},
		{
			name:    "non numeric weight",
			weights: "0 x\n1 0\n",
			tracts:  "0 1\n1 0\n",
			centres: "V1 0 0 0\nV2 0 0 0\n",
		},
		{
			name:    "centre missing coordinate",
			weights: "0\n",
			tracts:  "0\n",
			centres: "V1 0 0\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConnectivityDir(t, tt.weights, tt.tracts, tt.centres)
			_, err := Load(dir)
			require.Error(t, err)

			var ioErr *IOError
			require.ErrorAs(t, err, &ioErr)
			assert.Equal(t, "load", ioErr.Op)
			assert.Equal(t, tt.wantNotExist, errors.Is(err, fs.ErrNotExist))
			assert.Equal(t, tt.wantShapeErr, errors.Is(err, ErrShapeMismatch))
		})
	}
}

func TestNew_EmptyRegionTable(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestIDFinder(t *testing.T) {
	c := newTestConnectome(t)

	tests := []struct {
		name  string
		names []string
		want  []int
	}{
		{"single", []string{"V2"}, []int{1}},
		{"input order kept", []string{"V4", "V1"}, []int{2, 0}},
		{"unknown dropped", []string{"V1", "NoSuchRegion", "V4"}, []int{0, 2}},
		{"all unknown", []string{"MT"}, []int{}},
		{"repeated name", []string{"V2", "V2"}, []int{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IDFinder(tt.names))
		})
	}
}

func TestRegionNameFinder(t *testing.T) {
	c := newTestConnectome(t)

	names, err := c.RegionNameFinder([]int{1})
	require.NoError(t, err)
	assert.Equal(t, []string{"V2"}, names)

	_, err = c.RegionNameFinder([]int{0, 3})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.RegionNameFinder([]int{-1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupConsistency(t *testing.T) {
	c := newTestConnectome(t)
	require.NoError(t, c.DuplicateRegion("V2"))

	for i := 0; i < c.Len(); i++ {
		names, err := c.RegionNameFinder([]int{i})
		require.NoError(t, err)
		assert.Equal(t, []int{i}, c.IDFinder(names), "id %d", i)
	}
}

func TestIndex_RepeatedNameResolvesToLastID(t *testing.T) {
	regions := []Region{{Name: "A"}, {Name: "B"}, {Name: "A"}}
	zeros := [][]float64{{0, 0, 0}, {0, 0, 0}, {0, 0, 0}}
	c, err := New(zeros, zeros, regions)
	require.NoError(t, err)

	id, ok := c.Lookup("A")
	assert.True(t, ok)
	assert.Equal(t, 2, id)
}

func TestSetWeight(t *testing.T) {
	c := newTestConnectome(t)

	require.NoError(t, c.SetWeight("V4", "V1", 0.9))

	w, err := c.Weight("V4", "V1")
	require.NoError(t, err)
	assert.Equal(t, 0.9, w)

	// Reverse direction untouched.
	back, err := c.Weight("V1", "V4")
	require.NoError(t, err)
	assert.Equal(t, 0.1, back)
}

func TestSetWeight_SelfConnection(t *testing.T) {
	c := newTestConnectome(t)
	require.NoError(t, c.SetWeight("V2", "V2", 0.7))
	assert.Equal(t, 0.7, c.Weights().At(1, 1))
}

func TestSetWeight_MissingName(t *testing.T) {
	c := newTestConnectome(t)
	before := c.Weights()

	err := c.SetWeight("V1", "NoSuchRegion", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, before.RawMatrix().Data, c.Weights().RawMatrix().Data)
}

func TestAccessorsReturnCopies(t *testing.T) {
	c := newTestConnectome(t)

	w := c.Weights()
	w.Set(0, 0, 99)
	assert.Equal(t, 0.4, c.Weights().At(0, 0))

	regions := c.Regions()
	regions[0].Name = "changed"
	names, err := c.RegionNameFinder([]int{0})
	require.NoError(t, err)
	assert.Equal(t, []string{"V1"}, names)
}
