package volio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segconsensus/pkg/voxel"
)

func testLabelGrid(t *testing.T) *voxel.Grid[int32] {
	t.Helper()
	g := voxel.New[int32](voxel.Dims{X: 4, Y: 3, Z: 2}, voxel.Spacing{X: 0.5, Y: 0.5, Z: 2.0})
	for i := range g.Data {
		g.Data[i] = int32(i % 3)
	}
	return g
}

func TestSaveLoadLabelGrid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rater1.yaml")

	g := testLabelGrid(t)
	require.NoError(t, SaveLabelGrid(path, g))

	// Header and sibling raw file both exist
	assert.FileExists(t, path)
	assert.FileExists(t, filepath.Join(dir, "rater1.raw"))

	loaded, err := LoadLabelGrid(path)
	require.NoError(t, err)
	assert.Equal(t, g.Size, loaded.Size)
	assert.Equal(t, g.Spacing, loaded.Spacing)
	assert.Equal(t, g.Data, loaded.Data)
}

func TestSaveLoadProbabilityGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prob.yaml")

	g := voxel.New[float64](voxel.Dims{X: 3, Y: 3, Z: 3}, voxel.Spacing{X: 1, Y: 1, Z: 1})
	for i := range g.Data {
		g.Data[i] = float64(i) / float64(len(g.Data))
	}
	require.NoError(t, SaveProbabilityGrid(path, g))

	loaded, err := LoadProbabilityGrid(path)
	require.NoError(t, err)
	assert.Equal(t, g.Data, loaded.Data)
}

func TestLoadTypeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.yaml")
	require.NoError(t, SaveLabelGrid(path, testLabelGrid(t)))

	_, err := LoadProbabilityGrid(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "int32")
}

func TestLoadMissingFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadLabelGrid(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)

	// Header without its data file
	path := filepath.Join(dir, "orphan.yaml")
	require.NoError(t, SaveLabelGrid(path, testLabelGrid(t)))
	require.NoError(t, os.Remove(filepath.Join(dir, "orphan.raw")))
	_, err = LoadLabelGrid(path)
	assert.Error(t, err)
}

func TestLoadRaterSet_NumericOrder(t *testing.T) {
	dir := t.TempDir()
	g := testLabelGrid(t)

	// Written out of order on purpose; numeric sort must win over
	// lexicographic (rater10 after rater2)
	for _, name := range []string{"rater10.yaml", "rater1.yaml", "rater2.yaml"} {
		require.NoError(t, SaveLabelGrid(filepath.Join(dir, name), g))
	}

	grids, names, err := LoadRaterSet(dir)
	require.NoError(t, err)
	require.Len(t, grids, 3)
	assert.Equal(t, []string{"rater1", "rater2", "rater10"}, names)
	for _, loaded := range grids {
		assert.Equal(t, g.Data, loaded.Data)
	}
}

func TestLoadRaterSet_Errors(t *testing.T) {
	_, _, err := LoadRaterSet(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	// A directory without headers is an error, not an empty set
	_, _, err = LoadRaterSet(t.TempDir())
	assert.Error(t, err)
}
