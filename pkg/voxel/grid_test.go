package voxel

import (
	"errors"
	"testing"
)

// TestNew verifies that a new grid is zero-filled with the right extent
func TestNew(t *testing.T) {
	size := Dims{X: 4, Y: 3, Z: 2}
	spacing := Spacing{X: 1.0, Y: 1.0, Z: 2.5}

	g := New[int32](size, spacing)

	if g.Len() != 24 {
		t.Errorf("Expected 24 voxels, got %d", g.Len())
	}
	if g.Size != size {
		t.Errorf("Expected size %v, got %v", size, g.Size)
	}
	if g.Spacing != spacing {
		t.Errorf("Expected spacing %v, got %v", spacing, g.Spacing)
	}
	for i, v := range g.Data {
		if v != 0 {
			t.Fatalf("Voxel %d not zero-initialized: %d", i, v)
		}
	}
}

// TestFromData verifies wrapping and the length check
func TestFromData(t *testing.T) {
	size := Dims{X: 2, Y: 2, Z: 2}
	data := []float64{0, 1, 2, 3, 4, 5, 6, 7}

	g, err := FromData(data, size, Spacing{X: 1, Y: 1, Z: 1})
	if err != nil {
		t.Fatalf("FromData failed: %v", err)
	}
	if g.At(1, 1, 1) != 7 {
		t.Errorf("Expected last voxel 7, got %v", g.At(1, 1, 1))
	}

	// Wrong length must be rejected
	if _, err := FromData(data[:5], size, Spacing{X: 1, Y: 1, Z: 1}); err == nil {
		t.Error("Expected error for mismatched data length, got nil")
	}
}

// TestIdxAt verifies the row-major index convention
func TestIdxAt(t *testing.T) {
	size := Dims{X: 3, Y: 4, Z: 5}
	g := New[int32](size, Spacing{X: 1, Y: 1, Z: 1})

	// index = z*nx*ny + y*nx + x
	if got := g.Idx(2, 3, 4); got != 4*12+3*3+2 {
		t.Errorf("Expected index %d, got %d", 4*12+3*3+2, got)
	}

	g.Data[g.Idx(1, 2, 3)] = 42
	if g.At(1, 2, 3) != 42 {
		t.Errorf("At did not return the stored value")
	}
}

// TestClone verifies the copy is independent of the original
func TestClone(t *testing.T) {
	g := New[float64](Dims{X: 2, Y: 2, Z: 1}, Spacing{X: 1, Y: 1, Z: 1})
	g.Data[0] = 3.5

	c := g.Clone()
	c.Data[0] = 7.0

	if g.Data[0] != 3.5 {
		t.Errorf("Clone mutated the original grid")
	}
	if c.Size != g.Size || c.Spacing != g.Spacing {
		t.Errorf("Clone changed shape metadata")
	}
}

// TestSameShape verifies cross-type shape comparison
func TestSameShape(t *testing.T) {
	labels := New[int32](Dims{X: 3, Y: 3, Z: 3}, Spacing{X: 1, Y: 1, Z: 2})
	dist := New[float64](Dims{X: 3, Y: 3, Z: 3}, Spacing{X: 1, Y: 1, Z: 2})

	if !SameShape(labels, dist) {
		t.Error("Expected label grid and distance map to share shape")
	}

	other := New[float64](Dims{X: 3, Y: 3, Z: 3}, Spacing{X: 1, Y: 1, Z: 1})
	if SameShape(labels, other) {
		t.Error("Expected spacing difference to be detected")
	}
}

// TestCheckShapes verifies rater-set validation fails before any computation
func TestCheckShapes(t *testing.T) {
	base := New[int32](Dims{X: 4, Y: 4, Z: 2}, Spacing{X: 1, Y: 1, Z: 1})

	// Matching set passes
	set := []*Grid[int32]{base, base.Clone(), base.Clone()}
	if err := CheckShapes(set); err != nil {
		t.Errorf("Expected matching set to pass, got %v", err)
	}

	// Size mismatch is reported with the offending index
	bad := New[int32](Dims{X: 4, Y: 4, Z: 3}, Spacing{X: 1, Y: 1, Z: 1})
	set = []*Grid[int32]{base, base.Clone(), bad}
	err := CheckShapes(set)
	if err == nil {
		t.Fatal("Expected shape mismatch error, got nil")
	}
	var mismatch *ShapeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Expected *ShapeMismatchError, got %T", err)
	}
	if mismatch.Index != 2 {
		t.Errorf("Expected offending index 2, got %d", mismatch.Index)
	}

	// Spacing mismatch is also a shape mismatch
	badSpacing := New[int32](Dims{X: 4, Y: 4, Z: 2}, Spacing{X: 1, Y: 1, Z: 2})
	if err := CheckShapes([]*Grid[int32]{base, badSpacing}); err == nil {
		t.Error("Expected spacing mismatch error, got nil")
	}

	// Empty set is invalid
	if err := CheckShapes([]*Grid[int32]{}); err == nil {
		t.Error("Expected error for empty set, got nil")
	}
}

// TestVoxelVolume verifies physical voxel volume for anisotropic spacing
func TestVoxelVolume(t *testing.T) {
	s := Spacing{X: 0.5, Y: 0.5, Z: 3.0}
	if got := s.VoxelVolume(); got != 0.75 {
		t.Errorf("Expected voxel volume 0.75, got %f", got)
	}
}
