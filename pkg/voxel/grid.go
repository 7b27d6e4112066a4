// Package voxel provides the 3D grid type shared by all fusion and
// comparison algorithms. A grid couples a flat voxel array with its
// physical spacing so that distance computations can work in physical
// units rather than voxel counts.
package voxel

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Value is the set of scalar types a grid can hold: integer types for
// label volumes, float types for distance and probability maps.
type Value interface {
	constraints.Integer | constraints.Float
}

// Dims holds the grid extent in voxels along each axis.
type Dims struct {
	X, Y, Z int
}

// Count returns the total number of voxels.
func (d Dims) Count() int {
	return d.X * d.Y * d.Z
}

// Spacing holds the physical size of one voxel along each axis,
// in consistent physical units (typically millimeters).
type Spacing struct {
	X, Y, Z float64
}

// VoxelVolume returns the physical volume of a single voxel.
func (s Spacing) VoxelVolume() float64 {
	return s.X * s.Y * s.Z
}

// Grid is a 3D scalar volume stored as a flat array in row-major order:
// index = z*nx*ny + y*nx + x. Grids are treated as immutable once
// constructed; algorithms always allocate a new grid for their output
// rather than mutating an input in place.
type Grid[T Value] struct {
	// Data is the voxel array in row-major order.
	Data []T

	// Size is the grid extent in voxels.
	Size Dims

	// Spacing is the physical voxel size along each axis.
	Spacing Spacing
}

// New allocates a zero-filled grid with the given size and spacing.
func New[T Value](size Dims, spacing Spacing) *Grid[T] {
	return &Grid[T]{
		Data:    make([]T, size.Count()),
		Size:    size,
		Spacing: spacing,
	}
}

// FromData wraps an existing voxel array in a grid. The array length
// must match the size; the grid takes ownership of the slice.
func FromData[T Value](data []T, size Dims, spacing Spacing) (*Grid[T], error) {
	if len(data) != size.Count() {
		return nil, fmt.Errorf("voxel: data length %d does not match size %dx%dx%d",
			len(data), size.X, size.Y, size.Z)
	}
	return &Grid[T]{Data: data, Size: size, Spacing: spacing}, nil
}

// Idx returns the flat index of voxel (x, y, z).
func (g *Grid[T]) Idx(x, y, z int) int {
	return z*g.Size.X*g.Size.Y + y*g.Size.X + x
}

// At returns the value at voxel (x, y, z).
func (g *Grid[T]) At(x, y, z int) T {
	return g.Data[g.Idx(x, y, z)]
}

// Len returns the total number of voxels.
func (g *Grid[T]) Len() int {
	return len(g.Data)
}

// Clone returns a deep copy of the grid.
func (g *Grid[T]) Clone() *Grid[T] {
	out := New[T](g.Size, g.Spacing)
	copy(out.Data, g.Data)
	return out
}

// ShapeMismatchError reports that a grid in a rater set does not share
// the size or spacing of the first grid. It is returned before any
// computation touches voxel data.
type ShapeMismatchError struct {
	// Index is the position of the offending grid in the rater set.
	Index int

	WantSize    Dims
	GotSize     Dims
	WantSpacing Spacing
	GotSpacing  Spacing
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("voxel: grid %d has size %v spacing %v, want size %v spacing %v",
		e.Index, e.GotSize, e.GotSpacing, e.WantSize, e.WantSpacing)
}

// SameShape reports whether two grids share size and spacing. The two
// grids may hold different value types (a label grid is routinely
// compared against a distance map).
func SameShape[A, B Value](a *Grid[A], b *Grid[B]) bool {
	return a.Size == b.Size && a.Spacing == b.Spacing
}

// CheckShapes validates that every grid in the set shares the size and
// spacing of the first one. It returns a *ShapeMismatchError for the
// first offender, or an error if the set is empty.
func CheckShapes[T Value](grids []*Grid[T]) error {
	if len(grids) == 0 {
		return fmt.Errorf("voxel: empty grid set")
	}
	first := grids[0]
	for i, g := range grids[1:] {
		if g.Size != first.Size || g.Spacing != first.Spacing {
			return &ShapeMismatchError{
				Index:       i + 1,
				WantSize:    first.Size,
				GotSize:     g.Size,
				WantSpacing: first.Spacing,
				GotSpacing:  g.Spacing,
			}
		}
	}
	return nil
}
