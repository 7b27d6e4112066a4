// Package distance implements an exact Euclidean distance transform for
// binary volumes. Distances are computed in physical units, so grids
// with anisotropic voxel spacing are handled correctly.
//
// The transform is the separable squared-distance algorithm of
// Felzenszwalb and Huttenlocher: a 1D lower-envelope-of-parabolas pass
// is applied along each axis in turn, which yields the exact Euclidean
// distance in O(V) per axis instead of the O(V^2) brute-force scan.
package distance

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"segconsensus/pkg/voxel"
)

// UnsignedEuclidean returns, for every voxel, the physical Euclidean
// distance to the nearest voxel on the opposite side of the binary
// boundary: foreground voxels (value == foreground) get the distance to
// the nearest background voxel and background voxels get the distance
// to the nearest foreground voxel. This is the absolute value of the
// usual signed distance map.
//
// If the grid contains no foreground voxels at all, every background
// voxel gets +Inf (and symmetrically for a grid with no background).
// Callers that cannot tolerate infinities must check for that
// degenerate case themselves.
func UnsignedEuclidean(g *voxel.Grid[int32], foreground int32) *voxel.Grid[float64] {
	inf := math.Inf(1)

	// Seed fields: zero at the target set, +Inf elsewhere. toFG measures
	// distance to the nearest foreground voxel, toBG to the nearest
	// background voxel.
	toFG := make([]float64, g.Len())
	toBG := make([]float64, g.Len())
	for i, v := range g.Data {
		if v == foreground {
			toFG[i] = 0
			toBG[i] = inf
		} else {
			toFG[i] = inf
			toBG[i] = 0
		}
	}

	squaredTransform(toFG, g.Size, g.Spacing)
	squaredTransform(toBG, g.Size, g.Spacing)

	out := voxel.New[float64](g.Size, g.Spacing)
	for i, v := range g.Data {
		if v == foreground {
			out.Data[i] = math.Sqrt(toBG[i])
		} else {
			out.Data[i] = math.Sqrt(toFG[i])
		}
	}
	return out
}

// ToSet returns, for every voxel, the physical Euclidean distance to
// the nearest voxel of the given set (set[i] == true); set members get
// zero. The surface-distance metrics use this with a boundary voxel set
// so that a shape compared against itself yields zero everywhere on its
// own boundary. An empty set yields +Inf everywhere.
func ToSet(set []bool, size voxel.Dims, spacing voxel.Spacing) (*voxel.Grid[float64], error) {
	if len(set) != size.Count() {
		return nil, fmt.Errorf("distance: set length %d does not match size %dx%dx%d",
			len(set), size.X, size.Y, size.Z)
	}
	field := make([]float64, len(set))
	inf := math.Inf(1)
	for i, in := range set {
		if !in {
			field[i] = inf
		}
	}
	squaredTransform(field, size, spacing)

	out := voxel.New[float64](size, spacing)
	for i, v := range field {
		out.Data[i] = math.Sqrt(v)
	}
	return out, nil
}

// squaredTransform applies the 1D squared-distance pass along x, then y,
// then z, in place. Lines are independent, so each pass fans out over a
// fixed partition of line indices; every worker writes disjoint voxels
// and no reduction is needed.
func squaredTransform(field []float64, size voxel.Dims, spacing voxel.Spacing) {
	nx, ny, nz := size.X, size.Y, size.Z

	// Pass along x: one line per (y, z).
	forEachLine(ny*nz, nx, func(line int, scratch *lineScratch) {
		base := line * nx
		for i := 0; i < nx; i++ {
			scratch.f[i] = field[base+i]
		}
		scratch.transform(spacing.X)
		for i := 0; i < nx; i++ {
			field[base+i] = scratch.d[i]
		}
	})

	// Pass along y: one line per (x, z).
	forEachLine(nx*nz, ny, func(line int, scratch *lineScratch) {
		x := line % nx
		z := line / nx
		base := z*nx*ny + x
		for i := 0; i < ny; i++ {
			scratch.f[i] = field[base+i*nx]
		}
		scratch.transform(spacing.Y)
		for i := 0; i < ny; i++ {
			field[base+i*nx] = scratch.d[i]
		}
	})

	// Pass along z: one line per (x, y).
	forEachLine(nx*ny, nz, func(line int, scratch *lineScratch) {
		base := line
		for i := 0; i < nz; i++ {
			scratch.f[i] = field[base+i*nx*ny]
		}
		scratch.transform(spacing.Z)
		for i := 0; i < nz; i++ {
			field[base+i*nx*ny] = scratch.d[i]
		}
	})
}

// lineScratch holds the per-worker buffers for the 1D transform.
type lineScratch struct {
	f []float64 // input squared distances along the line
	d []float64 // output squared distances
	v []int     // parabola site indices
	z []float64 // envelope breakpoints
}

func newLineScratch(n int) *lineScratch {
	return &lineScratch{
		f: make([]float64, n),
		d: make([]float64, n),
		v: make([]int, n),
		z: make([]float64, n+1),
	}
}

// transform computes the 1D squared distance transform of s.f into s.d
// for samples at physical positions i*spacing, via the lower envelope
// of the parabolas (i*spacing, f[i]). Sites with f == +Inf contribute
// no parabola; if every site is +Inf the whole line stays +Inf.
func (s *lineScratch) transform(spacing float64) {
	n := len(s.f)
	k := -1
	for q := 0; q < n; q++ {
		if math.IsInf(s.f[q], 1) {
			continue
		}
		qs := float64(q) * spacing
		var cross float64
		for k >= 0 {
			ps := float64(s.v[k]) * spacing
			cross = ((s.f[q] + qs*qs) - (s.f[s.v[k]] + ps*ps)) / (2*qs - 2*ps)
			if cross <= s.z[k] {
				k--
			} else {
				break
			}
		}
		k++
		s.v[k] = q
		if k == 0 {
			s.z[0] = math.Inf(-1)
		} else {
			s.z[k] = cross
		}
		s.z[k+1] = math.Inf(1)
	}

	if k < 0 {
		for q := 0; q < n; q++ {
			s.d[q] = math.Inf(1)
		}
		return
	}

	j := 0
	for q := 0; q < n; q++ {
		qs := float64(q) * spacing
		for s.z[j+1] < qs {
			j++
		}
		ps := float64(s.v[j]) * spacing
		s.d[q] = (qs-ps)*(qs-ps) + s.f[s.v[j]]
	}
}

// forEachLine runs fn for every line index in [0, lines), partitioned
// across workers. Each worker owns one scratch buffer of length n.
func forEachLine(lines, n int, fn func(line int, scratch *lineScratch)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > lines {
		workers = lines
	}
	if workers <= 1 {
		scratch := newLineScratch(n)
		for line := 0; line < lines; line++ {
			fn(line, scratch)
		}
		return
	}

	perWorker := (lines + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > lines {
			end = lines
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			scratch := newLineScratch(n)
			for line := start; line < end; line++ {
				fn(line, scratch)
			}
		}(start, end)
	}
	wg.Wait()
}
