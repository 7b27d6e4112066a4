package metrics

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"segconsensus/pkg/distance"
	"segconsensus/pkg/voxel"
)

// SurfaceDistanceMetrics holds the surface-distance statistics for one
// (reference, candidate) pair. Mean, Median, Std and Max summarize the
// distances from the candidate's boundary voxels to the reference
// boundary; Hausdorff is the symmetric worst case over both directions.
type SurfaceDistanceMetrics struct {
	// Hausdorff is max(directed(reference->candidate),
	// directed(candidate->reference)), each directed distance being the
	// maximum over one boundary of the minimum distance to the other.
	Hausdorff float64

	// Mean is the average candidate-boundary-to-reference distance.
	Mean float64

	// Median is the 50th percentile of the same distance sample.
	Median float64

	// Std is the sample standard deviation of the distances.
	Std float64

	// Max is the largest candidate-boundary-to-reference distance, i.e.
	// the directed Hausdorff distance candidate->reference.
	Max float64
}

// SurfaceDistance computes boundary distance statistics between the
// reference and candidate grids for the given foreground label.
//
// Boundary voxels are foreground voxels with at least one background
// face neighbor (6-connectivity); voxels on the grid border count as
// boundary, the outside of the grid being treated as background. That
// connectivity choice is applied consistently to both volumes and to
// both Hausdorff directions.
//
// Distances come from two distance-map constructions, one per boundary
// set, never from a pairwise boundary scan. An empty foreground on
// either side leaves every statistic undefined and returns a
// *DegenerateInputError.
func SurfaceDistance(reference, candidate *voxel.Grid[int32], foreground int32) (SurfaceDistanceMetrics, error) {
	if err := voxel.CheckShapes([]*voxel.Grid[int32]{reference, candidate}); err != nil {
		return SurfaceDistanceMetrics{}, err
	}

	refBoundary, refCount := boundaryMask(reference, foreground)
	if refCount == 0 {
		return SurfaceDistanceMetrics{}, &DegenerateInputError{
			Metric: "surface distance",
			Reason: "reference foreground is empty",
		}
	}
	candBoundary, candCount := boundaryMask(candidate, foreground)
	if candCount == 0 {
		return SurfaceDistanceMetrics{}, &DegenerateInputError{
			Metric: "surface distance",
			Reason: "candidate foreground is empty",
		}
	}

	refDist, err := distance.ToSet(refBoundary, reference.Size, reference.Spacing)
	if err != nil {
		return SurfaceDistanceMetrics{}, err
	}
	candDist, err := distance.ToSet(candBoundary, candidate.Size, candidate.Spacing)
	if err != nil {
		return SurfaceDistanceMetrics{}, err
	}

	// Sample the reference distance map at every candidate boundary
	// voxel.
	samples := make([]float64, 0, candCount)
	for i, in := range candBoundary {
		if in {
			samples = append(samples, refDist.Data[i])
		}
	}

	var m SurfaceDistanceMetrics
	m.Mean = stat.Mean(samples, nil)
	m.Std = stat.StdDev(samples, nil)
	if len(samples) == 1 {
		// StdDev of a single sample is NaN under the n-1 convention.
		m.Std = 0
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	m.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	m.Max = sorted[len(sorted)-1]

	// Directed reference->candidate from the second distance map; the
	// candidate->reference direction is Max.
	directedRC := 0.0
	for i, in := range refBoundary {
		if in && candDist.Data[i] > directedRC {
			directedRC = candDist.Data[i]
		}
	}
	m.Hausdorff = m.Max
	if directedRC > m.Hausdorff {
		m.Hausdorff = directedRC
	}

	return m, nil
}

// boundaryMask marks foreground voxels that touch background through a
// face (6-connectivity). The grid border counts as background.
func boundaryMask(g *voxel.Grid[int32], foreground int32) ([]bool, int) {
	nx, ny, nz := g.Size.X, g.Size.Y, g.Size.Z
	mask := make([]bool, g.Len())
	count := 0

	isBG := func(x, y, z int) bool {
		if x < 0 || x >= nx || y < 0 || y >= ny || z < 0 || z >= nz {
			return true
		}
		return g.At(x, y, z) != foreground
	}

	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				if g.At(x, y, z) != foreground {
					continue
				}
				if isBG(x-1, y, z) || isBG(x+1, y, z) ||
					isBG(x, y-1, z) || isBG(x, y+1, z) ||
					isBG(x, y, z-1) || isBG(x, y, z+1) {
					mask[g.Idx(x, y, z)] = true
					count++
				}
			}
		}
	}
	return mask, count
}
