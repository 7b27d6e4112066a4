// Package metrics computes segmentation comparison statistics between a
// reference volume and a candidate volume: voxel-overlap measures and
// surface-distance measures. All measures are defined for a single
// foreground label; every other label value counts as background.
package metrics

import (
	"fmt"

	"segconsensus/pkg/voxel"
)

// DegenerateInputError reports that a metric has no sensible value for
// the given inputs (for example surface distances when one volume has
// no foreground at all) and no documented fallback exists.
type DegenerateInputError struct {
	// Metric names the statistic that could not be computed.
	Metric string

	// Reason describes the degenerate condition.
	Reason string
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("metrics: %s undefined: %s", e.Metric, e.Reason)
}

// OverlapMetrics holds the five voxel-overlap statistics for one
// (reference, candidate) pair.
type OverlapMetrics struct {
	// Jaccard is TP/(TP+FP+FN), the intersection over union.
	// When both volumes are empty it is defined as 1.0: perfect
	// agreement on emptiness, not an error.
	Jaccard float64

	// Dice is 2*TP/(2*TP+FP+FN). Both-empty is defined as 1.0, matching
	// Jaccard's convention.
	Dice float64

	// VolumeSimilarity is 2*(Vc-Vr)/(Vc+Vr) over physical volumes:
	// signed, in (-2, 2), zero for equal volumes, and 0 when both are
	// empty. It is antisymmetric in its arguments.
	VolumeSimilarity float64

	// FalseNegativeError is FN/(TP+FN), the fraction of true foreground
	// the candidate missed; 0 when the reference is empty (nothing to
	// miss).
	FalseNegativeError float64

	// FalsePositiveError is FP/(TP+FP), the fraction of the candidate's
	// foreground that is wrong; 0 when the candidate is empty. Note the
	// denominator is the predicted-foreground count, not Dice's.
	FalsePositiveError float64
}

// Overlap computes the five overlap statistics between the reference
// and candidate grids for the given foreground label. The grids must
// share size and spacing. Degenerate inputs (empty foreground on either
// side) resolve to the documented per-metric fallback values; no metric
// ever returns NaN.
func Overlap(reference, candidate *voxel.Grid[int32], foreground int32) (OverlapMetrics, error) {
	if err := voxel.CheckShapes([]*voxel.Grid[int32]{reference, candidate}); err != nil {
		return OverlapMetrics{}, err
	}

	var tp, fp, fn int
	for i, rv := range reference.Data {
		refFG := rv == foreground
		candFG := candidate.Data[i] == foreground
		switch {
		case refFG && candFG:
			tp++
		case candFG:
			fp++
		case refFG:
			fn++
		}
	}

	var m OverlapMetrics

	if union := tp + fp + fn; union > 0 {
		m.Jaccard = float64(tp) / float64(union)
		m.Dice = 2 * float64(tp) / float64(2*tp+fp+fn)
	} else {
		m.Jaccard = 1
		m.Dice = 1
	}

	voxelVol := reference.Spacing.VoxelVolume()
	refVol := float64(tp+fn) * voxelVol
	candVol := float64(tp+fp) * voxelVol
	if refVol+candVol > 0 {
		m.VolumeSimilarity = 2 * (candVol - refVol) / (candVol + refVol)
	}

	if tp+fn > 0 {
		m.FalseNegativeError = float64(fn) / float64(tp+fn)
	}
	if tp+fp > 0 {
		m.FalsePositiveError = float64(fp) / float64(tp+fp)
	}

	return m, nil
}
