// Package fusion combines independent segmentations of the same volume
// into one consensus segmentation. Two fusion strategies are provided:
// per-voxel majority voting over arbitrary label values, and the STAPLE
// expectation-maximization estimator for binary segmentations.
package fusion

import (
	"runtime"
	"sync"

	"segconsensus/pkg/voxel"
)

// MajorityVote fuses the rater grids by per-voxel plurality vote. The
// winning label at a voxel is the one with strictly the most votes
// across raters; when two or more labels tie for the maximum count the
// voxel is assigned the undecided sentinel instead. Ties are never
// resolved silently (label-numeric order is not a tie-break), so the
// caller must supply an undecided value distinct from every real label,
// typically max-label+1.
//
// Any number of distinct label values is supported. A single rater is a
// degenerate but valid input and returns a copy of that rater's grid.
func MajorityVote(raters []*voxel.Grid[int32], undecided int32) (*voxel.Grid[int32], error) {
	if err := voxel.CheckShapes(raters); err != nil {
		return nil, err
	}
	if len(raters) == 1 {
		return raters[0].Clone(), nil
	}

	out := voxel.New[int32](raters[0].Size, raters[0].Spacing)
	forEachChunk(out.Len(), func(start, end int) {
		// Tally per voxel. The rater count bounds the number of distinct
		// labels seen at one voxel, so a small pair of slices beats a map.
		labels := make([]int32, 0, len(raters))
		counts := make([]int, 0, len(raters))
		for i := start; i < end; i++ {
			labels = labels[:0]
			counts = counts[:0]
			for _, r := range raters {
				v := r.Data[i]
				found := false
				for j, l := range labels {
					if l == v {
						counts[j]++
						found = true
						break
					}
				}
				if !found {
					labels = append(labels, v)
					counts = append(counts, 1)
				}
			}

			best, tied := 0, false
			for j := 1; j < len(counts); j++ {
				if counts[j] > counts[best] {
					best, tied = j, false
				} else if counts[j] == counts[best] {
					tied = true
				}
			}
			if tied {
				out.Data[i] = undecided
			} else {
				out.Data[i] = labels[best]
			}
		}
	})
	return out, nil
}

// ThresholdProbability converts a probability grid into a binary label
// grid: voxels with probability >= threshold get the foreground label,
// all others get background (zero).
func ThresholdProbability(p *voxel.Grid[float64], threshold float64, foreground int32) *voxel.Grid[int32] {
	out := voxel.New[int32](p.Size, p.Spacing)
	for i, w := range p.Data {
		if w >= threshold {
			out.Data[i] = foreground
		}
	}
	return out
}

// forEachChunk partitions [0, n) into one contiguous range per worker
// and runs fn on each range concurrently. Ranges are disjoint, so fn
// may write to per-voxel output without synchronization.
func forEachChunk(n int, fn func(start, end int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	per := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * per
		end := start + per
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}
