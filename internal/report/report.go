// Package report collects per-rater comparison metrics into tables and
// renders them as CSV for downstream tooling.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/jszwec/csvutil"

	"segconsensus/pkg/metrics"
	"segconsensus/pkg/voxel"
)

// OverlapRow is one rater's overlap metrics against the reference.
type OverlapRow struct {
	Rater              string  `csv:"rater"`
	Jaccard            float64 `csv:"jaccard"`
	Dice               float64 `csv:"dice"`
	VolumeSimilarity   float64 `csv:"volume_similarity"`
	FalseNegativeError float64 `csv:"false_negative_error"`
	FalsePositiveError float64 `csv:"false_positive_error"`
}

// SurfaceRow is one rater's surface-distance metrics against the
// reference.
type SurfaceRow struct {
	Rater     string  `csv:"rater"`
	Hausdorff float64 `csv:"hausdorff"`
	Mean      float64 `csv:"mean"`
	Median    float64 `csv:"median"`
	Std       float64 `csv:"std"`
	Max       float64 `csv:"max"`
}

// EvaluateAll compares every rater against the reference and returns
// the two metric tables, row-indexed like the rater set. Raters are
// evaluated concurrently; each writes only its own rows, so the output
// order is fixed by the input order. The first evaluation error aborts
// the whole table (a rater with empty foreground surfaces as a
// *metrics.DegenerateInputError from the surface table).
func EvaluateAll(reference *voxel.Grid[int32], raters []*voxel.Grid[int32], names []string, foreground int32) ([]OverlapRow, []SurfaceRow, error) {
	if len(names) != len(raters) {
		return nil, nil, fmt.Errorf("report: %d names for %d raters", len(names), len(raters))
	}

	overlap := make([]OverlapRow, len(raters))
	surface := make([]SurfaceRow, len(raters))
	errs := make([]error, len(raters))

	var wg sync.WaitGroup
	for i := range raters {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			om, err := metrics.Overlap(reference, raters[i], foreground)
			if err != nil {
				errs[i] = fmt.Errorf("rater %s: %w", names[i], err)
				return
			}
			overlap[i] = OverlapRow{
				Rater:              names[i],
				Jaccard:            om.Jaccard,
				Dice:               om.Dice,
				VolumeSimilarity:   om.VolumeSimilarity,
				FalseNegativeError: om.FalseNegativeError,
				FalsePositiveError: om.FalsePositiveError,
			}

			sm, err := metrics.SurfaceDistance(reference, raters[i], foreground)
			if err != nil {
				errs[i] = fmt.Errorf("rater %s: %w", names[i], err)
				return
			}
			surface[i] = SurfaceRow{
				Rater:     names[i],
				Hausdorff: sm.Hausdorff,
				Mean:      sm.Mean,
				Median:    sm.Median,
				Std:       sm.Std,
				Max:       sm.Max,
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}
	return overlap, surface, nil
}

// WriteOverlapCSV renders the overlap table as CSV.
func WriteOverlapCSV(w io.Writer, rows []OverlapRow) error {
	b, err := csvutil.Marshal(rows)
	if err != nil {
		return fmt.Errorf("error marshaling overlap table: %w", err)
	}
	_, err = w.Write(b)
	return err
}

// WriteSurfaceCSV renders the surface-distance table as CSV.
func WriteSurfaceCSV(w io.Writer, rows []SurfaceRow) error {
	b, err := csvutil.Marshal(rows)
	if err != nil {
		return fmt.Errorf("error marshaling surface table: %w", err)
	}
	_, err = w.Write(b)
	return err
}
