package fusion

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"segconsensus/pkg/voxel"
)

// perfEpsilon keeps sensitivity and specificity away from exactly 0 or
// 1, which would zero out a posterior term and stall the EM iteration.
const perfEpsilon = 1e-7

// StapleParams configures the STAPLE estimator.
type StapleParams struct {
	// ForegroundLabel is the label value counted as foreground in the
	// binary rater grids; every other value is background.
	ForegroundLabel int32

	// MaxIterations caps the EM loop. Hitting the cap is reported as
	// non-convergence on the result, not as an error.
	MaxIterations int

	// Tolerance is the convergence threshold: the loop stops once the
	// largest absolute change in any rater's sensitivity or specificity
	// over one iteration falls below it.
	Tolerance float64

	// Prior is the global prior probability that a voxel is foreground.
	// A value <= 0 means: estimate it as the mean foreground fraction
	// across raters.
	Prior float64

	// InitialSensitivity and InitialSpecificity seed every rater's
	// performance estimate. Zero values default to 0.99.
	InitialSensitivity float64
	InitialSpecificity float64

	// Workers is the number of goroutines used for the per-voxel E-step.
	// Zero means GOMAXPROCS. The voxel chunk partition is fixed by the
	// grid size alone and per-chunk sums are reduced in chunk order, so
	// the result is bit-identical for any worker count.
	Workers int
}

// RaterPerformance is one rater's estimated classification quality.
type RaterPerformance struct {
	// Sensitivity is P(rater says foreground | true foreground).
	Sensitivity float64

	// Specificity is P(rater says background | true background).
	Specificity float64
}

// StapleResult is the outcome of one STAPLE run.
type StapleResult struct {
	// Probability holds the posterior foreground probability per voxel.
	// Thresholding into a binary consensus is the caller's choice (see
	// ThresholdProbability).
	Probability *voxel.Grid[float64]

	// Performance holds the final sensitivity/specificity estimate per
	// rater, indexed like the input rater set.
	Performance []RaterPerformance

	// Iterations is the number of EM iterations actually run.
	Iterations int

	// Converged reports whether the parameter change dropped below the
	// tolerance before MaxIterations was reached.
	Converged bool

	// MaxDelta is the largest parameter change seen in the final
	// iteration.
	MaxDelta float64
}

// Staple estimates a consensus segmentation and per-rater performance
// levels simultaneously (Warfield's Simultaneous Truth and Performance
// Level Estimation). Each rater is modeled as a binary classifier with
// unknown sensitivity p and specificity q; the hidden true label and
// all (p, q) pairs are estimated jointly by expectation maximization.
type Staple struct {
	params StapleParams
	log    logrus.FieldLogger
}

// NewStaple returns an estimator for the given parameters, filling in
// defaults for zero values.
func NewStaple(params StapleParams) *Staple {
	if params.MaxIterations <= 0 {
		params.MaxIterations = 100
	}
	if params.Tolerance <= 0 {
		params.Tolerance = 1e-6
	}
	if params.InitialSensitivity <= 0 {
		params.InitialSensitivity = 0.99
	}
	if params.InitialSpecificity <= 0 {
		params.InitialSpecificity = 0.99
	}
	if params.Workers <= 0 {
		params.Workers = runtime.GOMAXPROCS(0)
	}
	return &Staple{
		params: params,
		log:    logrus.StandardLogger(),
	}
}

// SetLogger replaces the logger used for the non-convergence warning.
func (s *Staple) SetLogger(log logrus.FieldLogger) {
	s.log = log
}

// Estimate runs the EM loop on the rater set and returns the posterior
// foreground probability grid together with the per-rater performance
// estimates. At least two raters are required; all raters must share
// size and spacing.
//
// Non-convergence within MaxIterations is not a failure: the last
// estimate is returned with Converged set to false and a warning is
// logged.
func (s *Staple) Estimate(raters []*voxel.Grid[int32]) (*StapleResult, error) {
	if len(raters) < 2 {
		return nil, fmt.Errorf("staple: need at least 2 raters, got %d", len(raters))
	}
	if err := voxel.CheckShapes(raters); err != nil {
		return nil, err
	}

	numRaters := len(raters)
	numVoxels := raters[0].Len()

	// Binary decision matrix, one row per rater. Extracted once so the
	// hot loop compares bytes instead of label values.
	decisions := make([][]uint8, numRaters)
	for j, r := range raters {
		d := make([]uint8, numVoxels)
		for i, v := range r.Data {
			if v == s.params.ForegroundLabel {
				d[i] = 1
			}
		}
		decisions[j] = d
	}

	prior := s.params.Prior
	if prior <= 0 {
		prior = estimatePrior(decisions, numVoxels)
	}
	// An all-empty or all-full rater set leaves nothing to estimate;
	// keep the prior off the hard 0/1 boundary so the posterior stays
	// defined.
	prior = clamp(prior, perfEpsilon, 1-perfEpsilon)

	sens := make([]float64, numRaters)
	spec := make([]float64, numRaters)
	for j := range sens {
		sens[j] = s.params.InitialSensitivity
		spec[j] = s.params.InitialSpecificity
	}

	weights := voxel.New[float64](raters[0].Size, raters[0].Spacing)
	chunks := fixedChunks(numVoxels)
	workers := s.params.Workers
	if workers > len(chunks) {
		workers = len(chunks)
	}

	// Per-chunk partial sums for the M-step: sum of W, and per rater the
	// sums of W*D and (1-W)*(1-D). Reduced in fixed chunk order.
	type partial struct {
		sumW    float64
		sumWD   []float64
		sumNWND []float64
	}
	partials := make([]partial, len(chunks))
	for c := range partials {
		partials[c].sumWD = make([]float64, numRaters)
		partials[c].sumNWND = make([]float64, numRaters)
	}

	result := &StapleResult{
		Probability: weights,
		Performance: make([]RaterPerformance, numRaters),
	}

	for iter := 1; iter <= s.params.MaxIterations; iter++ {
		// E-step: posterior foreground probability per voxel, with the
		// M-step sums accumulated per chunk in the same pass. Workers
		// stride over the fixed chunk list; each chunk's sums land in
		// its own slot.
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(first int) {
				defer wg.Done()
				for c := first; c < len(chunks); c += workers {
					start, end := chunks[c][0], chunks[c][1]
					p := &partials[c]
					p.sumW = 0
					for j := range p.sumWD {
						p.sumWD[j] = 0
						p.sumNWND[j] = 0
					}
					for i := start; i < end; i++ {
						fg := prior
						bg := 1 - prior
						for j := 0; j < numRaters; j++ {
							if decisions[j][i] == 1 {
								fg *= sens[j]
								bg *= 1 - spec[j]
							} else {
								fg *= 1 - sens[j]
								bg *= spec[j]
							}
						}
						w := fg / (fg + bg)
						weights.Data[i] = w

						p.sumW += w
						for j := 0; j < numRaters; j++ {
							if decisions[j][i] == 1 {
								p.sumWD[j] += w
							} else {
								p.sumNWND[j] += 1 - w
							}
						}
					}
				}
			}(w)
		}
		wg.Wait()

		// Reduce partials in chunk order for reproducibility.
		var sumW float64
		sumWD := make([]float64, numRaters)
		sumNWND := make([]float64, numRaters)
		for c := range partials {
			sumW += partials[c].sumW
			for j := 0; j < numRaters; j++ {
				sumWD[j] += partials[c].sumWD[j]
				sumNWND[j] += partials[c].sumNWND[j]
			}
		}
		sumNW := float64(numVoxels) - sumW

		// M-step: re-estimate each rater's performance from the
		// posterior weights.
		maxDelta := 0.0
		for j := 0; j < numRaters; j++ {
			newSens := sens[j]
			if sumW > 0 {
				newSens = clamp(sumWD[j]/sumW, perfEpsilon, 1-perfEpsilon)
			}
			newSpec := spec[j]
			if sumNW > 0 {
				newSpec = clamp(sumNWND[j]/sumNW, perfEpsilon, 1-perfEpsilon)
			}
			if d := math.Abs(newSens - sens[j]); d > maxDelta {
				maxDelta = d
			}
			if d := math.Abs(newSpec - spec[j]); d > maxDelta {
				maxDelta = d
			}
			sens[j] = newSens
			spec[j] = newSpec
		}

		result.Iterations = iter
		result.MaxDelta = maxDelta
		if maxDelta < s.params.Tolerance {
			result.Converged = true
			break
		}
	}

	for j := 0; j < numRaters; j++ {
		result.Performance[j] = RaterPerformance{
			Sensitivity: sens[j],
			Specificity: spec[j],
		}
	}

	if !result.Converged {
		s.log.WithFields(logrus.Fields{
			"iterations": result.Iterations,
			"maxDelta":   result.MaxDelta,
			"tolerance":  s.params.Tolerance,
		}).Warn("STAPLE did not converge; returning last estimate")
	}
	return result, nil
}

// estimatePrior returns the mean foreground fraction across all raters.
func estimatePrior(decisions [][]uint8, numVoxels int) float64 {
	var total float64
	for _, d := range decisions {
		count := 0
		for _, v := range d {
			if v == 1 {
				count++
			}
		}
		total += float64(count) / float64(numVoxels)
	}
	return total / float64(len(decisions))
}

// stapleChunkSize is the fixed E-step chunk length in voxels. The
// chunk partition depends only on the grid size, never on the worker
// count, which keeps the chunk-ordered reduction reproducible.
const stapleChunkSize = 1 << 15

// fixedChunks partitions [0, n) into contiguous chunks of
// stapleChunkSize voxels (the last one possibly shorter).
func fixedChunks(n int) [][2]int {
	chunks := make([][2]int, 0, (n+stapleChunkSize-1)/stapleChunkSize)
	for start := 0; start < n; start += stapleChunkSize {
		end := start + stapleChunkSize
		if end > n {
			end = n
		}
		chunks = append(chunks, [2]int{start, end})
	}
	return chunks
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
