package endpoint

import (
	"context"
	"slices"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Calibrate drains q for d and returns the ambient energy estimate of the
// frames it saw (see [AmbientEstimate]). It returns fallback when no frame
// arrived, and stops early when ctx is cancelled or q is closed.
func Calibrate(ctx context.Context, q *audio.FrameQueue, d time.Duration, fallback float64) float64 {
	deadline := time.Now().Add(d)
	var energies []float64
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		f, ok, err := q.Pop(ctx, remaining)
		if err != nil {
			break
		}
		if ok {
			energies = append(energies, audio.RMS(f.Data))
		}
	}
	return AmbientEstimate(energies, fallback)
}

// AmbientEstimate returns the mean of the lowest third of energies, or
// fallback when energies is empty. Taking the quietest third keeps a cough or
// door slam during calibration from inflating the estimate.
func AmbientEstimate(energies []float64, fallback float64) float64 {
	if len(energies) == 0 {
		return fallback
	}
	return lowerThirdMean(slices.Clone(energies))
}

// lowerThirdMean sorts v in place and averages its lowest third (at least one
// element). v must be non-empty.
func lowerThirdMean(v []float64) float64 {
	slices.Sort(v)
	n := max(len(v)/3, 1)
	var sum float64
	for _, e := range v[:n] {
		sum += e
	}
	return sum / float64(n)
}
