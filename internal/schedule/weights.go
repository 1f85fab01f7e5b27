package schedule

import (
	"context"
	"math"

	"github.com/bc-dunia/casgen/internal/cache"
	"github.com/bc-dunia/casgen/internal/types"
)

// diurnalBaseline is the smooth 24-hour casualty pattern: low overnight,
// rising through the morning, peaking mid-afternoon.
var diurnalBaseline = [24]float64{
	0.30, 0.28, 0.27, 0.28, 0.32, 0.40,
	0.55, 0.70, 0.85, 0.95, 1.05, 1.10,
	1.15, 1.20, 1.25, 1.30, 1.25, 1.15,
	1.00, 0.85, 0.70, 0.55, 0.45, 0.35,
}

const (
	// Hours 00-05 are damped so casualties do not pile up overnight;
	// hour 00 gets an extra reduction on top.
	overnightDamping  = 0.7
	hourZeroReduction = 0.5
)

// ComputeHourWeights builds the per-hour intensity curve for a campaign
// of the given length. Intensity sharpens or flattens the curve (time
// compression); tempo shapes the day-over-day scale. The result is
// deterministic and safe to cache.
func ComputeHourWeights(intensity types.Intensity, tempo types.Tempo, days int) []float64 {
	gamma := intensityGamma(intensity)
	weights := make([]float64, days*24)
	for day := 0; day < days; day++ {
		scale := dailyScale(tempo, day, days)
		for hod := 0; hod < 24; hod++ {
			w := diurnalBaseline[hod]
			if hod < 6 {
				w *= overnightDamping
			}
			if hod == 0 {
				w *= hourZeroReduction
			}
			weights[day*24+hod] = math.Pow(w, gamma) * scale
		}
	}
	return weights
}

func intensityGamma(intensity types.Intensity) float64 {
	switch intensity {
	case types.IntensityLow:
		return 0.9
	case types.IntensityHigh:
		return 1.15
	case types.IntensityExtreme:
		return 1.3
	default:
		return 1.0
	}
}

func dailyScale(tempo types.Tempo, day, days int) float64 {
	switch tempo {
	case types.TempoSurge:
		mid := float64(days-1) / 2
		sigma := math.Max(float64(days)/4, 1)
		z := (float64(day) - mid) / sigma
		return 0.4 + 1.2*math.Exp(-0.5*z*z)
	case types.TempoDecisive:
		switch {
		case day < days/3 || days < 3:
			return 1.6
		case day < 2*days/3:
			return 1.0
		default:
			return 0.6
		}
	default: // sustained
		return 1.0
	}
}

// massCasualtyProbability is the per-hour chance of a mass-casualty
// cluster; it grows with intensity.
func massCasualtyProbability(intensity types.Intensity) float64 {
	switch intensity {
	case types.IntensityLow:
		return 0.02
	case types.IntensityHigh:
		return 0.10
	case types.IntensityExtreme:
		return 0.18
	default:
		return 0.05
	}
}

func (b *Builder) hourWeights(ctx context.Context, intensity types.Intensity, tempo types.Tempo, days int) ([]float64, error) {
	if b.cache == nil {
		return ComputeHourWeights(intensity, tempo, days), nil
	}
	key := cache.Fingerprint("hour_weights/v1", intensity, tempo, days)
	return cache.GetOrCompute(ctx, b.cache, key, func() ([]float64, error) {
		return ComputeHourWeights(intensity, tempo, days), nil
	})
}

// WarmupPair identifies one precomputed hour-weight matrix.
type WarmupPair struct {
	Intensity types.Intensity
	Tempo     types.Tempo
	Days      int
}

// DefaultWarmup lists the high-value derivations precomputed at process
// start.
func DefaultWarmup() []WarmupPair {
	return []WarmupPair{
		{types.IntensityMedium, types.TempoSustained, 7},
		{types.IntensityHigh, types.TempoSurge, 7},
		{types.IntensityHigh, types.TempoSustained, 14},
		{types.IntensityExtreme, types.TempoDecisive, 3},
	}
}

// Warm precomputes hour-weight matrices into the cache.
func Warm(ctx context.Context, c *cache.Cache, pairs []WarmupPair) {
	if c == nil {
		return
	}
	for _, p := range pairs {
		key := cache.Fingerprint("hour_weights/v1", p.Intensity, p.Tempo, p.Days)
		_, _ = cache.GetOrCompute(ctx, c, key, func() ([]float64, error) {
			return ComputeHourWeights(p.Intensity, p.Tempo, p.Days), nil
		})
	}
}
