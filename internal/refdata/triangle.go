package refdata

import (
	"fmt"
	"math"
	"math/rand"
)

// Triangle holds the parameters of a triangular duration distribution in
// hours.
type Triangle struct {
	Min  float64 `yaml:"min" json:"min"`
	Mode float64 `yaml:"mode" json:"mode"`
	Max  float64 `yaml:"max" json:"max"`
}

// Validate checks 0 <= Min <= Mode <= Max.
func (t Triangle) Validate() error {
	if t.Min < 0 {
		return fmt.Errorf("triangular min %v is negative", t.Min)
	}
	if t.Mode < t.Min || t.Max < t.Mode {
		return fmt.Errorf("triangular parameters not ordered: min=%v mode=%v max=%v", t.Min, t.Mode, t.Max)
	}
	return nil
}

// Sample draws from the distribution by inverse CDF. The result is
// clamped at Min so a duration is never below the configured floor.
func (t Triangle) Sample(rng *rand.Rand) float64 {
	if t.Max <= t.Min {
		return t.Min
	}
	u := rng.Float64()
	cut := (t.Mode - t.Min) / (t.Max - t.Min)
	var v float64
	if u < cut {
		v = t.Min + math.Sqrt(u*(t.Max-t.Min)*(t.Mode-t.Min))
	} else {
		v = t.Max - math.Sqrt((1-u)*(t.Max-t.Min)*(t.Max-t.Mode))
	}
	if v < t.Min {
		v = t.Min
	}
	return v
}

// SampleBounded draws from the distribution and clamps the result at
// bound (used for RTD timing, which may not exceed the typical dwell).
func (t Triangle) SampleBounded(rng *rand.Rand, bound float64) float64 {
	v := t.Sample(rng)
	if bound > 0 && v > bound {
		v = bound
	}
	return v
}
