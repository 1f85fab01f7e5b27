// Package schedule distributes a job's casualties over the campaign
// horizon: a diurnal intensity curve shaped by tempo, damped overnight,
// with warfare-scenario draws per hour, probabilistic mass-casualty
// clusters, and exact-count apportionment. The builder runs exactly once
// per job and materializes the full schedule; chunking happens
// downstream.
package schedule

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/bc-dunia/casgen/internal/cache"
	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/types"
)

const (
	// Hard caps on hour-of-day 0 concentration (spec'd guard against the
	// degenerate midnight cluster).
	hourZeroForceThreshold = 0.10
	hourZeroTarget         = 0.05

	// Mass-casualty cluster members land within this window of the
	// cluster instant.
	clusterWindow = 7*time.Minute + 30*time.Second
)

// Builder materializes schedules. Hour-weight curves are memoized
// through the cache when one is configured.
type Builder struct {
	ref   *refdata.Provider
	cache *cache.Cache
}

// NewBuilder creates a Builder. cache may be nil.
func NewBuilder(ref *refdata.Provider, c *cache.Cache) *Builder {
	return &Builder{ref: ref, cache: c}
}

type hourPlan struct {
	index    int // absolute hour in the campaign
	count    int
	scenario string

	clusterID   int
	clusterSize int
	clusterAt   time.Time
}

// Build produces the full schedule for a job: exactly
// req.TotalPatients entries sorted by instant. It is deterministic for a
// given (req, rng state).
func (b *Builder) Build(ctx context.Context, req *types.JobRequest, rng *rand.Rand) ([]types.ScheduleEntry, error) {
	if req.TotalPatients <= 0 {
		return nil, &BuildError{Reason: "total_patients must be positive"}
	}
	days := req.DaysOfFighting
	if days <= 0 {
		return nil, &BuildError{Reason: "days_of_fighting must be positive"}
	}

	scenarios, scenarioWeights, err := normalizeWeights(req.WarfareTypes)
	if err != nil {
		return nil, &BuildError{Reason: "warfare weights", Cause: err}
	}

	fronts := req.Fronts
	if len(fronts) == 0 {
		fronts = []types.FrontConfig{defaultFront()}
	}
	frontWeights := make([]float64, len(fronts))
	frontTotal := 0.0
	for i, f := range fronts {
		if f.CasualtyShare < 0 {
			return nil, &BuildError{Reason: "front shares", Cause: ErrNonNormalizableWeights}
		}
		frontWeights[i] = f.CasualtyShare
		frontTotal += f.CasualtyShare
	}
	if frontTotal <= 0 {
		return nil, &BuildError{Reason: "front shares", Cause: ErrNonNormalizableWeights}
	}

	base, err := b.hourWeights(ctx, req.Intensity, req.Tempo, days)
	if err != nil {
		return nil, &BuildError{Reason: "hour weights", Cause: err}
	}
	// Cached slices are immutable; copy before applying per-job overlays.
	weights := append([]float64(nil), base...)
	applySpecialEvents(weights, req.SpecialEvents, rng)

	counts := apportion(weights, req.TotalPatients)
	redistributeHourZero(counts, req.TotalPatients, days, rng)

	plans := make([]hourPlan, 0, len(counts))
	baseDate := req.BaseDateTime()
	massProb := massCasualtyProbability(req.Intensity)
	clusterID := 0
	for hour, count := range counts {
		if count == 0 {
			continue
		}
		plan := hourPlan{
			index:    hour,
			count:    count,
			scenario: drawWeighted(rng, scenarios, scenarioWeights),
		}
		if rng.Float64() < massProb && count >= 2 {
			clusterID++
			plan.clusterID = clusterID
			size := 4 + rng.Intn(9)
			if size > count {
				size = count
			}
			plan.clusterSize = size
			plan.clusterAt = baseDate.Add(time.Duration(hour) * time.Hour).
				Add(time.Duration(rng.Float64() * float64(time.Hour)))
		}
		plans = append(plans, plan)
	}

	entries := make([]types.ScheduleEntry, 0, req.TotalPatients)
	for _, plan := range plans {
		hourStart := baseDate.Add(time.Duration(plan.index) * time.Hour)
		for i := 0; i < plan.count; i++ {
			entry := types.ScheduleEntry{
				Scenario: plan.scenario,
				FrontID:  fronts[drawWeightedIndex(rng, frontWeights, frontTotal)].Name,
			}
			if plan.clusterID != 0 && i < plan.clusterSize {
				offset := time.Duration((rng.Float64()*2 - 1) * float64(clusterWindow))
				instant := plan.clusterAt.Add(offset)
				if instant.Before(hourStart) {
					instant = hourStart
				}
				if end := hourStart.Add(time.Hour); !instant.Before(end) {
					instant = end.Add(-time.Second)
				}
				entry.Instant = instant
				entry.MassCasualty = true
				entry.ClusterID = plan.clusterID
			} else {
				entry.Instant = hourStart.Add(time.Duration(rng.Float64() * float64(time.Hour)))
			}
			entries = append(entries, entry)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Instant.Before(entries[j].Instant)
	})
	return entries, nil
}

func defaultFront() types.FrontConfig {
	return types.FrontConfig{
		Name:          "main",
		CasualtyShare: 1.0,
		Nationalities: map[string]float64{"USA": 1.0},
	}
}

// normalizeWeights validates a scenario weight map and returns parallel
// name/weight slices in deterministic order.
func normalizeWeights(warfare map[string]float64) ([]string, []float64, error) {
	if len(warfare) == 0 {
		return []string{"conventional"}, []float64{1}, nil
	}
	names := make([]string, 0, len(warfare))
	for name := range warfare {
		names = append(names, name)
	}
	sort.Strings(names)
	weights := make([]float64, len(names))
	total := 0.0
	for i, name := range names {
		w := warfare[name]
		if w < 0 {
			return nil, nil, ErrNonNormalizableWeights
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return nil, nil, ErrNonNormalizableWeights
	}
	return names, weights, nil
}

func drawWeighted(rng *rand.Rand, names []string, weights []float64) string {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return names[drawWeightedIndex(rng, weights, total)]
}

func drawWeightedIndex(rng *rand.Rand, weights []float64, total float64) int {
	r := rng.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if r < cumulative {
			return i
		}
	}
	return len(weights) - 1
}

// applySpecialEvents overlays scripted spikes: each flag boosts a random
// 3-hour window.
func applySpecialEvents(weights []float64, events []string, rng *rand.Rand) {
	for range events {
		start := rng.Intn(len(weights))
		for i := start; i < start+3 && i < len(weights); i++ {
			weights[i] *= 3
		}
	}
}

// apportion distributes total across hours proportionally to weights
// using the largest-remainder method, so the rounded counts always sum
// to total exactly.
func apportion(weights []float64, total int) []int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	counts := make([]int, len(weights))
	if sum <= 0 {
		// Degenerate overlay: fall back to uniform.
		for i := 0; i < total; i++ {
			counts[i%len(counts)]++
		}
		return counts
	}

	type remainder struct {
		index int
		frac  float64
	}
	remainders := make([]remainder, len(weights))
	assigned := 0
	for i, w := range weights {
		exact := float64(total) * w / sum
		counts[i] = int(exact)
		assigned += counts[i]
		remainders[i] = remainder{index: i, frac: exact - float64(counts[i])}
	}
	sort.SliceStable(remainders, func(i, j int) bool {
		return remainders[i].frac > remainders[j].frac
	})
	for i := 0; i < total-assigned; i++ {
		counts[remainders[i%len(remainders)].index]++
	}
	return counts
}

// redistributeHourZero caps the hour-of-day-0 concentration: when it
// exceeds 10% of the total it is forced down to at most 5%, moving the
// excess into daytime hours 06-18. The loop carries a progress counter
// so a degenerate distribution cannot starve it.
func redistributeHourZero(counts []int, total, days int, rng *rand.Rand) {
	hourZero := 0
	for day := 0; day < days; day++ {
		hourZero += counts[day*24]
	}
	if float64(hourZero) <= hourZeroForceThreshold*float64(total) {
		return
	}
	target := int(hourZeroTarget * float64(total))

	for hourZero > target {
		moved := 0
		for day := 0; day < days && hourZero > target; day++ {
			idx := day * 24
			if counts[idx] == 0 {
				continue
			}
			counts[idx]--
			dest := day*24 + 6 + rng.Intn(13) // hours 06..18 of the same day
			counts[dest]++
			hourZero--
			moved++
		}
		if moved == 0 {
			break
		}
	}
}
