// Package demographics generates per-nationality identity fields. The
// generator is stateless; all randomness flows through the caller's
// seeded PRNG stream so output is reproducible per job.
package demographics

import (
	"fmt"
	"math/rand"

	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/types"
)

type Generator struct {
	ref *refdata.Provider
}

func NewGenerator(ref *refdata.Provider) *Generator {
	return &Generator{ref: ref}
}

// Generate produces demographics for one patient. injuryYear feeds the
// national-id format (ISO3-YYYY-NNNNN).
func (g *Generator) Generate(rng *rand.Rand, nationality string, injuryYear int) (types.Demographics, error) {
	nat, err := g.ref.Nationality(nationality)
	if err != nil {
		return types.Demographics{}, err
	}

	gender := sampleGender(rng, nat.GenderRatio)
	pool := nat.GivenNames[gender]
	if len(pool) == 0 {
		// Some nationalities carry a single pool; fall back to male.
		pool = nat.GivenNames["male"]
	}
	if len(pool) == 0 || len(nat.FamilyNames) == 0 || len(nat.Ranks) == 0 {
		return types.Demographics{}, fmt.Errorf("nationality %s has empty name or rank pools", nationality)
	}

	return types.Demographics{
		GivenName:  sampleName(rng, pool),
		FamilyName: sampleName(rng, nat.FamilyNames),
		Gender:     gender,
		Rank:       sampleRank(rng, nat.Ranks),
		NationalID: fmt.Sprintf("%s-%04d-%05d", nationality, injuryYear, 10000+rng.Intn(90000)),
	}, nil
}

func sampleGender(rng *rand.Rand, ratio map[string]float64) string {
	male := ratio["male"]
	female := ratio["female"]
	if male+female <= 0 {
		return "male"
	}
	if rng.Float64()*(male+female) < male {
		return "male"
	}
	return "female"
}

func sampleName(rng *rand.Rand, pool []refdata.WeightedName) string {
	total := 0
	for _, n := range pool {
		total += nameWeight(n)
	}
	r := rng.Intn(total)
	cumulative := 0
	for _, n := range pool {
		cumulative += nameWeight(n)
		if r < cumulative {
			return n.Name
		}
	}
	return pool[len(pool)-1].Name
}

func nameWeight(n refdata.WeightedName) int {
	if n.Weight <= 0 {
		return 1
	}
	return n.Weight
}

// sampleRank skews toward junior ranks: the first entry is weighted
// len(ranks), the last 1.
func sampleRank(rng *rand.Rand, ranks []string) string {
	n := len(ranks)
	total := n * (n + 1) / 2
	r := rng.Intn(total)
	cumulative := 0
	for i, rank := range ranks {
		cumulative += n - i
		if r < cumulative {
			return rank
		}
	}
	return ranks[n-1]
}
