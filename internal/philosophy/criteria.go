// Package philosophy scores mathematical concepts against elegance criteria.
// The weights encode what makes an idea worth keeping: does it feel
// necessary rather than arbitrary, does it respect fundamental symmetries,
// does it assume little, does it unify much.
package philosophy

import (
	"fmt"
	"math"

	"arf/internal/config"
)

// Criteria holds the evaluation weights. Weights must sum to 1.0.
type Criteria struct {
	Inevitability    float64 // Does it feel necessary, not arbitrary?
	Symmetry         float64 // Respects fundamental symmetries
	Parsimony        float64 // Occam's razor - minimal assumptions
	ExplanatoryPower float64 // Unifies disparate concepts

	AcceptanceThreshold float64
}

// DefaultCriteria returns the canonical weighting.
func DefaultCriteria() Criteria {
	return Criteria{
		Inevitability:       0.30,
		Symmetry:            0.25,
		Parsimony:           0.25,
		ExplanatoryPower:    0.20,
		AcceptanceThreshold: 0.75,
	}
}

// FromConfig builds Criteria from the loaded configuration.
func FromConfig(p config.PhilosophyConfig) Criteria {
	return Criteria{
		Inevitability:       p.Inevitability,
		Symmetry:            p.Symmetry,
		Parsimony:           p.Parsimony,
		ExplanatoryPower:    p.ExplanatoryPower,
		AcceptanceThreshold: p.AcceptanceThreshold,
	}
}

// Validate checks the weight invariant.
func (c Criteria) Validate() error {
	sum := c.Inevitability + c.Symmetry + c.Parsimony + c.ExplanatoryPower
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("criteria weights must sum to 1.0, got %.3f", sum)
	}
	return nil
}

// Ratings holds per-axis ratings in [0,1] for a single concept.
type Ratings struct {
	Inevitability    float64 `json:"inevitability"`
	Symmetry         float64 `json:"symmetry"`
	Parsimony        float64 `json:"parsimony"`
	ExplanatoryPower float64 `json:"explanatory_power"`
}

// Clamp forces each rating into [0,1].
func (r *Ratings) Clamp() {
	r.Inevitability = clamp01(r.Inevitability)
	r.Symmetry = clamp01(r.Symmetry)
	r.Parsimony = clamp01(r.Parsimony)
	r.ExplanatoryPower = clamp01(r.ExplanatoryPower)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score computes the weighted composite score for a set of ratings.
func (c Criteria) Score(r Ratings) float64 {
	return r.Inevitability*c.Inevitability +
		r.Symmetry*c.Symmetry +
		r.Parsimony*c.Parsimony +
		r.ExplanatoryPower*c.ExplanatoryPower
}

// Accepts reports whether a composite score clears the threshold.
func (c Criteria) Accepts(score float64) bool {
	return score >= c.AcceptanceThreshold
}
