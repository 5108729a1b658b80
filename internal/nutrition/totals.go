// ABOUTME: Running totals and rounding helpers shared by the summary builders
// ABOUTME: Sums stay unrounded; rounding happens only when a summary is built

package nutrition

import (
	"math"

	"github.com/2389/calories-gateway/internal/store"
)

type totals struct {
	count       int
	calories    int
	proteins    float64
	fats        float64
	carbs       float64
	fiber       float64
	water       int
	healthiness int
}

func sumMeals(meals []*store.Meal) totals {
	var t totals
	for _, m := range meals {
		t.count++
		t.calories += m.Calories
		t.proteins += m.Proteins
		t.fats += m.Fats
		t.carbs += m.Carbs
		t.fiber += m.Fiber
		t.water += m.WaterML
		t.healthiness += m.HealthinessScore
	}
	return t
}

// avgHealthiness is 0 for an empty set.
func (t totals) avgHealthiness() float64 {
	if t.count == 0 {
		return 0
	}
	return float64(t.healthiness) / float64(t.count)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// roundInt rounds half away from zero.
func roundInt(v float64) int {
	return int(math.Round(v))
}
