package intelligence

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float64{1, 0, 0}
	b := []float64{1, 0, 0}
	c := []float64{0, 1, 0}

	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity(a, c), 1e-9)
}

func TestCosineSimilarityDegenerate(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}), "dimension mismatch")
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 2}), "zero norm")
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestRecencyScore(t *testing.T) {
	now := time.Now()

	assert.InDelta(t, 1.0, recencyScore(now, now, 30), 1e-9, "fresh item decays nothing")

	// One half-life of age decays to e^-1.
	aged := recencyScore(now.AddDate(0, 0, -30), now, 30)
	assert.InDelta(t, math.Exp(-1), aged, 1e-3)

	// Clock skew: items from the "future" score as fresh.
	assert.InDelta(t, 1.0, recencyScore(now.Add(time.Hour), now, 30), 1e-9)
}

func TestRecencyScoreMonotonic(t *testing.T) {
	now := time.Now()
	newer := recencyScore(now.AddDate(0, 0, -1), now, 30)
	older := recencyScore(now.AddDate(0, 0, -10), now, 30)
	assert.Greater(t, newer, older)
}

func TestAccessBonus(t *testing.T) {
	assert.Equal(t, 0.0, accessBonus(0, 20))
	assert.InDelta(t, 1.0, accessBonus(20, 20), 1e-9, "saturates at the cap")
	assert.Equal(t, 1.0, accessBonus(100, 20), "never exceeds 1")

	mid := accessBonus(5, 20)
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 1.0)
}

func TestAccessBonusMonotonic(t *testing.T) {
	prev := 0.0
	for count := int64(1); count <= 20; count++ {
		bonus := accessBonus(count, 20)
		assert.GreaterOrEqual(t, bonus, prev, "count %d", count)
		prev = bonus
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-0.5, 0, 1))
	assert.Equal(t, 1.0, clamp(1.5, 0, 1))
	assert.Equal(t, 0.7, clamp(0.7, 0, 1))
}
