package intelligence

import (
	"math"
	"time"
)

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 if the vectors have different dimensions or zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// recencyScore computes the exponential age decay of an item created at
// createdAt, evaluated at now. Age is measured in days against the
// configured half-life.
func recencyScore(createdAt, now time.Time, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1.0
	}

	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}

	return math.Exp(-ageDays / halfLifeDays)
}

// accessBonus maps an access count to [0,1] with logarithmic saturation at
// accessCap.
func accessBonus(accessCount int64, accessCap int64) float64 {
	if accessCount <= 0 || accessCap <= 0 {
		return 0
	}

	bonus := math.Log(1+float64(accessCount)) / math.Log(1+float64(accessCap))
	return math.Min(1.0, bonus)
}

// clamp limits v to the [lo, hi] range.
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
