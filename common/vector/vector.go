// Package vector holds the small amount of vector math the matcher needs and helpers
// for nullable pgvector columns.
package vector

import (
	"math"

	"github.com/pgvector/pgvector-go"
)

// CosineDistance returns 1 - cos(a, b), in [0, 2]. ok is false when the vectors have
// different lengths or either has zero magnitude.
func CosineDistance(a, b []float32) (distance float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}

	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	cos = math.Max(-1, math.Min(1, cos))
	return 1 - cos, true
}

// Nullable wraps v for a nullable vector column; an empty vector is stored as NULL.
func Nullable(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	out := pgvector.NewVector(v)
	return &out
}

// Slice unwraps a nullable vector column.
func Slice(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}
