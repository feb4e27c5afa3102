// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package vector implements the float32 vector arithmetic used for
// similarity scoring.
package vector

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrZeroVector is returned when a vector has no direction to normalize.
var ErrZeroVector = errors.New("zero vector")

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v.
func Normalize(v []float32) ([]float32, error) {
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, ErrZeroVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// Dot returns the dot product of a and b, which equals cosine similarity
// when both are unit-normalized. Vectors of different length score 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Parse reads a vector written as "[0.1, 0.2, ...]". Commas and whitespace
// are both accepted as separators.
func Parse(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) == 0 {
		return nil, errors.New("empty vector")
	}
	out := make([]float32, len(fields))
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = float32(x)
	}
	return out, nil
}

// Format writes v in the "[a,b,c]" form accepted by Parse and pgvector.
func Format(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
