// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	v, err := Normalize([]float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Norm(v), 1e-6)

	_, err = Normalize([]float32{0, 0})
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestDot(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{0.6, 0.8}, []float32{0.6, 0.8}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Dot(tt.a, tt.b), 1e-6)
		})
	}
}

func TestDotOfNormalizedIsCosine(t *testing.T) {
	rawA := []float32{0.2, 0.9, -0.1}
	rawB := []float32{0.4, 0.5, 0.3}
	want := Dot(rawA, rawB) / (Norm(rawA) * Norm(rawB))

	a, err := Normalize(rawA)
	require.NoError(t, err)
	b, err := Normalize(rawB)
	require.NoError(t, err)
	assert.InDelta(t, want, Dot(a, b), 1e-6)
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    []float32
		wantErr bool
	}{
		{in: "[0.1, 0.2, -0.3]", want: []float32{0.1, 0.2, -0.3}},
		{in: "[0.1 0.2\n 0.3]", want: []float32{0.1, 0.2, 0.3}},
		{in: "1e-2,2", want: []float32{0.01, 2}},
		{in: "[]", wantErr: true},
		{in: "[0.1, abc]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, got, 1e-6)
		})
	}
}

func TestFormatParses(t *testing.T) {
	v := []float32{0.25, -1, 3.5}
	assert.Equal(t, "[0.25,-1,3.5]", Format(v))
	got, err := Parse(Format(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)
}
