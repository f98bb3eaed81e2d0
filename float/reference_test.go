// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package float

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointlander/cossim/tf32"
)

func random(rng *rand.Rand, s ...int) tf32.V {
	v := tf32.NewV(s...)
	for i := 0; i < cap(v.X); i++ {
		v.X = append(v.X, rng.Float32())
	}
	return v
}

func TestNorm(t *testing.T) {
	context := Context{Precision: 64}
	norm := context.Norm([]float32{3, 4})
	if norm.Text('f', 6) != "5.000000" {
		t.Fatalf("norm(%s) != 5.000000", norm.Text('f', 6))
	}
	assert.Equal(t, 0, context.Norm([]float32{0, 0}).Sign())
}

func TestCosSim(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	shapes := [][2][]int{
		{{32, 64}, {32, 64}},
		{{32, 64}, {1, 64}},
		{{32, 64, 10}, {1, 64, 10}},
	}
	for _, shape := range shapes {
		x, y := random(rng, shape[0]...), random(rng, shape[1]...)
		out, xNorm, yNorm := Default.CosSim(&x, &y)
		aout, axNorm, ayNorm := tf32.CosSim(&x, &y)
		require.Equal(t, aout.S, out.S)
		require.Equal(t, ayNorm.S, yNorm.S)
		for i := range out.X {
			assert.InEpsilon(t, out.X[i], aout.X[i], 1e-5)
			assert.InEpsilon(t, xNorm.X[i], axNorm.X[i], 1e-5)
		}
		for i := range yNorm.X {
			assert.InEpsilon(t, yNorm.X[i], ayNorm.X[i], 1e-5)
		}
	}
}

func TestCosSimZero(t *testing.T) {
	x, y := tf32.NewV(2, 2), tf32.NewV(1, 2)
	x.Set([]float32{0, 0, 1, 1})
	y.Set([]float32{2, 0})
	out, _, _ := Default.CosSim(&x, &y)
	assert.True(t, math.IsNaN(float64(out.X[0])))
	assert.InDelta(t, 1/math.Sqrt2, out.X[1], 1e-7)
}
