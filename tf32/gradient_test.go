// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tf32

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const Size = 32 * 1024

func _dot(X, Y []float32) float32 {
	var sum float32
	for i, x := range X {
		sum += x * Y[i]
	}
	return sum
}

func random(rng *rand.Rand, s ...int) V {
	v := NewV(s...)
	for i := 0; i < cap(v.X); i++ {
		v.X = append(v.X, rng.Float32())
	}
	return v
}

func TestDot(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := make([]float32, Size)
	for i := range x {
		x[i] = float32(rng.NormFloat64())
	}
	y := make([]float32, Size)
	for i := range y {
		y[i] = float32(rng.NormFloat64())
	}
	correct := _dot(x, y)
	if a := dot(x, y); int(a*100) != int(correct*100) {
		t.Fatalf("dot product is broken %f != %f", a, correct)
	}
}

func TestNewV(t *testing.T) {
	v := NewV(5)
	assert.Equal(t, []int{5, 1}, v.S)
	v = NewV(32, 64, 10)
	assert.Equal(t, 32, v.Rows())
	assert.Equal(t, 640, v.Cols())
	assert.Equal(t, 32*640, v.Size())
	assert.Equal(t, 32*640, cap(v.X))
	assert.Len(t, v.D, 32*640)
}

func TestCosSim(t *testing.T) {
	x, y := NewV(2, 2), NewV(2, 2)
	x.Set([]float32{1, 0, 1, 1})
	y.Set([]float32{1, 0, 0, 1})
	out, xNorm, yNorm := CosSim(&x, &y)
	assert.Equal(t, []int{2, 1}, out.S)
	assert.InDeltaSlice(t, []float32{1, 1 / math.Sqrt2}, out.X, 1e-6)
	assert.InDeltaSlice(t, []float32{1, math.Sqrt2}, xNorm.X, 1e-6)
	assert.InDeltaSlice(t, []float32{1, 1}, yNorm.X, 1e-6)
}

func TestCosSimBroadcast(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x, y := random(rng, 32, 64, 10), random(rng, 1, 64, 10)
	out, xNorm, yNorm := CosSim(&x, &y)
	require.Equal(t, []int{32, 1}, out.S)
	require.Equal(t, []int{32, 1}, xNorm.S)
	require.Equal(t, []int{1, 1}, yNorm.S)

	yv := y.Row(0)
	for i := 0; i < 32; i++ {
		xv := x.Row(i)
		var xy, xx, yy float64
		for j, a := range xv {
			b := float64(yv[j])
			xy += float64(a) * b
			xx += float64(a) * float64(a)
			yy += b * b
		}
		assert.InDelta(t, xy/math.Sqrt(xx)/math.Sqrt(yy), out.X[i], 1e-5)
		assert.InDelta(t, math.Sqrt(xx), xNorm.X[i], 1e-3)
		assert.True(t, out.X[i] >= -1 && out.X[i] <= 1+1e-6)
	}
}

func TestCosSimZero(t *testing.T) {
	x, y := NewV(1, 3), NewV(1, 3)
	x.Set([]float32{0, 0, 0})
	y.Set([]float32{1, 2, 3})
	out, xNorm, _ := CosSim(&x, &y)
	assert.Equal(t, float32(0), xNorm.X[0])
	assert.True(t, math.IsNaN(float64(out.X[0])))
}

func TestCheckBroadcast(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := random(rng, 6, 5)
	cases := []struct {
		name  string
		y     V
		valid bool
	}{
		{"same", random(rng, 6, 5), true},
		{"broadcast", random(rng, 1, 5), true},
		{"leading", random(rng, 3, 5), false},
		{"trailing", random(rng, 6, 4), false},
		{"rank", random(rng, 6, 5, 1), false},
		{"empty", NewV(6, 5), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := CheckBroadcast(&x, &c.y)
			if c.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrShape)
		})
	}
	y := random(rng, 2, 5)
	assert.Panics(t, func() {
		CosSim(&x, &y)
	})

	negative := V{X: x.X[:5], S: []int{-1, -5}}
	require.ErrorIs(t, CheckBroadcast(&negative, &negative), ErrShape)
	require.ErrorIs(t, CheckSame(&negative, &negative), ErrShape)
	zero := V{S: []int{6, 0}}
	require.ErrorIs(t, CheckBroadcast(&x, &zero), ErrShape)
}

func TestCosSimGradBroadcast(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x, y := random(rng, 6, 5, 2), random(rng, 1, 5, 2)
	tiled := NewV(6, 5, 2)
	for i := 0; i < 6; i++ {
		tiled.X = append(tiled.X, y.X...)
	}
	dOut := random(rng, 6, 1)

	out, xNorm, yNorm := CosSim(&x, &y)
	dx, dy := CosSimGrad(&x, &y, &out, &xNorm, &yNorm, &dOut)
	tout, txNorm, tyNorm := CosSim(&x, &tiled)
	tdx, tdy := CosSimGrad(&x, &tiled, &tout, &txNorm, &tyNorm, &dOut)

	assert.InDeltaSlice(t, tout.X, out.X, 1e-6)
	assert.InDeltaSlice(t, tdx.X, dx.X, 1e-5)
	require.Equal(t, []int{1, 5, 2}, dy.S)
	sum := make([]float32, 10)
	for i := 0; i < 6; i++ {
		for j, d := range tdy.Row(i) {
			sum[j] += d
		}
	}
	assert.InDeltaSlice(t, sum, dy.X, 1e-5)
}

func TestSimilarity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x, y := random(rng, 6, 5), random(rng, 1, 5)
	cost := Gradient(Sum(Similarity(x.Meta(), y.Meta())))

	out, xNorm, yNorm := CosSim(&x, &y)
	ones := NewV(6, 1)
	ones.Set([]float32{1, 1, 1, 1, 1, 1})
	dx, dy := CosSimGrad(&x, &y, &out, &xNorm, &yNorm, &ones)

	total := float32(0)
	for _, o := range out.X {
		total += o
	}
	assert.InDelta(t, total, cost.X[0], 1e-5)
	assert.InDeltaSlice(t, dx.X, x.D, 1e-6)
	assert.InDeltaSlice(t, dy.X, y.D, 1e-6)
}

func TestNorm(t *testing.T) {
	x := NewV(2, 2)
	x.Set([]float32{3, 4, 0, 2})
	cost := Gradient(Sum(Norm(x.Meta())))
	assert.InDelta(t, 7, cost.X[0], 1e-6)
	assert.InDeltaSlice(t, []float32{.6, .8, 0, 1}, x.D, 1e-6)
}

func TestAddBroadcast(t *testing.T) {
	a, b := NewV(2, 3), NewV(1, 3)
	a.Set([]float32{1, 2, 3, 4, 5, 6})
	b.Set([]float32{10, 20, 30})
	var output V
	Gradient(Sum(Add(a.Meta(), b.Meta())))
	Add(a.Meta(), b.Meta())(func(c *V) bool {
		output = *c
		return false
	})
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, output.X)
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, a.D)
	assert.Equal(t, []float32{2, 2, 2}, b.D)
}

func TestDropout(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := random(rng, 100, 100)
	out, mask := Dropout(&x, .5, 7)
	dropped := 0
	for i, m := range mask.X {
		if m == 0 {
			dropped++
			assert.Equal(t, float32(0), out.X[i])
			continue
		}
		assert.Equal(t, x.X[i], out.X[i])
	}
	fraction := float64(dropped) / float64(len(mask.X))
	assert.True(t, fraction > .3 && fraction < .7, "fraction %f", fraction)

	again, _ := Dropout(&x, .5, 7)
	assert.Equal(t, out.X, again.X)

	none, _ := Dropout(&x, 0, 7)
	assert.Equal(t, x.X, none.X)

	dOut := random(rng, 100, 100)
	dx := DropoutGrad(&dOut, &mask)
	for i, m := range mask.X {
		assert.Equal(t, dOut.X[i]*m, dx.X[i])
	}
}

func TestRNG(t *testing.T) {
	zero, one := NewRNG(0), NewRNG(1)
	assert.Equal(t, one, zero)
	seen := make(map[uint32]bool)
	for i := 0; i < 1024; i++ {
		seen[one.Next()] = true
	}
	assert.Len(t, seen, 1024)
}

func TestSet(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	set := NewSet()
	x, y := random(rng, 32, 64, 10), random(rng, 1, 64, 10)
	x.N, y.N = "X", "Y"
	set.Put(&x)
	set.Put(&y)
	set.Add("Out", 32, 1)
	require.Len(t, set.Weights, 3)
	set.Attributes = map[string]float64{"dropout_prob": .25, "seed": 9}

	file := filepath.Join(t.TempDir(), "set.bin")
	require.NoError(t, set.Save(file, "cos_sim", 42))

	loaded := NewSet()
	typ, seed, err := loaded.Open(file)
	require.NoError(t, err)
	assert.Equal(t, "cos_sim", typ)
	assert.Equal(t, uint64(42), seed)
	require.Len(t, loaded.Weights, 3)
	assert.Equal(t, x.S, loaded.ByName["X"].S)
	assert.Equal(t, x.X, loaded.ByName["X"].X)
	assert.Equal(t, y.X, loaded.ByName["Y"].X)
	assert.Len(t, loaded.ByName["Y"].D, len(y.X))
	assert.Empty(t, loaded.ByName["Out"].X)
	assert.Equal(t, map[string]float64{"dropout_prob": .25, "seed": 9}, loaded.Attributes)
}

func TestSetCopy(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	set := NewSet()
	x, y := random(rng, 4, 8), random(rng, 1, 8)
	x.N, y.N = "X", "Y"
	set.Put(&x)
	set.Put(&y)
	set.Attributes = map[string]float64{"seed": 1}

	cp := set.Copy()
	require.Len(t, cp.Weights, 2)
	cp.Attributes["seed"] = 2
	assert.Equal(t, float64(1), set.Attributes["seed"])

	cost := Avg(Similarity(cp.Get("X"), cp.Get("Y")))
	Gradient(cost)
	assert.Equal(t, x.X, cp.ByName["X"].X)
	assert.NotEqual(t, make([]float32, len(x.D)), cp.ByName["X"].D)
	assert.Equal(t, make([]float32, len(x.D)), x.D)

	cp.Zero()
	for _, w := range cp.Weights {
		assert.Equal(t, make([]float32, len(w.D)), w.D)
	}
}

func TestTrainSimilarity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x, y := random(rng, 4, 8), random(rng, 4, 8)
	for i := range x.X {
		x.X[i] -= .5
	}
	cost := Avg(Similarity(x.Meta(), y.Meta()))
	eta := float32(.5)
	var similarity float32
	for i := 0; i < 256; i++ {
		x.Zero()
		y.Zero()
		similarity = Gradient(cost).X[0]
		for j, d := range x.D {
			x.X[j] += eta * d
		}
		if similarity > .999 {
			break
		}
	}
	assert.Greater(t, similarity, float32(.99))
}

func BenchmarkVectorDot(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	x := make([]float32, Size)
	for i := range x {
		x[i] = float32(rng.NormFloat64())
	}
	y := make([]float32, Size)
	for i := range y {
		y[i] = float32(rng.NormFloat64())
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dot(x, y)
	}
}

func BenchmarkCosSim(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	x, y := random(rng, 32, 64, 10), random(rng, 1, 64, 10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CosSim(&x, &y)
	}
}
