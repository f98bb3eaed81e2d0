// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package float computes reference values with arbitrary precision floats
package float

import (
	"math"
	"math/big"

	"github.com/ALTree/bigfloat"

	"github.com/pointlander/cossim/tf32"
)

// Context is a function context
type Context struct {
	Precision uint
}

// Default is a context with enough precision to round correctly to float32
var Default = Context{Precision: 128}

func (context *Context) zero() *big.Float {
	return new(big.Float).SetPrec(context.Precision)
}

func (context *Context) value(a float32) *big.Float {
	return context.zero().SetFloat64(float64(a))
}

// Dot computes the dot product of two vectors
func (context *Context) Dot(x, y []float32) *big.Float {
	sum, product := context.zero(), context.zero()
	for i, a := range x {
		product.Mul(context.value(a), context.value(y[i]))
		sum.Add(sum, product)
	}
	return sum
}

// Norm computes the euclidean norm of a vector
func (context *Context) Norm(x []float32) *big.Float {
	sum := context.Dot(x, x)
	if sum.Sign() == 0 {
		return sum
	}
	return bigfloat.Pow(sum, context.zero().SetFloat64(.5))
}

// Similarity computes the cosine similarity of two vectors given their norms,
// the result is NaN when a norm is zero
func (context *Context) Similarity(x, y []float32, xNorm, yNorm *big.Float) float64 {
	if xNorm.Sign() == 0 || yNorm.Sign() == 0 {
		return math.NaN()
	}
	z := context.Dot(x, y)
	z.Quo(z, xNorm)
	z.Quo(z, yNorm)
	value, _ := z.Float64()
	return value
}

// CosSim computes the cosine similarity of the rows of x and y and the row norms,
// y is broadcast when it has a single row
func (context *Context) CosSim(x, y *tf32.V) (out, xNorm, yNorm tf32.V) {
	if err := tf32.CheckBroadcast(x, y); err != nil {
		panic(err)
	}
	rows, rowsY := x.Rows(), y.Rows()
	out, xNorm, yNorm = tf32.NewV(rows, 1), tf32.NewV(rows, 1), tf32.NewV(rowsY, 1)
	norms := make([]*big.Float, rowsY)
	for i := range norms {
		norms[i] = context.Norm(y.Row(i))
		value, _ := norms[i].Float32()
		yNorm.X = append(yNorm.X, value)
	}
	for i := 0; i < rows; i++ {
		xv, j := x.Row(i), i%rowsY
		norm := context.Norm(xv)
		value, _ := norm.Float32()
		xNorm.X = append(xNorm.X, value)
		out.X = append(out.X, float32(context.Similarity(xv, y.Row(j), norm, norms[j])))
	}
	return out, xNorm, yNorm
}
