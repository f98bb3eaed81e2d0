// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gradcheck checks operator outputs and compares analytic gradients with finite differences
package gradcheck

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"github.com/pointlander/cossim/operators"
	"github.com/pointlander/cossim/tf32"
)

const (
	// DefaultDelta is the finite difference step
	DefaultDelta = 0.005
	// DefaultRtol is the relative tolerance of output checks
	DefaultRtol = 1e-4
	// CompareTolerance is the largest relative error allowed between places
	CompareTolerance = 1e-3
	// small numeric gradients are compared absolutely
	smallGradient = 1e-3
)

// ToleranceError is returned when gradients are too far apart
type ToleranceError struct {
	Type             string
	Place            operators.Place
	Input            string
	Output           string
	Index            int
	Got, Want        float64
	RelativeError    float64
	MaxRelativeError float64
}

func (e *ToleranceError) Error() string {
	return fmt.Sprintf("gradient check of %s on %s for %s wrt %s: max relative error %g at %d (%g vs %g) exceeds %g",
		e.Type, e.Place, e.Output, e.Input, e.RelativeError, e.Index, e.Got, e.Want, e.MaxRelativeError)
}

// Random creates a tensor of uniform random values in [0, 1)
func Random(rng *rand.Rand, s ...int) *tf32.V {
	v := tf32.NewV(append([]int(nil), s...)...)
	for i := 0; i < cap(v.X); i++ {
		v.X = append(v.X, rng.Float32())
	}
	return &v
}

func widen(values []float32) []float64 {
	w := make([]float64, len(values))
	for i, v := range values {
		w[i] = float64(v)
	}
	return w
}

// RelativeError returns the largest relative error of a with respect to b and where it is.
// Values of b smaller than 1e-3 are compared absolutely.
func RelativeError(a, b []float32) (float64, int) {
	if len(a) == 0 {
		return 0, -1
	}
	diff := make([]float64, len(a))
	for i, x := range a {
		y := float64(b[i])
		scale := math.Abs(y)
		if scale < smallGradient {
			scale = 1
		}
		diff[i] = math.Abs(float64(x)-y) / scale
		if math.IsNaN(diff[i]) {
			return math.NaN(), i
		}
	}
	index := floats.MaxIdx(diff)
	return diff[index], index
}

func sum(op operators.Operator, place operators.Place, inputs operators.Variables, output string) (float64, error) {
	outputs, err := op.Run(place, inputs)
	if err != nil {
		return 0, err
	}
	values, err := outputs.Get(output)
	if err != nil {
		return 0, err
	}
	return floats.Sum(widen(values[0].X)), nil
}

// Numeric computes the gradient of the sum of output with respect to input using central differences
func Numeric(op operators.Operator, place operators.Place, inputs operators.Variables, input, output string, delta float64) (*tf32.V, error) {
	values, err := inputs.Get(input)
	if err != nil {
		return nil, err
	}
	perturbed := make(operators.Variables, len(inputs))
	for name, value := range inputs {
		perturbed[name] = value
	}
	x := values[0].Clone()
	perturbed[input] = &x
	gradient := tf32.NewV(append([]int(nil), x.S...)...)
	for i, value := range x.X {
		up, down := float32(float64(value)+delta), float32(float64(value)-delta)
		x.X[i] = up
		plus, err := sum(op, place, perturbed, output)
		if err != nil {
			return nil, err
		}
		x.X[i] = down
		minus, err := sum(op, place, perturbed, output)
		if err != nil {
			return nil, err
		}
		x.X[i] = value
		gradient.X = append(gradient.X, float32((plus-minus)/(float64(up)-float64(down))))
	}
	return &gradient, nil
}

// Analytic computes the gradients of the inputs for the sum of output with the operator's gradient kernel
func Analytic(op operators.Operator, place operators.Place, inputs operators.Variables, output string) (operators.Variables, error) {
	outputs, err := op.Run(place, inputs)
	if err != nil {
		return nil, err
	}
	values, err := outputs.Get(output)
	if err != nil {
		return nil, err
	}
	ones := tf32.NewV(append([]int(nil), values[0].S...)...)
	for i := 0; i < cap(ones.X); i++ {
		ones.X = append(ones.X, 1)
	}
	return op.Grad(place, inputs, outputs, operators.Variables{output: &ones})
}

// Checker checks operators
type Checker struct {
	// Delta is the finite difference step
	Delta float64
	// Rtol is the relative tolerance of output checks
	Rtol float64
	// Places are the places the analytic kernels are checked on
	Places []operators.Place
	// Reference is the place the numeric gradient is computed on
	Reference operators.Place
}

// New creates a checker for all places
func New() *Checker {
	return &Checker{
		Delta:     DefaultDelta,
		Rtol:      DefaultRtol,
		Places:    operators.Places,
		Reference: operators.CPU64,
	}
}

// CheckOutputs runs the operator on every place and compares the outputs with the expected values.
// NaN is equal to NaN.
func (c *Checker) CheckOutputs(op operators.Operator, inputs, expected operators.Variables, atol float64) error {
	for _, place := range c.Places {
		outputs, err := op.Run(place, inputs)
		if err != nil {
			return errors.Wrapf(err, "%s on %s", op.Type(), place)
		}
		for name, want := range expected {
			values, err := outputs.Get(name)
			if err != nil {
				return errors.Wrapf(err, "%s on %s", op.Type(), place)
			}
			got := values[0]
			if err := tf32.CheckSame(got, want); err != nil {
				return errors.Wrapf(err, "%s on %s output %s", op.Type(), place, name)
			}
			for i, a := range got.X {
				b := want.X[i]
				if math.IsNaN(float64(a)) && math.IsNaN(float64(b)) {
					continue
				}
				if d := math.Abs(float64(a - b)); !(d <= atol+c.Rtol*math.Abs(float64(b))) {
					return errors.Errorf("%s on %s output %s at %d: %g != %g", op.Type(), place, name, i, a, b)
				}
			}
			klog.V(2).Infof("%s on %s output %s matches", op.Type(), place, name)
		}
	}
	return nil
}

// CompareGrad checks that the gradient kernels of every place agree
func (c *Checker) CompareGrad(op operators.Operator, inputs operators.Variables, output string) error {
	if len(c.Places) < 2 {
		return nil
	}
	first := c.Places[0]
	want, err := Analytic(op, first, inputs, output)
	if err != nil {
		return errors.Wrapf(err, "%s on %s", op.Type(), first)
	}
	for _, place := range c.Places[1:] {
		got, err := Analytic(op, place, inputs, output)
		if err != nil {
			return errors.Wrapf(err, "%s on %s", op.Type(), place)
		}
		for _, name := range op.Inputs() {
			a, b := got[name], want[name]
			if a == nil || b == nil {
				continue
			}
			relative, index := RelativeError(a.X, b.X)
			klog.V(1).Infof("compare %s %s on %s and %s: max relative error %g", op.Type(), name, place, first, relative)
			if !(relative <= CompareTolerance) {
				return &ToleranceError{
					Type:             op.Type(),
					Place:            place,
					Input:            name,
					Output:           output,
					Index:            index,
					Got:              float64(a.X[index]),
					Want:             float64(b.X[index]),
					RelativeError:    relative,
					MaxRelativeError: CompareTolerance,
				}
			}
		}
	}
	return nil
}

// CheckGrad compares the analytic gradients of the checked inputs on every place with the numeric gradients
func (c *Checker) CheckGrad(op operators.Operator, inputs operators.Variables, check []string, output string, maxRelativeError float64) error {
	if _, err := op.InferShape(inputs); err != nil {
		return errors.Wrap(err, op.Type())
	}
	numeric := make(operators.Variables, len(check))
	for _, name := range check {
		gradient, err := Numeric(op, c.Reference, inputs, name, output, c.Delta)
		if err != nil {
			return errors.Wrapf(err, "numeric gradient of %s", name)
		}
		numeric[name] = gradient
	}
	for _, place := range c.Places {
		analytic, err := Analytic(op, place, inputs, output)
		if err != nil {
			return errors.Wrapf(err, "%s on %s", op.Type(), place)
		}
		for _, name := range check {
			a, has := analytic[name]
			if !has {
				return errors.Wrapf(operators.ErrMissing, "%s has no gradient for %s", op.Type(), name)
			}
			n := numeric[name]
			if err := tf32.CheckSame(a, n); err != nil {
				return errors.Wrapf(err, "gradient of %s", name)
			}
			relative, index := RelativeError(a.X, n.X)
			klog.V(1).Infof("check %s %s on %s: max relative error %g", op.Type(), name, place, relative)
			if !(relative <= maxRelativeError) {
				return &ToleranceError{
					Type:             op.Type(),
					Place:            place,
					Input:            name,
					Output:           output,
					Index:            index,
					Got:              float64(a.X[index]),
					Want:             float64(n.X[index]),
					RelativeError:    relative,
					MaxRelativeError: maxRelativeError,
				}
			}
		}
	}
	return nil
}
