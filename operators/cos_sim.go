// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package operators

import (
	"github.com/pkg/errors"

	"github.com/pointlander/cossim/tf32"
	"github.com/pointlander/cossim/tf64"
)

// CosSimType is the type of the cosine similarity operator
const CosSimType = "cos_sim"

func init() {
	Register(CosSimType, func(attributes Attributes) (Operator, error) {
		return CosSim{}, nil
	})
}

// CosSim computes the cosine similarity of the rows of X and Y.
// Y is broadcast when its leading dimension is one.
//
// Inputs: X [B, D...], Y [B or 1, D...]
// Outputs: Out [B, 1], XNorm [B, 1], YNorm [B or 1, 1]
type CosSim struct{}

// Type is the registered type
func (CosSim) Type() string {
	return CosSimType
}

// Inputs are the names of the inputs
func (CosSim) Inputs() []string {
	return []string{"X", "Y"}
}

// Outputs are the names of the outputs
func (CosSim) Outputs() []string {
	return []string{"Out", "XNorm", "YNorm"}
}

// InferShape checks that Y can be broadcast to X
func (CosSim) InferShape(inputs Variables) (map[string][]int, error) {
	values, err := inputs.Get("X", "Y")
	if err != nil {
		return nil, err
	}
	x, y := values[0], values[1]
	if err := tf32.CheckBroadcast(x, y); err != nil {
		return nil, errors.Wrap(err, "X and Y")
	}
	return map[string][]int{
		"Out":   shape(x.Rows(), 1),
		"XNorm": shape(x.Rows(), 1),
		"YNorm": shape(y.Rows(), 1),
	}, nil
}

// Run computes Out, XNorm and YNorm
func (c CosSim) Run(place Place, inputs Variables) (Variables, error) {
	if _, err := c.InferShape(inputs); err != nil {
		return nil, err
	}
	x, y := inputs["X"], inputs["Y"]
	switch place {
	case CPU32:
		out, xNorm, yNorm := tf32.CosSim(x, y)
		return Variables{"Out": &out, "XNorm": &xNorm, "YNorm": &yNorm}, nil
	case CPU64:
		x64, y64 := widen(x), widen(y)
		out, xNorm, yNorm := tf64.CosSim(&x64, &y64)
		return Variables{"Out": narrow(&out), "XNorm": narrow(&xNorm), "YNorm": narrow(&yNorm)}, nil
	}
	return nil, errors.Errorf("%s has no kernel for %s", CosSimType, place)
}

// Grad computes the gradients of X and Y from the gradient of Out
func (c CosSim) Grad(place Place, inputs, outputs, grads Variables) (Variables, error) {
	shapes, err := c.InferShape(inputs)
	if err != nil {
		return nil, err
	}
	values, err := outputs.Get("Out", "XNorm", "YNorm")
	if err != nil {
		return nil, err
	}
	dOut, has := grads["Out"]
	if !has || dOut == nil {
		return nil, errors.Wrap(ErrMissing, "Out@GRAD")
	}
	for i, name := range c.Outputs() {
		if err := tf32.CheckSame(values[i], &tf32.V{S: shapes[name]}); err != nil {
			return nil, errors.Wrap(err, name)
		}
		if err := filled(values[i]); err != nil {
			return nil, errors.Wrap(err, name)
		}
	}
	if err := tf32.CheckSame(dOut, values[0]); err != nil {
		return nil, errors.Wrap(err, "Out@GRAD")
	}
	if err := filled(dOut); err != nil {
		return nil, err
	}

	x, y, out, xNorm, yNorm := inputs["X"], inputs["Y"], values[0], values[1], values[2]
	switch place {
	case CPU32:
		dx, dy := tf32.CosSimGrad(x, y, out, xNorm, yNorm, dOut)
		return Variables{"X": &dx, "Y": &dy}, nil
	case CPU64:
		x64, y64, out64 := widen(x), widen(y), widen(out)
		xNorm64, yNorm64, dOut64 := widen(xNorm), widen(yNorm), widen(dOut)
		dx, dy := tf64.CosSimGrad(&x64, &y64, &out64, &xNorm64, &yNorm64, &dOut64)
		return Variables{"X": narrow(&dx), "Y": narrow(&dy)}, nil
	}
	return nil, errors.Errorf("%s has no gradient kernel for %s", CosSimType, place)
}
