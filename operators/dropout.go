// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package operators

import (
	"math"

	"github.com/pkg/errors"

	"github.com/pointlander/cossim/tf32"
	"github.com/pointlander/cossim/tf64"
)

// DropoutType is the type of the dropout operator
const DropoutType = "dropout"

func init() {
	Register(DropoutType, NewDropout)
}

// Dropout randomly sets values of X to zero with probability Prob.
// The same seed always drops the same values.
//
// Inputs: X
// Outputs: Out and Mask with the shape of X
type Dropout struct {
	Prob float64
	Seed uint32
}

// NewDropout makes a dropout operator from the dropout_prob and seed attributes
func NewDropout(attributes Attributes) (Operator, error) {
	prob, err := attributes.Float("dropout_prob", .5)
	if err != nil {
		return nil, err
	}
	if prob <= 0 || prob >= 1 {
		return nil, errors.Wrapf(ErrAttribute, "dropout_prob %f should be in (0, 1)", prob)
	}
	seed, err := attributes.Int("seed", 0)
	if err != nil {
		return nil, err
	}
	if seed < 0 || int64(seed) > math.MaxUint32 {
		return nil, errors.Wrapf(ErrAttribute, "seed %d should be in [0, %d]", seed, uint32(math.MaxUint32))
	}
	return Dropout{Prob: prob, Seed: uint32(seed)}, nil
}

// Type is the registered type
func (Dropout) Type() string {
	return DropoutType
}

// Inputs are the names of the inputs
func (Dropout) Inputs() []string {
	return []string{"X"}
}

// Outputs are the names of the outputs
func (Dropout) Outputs() []string {
	return []string{"Out", "Mask"}
}

// InferShape gives Out and Mask the shape of X
func (Dropout) InferShape(inputs Variables) (map[string][]int, error) {
	values, err := inputs.Get("X")
	if err != nil {
		return nil, err
	}
	x := values[0]
	if err := filled(x); err != nil {
		return nil, errors.Wrap(err, "X")
	}
	return map[string][]int{
		"Out":  shape(x.S...),
		"Mask": shape(x.S...),
	}, nil
}

// Run computes Out and Mask
func (d Dropout) Run(place Place, inputs Variables) (Variables, error) {
	if _, err := d.InferShape(inputs); err != nil {
		return nil, err
	}
	x := inputs["X"]
	switch place {
	case CPU32:
		out, mask := tf32.Dropout(x, d.Prob, d.Seed)
		return Variables{"Out": &out, "Mask": &mask}, nil
	case CPU64:
		x64 := widen(x)
		out, mask := tf64.Dropout(&x64, d.Prob, d.Seed)
		return Variables{"Out": narrow(&out), "Mask": narrow(&mask)}, nil
	}
	return nil, errors.Errorf("%s has no kernel for %s", DropoutType, place)
}

// Grad computes the gradient of X, which is the gradient of Out where the mask is set
func (d Dropout) Grad(place Place, inputs, outputs, grads Variables) (Variables, error) {
	if _, err := d.InferShape(inputs); err != nil {
		return nil, err
	}
	values, err := outputs.Get("Mask")
	if err != nil {
		return nil, err
	}
	x, mask := inputs["X"], values[0]
	dOut, has := grads["Out"]
	if !has || dOut == nil {
		return nil, errors.Wrap(ErrMissing, "Out@GRAD")
	}
	if err := tf32.CheckSame(x, dOut); err != nil {
		return nil, errors.Wrap(err, "dimensions of X and Out@GRAD must be the same")
	}
	if err := tf32.CheckSame(x, mask); err != nil {
		return nil, errors.Wrap(err, "dimensions of X and Mask must be the same")
	}
	if err := filled(dOut); err != nil {
		return nil, err
	}
	if err := filled(mask); err != nil {
		return nil, err
	}
	switch place {
	case CPU32:
		dx := tf32.DropoutGrad(dOut, mask)
		return Variables{"X": &dx}, nil
	case CPU64:
		dOut64, mask64 := widen(dOut), widen(mask)
		dx := tf64.DropoutGrad(&dOut64, &mask64)
		return Variables{"X": narrow(&dx)}, nil
	}
	return nil, errors.Errorf("%s has no gradient kernel for %s", DropoutType, place)
}
