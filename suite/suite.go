// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package suite

import (
	"math/rand"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/pointlander/cossim/float"
	"github.com/pointlander/cossim/gradcheck"
	"github.com/pointlander/cossim/operators"
	"github.com/pointlander/cossim/tf32"
)

// Reference computes the expected outputs of an operator
type Reference func(inputs operators.Variables) (operators.Variables, error)

var references = map[string]Reference{
	operators.CosSimType: func(inputs operators.Variables) (operators.Variables, error) {
		values, err := inputs.Get("X", "Y")
		if err != nil {
			return nil, err
		}
		if err := tf32.CheckBroadcast(values[0], values[1]); err != nil {
			return nil, err
		}
		out, xNorm, yNorm := float.Default.CosSim(values[0], values[1])
		return operators.Variables{"Out": &out, "XNorm": &xNorm, "YNorm": &yNorm}, nil
	},
}

// Result is the result of a case
type Result struct {
	Case string
	Err  error
}

// Inputs generates the seeded random inputs of a case in the order the operator lists them
func Inputs(c Case) (operators.Operator, operators.Variables, error) {
	op, err := operators.Create(c.Type, c.Attributes)
	if err != nil {
		return nil, nil, err
	}
	rng, inputs := rand.New(rand.NewSource(c.Seed)), make(operators.Variables)
	for _, name := range op.Inputs() {
		shape, has := c.Inputs[name]
		if !has {
			return nil, nil, errors.Wrapf(operators.ErrMissing, "case %s input %s", c.Name, name)
		}
		v := gradcheck.Random(rng, shape...)
		v.N = name
		inputs[name] = v
	}
	return op, inputs, nil
}

// Checker creates a checker with the settings of the configuration
func (c *Config) Checker() *gradcheck.Checker {
	checker := gradcheck.New()
	checker.Delta, checker.Rtol = c.Delta, c.Rtol
	return checker
}

// RunCase runs a single case
func (c *Config) RunCase(cs Case) error {
	op, inputs, err := Inputs(cs)
	if err != nil {
		return err
	}
	return c.check(cs, op, inputs)
}

func (c *Config) check(cs Case, op operators.Operator, inputs operators.Variables) error {
	checker := c.Checker()
	if cs.Forward {
		reference, has := references[cs.Type]
		if !has {
			return errors.Errorf("%s has no reference", cs.Type)
		}
		expected, err := reference(inputs)
		if err != nil {
			return err
		}
		if err := checker.CheckOutputs(op, inputs, expected, c.Atol); err != nil {
			return err
		}
	}
	if len(cs.Check) > 0 {
		if err := checker.CompareGrad(op, inputs, cs.Output); err != nil {
			return err
		}
		if err := checker.CheckGrad(op, inputs, cs.Check, cs.Output, cs.MaxRelativeError); err != nil {
			return err
		}
	}
	return nil
}

// Run runs every case of the configuration
func (c *Config) Run() []Result {
	results := make([]Result, 0, len(c.Cases))
	for _, cs := range c.Cases {
		err := c.RunCase(cs)
		if err != nil {
			klog.Errorf("FAIL %s: %+v", cs.Name, err)
		} else {
			klog.Infof("ok %s", cs.Name)
		}
		results = append(results, Result{Case: cs.Name, Err: err})
	}
	return results
}

// Failed counts the failed results
func Failed(results []Result) int {
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	return failed
}

// Find finds a case by name
func (c *Config) Find(name string) (Case, bool) {
	for _, cs := range c.Cases {
		if cs.Name == name {
			return cs, true
		}
	}
	return Case{}, false
}

// SaveFixture saves the generated inputs and the attributes of a case
func SaveFixture(file string, cs Case) error {
	op, inputs, err := Inputs(cs)
	if err != nil {
		return err
	}
	set := tf32.NewSet()
	for _, name := range op.Inputs() {
		set.Put(inputs[name])
	}
	if len(cs.Attributes) > 0 {
		set.Attributes = make(map[string]float64, len(cs.Attributes))
		for name := range cs.Attributes {
			value, err := cs.Attributes.Float(name, 0)
			if err != nil {
				return errors.Wrapf(err, "save fixture %s", file)
			}
			set.Attributes[name] = value
		}
	}
	return errors.Wrapf(set.Save(file, cs.Type, uint64(cs.Seed)), "save fixture %s", file)
}

// LoadFixture loads a fixture as a case that checks the gradients of every input,
// the operator attributes saved with the fixture are restored
func LoadFixture(file string) (Case, operators.Variables, error) {
	set := tf32.NewSet()
	typ, seed, err := set.Open(file)
	if err != nil {
		return Case{}, nil, errors.Wrapf(err, "load fixture %s", file)
	}
	cs := Case{
		Name:             file,
		Type:             typ,
		Seed:             int64(seed),
		Inputs:           make(map[string][]int),
		Output:           DefaultOutput,
		MaxRelativeError: DefaultMaxRelativeError,
	}
	if len(set.Attributes) > 0 {
		cs.Attributes = make(operators.Attributes, len(set.Attributes))
		for name, value := range set.Attributes {
			cs.Attributes[name] = value
		}
	}
	inputs := make(operators.Variables, len(set.Weights))
	for _, w := range set.Weights {
		cs.Inputs[w.N] = w.S
		cs.Check = append(cs.Check, w.N)
		inputs[w.N] = w
	}
	return cs, inputs, nil
}

// RunFixture checks a loaded fixture
func (c *Config) RunFixture(cs Case, inputs operators.Variables) error {
	op, err := operators.Create(cs.Type, cs.Attributes)
	if err != nil {
		return err
	}
	if _, has := references[cs.Type]; has {
		cs.Forward = true
	}
	return c.check(cs, op, inputs)
}
