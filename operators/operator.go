// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package operators holds a registry of tensor operators with forward and gradient kernels
package operators

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/pointlander/cossim/tf32"
	"github.com/pointlander/cossim/tf64"
)

var (
	// ErrUnknownOperator is returned when an operator type is not registered
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrMissing is returned when a required variable is missing
	ErrMissing = errors.New("missing variable")
	// ErrAttribute is returned for an invalid attribute
	ErrAttribute = errors.New("invalid attribute")
)

// Place selects the precision of the kernels
type Place int

const (
	// CPU32 runs the float32 kernels
	CPU32 Place = iota
	// CPU64 runs the float64 kernels, values are widened on the way in and narrowed on the way out
	CPU64
)

// Places are all of the places
var Places = []Place{CPU32, CPU64}

func (p Place) String() string {
	switch p {
	case CPU32:
		return "cpu32"
	case CPU64:
		return "cpu64"
	}
	return fmt.Sprintf("place(%d)", int(p))
}

type (
	// Variables are named tensors
	Variables map[string]*tf32.V
	// Attributes are the attributes of an operator
	Attributes map[string]interface{}
	// Maker makes an operator from attributes
	Maker func(attributes Attributes) (Operator, error)
)

// Operator is a tensor operator
type Operator interface {
	// Type is the registered type of the operator
	Type() string
	// Inputs are the names of the inputs
	Inputs() []string
	// Outputs are the names of the outputs
	Outputs() []string
	// InferShape checks the inputs and returns the shape of each output
	InferShape(inputs Variables) (map[string][]int, error)
	// Run computes the outputs
	Run(place Place, inputs Variables) (Variables, error)
	// Grad computes the gradients of the inputs given the gradients of the outputs
	Grad(place Place, inputs, outputs, grads Variables) (Variables, error)
}

var registry = struct {
	sync.RWMutex
	makers map[string]Maker
}{
	makers: make(map[string]Maker),
}

// Register registers an operator maker, registering a type twice panics
func Register(typ string, maker Maker) {
	registry.Lock()
	defer registry.Unlock()
	if _, has := registry.makers[typ]; has {
		panic(fmt.Sprintf("operator %s is already registered", typ))
	}
	registry.makers[typ] = maker
}

// Create creates an operator of the given type
func Create(typ string, attributes Attributes) (Operator, error) {
	registry.RLock()
	maker, has := registry.makers[typ]
	registry.RUnlock()
	if !has {
		return nil, errors.Wrapf(ErrUnknownOperator, "%q", typ)
	}
	op, err := maker(attributes)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", typ)
	}
	return op, nil
}

// Types returns the registered operator types
func Types() []string {
	registry.RLock()
	defer registry.RUnlock()
	types := make([]string, 0, len(registry.makers))
	for typ := range registry.makers {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// Get returns the named variables in order
func (v Variables) Get(names ...string) ([]*tf32.V, error) {
	values := make([]*tf32.V, 0, len(names))
	for _, name := range names {
		value, has := v[name]
		if !has || value == nil {
			return nil, errors.Wrapf(ErrMissing, "%s", name)
		}
		values = append(values, value)
	}
	return values, nil
}

// Float gets a floating point attribute
func (a Attributes) Float(name string, value float64) (float64, error) {
	attribute, has := a[name]
	if !has {
		return value, nil
	}
	switch v := attribute.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, errors.Wrapf(ErrAttribute, "%s is %T not a float", name, attribute)
}

// Int gets an integer attribute
func (a Attributes) Int(name string, value int) (int, error) {
	attribute, has := a[name]
	if !has {
		return value, nil
	}
	switch v := attribute.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint32:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	}
	return 0, errors.Wrapf(ErrAttribute, "%s is %T not an int", name, attribute)
}

func widen(a *tf32.V) tf64.V {
	b := tf64.V{
		N: a.N,
		X: make([]float64, len(a.X)),
		D: make([]float64, len(a.D)),
		S: a.S,
	}
	for i, x := range a.X {
		b.X[i] = float64(x)
	}
	return b
}

func narrow(a *tf64.V) *tf32.V {
	b := tf32.V{
		N: a.N,
		X: make([]float32, len(a.X)),
		D: make([]float32, len(a.D)),
		S: a.S,
	}
	for i, x := range a.X {
		b.X[i] = float32(x)
	}
	return &b
}

func filled(a *tf32.V) error {
	if len(a.S) == 0 {
		return errors.Wrapf(tf32.ErrShape, "%s has no shape", a.N)
	}
	for _, d := range a.S {
		if d <= 0 {
			return errors.Wrapf(tf32.ErrShape, "%s has shape %v with a dimension that is not positive", a.N, a.S)
		}
	}
	if len(a.X) != a.Size() {
		return errors.Wrapf(tf32.ErrShape, "%s has %d values for shape %v", a.N, len(a.X), a.S)
	}
	return nil
}

func shape(s ...int) []int {
	return append([]int(nil), s...)
}
