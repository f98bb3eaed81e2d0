// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package suite runs parametrized operator checks described by a configuration
package suite

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/pointlander/cossim/gradcheck"
	"github.com/pointlander/cossim/operators"
)

const (
	// DefaultAtol is the absolute tolerance of output checks
	DefaultAtol = 1e-6
	// DefaultMaxRelativeError is the tolerance of gradient checks
	DefaultMaxRelativeError = .05
	// DefaultOutput is the output gradients are checked for
	DefaultOutput = "Out"
)

// Case is a single operator check
type Case struct {
	Name       string               `yaml:"name"`
	Type       string               `yaml:"type"`
	Seed       int64                `yaml:"seed"`
	Inputs     map[string][]int     `yaml:"inputs"`
	Attributes operators.Attributes `yaml:"attributes,omitempty"`
	// Forward compares the outputs with a high precision reference
	Forward bool `yaml:"forward,omitempty"`
	// Check are the inputs whose gradients are checked
	Check            []string `yaml:"check,omitempty"`
	Output           string   `yaml:"output,omitempty"`
	MaxRelativeError float64  `yaml:"max_relative_error,omitempty"`
}

// Config is a list of cases and the checker settings
type Config struct {
	Delta float64 `yaml:"delta"`
	Atol  float64 `yaml:"atol"`
	Rtol  float64 `yaml:"rtol"`
	Cases []Case  `yaml:"cases"`
}

// DefaultConfig checks the cosine similarity forward values and gradients with and without broadcasting
func DefaultConfig() Config {
	forward := func(name string, x, y []int) Case {
		return Case{
			Name:    name,
			Type:    operators.CosSimType,
			Seed:    1,
			Inputs:  map[string][]int{"X": x, "Y": y},
			Forward: true,
		}
	}
	grad := func(name string, x, y []int) Case {
		return Case{
			Name:             name,
			Type:             operators.CosSimType,
			Seed:             1,
			Inputs:           map[string][]int{"X": x, "Y": y},
			Check:            []string{"X", "Y"},
			Output:           DefaultOutput,
			MaxRelativeError: DefaultMaxRelativeError,
		}
	}
	return Config{
		Delta: gradcheck.DefaultDelta,
		Atol:  DefaultAtol,
		Rtol:  gradcheck.DefaultRtol,
		Cases: []Case{
			forward("cos_sim_2d", []int{32, 64}, []int{32, 64}),
			forward("cos_sim_2d_bcast", []int{32, 64}, []int{1, 64}),
			forward("cos_sim_3d_bcast", []int{32, 64, 10}, []int{1, 64, 10}),
			grad("cos_sim_grad_2d", []int{6, 5}, []int{6, 5}),
			grad("cos_sim_grad_2d_bcast", []int{6, 5}, []int{1, 5}),
			grad("cos_sim_grad_3d", []int{6, 5, 2}, []int{6, 5, 2}),
			grad("cos_sim_grad_3d_bcast", []int{6, 5, 2}, []int{1, 5, 2}),
			{
				Name:             "dropout_grad",
				Type:             operators.DropoutType,
				Seed:             1,
				Inputs:           map[string][]int{"X": {6, 5}},
				Attributes:       operators.Attributes{"dropout_prob": .35, "seed": 1},
				Check:            []string{"X"},
				Output:           DefaultOutput,
				MaxRelativeError: .005,
			},
		},
	}
}

// Parse parses a YAML configuration, missing settings get their defaults
func Parse(data []byte) (Config, error) {
	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if config.Delta == 0 {
		config.Delta = gradcheck.DefaultDelta
	}
	if config.Atol == 0 {
		config.Atol = DefaultAtol
	}
	if config.Rtol == 0 {
		config.Rtol = gradcheck.DefaultRtol
	}
	for i := range config.Cases {
		c := &config.Cases[i]
		if len(c.Check) > 0 && c.Output == "" {
			c.Output = DefaultOutput
		}
		if len(c.Check) > 0 && c.MaxRelativeError == 0 {
			c.MaxRelativeError = DefaultMaxRelativeError
		}
	}
	return config, config.Validate()
}

// Load loads a YAML configuration file
func Load(file string) (Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	config, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "%s", file)
	}
	return config, nil
}

// Validate checks that every case names a known operator and gives each input a shape
func (c *Config) Validate() error {
	if c.Delta <= 0 {
		return errors.Errorf("delta %g should be positive", c.Delta)
	}
	names := make(map[string]bool, len(c.Cases))
	for _, cs := range c.Cases {
		if cs.Name == "" {
			return errors.New("case without a name")
		}
		if names[cs.Name] {
			return errors.Errorf("case %s is not unique", cs.Name)
		}
		names[cs.Name] = true
		op, err := operators.Create(cs.Type, cs.Attributes)
		if err != nil {
			return errors.Wrapf(err, "case %s", cs.Name)
		}
		for _, input := range op.Inputs() {
			shape, has := cs.Inputs[input]
			if !has || len(shape) == 0 {
				return errors.Errorf("case %s has no shape for %s", cs.Name, input)
			}
			for _, d := range shape {
				if d <= 0 {
					return errors.Errorf("case %s input %s has shape %v", cs.Name, input, shape)
				}
			}
		}
		for _, name := range cs.Check {
			if _, has := cs.Inputs[name]; !has {
				return errors.Errorf("case %s checks unknown input %s", cs.Name, name)
			}
		}
		if cs.Forward && references[cs.Type] == nil {
			return errors.Errorf("case %s: %s has no reference", cs.Name, cs.Type)
		}
	}
	return nil
}
