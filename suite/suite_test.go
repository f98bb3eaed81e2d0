// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointlander/cossim/gradcheck"
	"github.com/pointlander/cossim/operators"
)

const config = `
cases:
  - name: cos_sim_grad_2d
    type: cos_sim
    seed: 2
    inputs:
      X: [6, 5]
      Y: [6, 5]
    check: [X, Y]
  - name: cos_sim_3d_bcast
    type: cos_sim
    seed: 3
    forward: true
    inputs:
      X: [32, 64, 10]
      Y: [1, 64, 10]
  - name: dropout
    type: dropout
    inputs:
      X: [4, 8]
    attributes:
      dropout_prob: 0.25
      seed: 9
    check: [X]
    max_relative_error: 0.01
`

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	results := config.Run()
	require.Len(t, results, len(config.Cases))
	for _, result := range results {
		assert.NoError(t, result.Err, result.Case)
	}
	assert.Equal(t, 0, Failed(results))
}

func TestParse(t *testing.T) {
	parsed, err := Parse([]byte(config))
	require.NoError(t, err)
	assert.Equal(t, gradcheck.DefaultDelta, parsed.Delta)
	assert.Equal(t, DefaultAtol, parsed.Atol)
	require.Len(t, parsed.Cases, 3)

	grad := parsed.Cases[0]
	assert.Equal(t, "Out", grad.Output)
	assert.Equal(t, DefaultMaxRelativeError, grad.MaxRelativeError)
	assert.Equal(t, []int{6, 5}, grad.Inputs["X"])

	dropout := parsed.Cases[2]
	assert.Equal(t, .01, dropout.MaxRelativeError)
	op, err := operators.Create(dropout.Type, dropout.Attributes)
	require.NoError(t, err)
	assert.Equal(t, operators.Dropout{Prob: .25, Seed: 9}, op)

	assert.Equal(t, 0, Failed(parsed.Run()))
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown type": `
cases:
  - name: a
    type: cos
    inputs: {X: [2, 2], Y: [2, 2]}
`,
		"missing input": `
cases:
  - name: a
    type: cos_sim
    inputs: {X: [2, 2]}
`,
		"bad shape": `
cases:
  - name: a
    type: cos_sim
    inputs: {X: [2, 0], Y: [2, 2]}
`,
		"duplicate": `
cases:
  - name: a
    type: cos_sim
    inputs: {X: [2, 2], Y: [2, 2]}
  - name: a
    type: cos_sim
    inputs: {X: [2, 2], Y: [2, 2]}
`,
		"no reference": `
cases:
  - name: a
    type: dropout
    forward: true
    inputs: {X: [2, 2]}
`,
		"bad attribute": `
cases:
  - name: a
    type: dropout
    attributes: {dropout_prob: 1}
    inputs: {X: [2, 2]}
`,
	}
	for name, data := range cases {
		_, err := Parse([]byte(data))
		assert.Error(t, err, name)
	}
	_, err := Parse([]byte("cases: [1"))
	assert.Error(t, err)
}

func TestBroadcastMismatch(t *testing.T) {
	config := DefaultConfig()
	config.Cases = []Case{{
		Name:   "mismatch",
		Type:   operators.CosSimType,
		Inputs: map[string][]int{"X": {6, 5}, "Y": {2, 5}},
		Check:  []string{"X"},
		Output: "Out",
	}}
	results := config.Run()
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	assert.Equal(t, 1, Failed(results))
}

func TestLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(file, []byte(config), 0644))
	loaded, err := Load(file)
	require.NoError(t, err)
	assert.Len(t, loaded.Cases, 3)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFixture(t *testing.T) {
	config := DefaultConfig()
	cs, has := config.Find("cos_sim_grad_3d_bcast")
	require.True(t, has)
	file := filepath.Join(t.TempDir(), "fixture.bin")
	require.NoError(t, SaveFixture(file, cs))

	loaded, inputs, err := LoadFixture(file)
	require.NoError(t, err)
	assert.Equal(t, cs.Type, loaded.Type)
	assert.Equal(t, cs.Seed, loaded.Seed)
	assert.Equal(t, cs.Inputs, loaded.Inputs)
	assert.ElementsMatch(t, []string{"X", "Y"}, loaded.Check)

	_, generated, err := Inputs(cs)
	require.NoError(t, err)
	assert.Equal(t, generated["X"].X, inputs["X"].X)
	assert.Equal(t, generated["Y"].X, inputs["Y"].X)
	require.NoError(t, config.RunFixture(loaded, inputs))

	_, has = config.Find("missing")
	assert.False(t, has)
}

func TestFixtureAttributes(t *testing.T) {
	config := DefaultConfig()
	cs := Case{
		Name:             "dropout_fixture",
		Type:             operators.DropoutType,
		Seed:             5,
		Inputs:           map[string][]int{"X": {4, 8}},
		Attributes:       operators.Attributes{"dropout_prob": .25, "seed": 9},
		Check:            []string{"X"},
		Output:           DefaultOutput,
		MaxRelativeError: .005,
	}
	file := filepath.Join(t.TempDir(), "dropout.bin")
	require.NoError(t, SaveFixture(file, cs))

	loaded, inputs, err := LoadFixture(file)
	require.NoError(t, err)
	saved, err := operators.Create(cs.Type, cs.Attributes)
	require.NoError(t, err)
	restored, err := operators.Create(loaded.Type, loaded.Attributes)
	require.NoError(t, err)
	assert.Equal(t, operators.Dropout{Prob: .25, Seed: 9}, restored)
	assert.Equal(t, saved, restored)

	expected, err := saved.Run(operators.CPU32, inputs)
	require.NoError(t, err)
	actual, err := restored.Run(operators.CPU32, inputs)
	require.NoError(t, err)
	assert.Equal(t, expected["Mask"].X, actual["Mask"].X)
	require.NoError(t, config.RunFixture(loaded, inputs))

	cs.Attributes = operators.Attributes{"dropout_prob": "half"}
	assert.Error(t, SaveFixture(filepath.Join(t.TempDir(), "bad.bin"), cs))
}
