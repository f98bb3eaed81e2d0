// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	for _, gradient := range gradients {
		gradient.output = filepath.Join(dir, gradient.Package+".go")
		require.NoError(t, gradient.Execute())
		code, err := os.ReadFile(gradient.output)
		require.NoError(t, err)
		source := string(code)
		assert.Contains(t, source, "package "+gradient.Package)
		assert.Contains(t, source, "X []"+gradient.Type)
		assert.Contains(t, source, "func CosSimGrad(")
		if gradient.Type == "float32" {
			assert.Contains(t, source, "math32.Sqrt")
			assert.Contains(t, source, "AppendFixed32")
		} else {
			assert.NotContains(t, source, "math32")
			assert.Contains(t, source, "AppendFixed64")
		}
		assert.NotContains(t, source, "{{")
	}
}

func TestGenerateMissingTemplate(t *testing.T) {
	gradient := Gradient{
		input:   filepath.Join(t.TempDir(), "missing.t"),
		output:  filepath.Join(t.TempDir(), "out.go"),
		Package: "tf32",
		Type:    "float32",
		Bits:    32,
	}
	assert.Error(t, gradient.Execute())
}
