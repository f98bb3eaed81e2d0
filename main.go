// Copyright 2019 The Gradient Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/parser"
	"go/printer"
	"go/token"
	"math"
	"os"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/pointlander/cossim/suite"
)

// Gradient is a gradient template
type Gradient struct {
	input   string // the file containing the template
	output  string // the output file
	Package string // the name of the package
	Type    string // the base type
	Bits    int    // the size of the base type in bits
}

// Execute runs the template
func (g *Gradient) Execute() error {
	input, err := os.ReadFile(g.input)
	if err != nil {
		return err
	}
	tmpl, err := template.New(g.Package).Parse(string(input))
	if err != nil {
		return errors.Wrapf(err, "%s", g.input)
	}
	buffer := bytes.Buffer{}
	err = tmpl.Execute(&buffer, g)
	if err != nil {
		return errors.Wrapf(err, "%s", g.input)
	}

	output, err := os.Create(g.output)
	if err != nil {
		return err
	}
	defer output.Close()

	fileSet := token.NewFileSet()
	code, err := parser.ParseFile(fileSet, g.output, buffer.Bytes(), parser.ParseComments)
	if err != nil {
		buffer.WriteTo(output)
		return fmt.Errorf("%v: %v", g.output, err)
	}

	formatter := printer.Config{Mode: printer.TabIndent | printer.UseSpaces, Tabwidth: 8}
	err = formatter.Fprint(output, fileSet, code)
	if err != nil {
		return fmt.Errorf("%v: %v", g.output, err)
	}
	return nil
}

var gradients = []Gradient{
	{
		input:   "tensor_gradient.t",
		output:  "tf64/gradient.go",
		Package: "tf64",
		Type:    "float64",
		Bits:    64,
	},
	{
		input:   "tensor_gradient.t",
		output:  "tf32/gradient.go",
		Package: "tf32",
		Type:    "float32",
		Bits:    32,
	},
}

// LFSR finds LFSR polynomials with a maximum period
func LFSR() {
	// https://en.wikipedia.org/wiki/Linear-feedback_shift_register
	// https://users.ece.cmu.edu/~koopman/lfsr/index.html
	count, polynomial := 0, uint32(0x80000000)
	for polynomial != 0 {
		lfsr, period := uint32(1), 0
		for {
			lfsr = (lfsr >> 1) ^ (-(lfsr & 1) & polynomial)
			period++
			if lfsr == 1 {
				break
			}
		}
		fmt.Printf("%v period=%v\n", count, period)
		if period == math.MaxUint32 {
			fmt.Printf("%x\n", polynomial)
			return
		}
		count++
		polynomial++
	}
}

func config(file string) (suite.Config, error) {
	if file == "" {
		return suite.DefaultConfig(), nil
	}
	return suite.Load(file)
}

func main() {
	var configFile string

	root := &cobra.Command{
		Use:           "cossim",
		Short:         "Cosine similarity operator kernels and gradient checks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "suite configuration (YAML), the built in cases when empty")
	klog.InitFlags(nil)
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	root.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate the tensor packages from the template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, gradient := range gradients {
				if err := gradient.Execute(); err != nil {
					return err
				}
				klog.Infof("generated %s", gradient.output)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "lfsr",
		Short: "Find LFSR polynomials",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			LFSR()
		},
	})

	var fixture string
	check := &cobra.Command{
		Use:   "check [case...]",
		Short: "Check operator outputs and gradients",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config(configFile)
			if err != nil {
				return err
			}
			if fixture != "" {
				cs, inputs, err := suite.LoadFixture(fixture)
				if err != nil {
					return err
				}
				if err := c.RunFixture(cs, inputs); err != nil {
					return errors.Wrapf(err, "fixture %s", fixture)
				}
				klog.Infof("ok %s", fixture)
				return nil
			}
			if len(args) > 0 {
				cases := make([]suite.Case, 0, len(args))
				for _, name := range args {
					cs, has := c.Find(name)
					if !has {
						return errors.Errorf("unknown case %s", name)
					}
					cases = append(cases, cs)
				}
				c.Cases = cases
			}
			results := c.Run()
			if failed := suite.Failed(results); failed > 0 {
				return errors.Errorf("%d of %d cases failed", failed, len(results))
			}
			fmt.Printf("ok %d cases\n", len(results))
			return nil
		},
	}
	check.Flags().StringVarP(&fixture, "fixture", "f", "", "check the inputs saved in a fixture file")
	root.AddCommand(check)

	var out string
	save := &cobra.Command{
		Use:   "fixture <case>",
		Short: "Save the generated inputs of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config(configFile)
			if err != nil {
				return err
			}
			cs, has := c.Find(args[0])
			if !has {
				return errors.Errorf("unknown case %s", args[0])
			}
			if out == "" {
				out = cs.Name + ".bin"
			}
			if err := suite.SaveFixture(out, cs); err != nil {
				return err
			}
			klog.Infof("saved %s to %s", cs.Name, out)
			return nil
		},
	}
	save.Flags().StringVarP(&out, "out", "o", "", "output file, <case>.bin when empty")
	root.AddCommand(save)

	err := root.Execute()
	klog.Flush()
	if err != nil {
		klog.Errorf("%+v", err)
		klog.Flush()
		os.Exit(1)
	}
}
