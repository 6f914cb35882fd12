/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tracer

import (
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
)

// ShareHelp describes the share formula
const ShareHelp = `The share formula decides how many virtual instructions each process of a tracer gets per round-robin turn.
evaluation is done with govaluate, please check https://github.com/Knetic/govaluate/blob/master/MANUAL.md
supported variables:
  quantum (tracer quantum, in virtual instructions)
  n (number of processes in the schedule queue)
supported functions:
  min(a, b), max(a, b), floor(value)`

// DefaultShareFormula splits a quantum evenly
const DefaultShareFormula = "quantum / n"

var shareVariables = []string{"quantum", "n"}

var shareFunctions = map[string]govaluate.ExpressionFunction{
	"min": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("min: wrong number of arguments: want 2, got %d", len(args))
		}
		return math.Min(args[0].(float64), args[1].(float64)), nil
	},
	"max": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("max: wrong number of arguments: want 2, got %d", len(args))
		}
		return math.Max(args[0].(float64), args[1].(float64)), nil
	},
	"floor": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("floor: wrong number of arguments: want 1, got %d", len(args))
		}
		return math.Floor(args[0].(float64)), nil
	},
}

// ShareFunc computes the per-turn share of a process
type ShareFunc func(quantum int64, n int) int64

// EvenShare splits a quantum evenly, never going below one instruction
func EvenShare(quantum int64, n int) int64 {
	if n <= 0 {
		return quantum
	}
	return max(quantum/int64(n), 1)
}

// NewShareFormula parses a share formula
func NewShareFormula(exprStr string) (ShareFunc, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, shareFunctions)
	if err != nil {
		return nil, err
	}
	for _, v := range expr.Vars() {
		supported := false
		for _, s := range shareVariables {
			if v == s {
				supported = true
			}
		}
		if !supported {
			return nil, fmt.Errorf("unsupported variable %q", v)
		}
	}
	return func(quantum int64, n int) int64 {
		if n <= 0 {
			return quantum
		}
		res, err := expr.Evaluate(map[string]interface{}{
			"quantum": float64(quantum),
			"n":       float64(n),
		})
		if err != nil {
			return EvenShare(quantum, n)
		}
		v, ok := res.(float64)
		if !ok || math.IsNaN(v) || v < 1 {
			return 1
		}
		if v > float64(quantum) {
			return quantum
		}
		return int64(v)
	}, nil
}
