// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// evaluateCondition substitutes {name} placeholders from the variable
// map into the template, then evaluates the result as a boolean
// expression in a sandboxed evaluator with an empty environment.
// Persisted workflow definitions never reach host-language eval; only
// comparisons and boolean operators over the substituted literals run.
//
// Any failure (unknown placeholder left behind, compile error, non-bool
// result) is reported to the caller; condition nodes record it and fall
// through to the false branch.
func evaluateCondition(template string, vars map[string]any) (bool, error) {
	src := substituteVariables(template, vars)

	program, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compiling condition %q: %w", src, err)
	}
	out, err := expr.Run(program, map[string]any{})
	if err != nil {
		return false, fmt.Errorf("evaluating condition %q: %w", src, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", src)
	}
	return result, nil
}

// substituteVariables replaces each {name} placeholder with a literal
// rendering of the variable: strings are quoted, numbers and booleans
// pass through, anything else renders via %v and is quoted.
func substituteVariables(template string, vars map[string]any) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", renderLiteral(value))
	}
	return out
}

func renderLiteral(value any) string {
	switch v := value.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(v)
	case bool:
		return strconv.FormatBool(v)
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", v)
	case json.Number:
		return v.String()
	default:
		return strconv.Quote(fmt.Sprintf("%v", v))
	}
}
