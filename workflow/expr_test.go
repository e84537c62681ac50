// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name      string
		template  string
		vars      map[string]any
		want      bool
		wantError bool
	}{
		{
			name:     "numeric comparison true",
			template: "{score} > 70",
			vars:     map[string]any{"score": 85},
			want:     true,
		},
		{
			name:     "numeric comparison false",
			template: "{score} > 70",
			vars:     map[string]any{"score": 40},
			want:     false,
		},
		{
			name:     "float from JSON decode",
			template: "{score} >= 70",
			vars:     map[string]any{"score": float64(70)},
			want:     true,
		},
		{
			name:     "string equality",
			template: `{status} == "HOT"`,
			vars:     map[string]any{"status": "HOT"},
			want:     true,
		},
		{
			name:     "string with spaces quotes cleanly",
			template: `{status} == "needs review"`,
			vars:     map[string]any{"status": "needs review"},
			want:     true,
		},
		{
			name:     "boolean variable",
			template: "{approved}",
			vars:     map[string]any{"approved": true},
			want:     true,
		},
		{
			name:     "compound expression",
			template: "{score} > 50 && {status} != \"LOST\"",
			vars:     map[string]any{"score": 60, "status": "WARM"},
			want:     true,
		},
		{
			name:     "literal true with no variables",
			template: "true",
			vars:     nil,
			want:     true,
		},
		{
			name:      "unresolved placeholder fails",
			template:  "{missing} > 10",
			vars:      map[string]any{},
			wantError: true,
		},
		{
			name:      "non-boolean result fails",
			template:  "{score} + 1",
			vars:      map[string]any{"score": 5},
			wantError: true,
		},
		{
			name:      "malformed expression fails",
			template:  "{score} >",
			vars:      map[string]any{"score": 5},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluateCondition(tt.template, tt.vars)
			if tt.wantError {
				assert.Error(t, err)
				assert.False(t, got, "errors always report false")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubstituteVariablesQuoting(t *testing.T) {
	out := substituteVariables(`{name} == "O\"Brien"`, map[string]any{"name": `O"Brien`})
	assert.Contains(t, out, `"O\"Brien"`, "strings are quoted with escaping")

	out = substituteVariables("{n} < {m}", map[string]any{"n": 1, "m": 2.5})
	assert.Equal(t, "1 < 2.5", out)
}

func TestSubstituteVariablesPlain(t *testing.T) {
	out := substituteVariablesPlain("Hi {name}, your score is {score}",
		map[string]any{"name": "Ada", "score": 85})
	assert.Equal(t, "Hi Ada, your score is 85", out)
}
