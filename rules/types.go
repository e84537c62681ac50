// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

// Package rules implements the custom rule engine: declarative
// condition/action pairs that rewrite generation requests before dispatch
// and responses after. Rule sets are stored in Postgres and cached in
// memory; evaluation itself never touches the store.
package rules

import "time"

// RuleType categorizes a rule and constrains which condition types it may
// use.
type RuleType string

const (
	RuleInputFilter        RuleType = "input_filter"
	RuleOutputFilter       RuleType = "output_filter"
	RuleContentModeration  RuleType = "content_moderation"
	RulePromptEnhancement  RuleType = "prompt_enhancement"
	RuleResponseFormatting RuleType = "response_formatting"
	RuleCostOptimization   RuleType = "cost_optimization"
)

// Condition types.
const (
	// CondContains matches when the target contains a substring
	// (case-insensitive).
	CondContains = "contains"

	// CondMatches matches the target against a regular expression.
	CondMatches = "matches"

	// CondEquals compares the target for exact equality.
	CondEquals = "equals"

	// CondLength checks the target's length against a min/max range.
	CondLength = "length"

	// CondContext checks a request context key for an expected value.
	CondContext = "context"

	// CondConfidence compares the response confidence against a threshold.
	CondConfidence = "confidence"

	// CondBannedWords matches when the target contains any word from a
	// list (case-insensitive).
	CondBannedWords = "banned_words"
)

// Condition targets.
const (
	TargetPrompt   = "prompt"
	TargetResponse = "response"
	TargetContext  = "context"
)

// Input action types.
const (
	// ActionModifyPrompt rewrites the prompt (append, prepend, replace).
	ActionModifyPrompt = "modify_prompt"

	// ActionSetParameter overrides a request tuning parameter.
	ActionSetParameter = "set_parameter"

	// ActionAddContext merges entries into the request context.
	ActionAddContext = "add_context"

	// ActionBlock annotates the request as blocked. It never aborts the
	// pipeline; downstream consumers decide what a block means.
	ActionBlock = "block"
)

// Output action types.
const (
	// ActionModifyContent rewrites the response content.
	ActionModifyContent = "modify_content"

	// ActionFormat re-renders the content (markdown, json).
	ActionFormat = "format"

	// ActionFilter removes banned words from the content.
	ActionFilter = "filter"
)

// Condition is the predicate half of a rule.
type Condition struct {
	// Type names the predicate (contains, matches, equals, length,
	// context, confidence, banned_words).
	Type string `json:"type"`

	// Target selects what the predicate inspects (prompt, response,
	// context).
	Target string `json:"target"`

	// Value is the comparison operand for contains/matches/equals.
	Value string `json:"value,omitempty"`

	// Words is the word list for banned_words.
	Words []string `json:"words,omitempty"`

	// MinLength and MaxLength bound the length predicate. A zero
	// MaxLength means unbounded above.
	MinLength int `json:"min_length,omitempty"`
	MaxLength int `json:"max_length,omitempty"`

	// Key and Expected drive the context predicate.
	Key      string `json:"key,omitempty"`
	Expected string `json:"expected,omitempty"`

	// Threshold is the confidence cutoff; the predicate is true when the
	// response confidence meets or exceeds it.
	Threshold float64 `json:"threshold,omitempty"`
}

// Action is the effect half of a rule.
type Action struct {
	// Type names the effect (modify_prompt, set_parameter, add_context,
	// block, modify_content, format, filter).
	Type string `json:"type"`

	// Mode refines modify_prompt (append, prepend, replace) and format
	// (markdown, json).
	Mode string `json:"mode,omitempty"`

	// Text is the payload for prompt/content modification and the
	// replacement message for block.
	Text string `json:"text,omitempty"`

	// Parameter and Value drive set_parameter (max_tokens, temperature,
	// top_p, priority).
	Parameter string  `json:"parameter,omitempty"`
	Value     float64 `json:"value,omitempty"`

	// Context is the entry set merged by add_context.
	Context map[string]any `json:"context,omitempty"`

	// Words is the removal list for filter.
	Words []string `json:"words,omitempty"`
}

// CustomRule is one condition/action pair inside a rule set.
type CustomRule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	RuleType    RuleType  `json:"rule_type"`
	Condition   Condition `json:"condition"`
	Action      Action    `json:"action"`

	// Priority orders evaluation within a phase, ascending.
	Priority int `json:"priority"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RuleSet is a named, versioned collection of rules applied together.
type RuleSet struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Rules       []CustomRule `json:"rules"`
	IsActive    bool         `json:"is_active"`

	// AppliesToModels restricts the set to specific model ids; empty
	// means all models.
	AppliesToModels []string `json:"applies_to_models,omitempty"`

	CreatedBy  string     `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	UsageCount int64      `json:"usage_count"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
}

// Clone returns a deep copy of the rule set.
func (rs *RuleSet) Clone() *RuleSet {
	if rs == nil {
		return nil
	}
	out := *rs
	out.Rules = make([]CustomRule, len(rs.Rules))
	copy(out.Rules, rs.Rules)
	if rs.AppliesToModels != nil {
		out.AppliesToModels = make([]string, len(rs.AppliesToModels))
		copy(out.AppliesToModels, rs.AppliesToModels)
	}
	if rs.LastUsed != nil {
		lu := *rs.LastUsed
		out.LastUsed = &lu
	}
	return &out
}

// UsageEvent records one application of a rule set against a request
// phase ("input" or "output").
type UsageEvent struct {
	RuleSetID string    `json:"rule_set_id"`
	RuleIDs   []string  `json:"rule_ids"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
}

// Phases.
const (
	PhaseInput  = "input"
	PhaseOutput = "output"
)
