// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"fmt"
	"regexp"
)

// ValidationError reports a rejected rule with enough context to fix it.
type ValidationError struct {
	RuleID  string `json:"rule_id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("rule %s: invalid %s: %s", e.RuleID, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// conditionAllowList maps each rule type to the condition types it may
// carry. A condition outside its rule type's list fails validation.
var conditionAllowList = map[RuleType][]string{
	RuleInputFilter:        {CondContains, CondMatches, CondEquals, CondLength, CondContext},
	RulePromptEnhancement:  {CondContains, CondMatches, CondEquals, CondLength, CondContext},
	RuleCostOptimization:   {CondContains, CondMatches, CondEquals, CondLength, CondContext},
	RuleContentModeration:  {CondContains, CondMatches, CondBannedWords},
	RuleOutputFilter:       {CondContains, CondMatches, CondEquals, CondLength, CondConfidence},
	RuleResponseFormatting: {CondContains, CondMatches, CondEquals, CondLength, CondConfidence},
}

// inputActionTypes and outputActionTypes gate which actions each phase
// accepts.
var inputActionTypes = map[string]bool{
	ActionModifyPrompt: true,
	ActionSetParameter: true,
	ActionAddContext:   true,
	ActionBlock:        true,
}

var outputActionTypes = map[string]bool{
	ActionModifyContent: true,
	ActionFormat:        true,
	ActionFilter:        true,
	ActionBlock:         true,
}

var settableParameters = map[string]bool{
	"max_tokens":  true,
	"temperature": true,
	"top_p":       true,
	"priority":    true,
}

// inputPhaseTypes lists the rule types evaluated before dispatch;
// outputPhaseTypes after. Content moderation runs in both phases.
var inputPhaseTypes = map[RuleType]bool{
	RuleInputFilter:       true,
	RulePromptEnhancement: true,
	RuleCostOptimization:  true,
	RuleContentModeration: true,
}

var outputPhaseTypes = map[RuleType]bool{
	RuleOutputFilter:       true,
	RuleResponseFormatting: true,
	RuleContentModeration:  true,
}

// ValidateRule checks a single rule's shape: known rule type, condition
// from the type's allow-list, action matching the rule's phase, and
// compilable regex for matches conditions.
func ValidateRule(rule CustomRule) error {
	allowed, ok := conditionAllowList[rule.RuleType]
	if !ok {
		return &ValidationError{
			RuleID:  rule.ID,
			Field:   "rule_type",
			Message: fmt.Sprintf("unknown rule type %q", rule.RuleType),
		}
	}

	if !contains(allowed, rule.Condition.Type) {
		return &ValidationError{
			RuleID:  rule.ID,
			Field:   "condition.type",
			Message: fmt.Sprintf("condition type %q not allowed for rule type %q", rule.Condition.Type, rule.RuleType),
		}
	}

	switch rule.Condition.Target {
	case TargetPrompt, TargetResponse, TargetContext:
	default:
		return &ValidationError{
			RuleID:  rule.ID,
			Field:   "condition.target",
			Message: fmt.Sprintf("unknown target %q", rule.Condition.Target),
		}
	}

	if rule.Condition.Type == CondMatches {
		if _, err := regexp.Compile(rule.Condition.Value); err != nil {
			return &ValidationError{
				RuleID:  rule.ID,
				Field:   "condition.value",
				Message: fmt.Sprintf("invalid regex: %v", err),
			}
		}
	}
	if rule.Condition.Type == CondBannedWords && len(rule.Condition.Words) == 0 {
		return &ValidationError{
			RuleID:  rule.ID,
			Field:   "condition.words",
			Message: "banned_words condition requires a non-empty word list",
		}
	}
	if rule.Condition.Type == CondLength && rule.Condition.MaxLength > 0 && rule.Condition.MinLength > rule.Condition.MaxLength {
		return &ValidationError{
			RuleID:  rule.ID,
			Field:   "condition.min_length",
			Message: "min_length exceeds max_length",
		}
	}

	input := inputPhaseTypes[rule.RuleType]
	output := outputPhaseTypes[rule.RuleType]
	validAction := (input && inputActionTypes[rule.Action.Type]) ||
		(output && outputActionTypes[rule.Action.Type])
	if !validAction {
		return &ValidationError{
			RuleID:  rule.ID,
			Field:   "action.type",
			Message: fmt.Sprintf("action type %q not allowed for rule type %q", rule.Action.Type, rule.RuleType),
		}
	}

	if rule.Action.Type == ActionSetParameter && !settableParameters[rule.Action.Parameter] {
		return &ValidationError{
			RuleID:  rule.ID,
			Field:   "action.parameter",
			Message: fmt.Sprintf("parameter %q is not settable", rule.Action.Parameter),
		}
	}
	if rule.Action.Type == ActionFormat {
		switch rule.Action.Mode {
		case "markdown", "json":
		default:
			return &ValidationError{
				RuleID:  rule.ID,
				Field:   "action.mode",
				Message: fmt.Sprintf("unknown format mode %q", rule.Action.Mode),
			}
		}
	}
	if rule.Action.Type == ActionModifyPrompt {
		switch rule.Action.Mode {
		case "append", "prepend", "replace":
		default:
			return &ValidationError{
				RuleID:  rule.ID,
				Field:   "action.mode",
				Message: fmt.Sprintf("unknown modify_prompt mode %q", rule.Action.Mode),
			}
		}
	}

	return nil
}

// ValidateRuleSet checks the set shape and every contained rule.
func ValidateRuleSet(rs *RuleSet) error {
	if rs.Name == "" {
		return &ValidationError{Field: "name", Message: "rule set name is required"}
	}
	if len(rs.Rules) == 0 {
		return &ValidationError{Field: "rules", Message: "rule set must contain at least one rule"}
	}
	seen := make(map[string]bool, len(rs.Rules))
	for _, rule := range rs.Rules {
		if rule.ID != "" && seen[rule.ID] {
			return &ValidationError{
				RuleID:  rule.ID,
				Field:   "id",
				Message: "duplicate rule id within set",
			}
		}
		seen[rule.ID] = true
		if err := ValidateRule(rule); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
