// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadrelay/platform/orchestrator"
	"leadrelay/platform/shared/logger"
)

// BlockedContextKey is set in the request context when an input block rule
// fires. Downstream consumers decide what to do with blocked requests;
// the engine itself never aborts.
const BlockedContextKey = "_blocked_by_rule"

// DefaultBlockMessage replaces the content when an output block rule
// fires without its own replacement text.
const DefaultBlockMessage = "This response was blocked by a content rule."

// Store is the persistence boundary for rule sets.
type Store interface {
	InsertRuleSet(ctx context.Context, rs *RuleSet) error
	GetRuleSet(ctx context.Context, id string) (*RuleSet, error)
	ListRuleSets(ctx context.Context, createdBy string) ([]*RuleSet, error)
	UpdateRuleSet(ctx context.Context, rs *RuleSet) error
	DeleteRuleSet(ctx context.Context, id string) error
	IncrementUsage(ctx context.Context, id string, at time.Time) error
	InsertUsageEvent(ctx context.Context, event UsageEvent) error
}

// Engine loads rule sets, validates writes, and applies rules around
// generation requests. Reads go through an in-memory cache keyed by id;
// every write refreshes it.
type Engine struct {
	store Store
	cache *ruleSetCache
	log   *logger.Logger
}

// NewEngine creates an Engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		cache: newRuleSetCache(),
		log:   logger.New("rules"),
	}
}

// CreateRuleSet validates and persists a new rule set. Missing ids are
// assigned.
func (e *Engine) CreateRuleSet(ctx context.Context, rs *RuleSet) error {
	if rs.ID == "" {
		rs.ID = "rs_" + uuid.NewString()
	}
	now := time.Now().UTC()
	rs.CreatedAt = now
	rs.UpdatedAt = now
	for i := range rs.Rules {
		if rs.Rules[i].ID == "" {
			rs.Rules[i].ID = "rule_" + uuid.NewString()
		}
		rs.Rules[i].CreatedAt = now
		rs.Rules[i].UpdatedAt = now
	}

	if err := ValidateRuleSet(rs); err != nil {
		return err
	}
	if err := e.store.InsertRuleSet(ctx, rs); err != nil {
		return fmt.Errorf("inserting rule set: %w", err)
	}
	e.cache.put(rs)
	return nil
}

// GetRuleSet returns the rule set by id, from cache when possible.
func (e *Engine) GetRuleSet(ctx context.Context, id string) (*RuleSet, error) {
	if rs, ok := e.cache.get(id); ok {
		return rs, nil
	}
	rs, err := e.store.GetRuleSet(ctx, id)
	if err != nil {
		return nil, err
	}
	e.cache.put(rs)
	return rs.Clone(), nil
}

// ListRuleSets returns rule sets, optionally filtered by creator.
func (e *Engine) ListRuleSets(ctx context.Context, createdBy string) ([]*RuleSet, error) {
	return e.store.ListRuleSets(ctx, createdBy)
}

// UpdateRuleSet validates and persists changes, then refreshes the cache.
func (e *Engine) UpdateRuleSet(ctx context.Context, rs *RuleSet) error {
	rs.UpdatedAt = time.Now().UTC()
	if err := ValidateRuleSet(rs); err != nil {
		return err
	}
	if err := e.store.UpdateRuleSet(ctx, rs); err != nil {
		return fmt.Errorf("updating rule set: %w", err)
	}
	e.cache.put(rs)
	return nil
}

// DeleteRuleSet removes the rule set from store and cache.
func (e *Engine) DeleteRuleSet(ctx context.Context, id string) error {
	if err := e.store.DeleteRuleSet(ctx, id); err != nil {
		return fmt.Errorf("deleting rule set: %w", err)
	}
	e.cache.evict(id)
	return nil
}

// ApplyInputRules implements orchestrator.RulePipeline. It folds the
// set's input-phase rules over the request in ascending priority order,
// returning a rewritten copy. The input request is never mutated.
func (e *Engine) ApplyInputRules(ctx context.Context, req orchestrator.GenerationRequest) (orchestrator.GenerationRequest, error) {
	rs, err := e.GetRuleSet(ctx, req.RuleSetID)
	if err != nil {
		return req, err
	}
	if !rs.IsActive || !rs.appliesTo(req.PreferredModel) {
		return req, nil
	}

	out := req.Clone()
	var fired []string
	for _, rule := range phaseRules(rs, PhaseInput) {
		if !checkCondition(rule.Condition, &out, nil) {
			continue
		}
		out = applyInputAction(rule, out)
		fired = append(fired, rule.ID)
	}

	if len(fired) > 0 {
		e.recordUsage(ctx, rs.ID, fired, PhaseInput)
	}
	return out, nil
}

// ApplyOutputRules implements orchestrator.RulePipeline for the response
// side. The input response is never mutated.
func (e *Engine) ApplyOutputRules(ctx context.Context, ruleSetID string, resp *orchestrator.GenerationResponse) (*orchestrator.GenerationResponse, error) {
	rs, err := e.GetRuleSet(ctx, ruleSetID)
	if err != nil {
		return resp, err
	}
	if !rs.IsActive || !rs.appliesTo(resp.ModelUsed) {
		return resp, nil
	}

	out := resp.Clone()
	var fired []string
	for _, rule := range phaseRules(rs, PhaseOutput) {
		if !checkCondition(rule.Condition, nil, out) {
			continue
		}
		out = applyOutputAction(rule, out)
		fired = append(fired, rule.ID)
	}

	out.RulesApplied = append(out.RulesApplied, fired...)
	if len(fired) > 0 {
		e.recordUsage(ctx, rs.ID, fired, PhaseOutput)
	}
	return out, nil
}

// recordUsage bumps the set's usage counter and appends an event. Both
// are best-effort; a ledger hiccup must not fail the request.
func (e *Engine) recordUsage(ctx context.Context, ruleSetID string, ruleIDs []string, phase string) {
	now := time.Now().UTC()
	if err := e.store.IncrementUsage(ctx, ruleSetID, now); err != nil {
		e.log.Warn("", "", "rule usage increment failed", map[string]interface{}{
			"rule_set_id": ruleSetID,
			"error":       err.Error(),
		})
	}
	if err := e.store.InsertUsageEvent(ctx, UsageEvent{
		RuleSetID: ruleSetID,
		RuleIDs:   ruleIDs,
		Phase:     phase,
		Timestamp: now,
	}); err != nil {
		e.log.Warn("", "", "rule usage event insert failed", map[string]interface{}{
			"rule_set_id": ruleSetID,
			"error":       err.Error(),
		})
	}
	e.cache.bumpUsage(ruleSetID, now)
}

// appliesTo reports whether the set covers the given model. An empty
// AppliesToModels list covers everything.
func (rs *RuleSet) appliesTo(modelID string) bool {
	if len(rs.AppliesToModels) == 0 || modelID == "" {
		return true
	}
	for _, id := range rs.AppliesToModels {
		if id == modelID {
			return true
		}
	}
	return false
}

// phaseRules returns the active rules for a phase, priority ascending.
// Sorting is stable so rules with equal priority keep definition order.
func phaseRules(rs *RuleSet, phase string) []CustomRule {
	var out []CustomRule
	for _, rule := range rs.Rules {
		if !rule.IsActive {
			continue
		}
		if phase == PhaseInput && inputPhaseTypes[rule.RuleType] {
			out = append(out, rule)
		}
		if phase == PhaseOutput && outputPhaseTypes[rule.RuleType] {
			out = append(out, rule)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// checkCondition evaluates a predicate against the request or response.
// It is pure and total: any malformed input yields false, never a panic
// or an error.
func checkCondition(cond Condition, req *orchestrator.GenerationRequest, resp *orchestrator.GenerationResponse) bool {
	target, ok := conditionTarget(cond, req, resp)
	if !ok {
		return false
	}

	switch cond.Type {
	case CondContains:
		return strings.Contains(strings.ToLower(target), strings.ToLower(cond.Value))
	case CondMatches:
		re, err := regexp.Compile(cond.Value)
		if err != nil {
			return false
		}
		return re.MatchString(target)
	case CondEquals:
		return target == cond.Value
	case CondLength:
		n := len(target)
		if n < cond.MinLength {
			return false
		}
		if cond.MaxLength > 0 && n > cond.MaxLength {
			return false
		}
		return true
	case CondContext:
		if req == nil || req.Context == nil {
			return false
		}
		v, ok := req.Context[cond.Key]
		if !ok {
			return false
		}
		return fmt.Sprintf("%v", v) == cond.Expected
	case CondConfidence:
		if resp == nil || resp.Confidence == nil {
			return false
		}
		return *resp.Confidence >= cond.Threshold
	case CondBannedWords:
		lower := strings.ToLower(target)
		for _, w := range cond.Words {
			if w != "" && strings.Contains(lower, strings.ToLower(w)) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// conditionTarget resolves the text the predicate inspects. The context
// target serializes the request context as JSON so substring and regex
// predicates can reach into it.
func conditionTarget(cond Condition, req *orchestrator.GenerationRequest, resp *orchestrator.GenerationResponse) (string, bool) {
	switch cond.Target {
	case TargetPrompt:
		if req == nil {
			return "", false
		}
		return req.Prompt, true
	case TargetResponse:
		if resp == nil {
			return "", false
		}
		return resp.Content, true
	case TargetContext:
		if req == nil {
			return "", false
		}
		if req.Context == nil {
			return "{}", true
		}
		b, err := json.Marshal(req.Context)
		if err != nil {
			return "", false
		}
		return string(b), true
	default:
		return "", false
	}
}

// applyInputAction returns the request after one rule's effect. The input
// is already a clone owned by the caller.
func applyInputAction(rule CustomRule, req orchestrator.GenerationRequest) orchestrator.GenerationRequest {
	switch rule.Action.Type {
	case ActionModifyPrompt:
		switch rule.Action.Mode {
		case "append":
			req.Prompt = req.Prompt + rule.Action.Text
		case "prepend":
			req.Prompt = rule.Action.Text + req.Prompt
		case "replace":
			req.Prompt = rule.Action.Text
		}
	case ActionSetParameter:
		switch rule.Action.Parameter {
		case "max_tokens":
			req.MaxTokens = int(rule.Action.Value)
		case "temperature":
			req.Temperature = rule.Action.Value
		case "top_p":
			req.TopP = rule.Action.Value
		case "priority":
			req.Priority = int(rule.Action.Value)
		}
	case ActionAddContext:
		if req.Context == nil {
			req.Context = make(map[string]any)
		}
		for k, v := range rule.Action.Context {
			req.Context[k] = v
		}
	case ActionBlock:
		if req.Context == nil {
			req.Context = make(map[string]any)
		}
		req.Context[BlockedContextKey] = rule.ID
	}
	return req
}

// applyOutputAction returns the response after one rule's effect. The
// input is already a clone owned by the caller.
func applyOutputAction(rule CustomRule, resp *orchestrator.GenerationResponse) *orchestrator.GenerationResponse {
	switch rule.Action.Type {
	case ActionModifyContent:
		switch rule.Action.Mode {
		case "append":
			resp.Content = resp.Content + rule.Action.Text
		case "prepend":
			resp.Content = rule.Action.Text + resp.Content
		default:
			resp.Content = rule.Action.Text
		}
	case ActionFormat:
		resp.Content = formatContent(resp.Content, rule.Action.Mode)
	case ActionFilter:
		resp.Content = filterWords(resp.Content, rule.Action.Words)
	case ActionBlock:
		replacement := rule.Action.Text
		if replacement == "" {
			replacement = DefaultBlockMessage
		}
		resp.Content = replacement
		if resp.Metadata == nil {
			resp.Metadata = make(map[string]any)
		}
		resp.Metadata[BlockedContextKey] = rule.ID
	}
	return resp
}

// formatContent re-renders content per the format mode. Unknown modes
// leave the content untouched.
func formatContent(content, mode string) string {
	switch mode {
	case "markdown":
		if strings.HasPrefix(content, "```") {
			return content
		}
		return "```\n" + content + "\n```"
	case "json":
		b, err := json.Marshal(map[string]string{"response": content})
		if err != nil {
			return content
		}
		return string(b)
	default:
		return content
	}
}

// filterWords removes each word from the content, case-insensitively,
// replacing it with asterisks of the same length.
func filterWords(content string, words []string) string {
	for _, w := range words {
		if w == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(w))
		if err != nil {
			continue
		}
		content = re.ReplaceAllString(content, strings.Repeat("*", len(w)))
	}
	return content
}
