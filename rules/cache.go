// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"sync"
	"time"
)

// ruleSetCache is the id-keyed in-memory cache in front of the store.
// Writers refresh it on every mutation; readers always get clones so a
// cached set can never be mutated through a returned pointer.
type ruleSetCache struct {
	mu   sync.RWMutex
	sets map[string]*RuleSet
}

func newRuleSetCache() *ruleSetCache {
	return &ruleSetCache{sets: make(map[string]*RuleSet)}
}

func (c *ruleSetCache) get(id string) (*RuleSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rs, ok := c.sets[id]
	if !ok {
		return nil, false
	}
	return rs.Clone(), true
}

func (c *ruleSetCache) put(rs *RuleSet) {
	if rs == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[rs.ID] = rs.Clone()
}

func (c *ruleSetCache) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets, id)
}

// bumpUsage keeps cached usage counters roughly in step with the store
// so reads between refreshes stay plausible.
func (c *ruleSetCache) bumpUsage(id string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rs, ok := c.sets[id]; ok {
		rs.UsageCount++
		rs.LastUsed = &at
	}
}
