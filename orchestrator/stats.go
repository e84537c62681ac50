// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "sync"

// maxLatencySamples bounds the rolling latency window per model.
const maxLatencySamples = 100

// modelStats keeps the rolling latency observations for one model. Only
// the most recent maxLatencySamples are retained.
type modelStats struct {
	mu        sync.Mutex
	count     int64
	latencies []float64
	next      int
}

// record appends a latency observation in milliseconds, evicting the
// oldest once the window is full.
func (s *modelStats) record(latencyMS float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if len(s.latencies) < maxLatencySamples {
		s.latencies = append(s.latencies, latencyMS)
		return
	}
	s.latencies[s.next] = latencyMS
	s.next = (s.next + 1) % maxLatencySamples
}

// average returns the mean latency over the window and whether any
// observations exist.
func (s *modelStats) average() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range s.latencies {
		sum += v
	}
	return sum / float64(len(s.latencies)), true
}

// requestCount returns the lifetime request count for this model.
func (s *modelStats) requestCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// statsTable maps model ids to their rolling stats.
type statsTable struct {
	mu      sync.RWMutex
	byModel map[string]*modelStats
}

func newStatsTable() *statsTable {
	return &statsTable{byModel: make(map[string]*modelStats)}
}

func (t *statsTable) forModel(modelID string) *modelStats {
	t.mu.RLock()
	s, ok := t.byModel[modelID]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byModel[modelID]; ok {
		return s
	}
	s = &modelStats{}
	t.byModel[modelID] = s
	return s
}

// ModelUsageSnapshot is a point-in-time view of one model's rolling stats.
type ModelUsageSnapshot struct {
	ModelID      string  `json:"model_id"`
	RequestCount int64   `json:"request_count"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	HasLatency   bool    `json:"has_latency"`
}

// snapshot returns stats for every model seen so far.
func (t *statsTable) snapshot() []ModelUsageSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ModelUsageSnapshot, 0, len(t.byModel))
	for id, s := range t.byModel {
		avg, ok := s.average()
		out = append(out, ModelUsageSnapshot{
			ModelID:      id,
			RequestCount: s.requestCount(),
			AvgLatencyMS: avg,
			HasLatency:   ok,
		})
	}
	return out
}
