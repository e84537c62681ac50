// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// streamBuffer bounds the producer/consumer channel so a slow consumer
// applies backpressure to the adapter instead of buffering unboundedly.
const streamBuffer = 16

// Stream is a live streaming generation. Consume chunks from Chunks();
// the channel closes after the terminal chunk (IsFinal set). Close aborts
// the stream early.
type Stream struct {
	ch     chan StreamChunk
	cancel context.CancelFunc
}

// Chunks returns the chunk channel.
func (s *Stream) Chunks() <-chan StreamChunk {
	return s.ch
}

// Close aborts the stream. Safe to call after the channel has closed.
func (s *Stream) Close() {
	s.cancel()
}

// GenerateStream runs the streaming pipeline: defaults, input rules,
// model selection, capability check, then a producer goroutine that
// renumbers adapter chunks sequentially from zero and terminates the
// sequence with exactly one IsFinal chunk.
func (o *Orchestrator) GenerateStream(ctx context.Context, req GenerationRequest) (*Stream, error) {
	req = req.withDefaults()
	req.Stream = true
	requestID := "req_" + uuid.NewString()

	req = o.applyInputRules(ctx, req, requestID)
	o.enrichFromRetrieval(ctx, &req, requestID)

	modelID, err := o.registry.SelectModel(req)
	if err != nil {
		return nil, err
	}

	d, _ := o.registry.GetModel(modelID)
	if !d.SupportsStreaming {
		return nil, &CapabilityError{ModelID: modelID, Capability: "streaming"}
	}
	adapter, err := o.registry.adapterFor(modelID)
	if err != nil {
		return nil, err
	}
	streamer, ok := adapter.(StreamingAdapter)
	if !ok {
		return nil, &CapabilityError{
			ModelID:    modelID,
			Capability: "streaming",
			Message:    "adapter has no streaming support",
		}
	}

	streamCtx, cancel := context.WithTimeout(ctx, o.streamTimeout)
	s := &Stream{
		ch:     make(chan StreamChunk, streamBuffer),
		cancel: cancel,
	}

	go o.runStream(streamCtx, cancel, s.ch, streamer, modelID, req, requestID)
	return s, nil
}

// runStream is the producer side. It owns the channel: every return path
// emits a terminal chunk and closes it exactly once.
func (o *Orchestrator) runStream(ctx context.Context, cancel context.CancelFunc, ch chan StreamChunk, streamer StreamingAdapter, modelID string, req GenerationRequest, requestID string) {
	defer cancel()
	defer close(ch)

	start := time.Now()
	nextID := 0
	totalTokens := 0

	send := func(chunk StreamChunk) error {
		select {
		case ch <- chunk:
			o.metrics.observeChunk()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := streamer.GenerateStream(ctx, modelID, req, func(chunk StreamChunk) error {
		if chunk.IsFinal {
			// Terminal bookkeeping is the orchestrator's job.
			if chunk.TotalTokens > totalTokens {
				totalTokens = chunk.TotalTokens
			}
			return nil
		}
		chunk.ChunkID = nextID
		chunk.ModelUsed = modelID
		if chunk.TokenCount == 0 {
			chunk.TokenCount = EstimateTokens(chunk.Content)
		}
		totalTokens += chunk.TokenCount
		if err := send(chunk); err != nil {
			return err
		}
		nextID++
		return nil
	})

	final := StreamChunk{
		ChunkID:     nextID,
		IsFinal:     true,
		TotalTokens: totalTokens,
		ModelUsed:   modelID,
	}
	if err != nil && ctx.Err() == nil {
		final.Error = err.Error()
		o.log.ErrorWithCause(req.UserID, requestID, "stream failed", err, map[string]interface{}{
			"model": modelID,
		})
		o.metrics.observeGeneration(modelID, "stream_error", time.Since(start).Seconds())
	} else {
		o.metrics.observeGeneration(modelID, "stream_success", time.Since(start).Seconds())
	}

	// Best effort: if the consumer is gone the context is done and the
	// final chunk is dropped with it.
	select {
	case ch <- final:
	case <-ctx.Done():
	}

	elapsedMS := float64(time.Since(start).Microseconds()) / 1000
	o.registry.RecordLatency(modelID, elapsedMS)
}
