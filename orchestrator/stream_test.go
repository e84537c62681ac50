// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectChunks(t *testing.T, s *Stream) []StreamChunk {
	t.Helper()
	var out []StreamChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-s.Chunks():
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-timeout:
			t.Fatal("stream did not terminate")
		}
	}
}

func streamingRegistry(t *testing.T, parts ...string) (*Registry, *fakeAdapter) {
	t.Helper()
	reg := NewRegistry()
	a := newFakeAdapter(ProviderAnthropic,
		descriptor("claude-sonnet", ProviderAnthropic, perToken(0.000003, 0.000015)))
	require.NoError(t, mustRegister(reg, a))
	a.chunks["claude-sonnet"] = parts
	return reg, a
}

func TestGenerateStreamSequentialChunkIDs(t *testing.T) {
	reg, _ := streamingRegistry(t, "Hello", ", ", "world")
	orc := New(reg)

	s, err := orc.GenerateStream(context.Background(), GenerationRequest{Prompt: "hi"})
	require.NoError(t, err)
	chunks := collectChunks(t, s)

	require.Len(t, chunks, 4)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkID, "ids are orchestrator-assigned, sequential from zero")
		assert.Equal(t, "claude-sonnet", c.ModelUsed)
	}
	assert.False(t, chunks[0].IsFinal)
	assert.True(t, chunks[3].IsFinal)
	assert.Empty(t, chunks[3].Content)
	assert.Greater(t, chunks[3].TotalTokens, 0)
}

func TestGenerateStreamEmptyStillTerminates(t *testing.T) {
	reg, _ := streamingRegistry(t)
	orc := New(reg)

	s, err := orc.GenerateStream(context.Background(), GenerationRequest{Prompt: "hi"})
	require.NoError(t, err)
	chunks := collectChunks(t, s)

	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsFinal)
	assert.Equal(t, 0, chunks[0].ChunkID)
}

func TestGenerateStreamAdapterErrorSurfacesOnFinalChunk(t *testing.T) {
	reg, a := streamingRegistry(t, "partial")
	a.setFail("claude-sonnet", NewProviderError(ProviderAnthropic, "claude-sonnet", ErrCodeServerError, "upstream 500"))
	orc := New(reg)

	s, err := orc.GenerateStream(context.Background(), GenerationRequest{Prompt: "hi"})
	require.NoError(t, err)
	chunks := collectChunks(t, s)

	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	assert.True(t, last.IsFinal)
	assert.Contains(t, last.Error, "upstream 500")
}

func TestGenerateStreamNonStreamingModelRejected(t *testing.T) {
	reg := NewRegistry()
	d := descriptor("no-stream", ProviderOpenAI, free())
	d.SupportsStreaming = false
	a := newFakeAdapter(ProviderOpenAI, d)
	require.NoError(t, mustRegister(reg, a))

	orc := New(reg)
	_, err := orc.GenerateStream(context.Background(), GenerationRequest{Prompt: "hi"})
	require.Error(t, err)

	var ce *CapabilityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "streaming", ce.Capability)
}

func TestGenerateStreamCancellation(t *testing.T) {
	reg, _ := streamingRegistry(t, "a", "b", "c", "d", "e")
	orc := New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := orc.GenerateStream(ctx, GenerationRequest{Prompt: "hi"})
	require.NoError(t, err)

	// Take one chunk, then walk away.
	select {
	case <-s.Chunks():
	case <-time.After(time.Second):
		t.Fatal("no first chunk")
	}
	cancel()

	assert.Eventually(t, func() bool {
		_, open := <-s.Chunks()
		return !open
	}, 2*time.Second, 10*time.Millisecond, "the channel must close after cancellation")
}

func TestStreamCloseAborts(t *testing.T) {
	reg, _ := streamingRegistry(t, "a", "b", "c")
	orc := New(reg)

	s, err := orc.GenerateStream(context.Background(), GenerationRequest{Prompt: "hi"})
	require.NoError(t, err)
	s.Close()

	assert.Eventually(t, func() bool {
		_, open := <-s.Chunks()
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("   "))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 5, EstimateTokens("a 20-char string!!!!"))
}
