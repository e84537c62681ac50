// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "context"

// ProviderAdapter is the uniform interface every AI backend implements.
// Adapters translate the unified request/response types into the
// provider's wire protocol. Implementations must be safe for concurrent
// use after Initialize returns.
type ProviderAdapter interface {
	// Kind returns the adapter's provider family.
	Kind() ProviderKind

	// Initialize prepares the adapter (credential checks, connection
	// setup). Called once by the registry before any other method.
	Initialize(ctx context.Context) error

	// ListModels returns the descriptors this adapter serves. The
	// registry snapshots these at registration time.
	ListModels(ctx context.Context) ([]ModelDescriptor, error)

	// Generate produces a complete response for the request against the
	// named model.
	Generate(ctx context.Context, modelID string, req GenerationRequest) (*GenerationResponse, error)

	// CheckHealth probes the named model. A false return or an error
	// marks the model unhealthy.
	CheckHealth(ctx context.Context, modelID string) (bool, error)

	// Configure applies provider-specific options to the named model and
	// returns the resulting effective option set.
	Configure(ctx context.Context, modelID string, options map[string]any) (map[string]any, error)
}

// StreamingAdapter is implemented by adapters that support token
// streaming. The handler is invoked once per upstream chunk; chunk ids in
// handler input are provisional, the orchestrator renumbers them.
type StreamingAdapter interface {
	ProviderAdapter

	GenerateStream(ctx context.Context, modelID string, req GenerationRequest, handler StreamHandler) error
}
