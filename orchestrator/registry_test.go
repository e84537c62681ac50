// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAdapterDuplicateModelID(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderOpenAI, descriptor("shared-id", ProviderOpenAI, free()))
	b := newFakeAdapter(ProviderOllama, descriptor("shared-id", ProviderOllama, free()))

	require.NoError(t, reg.RegisterAdapter(context.Background(), a))
	err := reg.RegisterAdapter(context.Background(), b)
	require.Error(t, err)

	var re *RegistryError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeDuplicateModel, re.Code)

	// The failed registration must leave no partial state behind.
	assert.Len(t, reg.ListModels(), 1)
	_, err = reg.adapterFor("shared-id")
	require.NoError(t, err)
}

func TestRegisterAdapterDuplicateKind(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderOpenAI, descriptor("m1", ProviderOpenAI, free()))
	b := newFakeAdapter(ProviderOpenAI, descriptor("m2", ProviderOpenAI, free()))

	require.NoError(t, reg.RegisterAdapter(context.Background(), a))
	err := reg.RegisterAdapter(context.Background(), b)

	var re *RegistryError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeAlreadyRegistered, re.Code)
}

func TestListModelsPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderOpenAI,
		descriptor("alpha", ProviderOpenAI, free()),
		descriptor("beta", ProviderOpenAI, free()))
	b := newFakeAdapter(ProviderOllama, descriptor("gamma", ProviderOllama, free()))
	require.NoError(t, mustRegister(reg, a, b))

	var ids []string
	for _, d := range reg.ListModels() {
		ids = append(ids, d.ModelID)
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, ids)
}

func TestListModelsReturnsCopies(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderOpenAI, descriptor("m1", ProviderOpenAI, free()))
	require.NoError(t, mustRegister(reg, a))

	models := reg.ListModels()
	models[0].IsActive = false

	d, _ := reg.GetModel("m1")
	assert.True(t, d.IsActive, "mutating a returned descriptor must not touch the catalog")
}

func TestCheckHealthAllMarksFailures(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderOpenAI,
		descriptor("good", ProviderOpenAI, free()),
		descriptor("bad", ProviderOpenAI, free()))
	require.NoError(t, mustRegister(reg, a))
	a.setFail("bad", errors.New("connection refused"))

	reg.CheckHealthAll(context.Background())

	good, _ := reg.GetModel("good")
	bad, _ := reg.GetModel("bad")
	assert.Equal(t, HealthHealthy, good.Health)
	assert.Equal(t, HealthUnhealthy, bad.Health)
	assert.False(t, bad.LastHealthCheck.IsZero())
}

func TestHealthRecovery(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderOpenAI, descriptor("m1", ProviderOpenAI, free()))
	require.NoError(t, mustRegister(reg, a))

	a.setFail("m1", errors.New("503"))
	reg.CheckHealthAll(context.Background())
	d, _ := reg.GetModel("m1")
	require.Equal(t, HealthUnhealthy, d.Health)

	a.setFail("m1", nil)
	reg.CheckHealthAll(context.Background())
	d, _ = reg.GetModel("m1")
	assert.Equal(t, HealthHealthy, d.Health, "a model must come back after a passing probe")
}

func TestStartHealthLoopStopsOnCancel(t *testing.T) {
	reg := NewRegistry(WithHealthCheckInterval(10 * time.Millisecond))
	a := newFakeAdapter(ProviderOpenAI, descriptor("m1", ProviderOpenAI, free()))
	require.NoError(t, mustRegister(reg, a))

	ctx, cancel := context.WithCancel(context.Background())
	reg.StartHealthLoop(ctx)

	assert.Eventually(t, func() bool {
		d, _ := reg.GetModel("m1")
		return !d.LastHealthCheck.IsZero()
	}, time.Second, 5*time.Millisecond)

	cancel()
	// Nothing to assert beyond not leaking: the loop exits on ctx.Done.
}

func TestRegisterModelCatalogOnly(t *testing.T) {
	reg := NewRegistry()
	d := descriptor("custom-model", ProviderCustom, PricingPolicy{Kind: PricingSubscription})
	require.NoError(t, reg.RegisterModel(d))

	got, ok := reg.GetModel("custom-model")
	require.True(t, ok)
	assert.Equal(t, ProviderCustom, got.Provider)

	_, err := reg.adapterFor("custom-model")
	require.Error(t, err, "catalog-only models have no adapter")
}

func TestSetActive(t *testing.T) {
	reg := NewRegistry()
	a := newFakeAdapter(ProviderOpenAI, descriptor("m1", ProviderOpenAI, free()))
	require.NoError(t, mustRegister(reg, a))

	require.True(t, reg.SetActive("m1", false))
	_, err := reg.SelectModel(GenerationRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNoAvailableModel)

	assert.False(t, reg.SetActive("ghost", true))
}

func TestStatsWindowEviction(t *testing.T) {
	reg := NewRegistry()
	// Fill the window with slow samples, then push fast ones past the cap.
	for i := 0; i < maxLatencySamples; i++ {
		reg.RecordLatency("m", 1000)
	}
	for i := 0; i < maxLatencySamples; i++ {
		reg.RecordLatency("m", 10)
	}
	avg, ok := reg.AverageLatency("m")
	require.True(t, ok)
	assert.InDelta(t, 10, avg, 1e-9, "old samples must be fully evicted")

	snaps := reg.UsageSnapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(2*maxLatencySamples), snaps[0].RequestCount)
}
