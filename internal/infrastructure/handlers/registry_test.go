package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

type stubProbe struct{ value string }

func (s stubProbe) Probe(context.Context, reconcile.ConvergenceTarget) []reconcile.ProbeResult {
	return []reconcile.ProbeResult{reconcile.Observed("stub", reconcile.ConfidencePrimary, s.value, time.Time{})}
}

type stubExecutor struct{ status reconcile.ActionStatus }

func (s stubExecutor) Act(context.Context, reconcile.ConvergenceTarget) reconcile.ActionResult {
	return reconcile.ActionResult{Status: s.status, Description: "stub"}
}

func stub(kind reconcile.TargetKind) *Bundle {
	return New(ports.HandlerMetadata{Name: string(kind) + "-handler", Kind: kind, Sources: []string{"stub"}},
		stubProbe{value: "true"}, stubExecutor{status: reconcile.ActionApplied})
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stub(reconcile.KindDeviceJoined)))

	got, err := reg.Get(reconcile.KindDeviceJoined)
	require.NoError(t, err)
	assert.Equal(t, "device_joined-handler", got.Metadata().Name)
}

func TestRegistryGetUnknownKind(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get(reconcile.KindMDMEnrolled)

	require.Error(t, err)
	assert.True(t, errors.Is(err, reconcile.ErrNotFound))
}

func TestRegistryListIsSorted(t *testing.T) {
	reg := NewRegistry()
	for _, kind := range []reconcile.TargetKind{reconcile.KindRegistryFlagSet, reconcile.KindDeviceJoined, reconcile.KindMDMEnrolled} {
		require.NoError(t, reg.Register(stub(kind)))
	}

	var kinds []reconcile.TargetKind
	for _, h := range reg.List() {
		kinds = append(kinds, h.Metadata().Kind)
	}
	assert.Equal(t, []reconcile.TargetKind{reconcile.KindDeviceJoined, reconcile.KindMDMEnrolled, reconcile.KindRegistryFlagSet}, kinds)
}

func TestRegistryDuplicateRegister(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stub(reconcile.KindDeviceJoined)))

	err := reg.Register(stub(reconcile.KindDeviceJoined))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRejectsIncompleteMetadata(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(New(ports.HandlerMetadata{Name: "nameless-kind"}, stubProbe{}, stubExecutor{})))
	assert.Error(t, reg.Register(New(ports.HandlerMetadata{Kind: reconcile.KindDeviceJoined}, stubProbe{}, stubExecutor{})))
}

func TestRegistryRegisterFactory(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.RegisterFactory(reconcile.KindMDMEnrolled, func() (ports.Handler, error) {
		return stub(reconcile.KindMDMEnrolled), nil
	}))

	err := reg.RegisterFactory(reconcile.KindDeviceJoined, func() (ports.Handler, error) {
		return stub(reconcile.KindMDMEnrolled), nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")

	err = reg.RegisterFactory(reconcile.KindRegistryFlagSet, func() (ports.Handler, error) {
		return nil, errors.New("no registry on this platform")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registry on this platform")

	assert.Error(t, reg.RegisterFactory("", nil))
	assert.Error(t, reg.RegisterFactory(reconcile.KindImmutableIDSet, nil))
}

func TestRegistryRequire(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stub(reconcile.KindDeviceJoined)))

	require.NoError(t, reg.Require(reconcile.KindDeviceJoined, reconcile.KindDeviceJoined))

	err := reg.Require(reconcile.KindRegistryFlagSet, reconcile.KindDeviceJoined, reconcile.KindImmutableIDSet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, reconcile.ErrNotFound))
	var dErr *reconcile.DomainError
	require.True(t, errors.As(err, &dErr))
	assert.Equal(t, []string{"immutable_id_set", "registry_flag_set"}, dErr.Context["target_kinds"])
}

func TestBundleDelegatesAndSwapsExecutor(t *testing.T) {
	target := mustTarget("entra", reconcile.KindDeviceJoined, reconcile.DesiredTrue, nil)
	b := stub(reconcile.KindDeviceJoined)

	assert.Equal(t, reconcile.ActionApplied, b.Act(context.Background(), target).Status)
	results := b.Probe(context.Background(), target)
	require.Len(t, results, 1)
	assert.True(t, results[0].Satisfies("true"))

	dry := b.WithExecutor(stubExecutor{status: reconcile.ActionSimulated})
	assert.Equal(t, reconcile.ActionSimulated, dry.Act(context.Background(), target).Status)
	assert.Equal(t, reconcile.ActionApplied, b.Act(context.Background(), target).Status, "original bundle is unchanged")

	meta := b.Metadata()
	meta.Sources[0] = "mutated"
	assert.Equal(t, []string{"stub"}, b.Metadata().Sources)
}

// mustTarget builds a fixture target and panics if it is invalid.
func mustTarget(id string, kind reconcile.TargetKind, desired string, params map[string]string) reconcile.ConvergenceTarget {
	target, err := reconcile.NewTarget(id, kind, desired, params)
	if err != nil {
		panic(err)
	}
	return target
}
