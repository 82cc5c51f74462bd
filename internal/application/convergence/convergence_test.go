package convergence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/convergo/internal/config"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/counter"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/handlers"
	logginginfra "github.com/alexisbeaulieu97/convergo/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/sink"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
	convergoerrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

// scriptedHandler reports a fixed sequence of observed values, repeating the
// last one, and records every action.
type scriptedHandler struct {
	kind     reconcile.TargetKind
	mu       sync.Mutex
	values   map[string][]string
	blocked  map[string]bool
	acts     map[string]int
	actionFn func(target reconcile.ConvergenceTarget) reconcile.ActionResult
}

func newScriptedHandler(kind reconcile.TargetKind) *scriptedHandler {
	return &scriptedHandler{
		kind:    kind,
		values:  make(map[string][]string),
		blocked: make(map[string]bool),
		acts:    make(map[string]int),
	}
}

func (h *scriptedHandler) script(targetID string, values ...string) *scriptedHandler {
	h.values[targetID] = values
	return h
}

func (h *scriptedHandler) Metadata() ports.HandlerMetadata {
	return ports.HandlerMetadata{Name: "scripted-" + string(h.kind), Kind: h.kind, Sources: []string{"script"}}
}

func (h *scriptedHandler) Probe(_ context.Context, target reconcile.ConvergenceTarget) []reconcile.ProbeResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	at := time.Time{}
	if h.blocked[target.ID()] {
		return []reconcile.ProbeResult{reconcile.PrerequisiteFailed("script", reconcile.ConfidencePrimary, at, "gate closed")}
	}
	values := h.values[target.ID()]
	if len(values) == 0 {
		return []reconcile.ProbeResult{reconcile.Absent("script", reconcile.ConfidencePrimary, at)}
	}
	value := values[0]
	if len(values) > 1 {
		h.values[target.ID()] = values[1:]
	}
	return []reconcile.ProbeResult{reconcile.Observed("script", reconcile.ConfidencePrimary, value, at)}
}

func (h *scriptedHandler) Act(_ context.Context, target reconcile.ConvergenceTarget) reconcile.ActionResult {
	h.mu.Lock()
	h.acts[target.ID()]++
	h.mu.Unlock()
	if h.actionFn != nil {
		return h.actionFn(target)
	}
	return reconcile.Applied("act on " + target.ID())
}

func (h *scriptedHandler) actCount(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acts[id]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ports.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event ports.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Subscribe(string, ports.EventHandler) (ports.Subscription, error) {
	return nil, errors.New("not supported")
}

func (p *recordingPublisher) ofType(eventType string) []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []map[string]interface{}
	for _, ev := range p.events {
		if ev.EventType() == eventType {
			out = append(out, ev.Payload().(map[string]interface{}))
		}
	}
	return out
}

type stubInvoker struct {
	calls [][]string
	exit  int
}

func (s *stubInvoker) Run(_ context.Context, exe string, args ...string) (ports.ProcessResult, error) {
	s.calls = append(s.calls, append([]string{exe}, args...))
	return ports.ProcessResult{ExitCode: s.exit}, nil
}

func fastOptions(maxAttempts int) reconcile.Options {
	return reconcile.Options{
		MaxAttempts: maxAttempts,
		Sleep:       func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

func deviceConfig() *config.Config {
	cfg := &config.Config{
		Version: "1.0",
		Device: &config.Device{
			TenantID:   "2f0c8a5e-1d2b-4c6a-9a44-5d1f6c8f7e21",
			MinOSBuild: "10.0.19044",
		},
		Targets: []config.Target{
			{ID: "llmnr", Kind: "registry_flag_set", Desired: "0", Enabled: true,
				Params: map[string]string{"path": `HKLM\SOFTWARE\A`, "name": "EnableMulticast", "type": "dword"}},
			{ID: "disabled", Kind: "registry_flag_set", Desired: "1", Enabled: false,
				Params: map[string]string{"path": `HKLM\SOFTWARE\B`, "name": "X"}},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

type fixture struct {
	entra    *scriptedHandler
	intune   *scriptedHandler
	registry *scriptedHandler
	handlers *handlers.Registry
	sink     *sink.Recorder
	events   *recordingPublisher
	invoker  *stubInvoker
	counter  ports.ExecutionCounter
	apply    *ApplyUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		entra:    newScriptedHandler(reconcile.KindDeviceJoined),
		intune:   newScriptedHandler(reconcile.KindMDMEnrolled),
		registry: newScriptedHandler(reconcile.KindRegistryFlagSet),
		handlers: handlers.NewRegistry(),
		sink:     sink.NewRecorder(),
		events:   &recordingPublisher{},
		invoker:  &stubInvoker{},
	}
	for _, h := range []ports.Handler{f.entra, f.intune, f.registry} {
		require.NoError(t, f.handlers.Register(h))
	}
	store, err := counter.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	f.counter = store

	logger := logginginfra.NewNoOpLogger()
	reporter := NewReporter(f.sink, "", logger, f.events)
	f.apply = NewApplyUseCase(f.handlers, f.counter, f.invoker, reporter, logger, f.events)
	return f
}

func (f *fixture) plan(t *testing.T) Plan {
	t.Helper()
	plan, err := NewPrepareUseCase(f.handlers, logginginfra.NewNoOpLogger()).Prepare(context.Background(), deviceConfig())
	require.NoError(t, err)
	return plan
}

func TestBuildPlanOrdersDeviceTargetsFirst(t *testing.T) {
	plan, err := BuildPlan(deviceConfig())
	require.NoError(t, err)

	require.Len(t, plan.Targets, 3)
	assert.Equal(t, TargetEntraJoin, plan.Targets[0].ID())
	assert.Equal(t, TargetIntuneEnroll, plan.Targets[1].ID())
	assert.Equal(t, "llmnr", plan.Targets[2].ID())
	assert.Equal(t, config.DefaultStatusField, plan.StatusField)
	assert.True(t, plan.HasDevice())

	assert.Equal(t, "true", plan.Targets[0].ParamOr(reconcile.ParamRequireDomainJoin, ""))
	assert.Equal(t, "10.0.19044", plan.Targets[0].ParamOr(reconcile.ParamMinOSBuild, ""))
	assert.Equal(t, config.DefaultProviderID, plan.Targets[1].ParamOr(reconcile.ParamProviderID, ""))
}

func TestBuildPlanHonoursSkipFlags(t *testing.T) {
	cfg := deviceConfig()
	cfg.Device.SkipIntune = true
	plan, err := BuildPlan(cfg)
	require.NoError(t, err)
	require.Len(t, plan.Targets, 2)
	assert.Equal(t, []reconcile.TargetKind{reconcile.KindDeviceJoined, reconcile.KindRegistryFlagSet}, plan.Kinds())

	_, err = BuildPlan(nil)
	assert.Equal(t, reconcile.ErrCodeValidation, reconcile.CodeOf(err))
}

func TestBuildPlanNamesInvalidTarget(t *testing.T) {
	cfg := deviceConfig()
	delete(cfg.Targets[0].Params, "name")

	_, err := BuildPlan(cfg)
	require.Error(t, err)
	var targetErr *convergoerrors.TargetError
	require.ErrorAs(t, err, &targetErr)
	assert.Equal(t, "llmnr", targetErr.TargetID)
	assert.Equal(t, "registry_flag_set", targetErr.Kind)
	assert.Equal(t, convergoerrors.PhasePrepare, targetErr.Phase)
	assert.Contains(t, err.Error(), "registry_flag_set target llmnr (prepare)")
}

func TestPrepareRequiresHandlers(t *testing.T) {
	registry := handlers.NewRegistry()
	require.NoError(t, registry.Register(newScriptedHandler(reconcile.KindDeviceJoined)))

	_, err := NewPrepareUseCase(registry, nil).Prepare(context.Background(), deviceConfig())
	require.Error(t, err)
	var dErr *reconcile.DomainError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, reconcile.ErrCodeNotFound, dErr.Code)
	assert.Equal(t, []string{"mdm_enrolled", "registry_flag_set"}, dErr.Context["target_kinds"])
}

func TestApplyReportsOutcomesAndJoinState(t *testing.T) {
	f := newFixture(t)
	f.entra.script(TargetEntraJoin, "true")
	f.intune.script(TargetIntuneEnroll, "false", "true")
	f.registry.script("llmnr", "1", "1", "1")

	report, err := f.apply.Apply(context.Background(), f.plan(t), ApplyOptions{Reconcile: fastOptions(2)})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Counts[reconcile.OutcomeAlreadySatisfied])
	assert.Equal(t, 1, report.Summary.Counts[reconcile.OutcomeConverged])
	assert.Equal(t, 1, report.Summary.Counts[reconcile.OutcomeFailedRetriesExhausted])
	assert.Equal(t, reconcile.JoinStateBoth, report.JoinState)

	assert.Zero(t, f.entra.actCount(TargetEntraJoin))
	assert.Equal(t, 1, f.intune.actCount(TargetIntuneEnroll))
	assert.Equal(t, 2, f.registry.actCount("llmnr"))

	state, ok := f.sink.Status(config.DefaultStatusField)
	require.True(t, ok)
	assert.Equal(t, "Both", state)

	rows := f.sink.Rows(DefaultOutcomeSink)
	require.Len(t, rows, 3)
	outcome, _ := rows[2].Get(ColumnOutcome)
	assert.Equal(t, string(reconcile.OutcomeFailedRetriesExhausted), outcome)
	code, _ := rows[2].Get(ColumnErrorCode)
	assert.Equal(t, string(reconcile.ErrCodeActionFailed), code)

	assert.Len(t, f.events.ofType(ports.EventReconcileStarted), 3)
	outcomes := f.events.ofType(ports.EventReconcileOutcome)
	require.Len(t, outcomes, 3)
	assert.Equal(t, []string{"applied", "applied"}, outcomes[2][ports.PayloadActionStatus])
	assert.Equal(t, true, outcomes[2][ports.PayloadFailed])
	completed := f.events.ofType(ports.EventRunCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "Both", completed[0][ports.PayloadJoinState])

	n, err := f.counter.Get(context.Background(), "llmnr")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyWithoutHandlerNamesTargetKind(t *testing.T) {
	f := newFixture(t)
	anchor := mustTarget("anchor-jsmith", reconcile.KindImmutableIDSet, "HzwdXHqLUk+cPipLbY4PEQ==",
		map[string]string{reconcile.ParamRemoteKey: "john@example.com"})

	report, err := f.apply.Apply(context.Background(), Plan{Targets: []reconcile.ConvergenceTarget{anchor}},
		ApplyOptions{Reconcile: fastOptions(1)})
	require.NoError(t, err)

	require.Len(t, report.Summary.Outcomes, 1)
	outcome := report.Summary.Outcomes[0]
	assert.Equal(t, reconcile.OutcomeFailedFatal, outcome.Kind)
	var targetErr *convergoerrors.TargetError
	require.ErrorAs(t, outcome.Err, &targetErr)
	assert.Equal(t, "immutable_id_set", targetErr.Kind)
	assert.Equal(t, convergoerrors.PhaseReconcile, targetErr.Phase)
}

func TestApplyBlockedTargetIsFatalWithoutActing(t *testing.T) {
	f := newFixture(t)
	f.entra.blocked[TargetEntraJoin] = true
	f.intune.script(TargetIntuneEnroll, "true")
	f.registry.script("llmnr", "0")

	report, err := f.apply.Apply(context.Background(), f.plan(t), ApplyOptions{Reconcile: fastOptions(3)})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Summary.Counts[reconcile.OutcomeFailedFatal])
	assert.Zero(t, f.entra.actCount(TargetEntraJoin))
	assert.Equal(t, reconcile.JoinStateIntune, report.JoinState)
}

func TestApplyEscalatesAfterThreshold(t *testing.T) {
	f := newFixture(t)
	f.entra.script(TargetEntraJoin, "true")
	f.intune.script(TargetIntuneEnroll, "true")
	opts := ApplyOptions{
		Reconcile:           fastOptions(1),
		EscalationThreshold: 2,
		EscalationCommand:   []string{"shutdown.exe", "/r", "/t", "600"},
	}

	first, err := f.apply.Apply(context.Background(), f.plan(t), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Summary.Counts[reconcile.OutcomeFailedRetriesExhausted])
	assert.False(t, first.Escalated)
	assert.Empty(t, f.invoker.calls)

	second, err := f.apply.Apply(context.Background(), f.plan(t), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Summary.Counts[reconcile.OutcomeForcedTerminal])
	assert.True(t, second.Escalated)
	require.Len(t, f.invoker.calls, 1)
	assert.Equal(t, []string{"shutdown.exe", "/r", "/t", "600"}, f.invoker.calls[0])

	f.registry.script("llmnr", "0")
	third, err := f.apply.Apply(context.Background(), f.plan(t), opts)
	require.NoError(t, err)
	assert.True(t, third.Summary.AllSatisfied())
	n, err := f.counter.Get(context.Background(), "llmnr")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyDryRunLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.registry.actionFn = func(target reconcile.ConvergenceTarget) reconcile.ActionResult {
		return reconcile.Simulated("set " + target.ID())
	}
	f.entra.script(TargetEntraJoin, "true")
	f.intune.script(TargetIntuneEnroll, "true")

	report, err := f.apply.Apply(context.Background(), f.plan(t), ApplyOptions{
		Reconcile:           fastOptions(3),
		DryRun:              true,
		EscalationThreshold: 1,
		EscalationCommand:   []string{"shutdown.exe"},
	})
	require.NoError(t, err)

	llmnr := report.Summary.Outcomes[2]
	assert.Equal(t, reconcile.OutcomeConverged, llmnr.Kind)
	assert.True(t, llmnr.Projected)
	assert.Empty(t, f.invoker.calls)
	_, written := f.sink.Status(config.DefaultStatusField)
	assert.False(t, written)

	history, err := f.counter.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApplyCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.apply.Apply(ctx, f.plan(t), ApplyOptions{Reconcile: fastOptions(1)})
	assert.Equal(t, reconcile.ErrCodeCancelled, reconcile.CodeOf(err))
}

func TestVerifyNeverActs(t *testing.T) {
	f := newFixture(t)
	f.entra.script(TargetEntraJoin, "true")
	f.intune.script(TargetIntuneEnroll, "false")
	f.registry.script("llmnr", "0")

	report, err := NewVerifyUseCase(f.handlers, nil).Verify(context.Background(), f.plan(t))
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.False(t, report.AllSatisfied())
	assert.Equal(t, 2, report.Counts()[reconcile.VerdictSatisfied])
	assert.Equal(t, 1, report.Counts()[reconcile.VerdictUnsatisfied])
	assert.Equal(t, reconcile.JoinStateEntra, report.JoinState)
	assert.Zero(t, f.entra.actCount(TargetEntraJoin)+f.intune.actCount(TargetIntuneEnroll)+f.registry.actCount("llmnr"))
}

func TestReporterSurvivesSinkFailures(t *testing.T) {
	failing := &failingSink{}
	reporter := NewReporter(failing, "rows", logginginfra.NewNoOpLogger(), nil)
	target := mustTarget("llmnr", reconcile.KindRegistryFlagSet, "0",
		map[string]string{"path": `HKLM\SOFTWARE\A`, "name": "v"})

	assert.NotPanics(t, func() {
		reporter.Report(context.Background(), target, reconcile.Outcome{TargetID: "llmnr", Kind: reconcile.OutcomeConverged})
		reporter.SetJoinState(context.Background(), "JoinState", reconcile.JoinStateNone)
	})
	assert.Equal(t, 2, failing.calls)
}

func TestOutcomeRecord(t *testing.T) {
	target := mustTarget(TargetIntuneEnroll, reconcile.KindMDMEnrolled, reconcile.DesiredTrue, nil)
	at := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	record := OutcomeRecord(target, reconcile.Outcome{
		Kind:      reconcile.OutcomeConverged,
		Projected: true,
		Duration:  1500 * time.Millisecond,
	}, at)

	assert.Equal(t, []string{
		ColumnRecordedAt, ColumnTargetID, ColumnTargetKind, ColumnOutcome, ColumnReason,
		ColumnAttempts, ColumnErrorCode, ColumnProjected, ColumnDurationMS,
	}, record.Names())
	assert.Equal(t, []string{"2026-05-04T03:02:01Z", TargetIntuneEnroll, "mdm_enrolled", "converged", "", "0", "", "true", "1500"}, record.Values())
}

type failingSink struct{ calls int }

func (s *failingSink) SetStatus(context.Context, string, string) error {
	s.calls++
	return errors.New("rmm offline")
}

func (s *failingSink) AppendRow(context.Context, string, ports.Record) error {
	s.calls++
	return errors.New("disk full")
}

func (s *failingSink) Close(context.Context) error { return nil }

// mustTarget builds a fixture target and panics if it is invalid.
func mustTarget(id string, kind reconcile.TargetKind, desired string, params map[string]string) reconcile.ConvergenceTarget {
	target, err := reconcile.NewTarget(id, kind, desired, params)
	if err != nil {
		panic(err)
	}
	return target
}
