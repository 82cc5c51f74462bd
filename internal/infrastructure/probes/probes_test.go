package probes

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/convergo/internal/domain/match"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/domain/state"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/localstate"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

const joinedReport = `
+----------------------------------------------------------------------+
| Device State                                                         |
+----------------------------------------------------------------------+

             AzureAdJoined : YES
          EnterpriseJoined : NO
              DomainJoined : YES
                DomainName : CORP

+----------------------------------------------------------------------+
| Tenant Details                                                       |
+----------------------------------------------------------------------+

                TenantName : Contoso
                  TenantId : 5c1d3c1f-8b7a-4f52-9c3e-2a4b6d8e0f11
                    MdmUrl : https://enrollment.manage.microsoft.com/enrollmentserver/discovery.svc
`

const workgroupReport = `
             AzureAdJoined : NO
              DomainJoined : NO
`

const unjoinedDomainReport = `
             AzureAdJoined : NO
              DomainJoined : YES
                DomainName : CORP
`

type fakeInvoker struct {
	result ports.ProcessResult
	err    error
	calls  [][]string
}

func (f *fakeInvoker) Run(_ context.Context, exe string, args ...string) (ports.ProcessResult, error) {
	f.calls = append(f.calls, append([]string{exe}, args...))
	return f.result, f.err
}

type fakeHost struct{ build string }

func (f fakeHost) Facts(context.Context) (ports.HostFacts, error) {
	return ports.HostFacts{KernelBuild: f.build}, nil
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func joinTarget(params map[string]string) reconcile.ConvergenceTarget {
	return mustTarget("entra-join", reconcile.KindDeviceJoined, reconcile.DesiredTrue, params)
}

func dsregSource(output string, host ports.HostInfo) (*DsregJoinSource, *fakeInvoker) {
	inv := &fakeInvoker{result: ports.ProcessResult{Stdout: output}}
	src := NewDsregJoinSource(NewDsregReader(inv, ""), host)
	src.now = func() time.Time { return epoch }
	return src, inv
}

func TestParseDsregStatus(t *testing.T) {
	status := ParseDsregStatus(joinedReport)

	joined, ok := status.Flag(DsregAzureAdJoined)
	assert.True(t, ok)
	assert.True(t, joined)
	enterprise, ok := status.Flag("enterprisejoined")
	assert.True(t, ok)
	assert.False(t, enterprise)
	tenant, _ := status.Get(DsregTenantID)
	assert.Equal(t, "5c1d3c1f-8b7a-4f52-9c3e-2a4b6d8e0f11", tenant)
	mdm, _ := status.Get(DsregMdmURL)
	assert.Equal(t, "https://enrollment.manage.microsoft.com/enrollmentserver/discovery.svc", mdm)
	_, ok = status.Flag(DsregTenantName)
	assert.False(t, ok, "non YES/NO values are not flags")
	_, ok = status.Get("Device State")
	assert.False(t, ok)
}

func TestDsregJoinSourceObservesJoin(t *testing.T) {
	src, inv := dsregSource(joinedReport, nil)

	r := src.Observe(context.Background(), joinTarget(nil), reconcile.ConfidencePrimary)

	assert.Equal(t, reconcile.ObservedValue, r.Observation)
	assert.True(t, r.Satisfies(reconcile.DesiredTrue))
	assert.Equal(t, epoch, r.ObservedAt)
	assert.Equal(t, [][]string{{"dsregcmd.exe", "/status"}}, inv.calls)
}

func TestDsregJoinSourceWrongTenantBlocks(t *testing.T) {
	src, _ := dsregSource(joinedReport, nil)

	r := src.Observe(context.Background(), joinTarget(map[string]string{
		reconcile.ParamTenantID: "00112233-4455-6677-8899-aabbccddeeff",
	}), reconcile.ConfidencePrimary)

	assert.Equal(t, reconcile.ObservedPrerequisiteFailed, r.Observation)
	assert.Contains(t, r.Detail, "expected 00112233")
}

func TestDsregJoinSourceDomainGate(t *testing.T) {
	src, _ := dsregSource(workgroupReport, nil)

	r := src.Observe(context.Background(), joinTarget(nil), reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedPrerequisiteFailed, r.Observation)
	assert.True(t, errors.Is(r.Err, reconcile.ErrPrerequisiteNotMet))

	r = src.Observe(context.Background(), joinTarget(map[string]string{reconcile.ParamRequireDomainJoin: "false"}), reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedValue, r.Observation)
	assert.Equal(t, "false", r.Value)
}

func TestDsregJoinSourceBuildGate(t *testing.T) {
	params := map[string]string{reconcile.ParamMinOSBuild: "10.0.19041"}

	old, _ := dsregSource(unjoinedDomainReport, fakeHost{build: "10.0.17763.1"})
	r := old.Observe(context.Background(), joinTarget(params), reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedPrerequisiteFailed, r.Observation)
	assert.Contains(t, r.Detail, "older than required")

	current, _ := dsregSource(unjoinedDomainReport, fakeHost{build: "10.0.22631.4317"})
	r = current.Observe(context.Background(), joinTarget(params), reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedValue, r.Observation)
	assert.Equal(t, "false", r.Value)
}

func TestDsregJoinSourceUnavailable(t *testing.T) {
	inv := &fakeInvoker{err: reconcile.NewError(reconcile.ErrCodeSourceUnavailable, "not found", nil, nil)}
	src := NewDsregJoinSource(NewDsregReader(inv, `C:\Windows\System32\dsregcmd.exe`), nil)

	r := src.Observe(context.Background(), joinTarget(nil), reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedUnavailable, r.Observation)

	inv.err = nil
	inv.result = ports.ProcessResult{ExitCode: 1, Stderr: "access denied"}
	r = src.Observe(context.Background(), joinTarget(nil), reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedUnavailable, r.Observation)
	assert.Equal(t, `C:\Windows\System32\dsregcmd.exe`, inv.calls[0][0])
}

func TestBuildBelow(t *testing.T) {
	_, below := BuildBelow("10.0.19045.4291", "10.0.19041")
	assert.False(t, below)
	_, below = BuildBelow("6.3.9600", "10.0")
	assert.True(t, below)
	_, below = BuildBelow("garbage", "10.0")
	assert.False(t, below)
}

func TestJoinInfoSource(t *testing.T) {
	tenant := "5c1d3c1f-8b7a-4f52-9c3e-2a4b6d8e0f11"
	local := localstate.NewMemory().
		Set(JoinInfoPath+`\A1B2C3`, "TenantId", state.StringValue(tenant))
	src := NewJoinInfoSource(local)

	r := src.Observe(context.Background(), joinTarget(nil), reconcile.ConfidenceFallback)
	assert.True(t, r.Satisfies("true"))

	r = src.Observe(context.Background(), joinTarget(map[string]string{reconcile.ParamTenantID: "other"}), reconcile.ConfidenceFallback)
	assert.Equal(t, "false", r.Value)

	r = NewJoinInfoSource(localstate.NewMemory()).Observe(context.Background(), joinTarget(nil), reconcile.ConfidenceFallback)
	assert.Equal(t, reconcile.ObservedAbsent, r.Observation)
}

func mdmTarget(params map[string]string) reconcile.ConvergenceTarget {
	return mustTarget("intune", reconcile.KindMDMEnrolled, reconcile.DesiredTrue, params)
}

func TestEnrollmentSource(t *testing.T) {
	local := localstate.NewMemory().
		Set(EnrollmentsPath+`\Context`, "Version", state.DWordValue(1)).
		Set(EnrollmentsPath+`\3F2A`, "ProviderID", state.StringValue("Contoso MDM")).
		Set(EnrollmentsPath+`\3F2A`, "EnrollmentState", state.DWordValue(1)).
		Set(EnrollmentsPath+`\9B1C`, "ProviderID", state.StringValue("ms dm server")).
		Set(EnrollmentsPath+`\9B1C`, "EnrollmentState", state.DWordValue(1))

	enrollments, err := ScanEnrollments(context.Background(), local)
	require.NoError(t, err)
	assert.Len(t, enrollments, 2)

	r := NewEnrollmentSource(local, nil).Observe(context.Background(), mdmTarget(nil), reconcile.ConfidencePrimary)
	assert.True(t, r.Satisfies("true"))
	assert.Equal(t, "enrollment 9B1C", r.Detail)
}

func TestEnrollmentSourcePendingEnrollment(t *testing.T) {
	local := localstate.NewMemory().
		Set(EnrollmentsPath+`\9B1C`, "ProviderID", state.StringValue("MS DM Server")).
		Set(EnrollmentsPath+`\9B1C`, "EnrollmentState", state.DWordValue(2))
	joined := func(context.Context) (bool, error) { return true, nil }

	r := NewEnrollmentSource(local, joined).Observe(context.Background(), mdmTarget(nil), reconcile.ConfidencePrimary)

	assert.Equal(t, reconcile.ObservedValue, r.Observation)
	assert.Equal(t, "false", r.Value)
}

func TestEnrollmentSourceRequiresEntraJoin(t *testing.T) {
	notJoined := func(context.Context) (bool, error) { return false, nil }
	r := NewEnrollmentSource(localstate.NewMemory(), notJoined).Observe(context.Background(), mdmTarget(nil), reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedPrerequisiteFailed, r.Observation)

	broken := func(context.Context) (bool, error) { return false, errors.New("dsregcmd missing") }
	r = NewEnrollmentSource(localstate.NewMemory(), broken).Observe(context.Background(), mdmTarget(nil), reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedAbsent, r.Observation)
}

func flagTarget(desired, kind string) reconcile.ConvergenceTarget {
	return mustTarget("disable-llmnr", reconcile.KindRegistryFlagSet, desired, map[string]string{
		reconcile.ParamRegistryPath: `HKLM\SOFTWARE\Policies\Microsoft\Windows NT\DNSClient`,
		reconcile.ParamRegistryName: "EnableMulticast",
		reconcile.ParamRegistryType: kind,
	})
}

func TestRegistryValueSource(t *testing.T) {
	local := localstate.NewMemory()
	src := NewRegistryValueSource(local)

	r := src.Observe(context.Background(), flagTarget("0", "dword"), reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedAbsent, r.Observation)

	local.Set(`HKLM\SOFTWARE\Policies\Microsoft\Windows NT\DNSClient`, "EnableMulticast", state.DWordValue(0))
	r = src.Observe(context.Background(), flagTarget("0x0", "dword"), reconcile.ConfidencePrimary)
	assert.True(t, r.Satisfies("0x0"))

	r = src.Observe(context.Background(), flagTarget("1", "dword"), reconcile.ConfidencePrimary)
	assert.Equal(t, "0", r.Value)
	assert.False(t, r.Satisfies("1"))
}

type fakeRemote struct {
	records map[string][]match.RemotePrincipal
	err     error
}

func (f fakeRemote) LookupByKey(_ context.Context, key string) ([]match.RemotePrincipal, error) {
	if f.err != nil {
		return nil, f.err
	}
	recs, ok := f.records[key]
	if !ok {
		return nil, reconcile.ErrNotFound
	}
	return recs, nil
}

func (f fakeRemote) SetAttribute(context.Context, string, string, string) error { return nil }

func (f fakeRemote) ListAll(context.Context, []string) iter.Seq2[match.RemotePrincipal, error] {
	return func(func(match.RemotePrincipal, error) bool) {}
}

func anchorTarget(desired string) reconcile.ConvergenceTarget {
	return mustTarget("anchor-jsmith", reconcile.KindImmutableIDSet, desired, map[string]string{
		reconcile.ParamRemoteKey: "john@example.com",
	})
}

func TestRemoteImmutableIDSource(t *testing.T) {
	remote := fakeRemote{records: map[string][]match.RemotePrincipal{
		"john@example.com": {{ID: "r-1", ImmutableID: "HzwdXHqLUk+cPipLbY4PEQ=="}},
	}}
	src := NewRemoteImmutableIDSource(remote)

	r := src.Observe(context.Background(), anchorTarget("HzwdXHqLUk+cPipLbY4PEQ=="), reconcile.ConfidencePrimary)
	assert.True(t, r.Satisfies("HzwdXHqLUk+cPipLbY4PEQ=="))

	r = src.Observe(context.Background(), anchorTarget("MyIRAFVEd2aImaq7zN3u/w=="), reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedPrerequisiteFailed, r.Observation)
	assert.Equal(t, "HzwdXHqLUk+cPipLbY4PEQ==", r.Value)
}

func TestRemoteImmutableIDSourceEdgeCases(t *testing.T) {
	ctx := context.Background()
	target := anchorTarget("MyIRAFVEd2aImaq7zN3u/w==")

	r := NewRemoteImmutableIDSource(fakeRemote{records: map[string][]match.RemotePrincipal{
		"john@example.com": {{ID: "r-1"}},
	}}).Observe(ctx, target, reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedAbsent, r.Observation)

	r = NewRemoteImmutableIDSource(fakeRemote{}).Observe(ctx, target, reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedPrerequisiteFailed, r.Observation)

	r = NewRemoteImmutableIDSource(fakeRemote{records: map[string][]match.RemotePrincipal{
		"john@example.com": {{ID: "r-1"}, {ID: "r-2"}},
	}}).Observe(ctx, target, reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedPrerequisiteFailed, r.Observation)

	r = NewRemoteImmutableIDSource(fakeRemote{err: errors.New("429 too many requests")}).Observe(ctx, target, reconcile.ConfidencePrimary)
	assert.Equal(t, reconcile.ObservedUnavailable, r.Observation)
}

type panickySource struct{}

func (panickySource) Name() string { return "panicky" }
func (panickySource) Observe(context.Context, reconcile.ConvergenceTarget, reconcile.Confidence) reconcile.ProbeResult {
	panic("boom")
}

func TestChainAssignsConfidenceAndRecovers(t *testing.T) {
	local := localstate.NewMemory().Set(JoinInfoPath+`\A1`, "TenantId", state.StringValue("t"))
	chain := NewChain(nil, panickySource{}, NewJoinInfoSource(local))

	results := chain.Probe(context.Background(), joinTarget(nil))

	require.Len(t, results, 2)
	assert.Equal(t, reconcile.ConfidencePrimary, results[0].Confidence)
	assert.Equal(t, reconcile.ObservedUnavailable, results[0].Observation)
	assert.Equal(t, reconcile.ConfidenceFallback, results[1].Confidence)
	assert.Equal(t, []string{"panicky", "registry:joininfo"}, chain.Names())

	decision := reconcile.Decide(joinTarget(nil), results)
	assert.Equal(t, reconcile.VerdictSatisfied, decision.Verdict)
}

func TestChainCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chain := NewChain(nil, NewJoinInfoSource(localstate.NewMemory()))

	results := chain.Probe(ctx, joinTarget(nil))

	require.Len(t, results, 1)
	assert.Equal(t, reconcile.ObservedUnavailable, results[0].Observation)
}

// mustTarget builds a fixture target and panics if it is invalid.
func mustTarget(id string, kind reconcile.TargetKind, desired string, params map[string]string) reconcile.ConvergenceTarget {
	target, err := reconcile.NewTarget(id, kind, desired, params)
	if err != nil {
		panic(err)
	}
	return target
}
