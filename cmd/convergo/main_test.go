package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/convergo/internal/app"
	"github.com/alexisbeaulieu97/convergo/internal/config"
	"github.com/alexisbeaulieu97/convergo/internal/domain/match"
	"github.com/alexisbeaulieu97/convergo/internal/domain/state"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/localstate"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

const tenant = "5c1d3c1f-8b7a-4f52-9c3e-2a4b6d8e0f11"

const flagPath = `HKLM\SOFTWARE\Contoso\Setup`

type stubInvoker struct{}

func (stubInvoker) Run(context.Context, string, ...string) (ports.ProcessResult, error) {
	return ports.ProcessResult{Stdout: "AzureAdJoined : YES\nTenantId : " + tenant + "\n"}, nil
}

type stubHost struct{}

func (stubHost) Facts(context.Context) (ports.HostFacts, error) {
	return ports.HostFacts{Hostname: "WS-0142", KernelBuild: "10.0.22631"}, nil
}

type stubRemote struct {
	mu      sync.Mutex
	records []*match.RemotePrincipal
	writes  int
}

func (s *stubRemote) LookupByKey(_ context.Context, key string) ([]match.RemotePrincipal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []match.RemotePrincipal
	for _, rec := range s.records {
		if strings.EqualFold(rec.UPN, key) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *stubRemote) SetAttribute(_ context.Context, key, _, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if strings.EqualFold(rec.UPN, key) {
			rec.ImmutableID = value
			s.writes++
			return nil
		}
	}
	return errors.New("no such user")
}

func (s *stubRemote) ListAll(context.Context, []string) iter.Seq2[match.RemotePrincipal, error] {
	return func(func(match.RemotePrincipal, error) bool) {}
}

// testEnv points the CLI at in-memory adapters for the duration of a test.
type testEnv struct {
	dir    string
	local  *localstate.Memory
	remote *stubRemote
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		dir:   t.TempDir(),
		local: localstate.NewMemory(),
		remote: &stubRemote{records: []*match.RemotePrincipal{
			{ID: "u-smith", UPN: "jsmith@example.com", GivenName: "John", Surname: "Smith"},
		}},
	}
	enrollment := `HKLM\SOFTWARE\Microsoft\Enrollments\{4A9F1C2B-0000-4E11-9D4E-1F2A3B4C5D6E}`
	env.local.Set(enrollment, "ProviderID", state.StringValue("MS DM Server"))
	env.local.Set(enrollment, "EnrollmentState", state.DWordValue(1))
	env.local.Set(flagPath, "Complete", state.DWordValue(0))

	previous := configureApp
	configureApp = func(o *app.Options) {
		o.Env = config.MapEnvironment(nil)
		o.LogWriter = io.Discard
		o.Local = env.local
		o.Invoker = stubInvoker{}
		o.Host = stubHost{}
		o.Remote = env.remote
	}
	t.Cleanup(func() { configureApp = previous })
	return env
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	content = strings.NewReplacer("{dir}", filepath.ToSlash(e.dir), "{tenant}", tenant).Replace(content)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *testEnv) deviceConfig(t *testing.T) string {
	return e.write(t, "convergo.yaml", `version: "1.0"
settings:
  max_attempts: 2
  settle_delay: 0s
  state_dir: {dir}/state
device:
  tenant_id: "{tenant}"
targets:
  - id: setup-complete
    kind: registry_flag_set
    desired: "1"
    params:
      path: 'HKLM\SOFTWARE\Contoso\Setup'
      name: Complete
      type: dword
sinks:
  status_file: {dir}/status.json
`)
}

func (e *testEnv) hardMatchConfig(t *testing.T) string {
	e.write(t, "principals.csv", `SamAccountName,UserPrincipalName,GivenName,Surname,MiddleName,ObjectGUID,Enabled
jsmith,jsmith@corp.local,John,Smith,,7b0f2c1e-4a3d-4e5f-8a9b-0c1d2e3f4a5b,True
`)
	return e.write(t, "hardmatch.yaml", `version: "1.0"
settings:
  settle_delay: 0s
  state_dir: {dir}/state
graph:
  tenant_id: "{tenant}"
  client_id: 0f1e2d3c-4b5a-6978-8a9b-0c1d2e3f4a5b
  client_secret: not-a-secret
hardmatch:
  domain: example.com
  principals_file: {dir}/principals.csv
`)
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	originalVersion, originalCommit, originalDate := version, commit, date
	t.Cleanup(func() {
		version, commit, date = originalVersion, originalCommit, originalDate
	})

	version = "1.2.3"
	commit = "abcdef1"
	date = "2026-10-03"

	output, err := execute("version")
	require.NoError(t, err)
	require.Contains(t, output, "Convergo 1.2.3")
	require.Contains(t, output, "abcdef1")
	require.Contains(t, output, "2026-10-03")
}
