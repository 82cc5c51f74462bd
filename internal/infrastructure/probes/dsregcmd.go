package probes

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	version "github.com/hashicorp/go-version"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// DsregcmdExecutable is the device registration tool shipped with Windows.
const DsregcmdExecutable = "dsregcmd.exe"

// Fields reported by dsregcmd /status.
const (
	DsregAzureAdJoined = "AzureAdJoined"
	DsregDomainJoined  = "DomainJoined"
	DsregDomainName    = "DomainName"
	DsregTenantID      = "TenantId"
	DsregTenantName    = "TenantName"
	DsregDeviceID      = "DeviceId"
	DsregMdmURL        = "MdmUrl"
)

// DsregStatus is the parsed "key : value" report of dsregcmd /status.
type DsregStatus map[string]string

// ParseDsregStatus reads every "Key : Value" line. Banner and section lines
// are ignored and the first occurrence of a key wins.
func ParseDsregStatus(output string) DsregStatus {
	status := DsregStatus{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, " : ")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" || strings.ContainsAny(key, "|+") {
			continue
		}
		if _, seen := status[key]; !seen {
			status[key] = strings.TrimSpace(value)
		}
	}
	return status
}

// Get returns a field by case-insensitive name.
func (s DsregStatus) Get(key string) (string, bool) {
	if v, ok := s[key]; ok {
		return v, true
	}
	for k, v := range s {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Flag reads a YES/NO field; ok is false when the field is missing or not a
// flag.
func (s DsregStatus) Flag(key string) (value bool, ok bool) {
	v, found := s.Get(key)
	if !found {
		return false, false
	}
	switch strings.ToUpper(v) {
	case "YES":
		return true, true
	case "NO":
		return false, true
	}
	return false, false
}

// DsregReader runs dsregcmd /status.
type DsregReader struct {
	invoker    ports.ProcessInvoker
	executable string
}

// NewDsregReader creates a reader. An empty executable uses dsregcmd.exe.
func NewDsregReader(invoker ports.ProcessInvoker, executable string) *DsregReader {
	if executable == "" {
		executable = DsregcmdExecutable
	}
	return &DsregReader{invoker: invoker, executable: executable}
}

// Status runs the tool and parses its report.
func (r *DsregReader) Status(ctx context.Context) (DsregStatus, error) {
	res, err := r.invoker.Run(ctx, r.executable, "/status")
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, fmt.Errorf("%s /status exited with code %d: %s", r.executable, res.ExitCode, res.Stderr)
	}
	status := ParseDsregStatus(res.Stdout)
	if len(status) == 0 {
		return nil, fmt.Errorf("%s /status produced no fields", r.executable)
	}
	return status, nil
}

// EntraJoined reports the AzureAdJoined flag.
func (r *DsregReader) EntraJoined(ctx context.Context) (bool, error) {
	status, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	joined, ok := status.Flag(DsregAzureAdJoined)
	if !ok {
		return false, fmt.Errorf("%s missing from dsregcmd output", DsregAzureAdJoined)
	}
	return joined, nil
}

// DsregJoinSource observes Entra join state through dsregcmd and enforces the
// join prerequisites: on-premises domain membership, tenant identity and a
// minimum OS build.
type DsregJoinSource struct {
	clock
	reader *DsregReader
	host   ports.HostInfo
}

// NewDsregJoinSource creates the primary device_joined source. host may be
// nil when no OS build gate is configured.
func NewDsregJoinSource(reader *DsregReader, host ports.HostInfo) *DsregJoinSource {
	return &DsregJoinSource{reader: reader, host: host}
}

// Name implements ports.ProbeSource.
func (s *DsregJoinSource) Name() string { return "dsregcmd" }

// Observe implements ports.ProbeSource.
func (s *DsregJoinSource) Observe(ctx context.Context, target reconcile.ConvergenceTarget, confidence reconcile.Confidence) reconcile.ProbeResult {
	now := s.stamp()
	status, err := s.reader.Status(ctx)
	if err != nil {
		return reconcile.Unavailable(s.Name(), confidence, now, err)
	}

	joined, ok := status.Flag(DsregAzureAdJoined)
	if !ok {
		return reconcile.Absent(s.Name(), confidence, now)
	}

	if tenant := target.ParamOr(reconcile.ParamTenantID, ""); joined && tenant != "" {
		if got, _ := status.Get(DsregTenantID); got != "" && !strings.EqualFold(got, tenant) {
			return reconcile.PrerequisiteFailed(s.Name(), confidence, now,
				fmt.Sprintf("device is joined to tenant %s, expected %s", got, tenant))
		}
	}
	if joined {
		return reconcile.Observed(s.Name(), confidence, strconv.FormatBool(true), now)
	}

	if requireDomainJoin(target) {
		if domainJoined, ok := status.Flag(DsregDomainJoined); ok && !domainJoined {
			return reconcile.PrerequisiteFailed(s.Name(), confidence, now, "device is not joined to an on-premises domain")
		}
	}
	if detail, blocked := s.checkBuild(ctx, target); blocked {
		return reconcile.PrerequisiteFailed(s.Name(), confidence, now, detail)
	}
	return reconcile.Observed(s.Name(), confidence, strconv.FormatBool(false), now)
}

func (s *DsregJoinSource) checkBuild(ctx context.Context, target reconcile.ConvergenceTarget) (string, bool) {
	minimum := target.ParamOr(reconcile.ParamMinOSBuild, "")
	if minimum == "" || s.host == nil {
		return "", false
	}
	facts, err := s.host.Facts(ctx)
	if err != nil || facts.KernelBuild == "" {
		// An unknown build never blocks.
		return "", false
	}
	return BuildBelow(facts.KernelBuild, minimum)
}

// BuildBelow compares OS builds such as 10.0.19045.4291 and reports a
// prerequisite detail when current is older than minimum.
func BuildBelow(current, minimum string) (string, bool) {
	cur, err := version.NewVersion(current)
	if err != nil {
		return "", false
	}
	floor, err := version.NewVersion(minimum)
	if err != nil {
		return "", false
	}
	if cur.LessThan(floor) {
		return fmt.Sprintf("OS build %s is older than required %s", current, minimum), true
	}
	return "", false
}

func requireDomainJoin(target reconcile.ConvergenceTarget) bool {
	v, ok := target.Param(reconcile.ParamRequireDomainJoin)
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

var _ ports.ProbeSource = (*DsregJoinSource)(nil)
