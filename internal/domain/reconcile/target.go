package reconcile

import (
	"fmt"
	"regexp"
	"sort"
)

var targetIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)

// TargetKind enumerates the convergence targets the reconciler understands.
type TargetKind string

const (
	KindDeviceJoined    TargetKind = "device_joined"
	KindMDMEnrolled     TargetKind = "mdm_enrolled"
	KindImmutableIDSet  TargetKind = "immutable_id_set"
	KindRegistryFlagSet TargetKind = "registry_flag_set"
)

var validKinds = []TargetKind{
	KindDeviceJoined,
	KindMDMEnrolled,
	KindImmutableIDSet,
	KindRegistryFlagSet,
}

// DesiredTrue is the desired value of boolean targets such as joins.
const DesiredTrue = "true"

// Well-known parameter keys.
const (
	ParamTenantID          = "tenant_id"
	ParamRequireDomainJoin = "require_domain_join"
	ParamMinOSBuild        = "min_os_build"
	ParamProviderID        = "provider_id"
	ParamRemoteKey         = "remote_key"
	ParamLocalKey          = "local_key"
	ParamRegistryPath      = "path"
	ParamRegistryName      = "name"
	ParamRegistryType      = "type"
)

// ConvergenceTarget names something that must become true. Values are
// immutable once constructed; accessors hand out copies.
type ConvergenceTarget struct {
	id      string
	kind    TargetKind
	desired string
	params  map[string]string
}

// NewTarget validates and constructs a ConvergenceTarget.
func NewTarget(id string, kind TargetKind, desired string, params map[string]string) (ConvergenceTarget, error) {
	t := ConvergenceTarget{
		id:      id,
		kind:    kind,
		desired: desired,
		params:  cloneParams(params),
	}
	if err := t.Validate(); err != nil {
		return ConvergenceTarget{}, err
	}
	return t, nil
}

// Validate ensures the target satisfies its invariants.
func (t ConvergenceTarget) Validate() error {
	if t.id == "" {
		return newMissingFieldError("id")
	}
	if !targetIDPattern.MatchString(t.id) {
		return newValidationError("target id must match ^[a-zA-Z0-9_.@-]+$", map[string]interface{}{"target_id": t.id})
	}
	if t.kind == "" {
		return newMissingFieldError("kind")
	}
	if !isValidKind(t.kind) {
		return newValidationError(fmt.Sprintf("kind must be one of %v", validKinds), map[string]interface{}{"target_id": t.id, "kind": string(t.kind)})
	}
	if t.desired == "" {
		return newMissingFieldError("desired")
	}
	switch t.kind {
	case KindImmutableIDSet:
		if t.params[ParamRemoteKey] == "" {
			return newMissingFieldError(ParamRemoteKey).WithContext(map[string]interface{}{"target_id": t.id})
		}
	case KindRegistryFlagSet:
		if t.params[ParamRegistryPath] == "" {
			return newMissingFieldError(ParamRegistryPath).WithContext(map[string]interface{}{"target_id": t.id})
		}
		if t.params[ParamRegistryName] == "" {
			return newMissingFieldError(ParamRegistryName).WithContext(map[string]interface{}{"target_id": t.id})
		}
	}
	return nil
}

// ID returns the target identifier.
func (t ConvergenceTarget) ID() string { return t.id }

// Kind returns the target kind.
func (t ConvergenceTarget) Kind() TargetKind { return t.kind }

// Desired returns the desired end-state value.
func (t ConvergenceTarget) Desired() string { return t.desired }

// Param returns a single parameter.
func (t ConvergenceTarget) Param(key string) (string, bool) {
	v, ok := t.params[key]
	return v, ok
}

// ParamOr returns a parameter or the fallback when unset or empty.
func (t ConvergenceTarget) ParamOr(key, fallback string) string {
	if v := t.params[key]; v != "" {
		return v
	}
	return fallback
}

// Params returns a copy of all parameters.
func (t ConvergenceTarget) Params() map[string]string {
	return cloneParams(t.params)
}

// ParamKeys returns the sorted parameter names.
func (t ConvergenceTarget) ParamKeys() []string {
	keys := make([]string, 0, len(t.params))
	for k := range t.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the target for logs.
func (t ConvergenceTarget) String() string {
	return fmt.Sprintf("%s(%s)", t.kind, t.id)
}

func isValidKind(kind TargetKind) bool {
	for _, candidate := range validKinds {
		if candidate == kind {
			return true
		}
	}
	return false
}

func cloneParams(src map[string]string) map[string]string {
	clone := make(map[string]string, len(src))
	for k, v := range src {
		clone[k] = v
	}
	return clone
}
