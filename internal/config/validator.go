package config

import (
	"fmt"

	version "github.com/hashicorp/go-version"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/domain/state"
	convergoerrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

// SupportedVersions is the schema constraint accepted by this build.
const SupportedVersions = ">= 1.0, < 2.0"

var supportedConstraint = version.MustConstraints(version.NewConstraint(SupportedVersions))

// ValidateConfig performs schema and cross-field validation on the configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return convergoerrors.NewValidationError("config", "configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	schema, err := version.NewVersion(cfg.Version)
	if err != nil {
		return convergoerrors.NewValidationError("version", fmt.Sprintf("invalid schema version %q", cfg.Version), err)
	}
	if !supportedConstraint.Check(schema) {
		return convergoerrors.NewValidationError("version", fmt.Sprintf("schema version %s does not satisfy %s", schema, SupportedVersions), nil)
	}

	seen := make(map[string]int, len(cfg.Targets))
	for i, target := range cfg.Targets {
		if prev, exists := seen[target.ID]; exists {
			return convergoerrors.NewValidationError(fieldForTarget(i, "id"), fmt.Sprintf("duplicate target id %q (first defined at targets[%d])", target.ID, prev), nil)
		}
		seen[target.ID] = i

		if err := ValidateTarget(target); err != nil {
			return convergoerrors.NewValidationError(fieldForTarget(i, "params"), err.Error(), err)
		}
	}

	if cfg.HardMatch != nil && cfg.Graph == nil {
		return convergoerrors.NewValidationError("graph", "hardmatch requires a graph section", nil)
	}

	if cfg.Device == nil && len(cfg.Targets) == 0 && cfg.HardMatch == nil {
		return convergoerrors.NewValidationError("config", "nothing to reconcile: define device, targets or hardmatch", nil)
	}

	return nil
}

// ValidateTarget checks a configured target against the domain rules and
// the parameter formats of its kind.
func ValidateTarget(t Target) error {
	target, err := ToDomainTarget(t)
	if err != nil {
		return err
	}
	if target.Kind() != reconcile.KindRegistryFlagSet {
		return nil
	}
	path, _ := target.Param(reconcile.ParamRegistryPath)
	if !IsRegistryPath(path) {
		return fmt.Errorf("registry path %q must start with a known hive", path)
	}
	kind := state.ValueKind(target.ParamOr(reconcile.ParamRegistryType, string(state.ValueString)))
	if _, err := state.ParseValue(kind, target.Desired()); err != nil {
		return err
	}
	return nil
}

// ToDomainTarget maps a configured target onto the domain model.
func ToDomainTarget(t Target) (reconcile.ConvergenceTarget, error) {
	return reconcile.NewTarget(t.ID, reconcile.TargetKind(t.Kind), t.Desired, t.Params)
}
