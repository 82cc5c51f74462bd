// Package config adapts the YAML configuration file to the ConfigLoader port.
package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	cfgpkg "github.com/alexisbeaulieu97/convergo/internal/config"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
	apperrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

// YAMLLoader reads convergo configuration files from disk.
type YAMLLoader struct {
	logger ports.Logger
	env    cfgpkg.Environment
}

var _ ports.ConfigLoader = (*YAMLLoader)(nil)

// NewYAMLLoader builds a loader. A nil env disables CONVERGO_* overrides.
func NewYAMLLoader(logger ports.Logger, env cfgpkg.Environment) *YAMLLoader {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &YAMLLoader{logger: logger.With("component", "config"), env: env}
}

// Load parses, defaults and validates the file at path.
func (l *YAMLLoader) Load(ctx context.Context, path string) (*cfgpkg.Config, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}
	l.logger.Debug(ctx, "loading configuration", "path", path)

	cfg, err := cfgpkg.ParseConfig(path, l.env)
	if err != nil {
		mapped := mapLoadError(err, path)
		l.logger.Error(ctx, "configuration rejected", "path", path, "code", string(reconcile.CodeOf(mapped)), "error", err)
		return nil, mapped
	}
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	l.logger.Info(ctx, "configuration loaded",
		"path", path,
		"targets", targetInventory(cfg),
		"hardmatch", cfg.HardMatch != nil,
		"dry_run", cfg.Settings.DryRun,
	)
	return cfg, nil
}

// Validate rejects directories and non-YAML extensions before loading.
func (l *YAMLLoader) Validate(ctx context.Context, path string) error {
	if err := cancelled(ctx); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return mapLoadError(err, path)
	}
	if info.IsDir() {
		return reconcile.NewError(reconcile.ErrCodeValidation, "configuration path is a directory", nil, map[string]interface{}{"path": path})
	}
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
		return reconcile.NewError(reconcile.ErrCodeValidation, "configuration must be a .yaml or .yml file", nil, map[string]interface{}{"path": path, "extension": ext})
	}
	_, err = l.Load(ctx, path)
	return err
}

// targetInventory summarises what a run will touch, e.g.
// "device_joined,mdm_enrolled,registry_flag_set:setup-complete".
func targetInventory(cfg *cfgpkg.Config) string {
	var parts []string
	if d := cfg.Device; d != nil {
		if !d.SkipEntra {
			parts = append(parts, string(reconcile.KindDeviceJoined))
		}
		if !d.SkipIntune {
			parts = append(parts, string(reconcile.KindMDMEnrolled))
		}
	}
	for _, t := range cfg.Targets {
		parts = append(parts, t.Kind+":"+t.ID)
	}
	return strings.Join(parts, ",")
}

func mapLoadError(err error, path string) error {
	ctx := map[string]interface{}{"path": path}

	var parseErr *apperrors.ParseError
	var valErr *apperrors.ValidationError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return reconcile.NewError(reconcile.ErrCodeNotFound, "configuration not found", err, ctx)
	case errors.As(err, &parseErr):
		ctx["line"] = parseErr.Line
		return reconcile.NewError(reconcile.ErrCodeValidation, "invalid configuration syntax", err, ctx)
	case errors.As(err, &valErr):
		if valErr.Field != "" {
			ctx["field"] = valErr.Field
		}
		return reconcile.NewError(reconcile.ErrCodeValidation, valErr.Message, valErr.Err, ctx)
	}
	return reconcile.NewError(reconcile.ErrCodeInternal, "configuration load failed", err, ctx)
}

func cancelled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return reconcile.NewError(reconcile.ErrCodeCancelled, "operation cancelled", err, nil)
	}
	return nil
}
