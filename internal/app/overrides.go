package app

import (
	"errors"
	"time"

	"github.com/alexisbeaulieu97/convergo/internal/config"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	convergoerrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

// Overrides carries command-line values that take precedence over the file.
// Zero values leave the file setting alone.
type Overrides struct {
	DryRun      bool
	MaxAttempts int
	SettleDelay *time.Duration
	Domain      string
	Nicknames   *bool
	Parallelism int
	Verbose     bool
}

// Apply copies the overrides onto cfg and revalidates it.
func (o Overrides) Apply(cfg *config.Config) error {
	if o.DryRun {
		cfg.Settings.DryRun = true
	}
	if o.MaxAttempts != 0 {
		cfg.Settings.MaxAttempts = o.MaxAttempts
	}
	if o.SettleDelay != nil {
		if *o.SettleDelay < 0 {
			return overrideError(convergoerrors.NewValidationError("settle-delay", "must be non-negative", nil))
		}
		cfg.Settings.SettleDelay = o.SettleDelay.String()
	}
	if o.Parallelism != 0 {
		cfg.Settings.Parallelism = o.Parallelism
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
	if cfg.HardMatch == nil {
		switch {
		case o.Domain != "":
			return overrideError(convergoerrors.NewValidationError("domain", "requires a hardmatch section in the configuration", nil))
		case o.Nicknames != nil:
			return overrideError(convergoerrors.NewValidationError("nicknames", "requires a hardmatch section in the configuration", nil))
		}
	} else {
		if o.Domain != "" {
			cfg.HardMatch.Domain = o.Domain
		}
		if o.Nicknames != nil {
			cfg.HardMatch.Nicknames = *o.Nicknames
		}
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return overrideError(err)
	}
	return nil
}

func overrideError(err error) error {
	ctx := map[string]interface{}{}
	var valErr *convergoerrors.ValidationError
	if errors.As(err, &valErr) && valErr.Field != "" {
		ctx["field"] = valErr.Field
	}
	return reconcile.NewError(reconcile.ErrCodeValidation, "invalid command-line override", err, ctx)
}
