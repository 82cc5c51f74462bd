package config

import (
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	version "github.com/hashicorp/go-version"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern   = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	targetIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)
	regPathPattern  = regexp.MustCompile(`(?i)^(HKLM|HKCU|HKCR|HKU|HKEY_LOCAL_MACHINE|HKEY_CURRENT_USER|HKEY_CLASSES_ROOT|HKEY_USERS)(\\[^\\]+)+$`)
	targetKinds     = map[string]struct{}{
		string(reconcile.KindDeviceJoined):    {},
		string(reconcile.KindMDMEnrolled):     {},
		string(reconcile.KindImmutableIDSet):  {},
		string(reconcile.KindRegistryFlagSet): {},
	}
)

// validatorInstance configures and returns the shared validator instance used across the config package.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(yamlFieldName)

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("target_id", func(fl validator.FieldLevel) bool {
			return targetIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("target_kind", func(fl validator.FieldLevel) bool {
			_, ok := targetKinds[fl.Field().String()]
			return ok
		})

		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			d, err := time.ParseDuration(fl.Field().String())
			return err == nil && d >= 0
		})

		_ = v.RegisterValidation("osversion", func(fl validator.FieldLevel) bool {
			_, err := version.NewVersion(fl.Field().String())
			return err == nil
		})

		_ = v.RegisterValidation("regpath", func(fl validator.FieldLevel) bool {
			return regPathPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator returns a configured validator instance for use outside the config package.
func GetValidator() *validator.Validate {
	return validatorInstance()
}

// IsRegistryPath reports whether p names a registry key with a known hive.
func IsRegistryPath(p string) bool {
	return regPathPattern.MatchString(p)
}
