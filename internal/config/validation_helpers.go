package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	convergoerrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

// yamlFieldName makes validator namespaces read like the configuration
// file: "settings.max_attempts" rather than "Config.Settings.MaxAttempts".
func yamlFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return strings.ToLower(f.Name)
	}
	return name
}

// convertValidationError reports the first failed rule as a ValidationError
// on its YAML path.
func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return convergoerrors.NewValidationError("config", err.Error(), err)
	}
	fe := ves[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	return convergoerrors.NewValidationError(field, ruleMessage(fe), err)
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return fmt.Sprintf("%q is not a GUID", fe.Value())
	case "duration":
		return fmt.Sprintf("%q is not a non-negative duration such as 30s", fe.Value())
	case "fqdn":
		return fmt.Sprintf("%q is not a domain name", fe.Value())
	case "url":
		return fmt.Sprintf("%q is not a URL", fe.Value())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "target_kind":
		return fmt.Sprintf("unknown target kind %q", fe.Value())
	case "target_id":
		return fmt.Sprintf("%q may only contain letters, digits and . _ @ -", fe.Value())
	case "regpath":
		return fmt.Sprintf("%q is not a registry key under a known hive", fe.Value())
	}
	return fmt.Sprintf("failed the %q rule", fe.Tag())
}

func fieldForTarget(index int, field string) string {
	return fmt.Sprintf("targets[%d].%s", index, field)
}
