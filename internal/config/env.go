package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	convergoerrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

// EnvPrefix prefixes every recognised environment override.
const EnvPrefix = "CONVERGO_"

// Environment looks up override values.
type Environment func(key string) (string, bool)

// OSEnvironment reads the process environment.
func OSEnvironment() Environment {
	return os.LookupEnv
}

// MapEnvironment serves lookups from a fixed map.
func MapEnvironment(values map[string]string) Environment {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// LoadEnvironment layers the process environment over an optional dotenv
// file. A missing file is not an error.
func LoadEnvironment(dotenvPath string) (Environment, error) {
	fileValues := map[string]string{}
	if dotenvPath != "" {
		values, err := godotenv.Read(dotenvPath)
		switch {
		case err == nil:
			fileValues = values
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, convergoerrors.NewParseError(dotenvPath, 0, err)
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileValues[key]
		return v, ok
	}, nil
}

// ApplyEnvironment copies CONVERGO_* overrides onto cfg. Secrets such as the
// Graph client secret are normally supplied this way.
func ApplyEnvironment(cfg *Config, env Environment) error {
	if cfg == nil || env == nil {
		return nil
	}
	lookup := func(name string) (string, bool) {
		v, ok := env(EnvPrefix + name)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := lookup("DRY_RUN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return convergoerrors.NewValidationError(EnvPrefix+"DRY_RUN", "must be a boolean", err)
		}
		cfg.Settings.DryRun = b
	}
	if v, ok := lookup("MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return convergoerrors.NewValidationError(EnvPrefix+"MAX_ATTEMPTS", "must be an integer", err)
		}
		cfg.Settings.MaxAttempts = n
	}
	if v, ok := lookup("SETTLE_DELAY"); ok {
		cfg.Settings.SettleDelay = v
	}
	if v, ok := lookup("STATE_DIR"); ok {
		cfg.Settings.StateDir = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup("TENANT_ID"); ok && cfg.Device != nil {
		cfg.Device.TenantID = v
	}
	if v, ok := lookup("DOMAIN"); ok && cfg.HardMatch != nil {
		cfg.HardMatch.Domain = v
	}

	if cfg.Graph != nil {
		if v, ok := lookup("GRAPH_TENANT_ID"); ok {
			cfg.Graph.TenantID = v
		}
		if v, ok := lookup("GRAPH_CLIENT_ID"); ok {
			cfg.Graph.ClientID = v
		}
		if v, ok := lookup("GRAPH_CLIENT_SECRET"); ok {
			cfg.Graph.ClientSecret = v
		}
	}
	return nil
}
