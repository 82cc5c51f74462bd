package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	convergoerrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ParseConfig loads a configuration file from disk, applies defaults and
// environment overrides, validates it, and returns the resulting model.
func ParseConfig(path string, env Environment) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, convergoerrors.NewParseError(path, 0, err)
	}
	return ParseBytes(path, data, env)
}

// ParseBytes is ParseConfig for in-memory documents; path is only used in
// error messages.
func ParseBytes(path string, data []byte, env Environment) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, convergoerrors.NewParseError(path, extractLine(err), err)
	}

	if err := ApplyEnvironment(&cfg, env); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadNicknames reads a YAML mapping of first names to synonym lists.
func LoadNicknames(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, convergoerrors.NewParseError(path, 0, err)
	}
	var table map[string][]string
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, convergoerrors.NewParseError(path, extractLine(err), err)
	}
	return table, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
