// Package localstate adapts the Windows registry, and an in-memory stand-in,
// to ports.LocalStateClient.
package localstate

import (
	"fmt"
	"strings"
)

// Hive names a registry root.
type Hive string

const (
	HiveLocalMachine Hive = "HKEY_LOCAL_MACHINE"
	HiveCurrentUser  Hive = "HKEY_CURRENT_USER"
	HiveClassesRoot  Hive = "HKEY_CLASSES_ROOT"
	HiveUsers        Hive = "HKEY_USERS"
)

var hiveAliases = map[string]Hive{
	"HKLM":               HiveLocalMachine,
	"HKEY_LOCAL_MACHINE": HiveLocalMachine,
	"HKCU":               HiveCurrentUser,
	"HKEY_CURRENT_USER":  HiveCurrentUser,
	"HKCR":               HiveClassesRoot,
	"HKEY_CLASSES_ROOT":  HiveClassesRoot,
	"HKU":                HiveUsers,
	"HKEY_USERS":         HiveUsers,
}

// SplitPath separates the hive from the subkey of a path such as
// HKLM\SOFTWARE\Microsoft\Enrollments. Forward slashes are accepted.
func SplitPath(path string) (Hive, string, error) {
	p := strings.Trim(strings.ReplaceAll(strings.TrimSpace(path), "/", `\`), `\`)
	root, rest, _ := strings.Cut(p, `\`)
	hive, ok := hiveAliases[strings.ToUpper(root)]
	if !ok {
		return "", "", fmt.Errorf("unknown registry hive in %q", path)
	}
	return hive, rest, nil
}

// JoinPath appends child segments to a registry path.
func JoinPath(parent string, children ...string) string {
	parts := []string{strings.TrimRight(parent, `\`)}
	for _, c := range children {
		if c = strings.Trim(c, `\`); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, `\`)
}

// canonical renders a path with its long hive name and a lowercased subkey,
// matching the registry's case-insensitive lookup.
func canonical(path string) (string, error) {
	hive, sub, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	if sub == "" {
		return string(hive), nil
	}
	return string(hive) + `\` + strings.ToLower(sub), nil
}
