package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"regexp"
)

// CheckCommandExists verifies an executable resolves, either on PATH or as a
// path to a file.
func CheckCommandExists(command string) error {
	if command == "" {
		return fmt.Errorf("command name is required")
	}
	if _, err := exec.LookPath(command); err != nil {
		return err
	}
	return nil
}

// CheckFileExists verifies a file or directory exists at the given path.
func CheckFileExists(path string) error {
	if path == "" {
		return fmt.Errorf("path is required")
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("path %s does not exist", path)
		}
		return err
	}
	return nil
}

// CheckPathContains verifies that file content matches the pattern.
func CheckPathContains(path, pattern string) error {
	if path == "" {
		return fmt.Errorf("file path is required")
	}
	if pattern == "" {
		return fmt.Errorf("pattern is required")
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if !re.Match(data) {
		return fmt.Errorf("pattern %q not found in %s", pattern, path)
	}
	return nil
}
