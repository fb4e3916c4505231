// Package security validates user-supplied paths and provider endpoints.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath     = errors.New("path cannot be empty")
	ErrPathTraversal = errors.New("path traversal detected")
	ErrAbsolutePath  = errors.New("absolute paths are not allowed")
	ErrReservedName  = errors.New("reserved filename not allowed")
	ErrNotJSON       = errors.New("export files must have a .json extension")

	windowsReservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true,
		"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
		"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
	}
)

// ValidateExportPath checks a path an export document will be written to.
// Only relative .json paths below the working directory are accepted.
func ValidateExportPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	if err := validateRelative(path); err != nil {
		return err
	}
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return ErrNotJSON
	}
	return nil
}

// ValidateOutputDir checks a directory batch results will be written under.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return ErrEmptyPath
	}
	return validateRelative(dir)
}

func validateRelative(path string) error {
	if filepath.IsAbs(path) {
		return ErrAbsolutePath
	}

	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return ErrPathTraversal
		}
	}

	base := filepath.Base(filepath.Clean(path))
	if windowsReservedNames[strings.TrimSuffix(strings.ToLower(base), filepath.Ext(base))] {
		return ErrReservedName
	}
	if strings.HasPrefix(base, "-") {
		return fmt.Errorf("filename cannot start with hyphen: %s", base)
	}
	return nil
}

// SanitizeFilename turns arbitrary text into a safe single path element.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-",
		"*", "", "?", "", "\"", "",
		"<", "", ">", "", "|", "", "\x00", "",
		"\n", " ", "\r", "", "\t", " ",
	)
	sanitized := replacer.Replace(name)
	sanitized = strings.TrimLeft(sanitized, ".- ")
	sanitized = strings.TrimRight(sanitized, ". ")

	nameWithoutExt := strings.TrimSuffix(strings.ToLower(sanitized), filepath.Ext(sanitized))
	if windowsReservedNames[nameWithoutExt] {
		sanitized = sanitized + "_"
	}

	if sanitized == "" {
		sanitized = "prompt"
	}
	return sanitized
}
