package validate

import (
	"fmt"
	"regexp"
	"strings"
)

const maxIdentifierLength = 256

var identifierPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)

// PackageName validates an Android application identifier: two or more
// dot-separated segments, each starting with a letter.
func PackageName(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("package name is empty")
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("package name exceeds %d characters", maxIdentifierLength)
	}
	if !identifierPattern.MatchString(trimmed) {
		return "", fmt.Errorf("package name %q does not match the identifier grammar", trimmed)
	}
	return trimmed, nil
}
