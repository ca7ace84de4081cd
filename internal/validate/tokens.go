package validate

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	maxHostnameLength      = 253
	maxHostnameLabelLength = 63
)

var (
	hostnameLabelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)
	permissionPattern    = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+){2,}$`)
	appOpPattern         = regexp.MustCompile(`^[A-Z_]{2,50}$`)
)

// Hostname validates a DNS name. The empty string is the legal "disable"
// sentinel, not an error.
func Hostname(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if len(trimmed) > maxHostnameLength {
		return "", fmt.Errorf("hostname exceeds %d characters", maxHostnameLength)
	}
	for _, label := range strings.Split(trimmed, ".") {
		if label == "" || len(label) > maxHostnameLabelLength {
			return "", fmt.Errorf("hostname label %q is empty or too long", label)
		}
		if !hostnameLabelPattern.MatchString(label) {
			return "", fmt.Errorf("hostname label %q does not match the label grammar", label)
		}
	}
	return trimmed, nil
}

// Permission validates an Android permission token: at least three
// dot-separated segments of letters, digits and underscores.
func Permission(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !permissionPattern.MatchString(trimmed) {
		return "", fmt.Errorf("permission %q does not match the permission grammar", raw)
	}
	return trimmed, nil
}

// AppOp validates an app-operation token: 2-50 uppercase letters or
// underscores.
func AppOp(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !appOpPattern.MatchString(trimmed) {
		return "", fmt.Errorf("app-op %q does not match the token grammar", raw)
	}
	return trimmed, nil
}
