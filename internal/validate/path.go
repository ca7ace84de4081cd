package validate

import (
	"fmt"
	"strings"
)

var allowedPathRoots = []string{
	"/data/local/tmp",
	"/sdcard",
	"/storage",
	"/system",
	"/vendor",
	"/data/app",
	"/data/data",
}

const pathDangerousCharacters = ";|&$`(){}<>!~"

// NormalizeDevicePath performs purely syntactic resolution: empty and "."
// segments are dropped, ".." pops the last retained segment and never
// escapes below root.
func NormalizeDevicePath(path string) string {
	segments := strings.Split(path, "/")
	retained := make([]string, 0, len(segments))
	for _, segment := range segments {
		switch segment {
		case "", ".":
			continue
		case "..":
			if len(retained) > 0 {
				retained = retained[:len(retained)-1]
			}
		default:
			retained = append(retained, segment)
		}
	}
	return "/" + strings.Join(retained, "/")
}

// DevicePath accepts an absolute on-device path free of shell
// metacharacters whose normalized form lives under an allow-listed root.
// Normalization runs before the root check so traversal sequences cannot
// smuggle a path out of the allowed trees.
func DevicePath(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if index := strings.IndexAny(trimmed, pathDangerousCharacters); index >= 0 {
		return "", fmt.Errorf("path contains forbidden character %q", trimmed[index])
	}
	for _, character := range trimmed {
		if character < 0x20 || character == 0x7f {
			return "", fmt.Errorf("path contains a control character")
		}
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", fmt.Errorf("path %q is not absolute", trimmed)
	}

	normalized := NormalizeDevicePath(trimmed)
	for _, root := range allowedPathRoots {
		if normalized == root || strings.HasPrefix(normalized, root+"/") {
			return normalized, nil
		}
	}
	return "", fmt.Errorf("path %q is outside the allowed device trees", normalized)
}
