package transport

import (
	"regexp"
	"strconv"
	"strings"
)

const exitCodeTrailer = "__droidgate_rc="

// appendExitTrailer makes the legacy shell service report the exit code,
// which it otherwise swallows.
func appendExitTrailer(command string) string {
	return command + "; echo " + exitCodeTrailer + "$?"
}

// parseShellOutput splits the trailer line back out of the merged shell
// output. Output without a trailer is treated as exit 0.
func parseShellOutput(raw string) ShellResult {
	trimmed := strings.TrimRight(raw, "\r\n")
	lines := strings.Split(trimmed, "\n")
	lastLine := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(lastLine, exitCodeTrailer) {
		return ShellResult{ExitCode: 0, Stdout: trimmed}
	}

	exitCode, parseError := strconv.Atoi(strings.TrimPrefix(lastLine, exitCodeTrailer))
	if parseError != nil {
		exitCode = 0
	}
	body := strings.TrimRight(strings.Join(lines[:len(lines)-1], "\n"), "\r\n")
	result := ShellResult{ExitCode: exitCode, Stdout: body}
	if exitCode != 0 {
		// The legacy shell service merges the streams; on failure the
		// merged output is the best stderr available.
		result.Stderr = body
	}
	return result
}

var packageLinePattern = regexp.MustCompile(`^package:(.*)=([a-zA-Z0-9._]+)$`)

// parsePackageList parses `pm list packages -f` output, marking entries
// found in disabledNames as disabled.
func parsePackageList(raw string, disabledNames map[string]bool) []Package {
	packages := make([]Package, 0, 64)
	for _, line := range strings.Split(raw, "\n") {
		match := packageLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}
		apkPath := match[1]
		name := match[2]
		packages = append(packages, Package{
			Name:    name,
			Enabled: !disabledNames[name],
			System:  isSystemApkPath(apkPath),
			ApkPath: apkPath,
		})
	}
	return packages
}

func isSystemApkPath(apkPath string) bool {
	for _, prefix := range []string{"/system/", "/vendor/", "/product/", "/system_ext/", "/apex/"} {
		if strings.HasPrefix(apkPath, prefix) {
			return true
		}
	}
	return false
}

// parseDisabledNames parses `pm list packages -d` output.
func parseDisabledNames(raw string) map[string]bool {
	disabled := map[string]bool{}
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if name, found := strings.CutPrefix(trimmed, "package:"); found && name != "" {
			disabled[name] = true
		}
	}
	return disabled
}

var userLinePattern = regexp.MustCompile(`UserInfo\{(\d+):([^:]*):`)

// parseUserList parses `pm list users` output.
func parseUserList(raw string) []User {
	users := make([]User, 0, 4)
	for _, line := range strings.Split(raw, "\n") {
		match := userLinePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		id, parseError := strconv.Atoi(match[1])
		if parseError != nil {
			continue
		}
		users = append(users, User{ID: id, Name: match[2]})
	}
	return users
}

var (
	batteryLevelPattern  = regexp.MustCompile(`level:\s*(\d+)`)
	screenSizePattern    = regexp.MustCompile(`Physical size:\s*(\d+x\d+)`)
	screenDensityPattern = regexp.MustCompile(`Physical density:\s*(\d+)`)
)

func parseBatteryLevel(raw string) int {
	if match := batteryLevelPattern.FindStringSubmatch(raw); match != nil {
		if level, parseError := strconv.Atoi(match[1]); parseError == nil {
			return level
		}
	}
	return -1
}

func parseScreenSize(raw string) string {
	if match := screenSizePattern.FindStringSubmatch(raw); match != nil {
		return match[1]
	}
	return ""
}

func parseScreenDensity(raw string) int {
	if match := screenDensityPattern.FindStringSubmatch(raw); match != nil {
		if density, parseError := strconv.Atoi(match[1]); parseError == nil {
			return density
		}
	}
	return 0
}
