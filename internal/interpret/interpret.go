// Package interpret decides success or failure for free-form device shell
// output. On-device shells return inconsistent text across vendors, so the
// decision is exit code or a known marker substring; the marker table is a
// single data-driven lookup shared by every call site, and an acknowledged
// approximation.
package interpret

import (
	"strings"

	"github.com/webadb/droidgate/internal/transport"
)

// Outcome tags for matched markers.
type Outcome string

const (
	OutcomeExitCode          Outcome = "exit-code"
	OutcomeStateChanged      Outcome = "state-changed"
	OutcomeGenericSuccess    Outcome = "generic-success"
	OutcomeFallbackUninstall Outcome = "fallback-uninstall"
	OutcomeFallbackReinstall Outcome = "fallback-reinstall"
)

// MarkerTableVersion identifies the marker table revision recorded in
// audit messages when a marker, not the exit code, decided the outcome.
const MarkerTableVersion = 2

type markerRule struct {
	marker  string
	outcome Outcome
}

// Checked in order; first substring hit wins.
var markerTable = []markerRule{
	{marker: "new state:", outcome: OutcomeStateChanged},
	{marker: "uninstalled for user", outcome: OutcomeFallbackUninstall},
	{marker: "installed for user", outcome: OutcomeFallbackReinstall},
	{marker: "Success", outcome: OutcomeGenericSuccess},
}

// Interpretation is the unified verdict for one channel result.
type Interpretation struct {
	OK       bool
	Fallback bool
	Outcome  Outcome
	Marker   string
}

// ShellResult applies the marker table to one channel result. Exit code
// zero succeeds outright; otherwise any known marker in stdout rescues the
// result, and fallback markers additionally flag that the device silently
// substituted an alternate strategy.
func ShellResult(result transport.ShellResult) Interpretation {
	for _, rule := range markerTable {
		if strings.Contains(result.Stdout, rule.marker) {
			return Interpretation{
				OK:       true,
				Fallback: rule.outcome == OutcomeFallbackUninstall || rule.outcome == OutcomeFallbackReinstall,
				Outcome:  rule.outcome,
				Marker:   rule.marker,
			}
		}
	}
	if result.ExitCode == 0 {
		return Interpretation{OK: true, Outcome: OutcomeExitCode}
	}
	return Interpretation{OK: false}
}

// ErrorText picks the most useful error payload from a failed result.
func ErrorText(result transport.ShellResult) string {
	if trimmed := strings.TrimSpace(result.Stderr); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(result.Stdout)
}
