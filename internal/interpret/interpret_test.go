package interpret

import (
	"strings"
	"testing"

	"github.com/webadb/droidgate/internal/transport"
)

func TestShellResultExitCode(t *testing.T) {
	t.Parallel()

	verdict := ShellResult(transport.ShellResult{ExitCode: 0, Stdout: "whatever"})
	if !verdict.OK || verdict.Outcome != OutcomeExitCode || verdict.Fallback {
		t.Fatalf("expected plain exit-code success, got %+v", verdict)
	}

	verdict = ShellResult(transport.ShellResult{ExitCode: 1, Stderr: "Failure"})
	if verdict.OK {
		t.Fatalf("expected non-zero exit with no marker to fail")
	}
}

func TestShellResultMarkersRescueNonZeroExit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		stdout   string
		outcome  Outcome
		fallback bool
	}{
		{stdout: "Package com.x new state: disabled-user", outcome: OutcomeStateChanged},
		{stdout: "Success", outcome: OutcomeGenericSuccess},
		{stdout: "Package com.x uninstalled for user: 0", outcome: OutcomeFallbackUninstall, fallback: true},
		{stdout: "Package com.x installed for user: 0", outcome: OutcomeFallbackReinstall, fallback: true},
	}
	for _, testCase := range cases {
		verdict := ShellResult(transport.ShellResult{ExitCode: 1, Stdout: testCase.stdout})
		if !verdict.OK {
			t.Fatalf("expected marker %q to rescue the result", testCase.stdout)
		}
		if verdict.Outcome != testCase.outcome {
			t.Fatalf("expected outcome %s for %q, got %s", testCase.outcome, testCase.stdout, verdict.Outcome)
		}
		if verdict.Fallback != testCase.fallback {
			t.Fatalf("expected fallback=%v for %q", testCase.fallback, testCase.stdout)
		}
	}
}

func TestErrorText(t *testing.T) {
	t.Parallel()

	text := ErrorText(transport.ShellResult{Stdout: "out", Stderr: "  err  "})
	if text != "err" {
		t.Fatalf("expected stderr to win, got %q", text)
	}
	text = ErrorText(transport.ShellResult{Stdout: "out only"})
	if text != "out only" {
		t.Fatalf("expected stdout fallback, got %q", text)
	}
}

func TestHintFor(t *testing.T) {
	t.Parallel()

	if hint := HintFor("java.lang.SecurityException: Permission Denial"); !strings.Contains(hint, "security") {
		t.Fatalf("expected a security hint, got %q", hint)
	}
	if hint := HintFor("Error: cannot disable com.vendor.core"); !strings.Contains(hint, "protected") {
		t.Fatalf("expected a protected-package hint, got %q", hint)
	}
	if hint := HintFor("Failure: Unknown package: com.nope"); !strings.Contains(hint, "not installed") {
		t.Fatalf("expected an unknown-package hint, got %q", hint)
	}
	if hint := HintFor("some other failure"); hint != "" {
		t.Fatalf("expected no hint, got %q", hint)
	}
}
