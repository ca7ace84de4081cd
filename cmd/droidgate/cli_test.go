package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func startFakeDaemon(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	t.Setenv("DROIDGATE_DAEMON_ADDR", strings.TrimPrefix(server.URL, "http://"))
	t.Setenv("HOME", t.TempDir())
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	output := &bytes.Buffer{}
	rootCmd := newRootCmd()
	rootCmd.SetOut(output)
	rootCmd.SetErr(output)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return output.String(), err
}

func TestValidateCommandPrintsAcceptedOutcome(t *testing.T) {
	startFakeDaemon(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/validate" {
			http.NotFound(writer, request)
			return
		}
		payload := struct {
			Command string `json:"command"`
		}{}
		_ = json.NewDecoder(request.Body).Decode(&payload)
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(map[string]any{
			"accepted":         true,
			"normalized_value": strings.TrimSpace(payload.Command),
			"matched_rule_id":  "pm-ops",
		})
	})

	output, err := runCommand(t, "validate", "  pm list packages  ")
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if !strings.Contains(output, "accepted (rule pm-ops): pm list packages") {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestValidateCommandPrintsRejection(t *testing.T) {
	startFakeDaemon(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(map[string]any{
			"accepted": false,
			"reason":   "command chaining is not allowed",
		})
	})

	output, err := runCommand(t, "validate", "pm list; reboot")
	if err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	if !strings.Contains(output, "rejected: command chaining is not allowed") {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestToggleSurfacesDaemonError(t *testing.T) {
	startFakeDaemon(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(writer).Encode(map[string]any{
			"ok":    false,
			"error": `unknown package "com.missing.app"; refresh the package list`,
		})
	})

	_, err := runCommand(t, "toggle", "com.missing.app")
	if err == nil {
		t.Fatal("toggle succeeded, want daemon error")
	}
	if !strings.Contains(err.Error(), "refresh the package list") {
		t.Fatalf("error %q does not carry the daemon message", err)
	}
}

func TestAuditPassesLimit(t *testing.T) {
	var seenLimit string
	startFakeDaemon(t, func(writer http.ResponseWriter, request *http.Request) {
		seenLimit = request.URL.Query().Get("limit")
		writer.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(writer).Encode(map[string]any{"ok": true, "entries": []any{}})
	})

	if _, err := runCommand(t, "audit", "--limit", "7"); err != nil {
		t.Fatalf("audit returned error: %v", err)
	}
	if seenLimit != "7" {
		t.Fatalf("limit query = %q, want 7", seenLimit)
	}
}

func TestDaemonUnreachable(t *testing.T) {
	t.Setenv("DROIDGATE_DAEMON_ADDR", "127.0.0.1:1")
	t.Setenv("HOME", t.TempDir())

	_, err := runCommand(t, "device")
	if err == nil {
		t.Fatal("device succeeded against an unreachable daemon")
	}
	if !strings.Contains(err.Error(), "droidgated unreachable") {
		t.Fatalf("error %q does not name the daemon", err)
	}
}
