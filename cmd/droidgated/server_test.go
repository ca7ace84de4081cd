package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/webadb/droidgate/internal/audit"
	"github.com/webadb/droidgate/internal/debloat"
	"github.com/webadb/droidgate/internal/history"
	"github.com/webadb/droidgate/internal/policy"
	"github.com/webadb/droidgate/internal/transport"
)

func newTestServer(t *testing.T, consolePolicy *policy.ConsolePolicy) *daemonServer {
	t.Helper()
	return newTestServerWithTransport(t, consolePolicy, transport.NewDemo())
}

func newTestServerWithTransport(t *testing.T, consolePolicy *policy.ConsolePolicy, deviceTransport transport.Transport) *daemonServer {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "droidgate.db")
	db, openError := bolt.Open(dbPath, 0o600, nil)
	if openError != nil {
		t.Fatalf("open database failed: %v", openError)
	}
	t.Cleanup(func() { _ = db.Close() })

	auditLog, auditError := audit.NewLog(db)
	if auditError != nil {
		t.Fatalf("open audit log failed: %v", auditError)
	}
	historyStore, historyError := history.NewStore(db)
	if historyError != nil {
		t.Fatalf("open history store failed: %v", historyError)
	}

	server, serverError := newDaemonServer(daemonConfig{
		deviceTransport: deviceTransport,
		auditLog:        auditLog,
		historyStore:    historyStore,
		consolePolicy:   consolePolicy,
		demoTransport:   true,
		authDisabled:    true,
	})
	if serverError != nil {
		t.Fatalf("build server failed: %v", serverError)
	}
	return server
}

func doJSON(t *testing.T, server *daemonServer, method string, path string, body string) (int, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	server.router().ServeHTTP(recorder, request)

	decoded := map[string]any{}
	if unmarshalError := json.Unmarshal(recorder.Body.Bytes(), &decoded); unmarshalError != nil {
		t.Fatalf("parse response %q failed: %v", recorder.Body.String(), unmarshalError)
	}
	return recorder.Code, decoded
}

func enterDemo(t *testing.T, server *daemonServer) {
	t.Helper()
	statusCode, _ := doJSON(t, server, http.MethodPost, "/session/demo", "")
	if statusCode != http.StatusOK {
		t.Fatalf("enter demo failed with status %d", statusCode)
	}
}

func TestHandleHealth(t *testing.T) {
	server := newTestServer(t, nil)
	statusCode, response := doJSON(t, server, http.MethodGet, "/health", "")
	if statusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", statusCode)
	}
	if response["service"] != "droidgated" {
		t.Fatalf("unexpected health payload: %v", response)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	server := newTestServer(t, nil)
	server.authDisabled = false
	server.daemonToken = "secret"

	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	server.router().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", recorder.Code)
	}

	request = httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("X-Droidgate-Token", "secret")
	recorder = httptest.NewRecorder()
	server.router().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200 with token, got %d", recorder.Code)
	}
}

func TestHandleValidate(t *testing.T) {
	server := newTestServer(t, nil)

	statusCode, response := doJSON(t, server, http.MethodPost, "/validate", `{"command":"pm list packages"}`)
	if statusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", statusCode)
	}
	if response["accepted"] != true {
		t.Fatalf("expected accepted command, got %v", response)
	}

	_, response = doJSON(t, server, http.MethodPost, "/validate", `{"command":"pm list packages; rm -rf /"}`)
	if response["accepted"] == true {
		t.Fatalf("expected rejection, got %v", response)
	}
	if response["reason"] == nil || response["reason"] == "" {
		t.Fatalf("expected rejection reason, got %v", response)
	}
}

func TestDeviceOperationsRequireAttachedSession(t *testing.T) {
	server := newTestServer(t, nil)
	statusCode, response := doJSON(t, server, http.MethodPost, "/terminal", `{"command":"pm list packages"}`)
	if statusCode != http.StatusConflict {
		t.Fatalf("expected status 409, got %d (%v)", statusCode, response)
	}
}

func TestDemoSessionAndPackages(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodGet, "/session", "")
	if statusCode != http.StatusOK || response["state"] != "demo" {
		t.Fatalf("unexpected session snapshot: %d %v", statusCode, response)
	}

	statusCode, response = doJSON(t, server, http.MethodGet, "/packages", "")
	if statusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", statusCode)
	}
	packages, isSlice := response["packages"].([]any)
	if !isSlice || len(packages) == 0 {
		t.Fatalf("expected demo packages, got %v", response)
	}
}

func TestHandleToggleRequiresConfirmationForSystemPackages(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/packages/com.android.chrome/toggle", `{"enable":false}`)
	if statusCode != http.StatusConflict {
		t.Fatalf("expected status 409, got %d (%v)", statusCode, response)
	}
	if response["needs_confirmation"] != true {
		t.Fatalf("expected needs_confirmation, got %v", response)
	}

	statusCode, response = doJSON(t, server, http.MethodPost, "/packages/com.android.chrome/toggle", `{"enable":false,"confirmed":true}`)
	if statusCode != http.StatusOK || response["applied"] != true {
		t.Fatalf("expected applied toggle, got %d %v", statusCode, response)
	}
}

func TestHandleToggleUnknownPackage(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/packages/com.missing.app/toggle", `{"enable":false,"confirmed":true}`)
	if statusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d (%v)", statusCode, response)
	}
	errorText, _ := response["error"].(string)
	if !strings.Contains(errorText, "refresh the package list") {
		t.Fatalf("expected refresh hint, got %q", errorText)
	}
}

func TestHandleTerminalRunsGatedCommand(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/terminal", `{"command":"  getprop ro.product.model  "}`)
	if statusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%v)", statusCode, response)
	}
	stdout, _ := response["stdout"].(string)
	if !strings.Contains(stdout, "getprop ro.product.model") {
		t.Fatalf("expected demo echo of the normalized command, got %q", stdout)
	}

	statusCode, response = doJSON(t, server, http.MethodPost, "/terminal", `{"command":"rm -rf /sdcard"}`)
	if statusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d (%v)", statusCode, response)
	}
	if response["rejected"] != true {
		t.Fatalf("expected rejection, got %v", response)
	}

	entries := server.auditLog.Entries(10)
	if len(entries) < 2 {
		t.Fatalf("expected audit entries for both commands, got %d", len(entries))
	}
}

func TestHandleSettings(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/settings", `{"action":"put","namespace":"system","key":"font_scale","value":"1.15"}`)
	if statusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%v)", statusCode, response)
	}

	statusCode, response = doJSON(t, server, http.MethodPost, "/settings", `{"action":"put","namespace":"system","key":"not_a_known_key","value":"1"}`)
	if statusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d (%v)", statusCode, response)
	}
}

func TestHandleBatchRunsToCompletion(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/packages/batch", `{"names":["com.android.chrome","com.vendor.weather"],"confirmed":true}`)
	if statusCode != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d (%v)", statusCode, response)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		server.batchMutex.Lock()
		active := server.batchActive
		server.batchMutex.Unlock()
		if !active {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("batch did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	statusCode, response = doJSON(t, server, http.MethodGet, "/packages/batch/progress", "")
	if statusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", statusCode)
	}
	if response["progress"] != nil {
		t.Fatalf("expected progress cleared after batch, got %v", response["progress"])
	}
}

func TestHandleBatchNeedsConfirmation(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/packages/batch", `{"names":["com.android.chrome"]}`)
	if statusCode != http.StatusConflict {
		t.Fatalf("expected status 409, got %d (%v)", statusCode, response)
	}
	if response["needs_confirmation"] != true {
		t.Fatalf("expected needs_confirmation, got %v", response)
	}
}

func TestHandleProfileProvisioning(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/users/profile", `{"name":"work","packages":["com.example.game"]}`)
	if statusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%v)", statusCode, response)
	}
	if response["user_id"] != float64(10) {
		t.Fatalf("expected demo user id 10, got %v", response["user_id"])
	}
}

func TestHandleMetrics(t *testing.T) {
	server := newTestServer(t, nil)
	_, _ = doJSON(t, server, http.MethodPost, "/validate", `{"command":"pm list packages"}`)

	request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	server.router().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "droidgate_commands_validated_total 1") {
		t.Fatalf("unexpected metrics output: %s", recorder.Body.String())
	}
}

func TestPolicyMaxUnconfirmedRiskOnlyTightens(t *testing.T) {
	server := newTestServer(t, &policy.ConsolePolicy{MaxUnconfirmedRisk: "unsafe"})
	enterDemo(t, server)

	// System packages keep their confirmation gate even when the policy
	// raises the risk ceiling.
	statusCode, response := doJSON(t, server, http.MethodPost, "/packages/com.android.chrome/toggle", `{"enable":false}`)
	if statusCode != http.StatusConflict {
		t.Fatalf("expected status 409 for system package, got %d (%v)", statusCode, response)
	}

	// So do dangerous packages: a permissive ceiling cannot widen the
	// built-in rule.
	loadError := server.orchestrator.LoadPackages(context.Background(), map[string]debloat.RiskLevel{
		"com.example.game": debloat.RiskUnsafe,
	})
	if loadError != nil {
		t.Fatalf("reload packages failed: %v", loadError)
	}
	statusCode, response = doJSON(t, server, http.MethodPost, "/packages/com.example.game/toggle", `{"enable":false}`)
	if statusCode != http.StatusConflict || response["needs_confirmation"] != true {
		t.Fatalf("expected unsafe package to stay gated, got %d (%v)", statusCode, response)
	}

	// A restrictive ceiling does tighten: default-risk packages now gate.
	strictServer := newTestServer(t, &policy.ConsolePolicy{MaxUnconfirmedRisk: "recommended"})
	enterDemo(t, strictServer)
	statusCode, response = doJSON(t, strictServer, http.MethodPost, "/packages/com.example.game/toggle", `{"enable":false}`)
	if statusCode != http.StatusConflict || response["needs_confirmation"] != true {
		t.Fatalf("expected tightened ceiling to gate the toggle, got %d (%v)", statusCode, response)
	}
	statusCode, response = doJSON(t, strictServer, http.MethodPost, "/packages/com.example.game/toggle", `{"enable":false,"confirmed":true}`)
	if statusCode != http.StatusOK || response["applied"] != true {
		t.Fatalf("expected confirmed toggle to apply, got %d (%v)", statusCode, response)
	}
}

func TestHandlePermission(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/packages/com.android.chrome/permission", `{"permission":"android.permission.CAMERA","grant":true}`)
	if statusCode != http.StatusOK {
		t.Fatalf("expected grant to run, got %d (%v)", statusCode, response)
	}
	if stdout, _ := response["stdout"].(string); !strings.Contains(stdout, "pm grant com.android.chrome android.permission.CAMERA") {
		t.Fatalf("unexpected channel command %v", response)
	}

	statusCode, response = doJSON(t, server, http.MethodPost, "/packages/com.android.chrome/permission", `{"permission":"android.permission.CAMERA","grant":false}`)
	if statusCode != http.StatusOK {
		t.Fatalf("expected revoke to run, got %d (%v)", statusCode, response)
	}
	if stdout, _ := response["stdout"].(string); !strings.Contains(stdout, "pm revoke") {
		t.Fatalf("unexpected channel command %v", response)
	}

	statusCode, response = doJSON(t, server, http.MethodPost, "/packages/com.android.chrome/permission", `{"permission":"CAMERA;reboot","grant":true}`)
	if statusCode != http.StatusBadRequest {
		t.Fatalf("expected malformed permission to be rejected, got %d (%v)", statusCode, response)
	}
}

func TestHandleAppOp(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/packages/com.android.chrome/appop", `{"op":"RUN_IN_BACKGROUND","mode":"ignore"}`)
	if statusCode != http.StatusOK {
		t.Fatalf("expected app-op set to run, got %d (%v)", statusCode, response)
	}
	if stdout, _ := response["stdout"].(string); !strings.Contains(stdout, "appops set com.android.chrome RUN_IN_BACKGROUND ignore") {
		t.Fatalf("unexpected channel command %v", response)
	}

	statusCode, response = doJSON(t, server, http.MethodPost, "/packages/com.android.chrome/appop", `{"op":"run_in_background","mode":"ignore"}`)
	if statusCode != http.StatusBadRequest {
		t.Fatalf("expected lowercase op token to be rejected, got %d (%v)", statusCode, response)
	}
	statusCode, response = doJSON(t, server, http.MethodPost, "/packages/com.android.chrome/appop", `{"op":"RUN_IN_BACKGROUND","mode":"maybe"}`)
	if statusCode != http.StatusBadRequest {
		t.Fatalf("expected unknown mode to be rejected, got %d (%v)", statusCode, response)
	}
}

func TestHandleFiles(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/files", `{"path":"/sdcard/Download"}`)
	if statusCode != http.StatusOK {
		t.Fatalf("expected listing to run, got %d (%v)", statusCode, response)
	}
	if stdout, _ := response["stdout"].(string); !strings.Contains(stdout, "ls -la /sdcard/Download") {
		t.Fatalf("unexpected channel command %v", response)
	}

	statusCode, response = doJSON(t, server, http.MethodPost, "/files", `{"path":"/data/local/tmp/../../../etc"}`)
	if statusCode != http.StatusBadRequest {
		t.Fatalf("expected traversal target to be rejected, got %d (%v)", statusCode, response)
	}
}

func TestHandleSettingsValueRule(t *testing.T) {
	server := newTestServer(t, nil)
	enterDemo(t, server)

	statusCode, response := doJSON(t, server, http.MethodPost, "/settings", `{"action":"put","namespace":"system","key":"screen_brightness","value":"999"}`)
	if statusCode != http.StatusBadRequest {
		t.Fatalf("expected out-of-range brightness to be rejected, got %d (%v)", statusCode, response)
	}
}

type flakyTransport struct {
	*transport.Demo
	remainingFailures int
}

func (flaky *flakyTransport) Connect(ctx context.Context) (transport.DeviceInfo, error) {
	if flaky.remainingFailures > 0 {
		flaky.remainingFailures--
		return transport.DeviceInfo{}, errors.New("device not found during handshake")
	}
	return flaky.Demo.Connect(ctx)
}

func TestSessionConnectAutoReconnectsOnce(t *testing.T) {
	flaky := &flakyTransport{Demo: transport.NewDemo(), remainingFailures: 1}
	server := newTestServerWithTransport(t, nil, flaky)

	statusCode, response := doJSON(t, server, http.MethodPost, "/session/connect", "")
	if statusCode != http.StatusOK {
		t.Fatalf("expected one transient failure to be absorbed, got %d (%v)", statusCode, response)
	}

	doJSON(t, server, http.MethodPost, "/session/disconnect", "")
	flaky.remainingFailures = 1
	statusCode, response = doJSON(t, server, http.MethodPost, "/session/connect", "")
	if statusCode != http.StatusBadGateway {
		t.Fatalf("expected the second transient failure to surface, got %d (%v)", statusCode, response)
	}
}
