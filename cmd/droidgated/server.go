package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/webadb/droidgate/internal/audit"
	"github.com/webadb/droidgate/internal/catalog"
	"github.com/webadb/droidgate/internal/debloat"
	"github.com/webadb/droidgate/internal/gateway"
	"github.com/webadb/droidgate/internal/history"
	"github.com/webadb/droidgate/internal/install"
	"github.com/webadb/droidgate/internal/interpret"
	"github.com/webadb/droidgate/internal/policy"
	"github.com/webadb/droidgate/internal/session"
	"github.com/webadb/droidgate/internal/transport"
	"github.com/webadb/droidgate/internal/validate"
)

type daemonConfig struct {
	deviceTransport transport.Transport
	auditLog        *audit.Log
	historyStore    *history.Store
	consolePolicy   *policy.ConsolePolicy

	catalogEndpoint string
	adbSerial       string
	demoTransport   bool
	authDisabled    bool
	daemonToken     string
}

type daemonServer struct {
	sessionManager *session.Manager
	orchestrator   *debloat.Orchestrator
	installer      *install.Installer
	auditLog       *audit.Log
	historyStore   *history.Store
	commandGateway *gateway.Gateway
	catalogClient  *catalog.Client
	consolePolicy  *policy.ConsolePolicy
	metrics        *metricsRegistry
	events         *eventHub

	demoTransport bool
	adbSerial     string
	authDisabled  bool
	daemonToken   string

	batchMutex  sync.Mutex
	batchActive bool

	shellSessionsMutex sync.Mutex
	shellSessions      map[string]*shellSession
}

func newDaemonServer(config daemonConfig) (*daemonServer, error) {
	commandGateway, gatewayError := gateway.New(config.consolePolicy.DenyPatterns()...)
	if gatewayError != nil {
		return nil, fmt.Errorf("build command gateway: %w", gatewayError)
	}

	server := &daemonServer{
		auditLog:       config.auditLog,
		historyStore:   config.historyStore,
		commandGateway: commandGateway,
		consolePolicy:  config.consolePolicy,
		metrics:        newMetricsRegistry(),
		events:         newEventHub(),
		demoTransport:  config.demoTransport,
		adbSerial:      config.adbSerial,
		authDisabled:   config.authDisabled,
		daemonToken:    config.daemonToken,
		shellSessions:  map[string]*shellSession{},
	}

	// A stuck authorization handshake gets a hard channel reset, not an
	// internal retry.
	server.sessionManager = session.NewManager(config.deviceTransport,
		session.WithRecoverFunc(func() { _ = config.deviceTransport.Disconnect() }))
	server.orchestrator = debloat.New(debloat.Config{
		Transport: config.deviceTransport,
		Audit:     config.auditLog,
		History:   config.historyStore,
		// Approval happens at the HTTP boundary: a toggle that needs
		// confirmation is refused until the request carries confirmed=true.
		Confirm: func(string, string) bool { return true },
		Notify: func(message string) {
			server.events.broadcast("notice", message)
		},
		OnProgress: func(progress *debloat.BatchProgress) {
			server.events.broadcast("batch_progress", progress)
		},
		RootMode:      config.consolePolicy != nil && config.consolePolicy.RootMode,
		Authenticated: !config.authDisabled,
	})
	server.installer = install.New(install.Config{
		Transport:  config.deviceTransport,
		Audit:      config.auditLog,
		ExtraHosts: config.consolePolicy.ExtraHosts(),
		MaxBytes:   config.consolePolicy.MaxDownloadBytes(),
		OnProgress: func(fraction float64) {
			server.events.broadcast("install_progress", map[string]any{"fraction": fraction})
		},
	})
	if strings.TrimSpace(config.catalogEndpoint) != "" {
		server.catalogClient = catalog.NewClient(config.catalogEndpoint)
	}

	go server.forwardAuditEvents()
	return server, nil
}

func (server *daemonServer) forwardAuditEvents() {
	feed := server.auditLog.Subscribe()
	defer server.auditLog.Unsubscribe(feed)
	for entry := range feed {
		server.events.broadcast("audit", entry)
	}
}

func (server *daemonServer) router() *mux.Router {
	router := mux.NewRouter()
	router.Use(server.authMiddleware)

	router.HandleFunc("/health", server.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/session", server.handleSessionStatus).Methods(http.MethodGet)
	router.HandleFunc("/session/connect", server.handleSessionConnect).Methods(http.MethodPost)
	router.HandleFunc("/session/disconnect", server.handleSessionDisconnect).Methods(http.MethodPost)
	router.HandleFunc("/session/demo", server.handleSessionDemo).Methods(http.MethodPost)
	router.HandleFunc("/device", server.handleDevice).Methods(http.MethodGet)
	router.HandleFunc("/packages", server.handlePackages).Methods(http.MethodGet)
	router.HandleFunc("/packages/labels", server.handlePackageLabels).Methods(http.MethodPost)
	router.HandleFunc("/packages/{name}/toggle", server.handleToggle).Methods(http.MethodPost)
	router.HandleFunc("/packages/{name}/permission", server.handlePermission).Methods(http.MethodPost)
	router.HandleFunc("/packages/{name}/appop", server.handleAppOp).Methods(http.MethodPost)
	router.HandleFunc("/files", server.handleFiles).Methods(http.MethodPost)
	router.HandleFunc("/packages/batch", server.handleBatch).Methods(http.MethodPost)
	router.HandleFunc("/packages/batch/progress", server.handleBatchProgress).Methods(http.MethodGet)
	router.HandleFunc("/validate", server.handleValidate).Methods(http.MethodPost)
	router.HandleFunc("/terminal", server.handleTerminal).Methods(http.MethodPost)
	router.HandleFunc("/settings", server.handleSettings).Methods(http.MethodPost)
	router.HandleFunc("/install", server.handleInstall).Methods(http.MethodPost)
	router.HandleFunc("/users", server.handleUsers).Methods(http.MethodGet)
	router.HandleFunc("/users/profile", server.handleProfile).Methods(http.MethodPost)
	router.HandleFunc("/audit", server.handleAudit).Methods(http.MethodGet)
	router.HandleFunc("/metrics", server.handleMetrics).Methods(http.MethodGet)
	router.HandleFunc("/events", server.events.handleWebSocket).Methods(http.MethodGet)
	router.HandleFunc("/shell/sessions", server.handleShellCreate).Methods(http.MethodPost)
	router.HandleFunc("/shell/sessions/{id}", server.handleShellStatus).Methods(http.MethodGet)
	router.HandleFunc("/shell/sessions/{id}/input", server.handleShellInput).Methods(http.MethodPost)
	router.HandleFunc("/shell/sessions/{id}/close", server.handleShellClose).Methods(http.MethodPost)
	return router
}

func (server *daemonServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if !server.authorize(request) {
			writeJSON(writer, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
			return
		}
		next.ServeHTTP(writer, request)
	})
}

func (server *daemonServer) authorize(request *http.Request) bool {
	if server.authDisabled {
		return true
	}
	token := strings.TrimSpace(server.daemonToken)
	if token == "" {
		return false
	}
	headerToken := strings.TrimSpace(request.Header.Get("X-Droidgate-Token"))
	if headerToken != "" && headerToken == token {
		return true
	}
	authHeader := strings.TrimSpace(request.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if strings.TrimSpace(authHeader[len("Bearer "):]) == token {
			return true
		}
	}
	return false
}

func (server *daemonServer) handleHealth(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "service": "droidgated"})
}

func (server *daemonServer) handleSessionStatus(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, server.sessionManager.Snapshot())
}

func (server *daemonServer) handleSessionConnect(writer http.ResponseWriter, request *http.Request) {
	connectError := server.sessionManager.Connect(request.Context())
	if connectError != nil && server.sessionManager.TryAutoReconnect() {
		connectError = server.sessionManager.Connect(request.Context())
	}
	if connectError != nil {
		snapshot := server.sessionManager.Snapshot()
		server.events.broadcast("session", snapshot)
		writeJSON(writer, http.StatusBadGateway, map[string]any{"ok": false, "error": connectError.Error(), "session": snapshot})
		return
	}
	server.metrics.recordConnect()
	snapshot := server.sessionManager.Snapshot()

	returning := false
	var returnedPackages []string
	if server.historyStore != nil && snapshot.Fingerprint != "" {
		if seen, seenError := server.historyStore.MarkSeen(snapshot.Fingerprint); seenError == nil {
			returning = seen
		}
		if packages, returnError := server.historyStore.ReturnedPackages(snapshot.Fingerprint); returnError == nil {
			returnedPackages = packages
		}
	}
	server.orchestrator.SetFingerprint(snapshot.Fingerprint)
	if loadError := server.orchestrator.LoadPackages(request.Context(), nil); loadError != nil {
		writeJSON(writer, http.StatusBadGateway, map[string]any{"ok": false, "error": loadError.Error(), "session": snapshot})
		return
	}

	server.events.broadcast("session", snapshot)
	writeJSON(writer, http.StatusOK, map[string]any{
		"ok":                true,
		"session":           snapshot,
		"returning_device":  returning,
		"returned_packages": returnedPackages,
	})
}

func (server *daemonServer) handleSessionDisconnect(writer http.ResponseWriter, request *http.Request) {
	server.sessionManager.Disconnect()
	snapshot := server.sessionManager.Snapshot()
	server.events.broadcast("session", snapshot)
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "session": snapshot})
}

func (server *daemonServer) handleSessionDemo(writer http.ResponseWriter, request *http.Request) {
	if !server.demoTransport {
		writeJSON(writer, http.StatusConflict, map[string]any{"ok": false, "error": "demo mode requires a daemon started with --demo"})
		return
	}
	if demoError := server.sessionManager.EnterDemo(); demoError != nil {
		writeJSON(writer, http.StatusConflict, map[string]any{"ok": false, "error": demoError.Error()})
		return
	}
	snapshot := server.sessionManager.Snapshot()
	server.orchestrator.SetFingerprint(snapshot.Fingerprint)
	if loadError := server.orchestrator.LoadPackages(request.Context(), nil); loadError != nil {
		writeJSON(writer, http.StatusBadGateway, map[string]any{"ok": false, "error": loadError.Error()})
		return
	}
	server.events.broadcast("session", snapshot)
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "session": snapshot})
}

// requireAttached rejects device operations unless a device (or the demo
// identity) is attached.
func (server *daemonServer) requireAttached(writer http.ResponseWriter) bool {
	snapshot := server.sessionManager.Snapshot()
	if snapshot.State != session.StateConnected && snapshot.State != session.StateDemo {
		writeJSON(writer, http.StatusConflict, map[string]any{"ok": false, "error": fmt.Sprintf("no device attached (session state is %s)", snapshot.State)})
		return false
	}
	return true
}

func (server *daemonServer) handleDevice(writer http.ResponseWriter, request *http.Request) {
	snapshot := server.sessionManager.Snapshot()
	if snapshot.Device == nil {
		writeJSON(writer, http.StatusConflict, map[string]any{"ok": false, "error": "no device attached"})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "device": snapshot.Device, "fingerprint": snapshot.Fingerprint})
}

func (server *daemonServer) handlePackages(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	if request.URL.Query().Get("refresh") == "1" {
		if loadError := server.orchestrator.LoadPackages(request.Context(), nil); loadError != nil {
			writeJSON(writer, http.StatusBadGateway, map[string]any{"ok": false, "error": loadError.Error()})
			return
		}
	}
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "packages": server.orchestrator.Records()})
}

func (server *daemonServer) handlePackageLabels(writer http.ResponseWriter, request *http.Request) {
	if server.catalogClient == nil {
		writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "labels": map[string]string{}})
		return
	}
	payload := struct {
		Names []string `json:"names"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "labels": server.catalogClient.Labels(request.Context(), payload.Names)})
}

var riskRank = map[debloat.RiskLevel]int{
	debloat.RiskRecommended: 0,
	debloat.RiskAdvanced:    1,
	debloat.RiskExpert:      2,
	debloat.RiskUnsafe:      3,
}

// toggleNeedsConfirmation folds the policy's max unconfirmed risk into the
// built-in rule. The policy can only tighten the gate: dangerous and
// system packages confirm no matter what the file says.
func (server *daemonServer) toggleNeedsConfirmation(record debloat.PackageRecord) bool {
	if debloat.NeedsConfirmation(record) {
		return true
	}
	if server.consolePolicy != nil && strings.TrimSpace(server.consolePolicy.MaxUnconfirmedRisk) != "" {
		maxLevel, parseError := debloat.ParseRiskLevel(server.consolePolicy.MaxUnconfirmedRisk)
		if parseError == nil && riskRank[record.Risk] > riskRank[maxLevel] {
			return true
		}
	}
	return false
}

func (server *daemonServer) handleToggle(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	rawName := mux.Vars(request)["name"]
	packageName, nameError := validate.PackageName(rawName)
	if nameError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": nameError.Error()})
		return
	}
	payload := struct {
		Enable    bool `json:"enable"`
		Confirmed bool `json:"confirmed"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}

	record, known := server.orchestrator.Record(packageName)
	if !known {
		writeJSON(writer, http.StatusNotFound, map[string]any{"ok": false, "error": fmt.Sprintf("unknown package %q; refresh the package list", packageName)})
		return
	}
	if !payload.Enable && !payload.Confirmed && server.toggleNeedsConfirmation(record) {
		snapshot := server.sessionManager.Snapshot()
		rootPath := server.consolePolicy != nil && server.consolePolicy.RootMode && snapshot.Device != nil && snapshot.Device.Rooted
		writeJSON(writer, http.StatusConflict, map[string]any{
			"ok":                 false,
			"needs_confirmation": true,
			"reason":             debloat.ConfirmationReason(record, rootPath),
		})
		return
	}

	applied, toggleError := server.orchestrator.Toggle(request.Context(), packageName, payload.Enable)
	server.metrics.recordToggle(applied)
	if toggleError != nil {
		writeJSON(writer, http.StatusBadGateway, map[string]any{"ok": false, "error": toggleError.Error()})
		return
	}
	server.events.broadcast("package_toggled", map[string]any{"name": packageName, "enabled": payload.Enable, "applied": applied})
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "applied": applied})
}

func (server *daemonServer) handleBatch(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	payload := struct {
		Names     []string `json:"names"`
		Confirmed bool     `json:"confirmed"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}
	if len(payload.Names) == 0 {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": "names are required"})
		return
	}
	for index, rawName := range payload.Names {
		packageName, nameError := validate.PackageName(rawName)
		if nameError != nil {
			writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": nameError.Error()})
			return
		}
		payload.Names[index] = packageName
	}
	if !payload.Confirmed {
		var needingConfirmation []string
		for _, packageName := range payload.Names {
			if record, known := server.orchestrator.Record(packageName); known && server.toggleNeedsConfirmation(record) {
				needingConfirmation = append(needingConfirmation, packageName)
			}
		}
		if len(needingConfirmation) > 0 {
			writeJSON(writer, http.StatusConflict, map[string]any{
				"ok":                 false,
				"needs_confirmation": true,
				"packages":           needingConfirmation,
			})
			return
		}
	}

	server.batchMutex.Lock()
	if server.batchActive {
		server.batchMutex.Unlock()
		writeJSON(writer, http.StatusConflict, map[string]any{"ok": false, "error": "a batch is already running"})
		return
	}
	server.batchActive = true
	server.batchMutex.Unlock()

	server.metrics.recordBatch()
	names := payload.Names
	go func() {
		summary := server.orchestrator.ToggleBatch(context.Background(), names)
		server.events.broadcast("batch_summary", summary)
		server.batchMutex.Lock()
		server.batchActive = false
		server.batchMutex.Unlock()
	}()
	writeJSON(writer, http.StatusAccepted, map[string]any{"ok": true, "total": len(names)})
}

func (server *daemonServer) handleBatchProgress(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "progress": server.orchestrator.Progress()})
}

func (server *daemonServer) handleValidate(writer http.ResponseWriter, request *http.Request) {
	payload := struct {
		Command string `json:"command"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}
	outcome := server.commandGateway.ValidateTerminalCommand(payload.Command)
	server.metrics.recordValidation(outcome.Accepted, outcome.Reason)
	writeJSON(writer, http.StatusOK, outcome)
}

func (server *daemonServer) handleTerminal(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	payload := struct {
		Command string `json:"command"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}

	outcome := server.commandGateway.ValidateTerminalCommand(payload.Command)
	server.metrics.recordValidation(outcome.Accepted, outcome.Reason)
	if !outcome.Accepted {
		server.auditLog.Record(strings.TrimSpace(payload.Command), audit.StatusError, "rejected: "+outcome.Reason)
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "rejected": true, "reason": outcome.Reason})
		return
	}
	server.runShell(writer, request, outcome.NormalizedValue)
}

func (server *daemonServer) handlePermission(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	packageName, nameError := validate.PackageName(mux.Vars(request)["name"])
	if nameError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": nameError.Error()})
		return
	}
	payload := struct {
		Permission string `json:"permission"`
		Grant      bool   `json:"grant"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}
	permission, permissionError := validate.Permission(payload.Permission)
	if permissionError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": permissionError.Error()})
		return
	}
	action := "revoke"
	if payload.Grant {
		action = "grant"
	}
	server.runGatedCommand(writer, request, fmt.Sprintf("pm %s %s %s", action, packageName, permission))
}

var appOpModes = map[string]bool{
	"allow":   true,
	"deny":    true,
	"ignore":  true,
	"default": true,
}

func (server *daemonServer) handleAppOp(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	packageName, nameError := validate.PackageName(mux.Vars(request)["name"])
	if nameError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": nameError.Error()})
		return
	}
	payload := struct {
		Op   string `json:"op"`
		Mode string `json:"mode"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}
	appOp, opError := validate.AppOp(payload.Op)
	if opError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": opError.Error()})
		return
	}
	if !appOpModes[payload.Mode] {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": fmt.Sprintf("app-op mode %q is not allow, deny, ignore or default", payload.Mode)})
		return
	}
	server.runGatedCommand(writer, request, fmt.Sprintf("appops set %s %s %s", packageName, appOp, payload.Mode))
}

func (server *daemonServer) handleFiles(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	payload := struct {
		Path string `json:"path"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}
	devicePath, pathError := validate.DevicePath(payload.Path)
	if pathError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": pathError.Error()})
		return
	}
	server.runGatedCommand(writer, request, "ls -la "+devicePath)
}

// runGatedCommand sends a rendered command through the gateway before the
// channel; two layers, one boundary.
func (server *daemonServer) runGatedCommand(writer http.ResponseWriter, request *http.Request, command string) {
	outcome := server.commandGateway.ValidateTerminalCommand(command)
	if !outcome.Accepted {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "rejected": true, "reason": outcome.Reason})
		return
	}
	server.runShell(writer, request, outcome.NormalizedValue)
}

func (server *daemonServer) handleSettings(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	payload := struct {
		Action    string `json:"action"`
		Namespace string `json:"namespace"`
		Key       string `json:"key"`
		Value     string `json:"value"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}
	command, buildError := validate.SettingsCommand(payload.Action, payload.Namespace, payload.Key, payload.Value)
	if buildError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": buildError.Error()})
		return
	}
	server.runGatedCommand(writer, request, command)
}

func (server *daemonServer) runShell(writer http.ResponseWriter, request *http.Request, command string) {
	entry := server.auditLog.Begin(command)
	result, shellError := server.sessionManager.Transport().Shell(request.Context(), command)
	if shellError != nil {
		server.auditLog.Resolve(entry.ID, audit.StatusError, shellError.Error())
		writeJSON(writer, http.StatusBadGateway, map[string]any{"ok": false, "error": shellError.Error()})
		return
	}
	verdict := interpret.ShellResult(result)
	if verdict.OK {
		server.auditLog.Resolve(entry.ID, audit.StatusSuccess, "completed")
	} else {
		errorText := interpret.ErrorText(result)
		message := errorText
		if hint := interpret.HintFor(errorText); hint != "" {
			message = errorText + " (" + hint + ")"
		}
		server.auditLog.Resolve(entry.ID, audit.StatusError, message)
	}
	writeJSON(writer, http.StatusOK, map[string]any{
		"ok":        verdict.OK,
		"exit_code": result.ExitCode,
		"stdout":    result.Stdout,
		"stderr":    result.Stderr,
	})
}

func (server *daemonServer) handleInstall(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	payload := struct {
		URL string `json:"url"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}
	installed, installError := server.installer.InstallFromURL(request.Context(), payload.URL)
	server.metrics.recordInstall(installed)
	if installError != nil {
		writeJSON(writer, http.StatusBadGateway, map[string]any{"ok": false, "error": installError.Error()})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "installed": installed})
}

func (server *daemonServer) handleUsers(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	users, listError := server.sessionManager.Transport().ListUsers(request.Context())
	if listError != nil {
		writeJSON(writer, http.StatusBadGateway, map[string]any{"ok": false, "error": listError.Error()})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "users": users})
}

func (server *daemonServer) handleProfile(writer http.ResponseWriter, request *http.Request) {
	if !server.requireAttached(writer) {
		return
	}
	payload := struct {
		Name     string   `json:"name"`
		Packages []string `json:"packages"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}
	for index, rawName := range payload.Packages {
		packageName, nameError := validate.PackageName(rawName)
		if nameError != nil {
			writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": nameError.Error()})
			return
		}
		payload.Packages[index] = packageName
	}
	userID, installErrors, provisionError := server.orchestrator.ProvisionManagedProfile(request.Context(), payload.Name, payload.Packages)
	if provisionError != nil {
		writeJSON(writer, http.StatusBadGateway, map[string]any{"ok": false, "error": provisionError.Error()})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "user_id": userID, "install_errors": installErrors})
}

func (server *daemonServer) handleAudit(writer http.ResponseWriter, request *http.Request) {
	limit := 100
	if rawLimit := strings.TrimSpace(request.URL.Query().Get("limit")); rawLimit != "" {
		if parsed, parseError := strconv.Atoi(rawLimit); parseError == nil && parsed > 0 {
			limit = parsed
		}
	}
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true, "entries": server.auditLog.Entries(limit)})
}

func (server *daemonServer) handleMetrics(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = writer.Write([]byte(server.metrics.renderPrometheus()))
}

func (server *daemonServer) handleShellCreate(writer http.ResponseWriter, request *http.Request) {
	response, statusCode, createError := server.createShellSession(server.adbSerial)
	if createError != nil {
		writeJSON(writer, statusCode, map[string]any{"ok": false, "error": createError.Error()})
		return
	}
	writeJSON(writer, statusCode, response)
}

func (server *daemonServer) shellSession(writer http.ResponseWriter, request *http.Request) *shellSession {
	sessionID := mux.Vars(request)["id"]
	server.shellSessionsMutex.Lock()
	shell := server.shellSessions[sessionID]
	server.shellSessionsMutex.Unlock()
	if shell == nil {
		writeJSON(writer, http.StatusNotFound, map[string]any{"ok": false, "error": "shell session not found"})
	}
	return shell
}

func (server *daemonServer) handleShellStatus(writer http.ResponseWriter, request *http.Request) {
	shell := server.shellSession(writer, request)
	if shell == nil {
		return
	}
	shell.mu.Lock()
	defer shell.mu.Unlock()
	writeJSON(writer, http.StatusOK, map[string]any{
		"ok":          true,
		"session_id":  shell.ID,
		"status":      shell.Status,
		"exit_code":   shell.ExitCode,
		"output_tail": shell.OutputTail,
	})
}

func (server *daemonServer) handleShellInput(writer http.ResponseWriter, request *http.Request) {
	shell := server.shellSession(writer, request)
	if shell == nil {
		return
	}
	payload := struct {
		Data string `json:"data"`
	}{}
	if decodeError := json.NewDecoder(request.Body).Decode(&payload); decodeError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": decodeError.Error()})
		return
	}
	inputError := shell.feedInput(server.commandGateway, payload.Data, func(chunk string) {
		server.echoLocal(shell, chunk)
	})
	if inputError != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]any{"ok": false, "error": inputError.Error()})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true})
}

func (server *daemonServer) handleShellClose(writer http.ResponseWriter, request *http.Request) {
	shell := server.shellSession(writer, request)
	if shell == nil {
		return
	}
	shell.cancel()
	writeJSON(writer, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(writer http.ResponseWriter, statusCode int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	encoder := json.NewEncoder(writer)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}
