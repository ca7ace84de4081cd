package debloat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/webadb/droidgate/internal/audit"
	"github.com/webadb/droidgate/internal/history"
	"github.com/webadb/droidgate/internal/interpret"
	"github.com/webadb/droidgate/internal/transport"
)

const defaultBatchStepDelay = 250 * time.Millisecond

// ConfirmFunc asks the user to approve a destructive action. Returning
// false aborts before any channel call is made.
type ConfirmFunc func(packageName string, reason string) bool

// NotifyFunc delivers a user-facing notification.
type NotifyFunc func(message string)

// ProgressFunc observes batch progress; nil progress means cleared.
type ProgressFunc func(progress *BatchProgress)

type Config struct {
	Transport transport.Transport
	Audit     *audit.Log
	History   *history.Store

	Confirm    ConfirmFunc
	Notify     NotifyFunc
	OnProgress ProgressFunc

	// RootMode selects the root removal strategy on rooted devices.
	RootMode bool
	// Authenticated enables asynchronous action recording.
	Authenticated bool

	StepDelay time.Duration
}

// Orchestrator turns one toggle intent into a safe, observable sequence
// of channel operations. All channel calls within one action are strictly
// sequential.
type Orchestrator struct {
	config Config

	mu          sync.Mutex
	records     map[string]*PackageRecord
	fingerprint string

	progressMu sync.Mutex
	progress   *BatchProgress
}

func New(config Config) *Orchestrator {
	if config.StepDelay == 0 {
		config.StepDelay = defaultBatchStepDelay
	}
	if config.Confirm == nil {
		config.Confirm = func(string, string) bool { return false }
	}
	if config.Notify == nil {
		config.Notify = func(string) {}
	}
	return &Orchestrator{
		config:  config,
		records: map[string]*PackageRecord{},
	}
}

// SetFingerprint wires the session's device fingerprint for cross-session
// package-return tracking.
func (orchestrator *Orchestrator) SetFingerprint(fingerprint string) {
	orchestrator.mu.Lock()
	orchestrator.fingerprint = fingerprint
	orchestrator.mu.Unlock()
}

// LoadPackages replaces the record set from the device, applying the
// provided risk classification (missing packages default to advanced).
func (orchestrator *Orchestrator) LoadPackages(ctx context.Context, risks map[string]RiskLevel) error {
	packages, listError := orchestrator.config.Transport.ListPackages(ctx)
	if listError != nil {
		return fmt.Errorf("list packages: %w", listError)
	}

	orchestrator.mu.Lock()
	defer orchestrator.mu.Unlock()
	orchestrator.records = make(map[string]*PackageRecord, len(packages))
	for _, devicePackage := range packages {
		risk, classified := risks[devicePackage.Name]
		if !classified {
			risk = RiskAdvanced
		}
		orchestrator.records[devicePackage.Name] = &PackageRecord{
			Name:    devicePackage.Name,
			Enabled: devicePackage.Enabled,
			System:  devicePackage.System,
			ApkPath: devicePackage.ApkPath,
			Risk:    risk,
		}
	}
	return nil
}

// Records returns a sorted copy of the record set.
func (orchestrator *Orchestrator) Records() []PackageRecord {
	orchestrator.mu.Lock()
	defer orchestrator.mu.Unlock()
	records := make([]PackageRecord, 0, len(orchestrator.records))
	for _, record := range orchestrator.records {
		records = append(records, *record)
	}
	sort.Slice(records, func(left, right int) bool { return records[left].Name < records[right].Name })
	return records
}

// Record looks up one package.
func (orchestrator *Orchestrator) Record(name string) (PackageRecord, bool) {
	orchestrator.mu.Lock()
	defer orchestrator.mu.Unlock()
	record, known := orchestrator.records[name]
	if !known {
		return PackageRecord{}, false
	}
	return *record, true
}

// Toggle enables or disables one package. It returns true only when the
// change was applied on the device; a declined confirmation returns
// (false, nil) without any channel call.
func (orchestrator *Orchestrator) Toggle(ctx context.Context, name string, enable bool) (bool, error) {
	orchestrator.mu.Lock()
	record, known := orchestrator.records[name]
	if !known {
		orchestrator.mu.Unlock()
		return false, fmt.Errorf("unknown package %q; refresh the package list", name)
	}
	recordCopy := *record
	orchestrator.mu.Unlock()

	dangerous := recordCopy.Risk.Dangerous()
	useRootRemoval := false

	if !enable {
		deviceInfo, infoError := orchestrator.config.Transport.DeviceInfo(ctx)
		if infoError != nil {
			return false, fmt.Errorf("device info: %w", infoError)
		}
		rootPath := orchestrator.config.RootMode && deviceInfo.Rooted
		if dangerous || recordCopy.System {
			reason := ConfirmationReason(recordCopy, rootPath)
			if !orchestrator.config.Confirm(name, reason) {
				return false, nil
			}
		}
		useRootRemoval = rootPath
	}

	return orchestrator.issueToggle(ctx, recordCopy, enable, useRootRemoval)
}

// NeedsConfirmation reports whether disabling the package requires an
// explicit user approval before any channel call.
func NeedsConfirmation(record PackageRecord) bool {
	return record.Risk.Dangerous() || record.System
}

// ConfirmationReason renders the approval prompt for a disable action.
func ConfirmationReason(record PackageRecord, rootPath bool) string {
	switch {
	case rootPath && record.Risk.Dangerous():
		return fmt.Sprintf("%s is classified %s and will be removed with root privileges", record.Name, record.Risk)
	case rootPath:
		return fmt.Sprintf("%s is a system package and will be removed with root privileges", record.Name)
	case record.Risk.Dangerous():
		return fmt.Sprintf("%s is classified %s; disabling it may destabilize the device", record.Name, record.Risk)
	default:
		return fmt.Sprintf("%s is a system package", record.Name)
	}
}

func (orchestrator *Orchestrator) issueToggle(ctx context.Context, record PackageRecord, enable bool, useRootRemoval bool) (bool, error) {
	var (
		auditCommand string
		result       transport.ShellResult
		runError     error
	)
	switch {
	case useRootRemoval:
		auditCommand = fmt.Sprintf("su -c pm uninstall -k --user 0 %s", record.Name)
	case enable:
		auditCommand = fmt.Sprintf("pm enable %s", record.Name)
	default:
		auditCommand = fmt.Sprintf("pm disable-user --user 0 %s", record.Name)
	}
	entry := orchestrator.config.Audit.Begin(auditCommand)

	switch {
	case useRootRemoval:
		result, runError = orchestrator.config.Transport.UninstallPackageRoot(ctx, record.Name, record.ApkPath)
	case enable:
		result, runError = orchestrator.config.Transport.EnablePackage(ctx, record.Name)
	default:
		result, runError = orchestrator.config.Transport.DisablePackage(ctx, record.Name)
	}
	if runError != nil {
		orchestrator.config.Audit.Resolve(entry.ID, audit.StatusError, runError.Error())
		return false, runError
	}

	verdict := interpret.ShellResult(result)
	if !verdict.OK {
		errorText := interpret.ErrorText(result)
		message := errorText
		if hint := interpret.HintFor(errorText); hint != "" {
			message = errorText + " (" + hint + ")"
		}
		orchestrator.config.Audit.Resolve(entry.ID, audit.StatusError, message)
		return false, fmt.Errorf("%s", message)
	}

	orchestrator.mu.Lock()
	if stored, known := orchestrator.records[record.Name]; known {
		stored.Enabled = enable
	}
	fingerprint := orchestrator.fingerprint
	orchestrator.mu.Unlock()

	message := appliedMessage(record.Name, enable, verdict)
	orchestrator.config.Audit.Resolve(entry.ID, audit.StatusSuccess, message)

	if orchestrator.config.Authenticated && orchestrator.config.History != nil && enable && fingerprint != "" {
		// Recorded off the hot path; the device channel is not involved.
		go func() {
			_ = orchestrator.config.History.RecordReturn(fingerprint, record.Name)
		}()
	}
	return true, nil
}

func appliedMessage(name string, enable bool, verdict interpret.Interpretation) string {
	action := "disabled"
	if enable {
		action = "enabled"
	}
	message := fmt.Sprintf("%s %s", action, name)
	if verdict.Fallback {
		message += fmt.Sprintf(" (alternate method used: %s, marker table v%d)", verdict.Outcome, interpret.MarkerTableVersion)
	}
	return message
}

// ToggleBatch disables the named packages strictly sequentially, never
// concurrently: the channel is a single conversation and parallel shell
// calls would race on shared device state.
func (orchestrator *Orchestrator) ToggleBatch(ctx context.Context, names []string) BatchSummary {
	summary := BatchSummary{Total: len(names)}

	defer func() {
		// Cleared unconditionally, success or partial failure.
		orchestrator.setProgress(nil)
		orchestrator.config.Notify(fmt.Sprintf("Batch finished: %d of %d packages disabled", summary.Succeeded, summary.Total))
	}()

	for index, name := range names {
		orchestrator.setProgress(&BatchProgress{
			Total:        len(names),
			Current:      index + 1,
			CurrentLabel: name,
		})

		applied, toggleError := orchestrator.Toggle(ctx, name, false)
		switch {
		case toggleError != nil:
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", name, toggleError))
		case applied:
			summary.Succeeded++
		default:
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: confirmation declined", name))
		}

		if index < len(names)-1 {
			select {
			case <-ctx.Done():
				summary.Errors = append(summary.Errors, "batch interrupted: "+ctx.Err().Error())
				return summary
			case <-time.After(orchestrator.config.StepDelay):
			}
		}
	}
	return summary
}

// Progress returns a copy of the in-flight batch progress, or nil when no
// batch is running.
func (orchestrator *Orchestrator) Progress() *BatchProgress {
	orchestrator.progressMu.Lock()
	defer orchestrator.progressMu.Unlock()
	if orchestrator.progress == nil {
		return nil
	}
	progressCopy := *orchestrator.progress
	return &progressCopy
}

func (orchestrator *Orchestrator) setProgress(progress *BatchProgress) {
	orchestrator.progressMu.Lock()
	orchestrator.progress = progress
	orchestrator.progressMu.Unlock()
	if orchestrator.config.OnProgress != nil {
		orchestrator.config.OnProgress(progress)
	}
}
