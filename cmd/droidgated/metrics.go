package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type metricsRegistry struct {
	mu                 sync.Mutex
	connectsTotal      int64
	togglesTotal       int64
	togglesFailed      int64
	batchesTotal       int64
	installsTotal      int64
	installsFailed     int64
	commandsValidated  int64
	commandsRejected   int64
	rejectReasonTotals map[string]int64
}

func newMetricsRegistry() *metricsRegistry {
	return &metricsRegistry{
		rejectReasonTotals: map[string]int64{},
	}
}

func (metrics *metricsRegistry) recordConnect() {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	metrics.connectsTotal++
}

func (metrics *metricsRegistry) recordToggle(applied bool) {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	metrics.togglesTotal++
	if !applied {
		metrics.togglesFailed++
	}
}

func (metrics *metricsRegistry) recordBatch() {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	metrics.batchesTotal++
}

func (metrics *metricsRegistry) recordInstall(installed bool) {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	metrics.installsTotal++
	if !installed {
		metrics.installsFailed++
	}
}

func (metrics *metricsRegistry) recordValidation(accepted bool, reason string) {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	metrics.commandsValidated++
	if !accepted {
		metrics.commandsRejected++
		trimmedReason := strings.ReplaceAll(strings.TrimSpace(reason), `"`, "'")
		if trimmedReason == "" {
			trimmedReason = "unspecified"
		}
		metrics.rejectReasonTotals[trimmedReason]++
	}
}

func (metrics *metricsRegistry) renderPrometheus() string {
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	lines := []string{
		"# TYPE droidgate_connects_total counter",
		fmt.Sprintf("droidgate_connects_total %d", metrics.connectsTotal),
		"# TYPE droidgate_toggles_total counter",
		fmt.Sprintf("droidgate_toggles_total %d", metrics.togglesTotal),
		"# TYPE droidgate_toggles_failed_total counter",
		fmt.Sprintf("droidgate_toggles_failed_total %d", metrics.togglesFailed),
		"# TYPE droidgate_batches_total counter",
		fmt.Sprintf("droidgate_batches_total %d", metrics.batchesTotal),
		"# TYPE droidgate_installs_total counter",
		fmt.Sprintf("droidgate_installs_total %d", metrics.installsTotal),
		"# TYPE droidgate_installs_failed_total counter",
		fmt.Sprintf("droidgate_installs_failed_total %d", metrics.installsFailed),
		"# TYPE droidgate_commands_validated_total counter",
		fmt.Sprintf("droidgate_commands_validated_total %d", metrics.commandsValidated),
		"# TYPE droidgate_commands_rejected_total counter",
		fmt.Sprintf("droidgate_commands_rejected_total %d", metrics.commandsRejected),
	}
	reasons := make([]string, 0, len(metrics.rejectReasonTotals))
	for reason := range metrics.rejectReasonTotals {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		lines = append(lines, fmt.Sprintf(`droidgate_reject_reason_total{reason="%s"} %d`, reason, metrics.rejectReasonTotals[reason]))
	}
	return strings.Join(lines, "\n") + "\n"
}
