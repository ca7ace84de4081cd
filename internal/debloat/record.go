package debloat

import (
	"fmt"
	"strings"
)

// RiskLevel classifies how safe a package is to remove; it drives whether
// explicit confirmation is required before destructive actions.
type RiskLevel string

const (
	RiskRecommended RiskLevel = "recommended"
	RiskAdvanced    RiskLevel = "advanced"
	RiskExpert      RiskLevel = "expert"
	RiskUnsafe      RiskLevel = "unsafe"
)

func ParseRiskLevel(raw string) (RiskLevel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RiskRecommended):
		return RiskRecommended, nil
	case string(RiskAdvanced), "":
		return RiskAdvanced, nil
	case string(RiskExpert):
		return RiskExpert, nil
	case string(RiskUnsafe):
		return RiskUnsafe, nil
	default:
		return "", fmt.Errorf("invalid risk level %q (expected recommended|advanced|expert|unsafe)", raw)
	}
}

// Dangerous reports whether the level gates destructive actions behind
// explicit confirmation.
func (level RiskLevel) Dangerous() bool {
	return level == RiskUnsafe || level == RiskExpert
}

// PackageRecord is the orchestrator's view of one device package. Enabled
// is mutated only after a confirmed-successful channel call, never
// speculatively.
type PackageRecord struct {
	Name    string    `json:"name"`
	Enabled bool      `json:"enabled"`
	System  bool      `json:"system"`
	ApkPath string    `json:"apk_path,omitempty"`
	Risk    RiskLevel `json:"risk"`
	Label   string    `json:"label,omitempty"`
}

// BatchProgress exists only while a batch run is in flight.
type BatchProgress struct {
	Total        int    `json:"total"`
	Current      int    `json:"current"`
	CurrentLabel string `json:"current_label"`
}

// BatchSummary is the single notification emitted after a batch run.
type BatchSummary struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}
