package gateway

// ValidationOutcome is the gateway's decision for one candidate command.
// An accepted outcome carries the normalized command and the matched rule;
// a rejected outcome carries only the reason.
type ValidationOutcome struct {
	Accepted        bool   `json:"accepted"`
	NormalizedValue string `json:"normalized_value,omitempty"`
	Reason          string `json:"reason,omitempty"`
	MatchedRuleID   string `json:"matched_rule_id,omitempty"`
}

func accept(normalized string, ruleID string) ValidationOutcome {
	return ValidationOutcome{Accepted: true, NormalizedValue: normalized, MatchedRuleID: ruleID}
}

func reject(reason string) ValidationOutcome {
	return ValidationOutcome{Accepted: false, Reason: reason}
}
