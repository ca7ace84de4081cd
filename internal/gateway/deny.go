package gateway

import "regexp"

type denyPattern struct {
	reason string
	regex  *regexp.Regexp
}

// Scanned against the original command before any allow-list matching, so
// a destructive payload cannot hide behind a benign-looking prefix. Order
// matters only for which reason gets reported.
var denyPatterns = []denyPattern{
	{reason: "statement separator ';'", regex: regexp.MustCompile(`;`)},
	{reason: "logical chaining '&&'", regex: regexp.MustCompile(`&&`)},
	{reason: "logical chaining '||'", regex: regexp.MustCompile(`\|\|`)},
	{reason: "background execution '&'", regex: regexp.MustCompile(`(^|[^&])&([^&]|$)`)},
	{reason: "command substitution backtick", regex: regexp.MustCompile("`")},
	{reason: "command substitution '$('", regex: regexp.MustCompile(`\$\(`)},
	{reason: "variable expansion '${'", regex: regexp.MustCompile(`\$\{`)},
	{reason: "embedded newline", regex: regexp.MustCompile(`[\r\n]`)},
	{reason: "output redirection", regex: regexp.MustCompile(`>`)},
	{reason: "input redirection", regex: regexp.MustCompile(`<`)},
	{reason: "privilege elevation 'su'", regex: regexp.MustCompile(`(?i)(^|\s)su(\s|$)`)},
	{reason: "privilege elevation 'sudo'", regex: regexp.MustCompile(`(?i)\bsudo\b`)},
	{reason: "shell trampoline 'sh -c'", regex: regexp.MustCompile(`(?i)\b(sh|bash|mksh)\s+-c\b`)},
	{reason: "shell trampoline 'exec'", regex: regexp.MustCompile(`(?i)(^|\s)exec\s`)},
	{reason: "destructive utility 'rm'", regex: regexp.MustCompile(`(?i)(^|\s)rm(\s|$)`)},
	{reason: "destructive utility 'rmdir'", regex: regexp.MustCompile(`(?i)(^|\s)rmdir(\s|$)`)},
	{reason: "destructive raw disk write 'dd'", regex: regexp.MustCompile(`(?i)(^|\s)dd(\s|$)`)},
	{reason: "device power command", regex: regexp.MustCompile(`(?i)\b(reboot|shutdown|halt|poweroff)\b`)},
	{reason: "destructive storage command", regex: regexp.MustCompile(`(?i)\b(format|mkfs|flash|wipe|fastboot)\b`)},
	{reason: "permission or ownership change", regex: regexp.MustCompile(`(?i)(^|\s)(chmod|chown)(\s|$)`)},
	{reason: "read-write remount", regex: regexp.MustCompile(`(?i)\b(remount|mount\s+-o\s*\S*rw)\b`)},
}

func matchDenyPattern(command string) (denyPattern, bool) {
	for _, pattern := range denyPatterns {
		if pattern.regex.MatchString(command) {
			return pattern, true
		}
	}
	return denyPattern{}, false
}
