package gateway

import (
	"fmt"
	"regexp"
	"strings"
)

const maxCommandLength = 2048

var filterCommandPattern = regexp.MustCompile(`^grep(\s|$)`)

const filterForbiddenCharacters = ";&`$<>{}"

// Gateway decides whether a free-form terminal command may reach the
// device channel. The zero set of extra patterns is the fixed built-in
// policy; a console policy file may add deny patterns on top.
type Gateway struct {
	extraDeny []denyPattern
}

func New(extraDenyPatterns ...string) (*Gateway, error) {
	gateway := &Gateway{}
	for _, rawPattern := range extraDenyPatterns {
		trimmed := strings.TrimSpace(rawPattern)
		if trimmed == "" {
			continue
		}
		compiled, compileError := regexp.Compile(trimmed)
		if compileError != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", trimmed, compileError)
		}
		gateway.extraDeny = append(gateway.extraDeny, denyPattern{
			reason: fmt.Sprintf("policy deny pattern %q", trimmed),
			regex:  compiled,
		})
	}
	return gateway, nil
}

// ValidateTerminalCommand runs the fixed built-in policy with no policy
// extensions.
func ValidateTerminalCommand(raw string) ValidationOutcome {
	return (&Gateway{}).ValidateTerminalCommand(raw)
}

// ValidateTerminalCommand classifies one interactive shell line. Checks
// run in a fixed order: length gate, pipe handling, deny-list over the
// original string, a shell-syntax scan, then the capability allow-list
// against the pre-pipe command.
func (gateway *Gateway) ValidateTerminalCommand(raw string) ValidationOutcome {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return reject("command is empty")
	}
	if len(trimmed) > maxCommandLength {
		return reject(fmt.Sprintf("command exceeds %d characters", maxCommandLength))
	}

	commandSide := trimmed
	if strings.Contains(trimmed, "|") {
		segments := strings.Split(trimmed, "|")
		if len(segments) > 2 {
			return reject("only one pipe is allowed, and only to a filter")
		}
		filterSide := strings.TrimSpace(segments[1])
		if !filterCommandPattern.MatchString(filterSide) {
			return reject("pipe target must be a grep filter")
		}
		if index := strings.IndexAny(filterSide, filterForbiddenCharacters); index >= 0 {
			return reject(fmt.Sprintf("filter segment contains forbidden character %q", filterSide[index]))
		}
		commandSide = strings.TrimSpace(segments[0])
	}

	if pattern, matched := matchDenyPattern(trimmed); matched {
		return reject("blocked: " + pattern.reason)
	}
	for _, pattern := range gateway.extraDeny {
		if pattern.regex.MatchString(trimmed) {
			return reject("blocked: " + pattern.reason)
		}
	}
	if syntaxReason := scanShellSyntax(trimmed); syntaxReason != "" {
		return reject("blocked: " + syntaxReason)
	}

	rule, matched := matchAllowRule(commandSide)
	if !matched {
		firstToken := commandSide
		if fields := strings.Fields(commandSide); len(fields) > 0 {
			firstToken = fields[0]
		}
		return reject(fmt.Sprintf("command %q is not in the allowed command set", firstToken))
	}
	return accept(trimmed, rule.id+": "+rule.description)
}
