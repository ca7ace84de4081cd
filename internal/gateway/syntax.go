package gateway

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// scanShellSyntax is a structural second pass behind the deny-list
// regexes: it parses the candidate as POSIX shell and flags constructs
// the regexes describe textually. A parse failure is not a rejection on
// its own; the regex pass has already run.
func scanShellSyntax(command string) string {
	parser := syntax.NewParser()
	file, parseError := parser.Parse(strings.NewReader(command), "")
	if parseError != nil {
		return ""
	}

	if len(file.Stmts) > 1 {
		return "multiple shell statements"
	}

	reason := ""
	syntax.Walk(file, func(node syntax.Node) bool {
		if reason != "" {
			return false
		}
		switch typedNode := node.(type) {
		case *syntax.Subshell:
			reason = "subshell"
			return false
		case *syntax.CmdSubst:
			reason = "command substitution"
			return false
		case *syntax.Redirect:
			reason = "redirection"
			return false
		case *syntax.BinaryCmd:
			operatorText := typedNode.Op.String()
			if operatorText == "&&" || operatorText == "||" {
				reason = "logical chaining " + operatorText
				return false
			}
		}
		return true
	})

	if reason == "" {
		for _, statement := range file.Stmts {
			if statement.Background {
				reason = "background execution"
				break
			}
		}
	}
	return reason
}
