package gateway

import "strings"

var quotedValueEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"`", "\\`",
	`!`, `\!`,
)

// EscapeQuoted backslash-escapes a value for embedding inside a
// double-quoted shell argument. It is a secondary defense applied only to
// values that already passed primary validation, never a substitute for
// it.
func EscapeQuoted(value string) string {
	return quotedValueEscaper.Replace(value)
}
