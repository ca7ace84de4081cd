package interpret

import "strings"

type quirkHint struct {
	fragments []string
	hint      string
}

// Substring-matched remediation hints for known vendor quirks.
var quirkHints = []quirkHint{
	{
		fragments: []string{"SecurityException", "permission denied", "requires android.permission"},
		hint:      "The device refused the operation on security grounds. Some vendors protect their own packages; try the root removal path on a rooted device.",
	},
	{
		fragments: []string{"cannot disable", "Cannot disable"},
		hint:      "This package is marked protected by the vendor and cannot be disabled for this user. Uninstalling for the current user may still work.",
	},
	{
		fragments: []string{"Unknown package", "not installed for"},
		hint:      "The package is not installed for the current user. Refresh the package list; it may already be removed.",
	},
}

// HintFor returns a remediation hint for a raw device error, or "" when
// no quirk matches.
func HintFor(errorText string) string {
	for _, quirk := range quirkHints {
		for _, fragment := range quirk.fragments {
			if strings.Contains(errorText, fragment) {
				return quirk.hint
			}
		}
	}
	return ""
}
