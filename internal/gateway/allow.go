package gateway

import "regexp"

type allowRule struct {
	id          string
	description string
	regex       *regexp.Regexp
}

var allowRules = []allowRule{
	{
		id:          "pm-ops",
		description: "package manager operations",
		regex:       regexp.MustCompile(`^pm\s+(list|path|dump|enable|disable|disable-user|clear|grant|revoke|uninstall|install-existing|create-user|remove-user)\b`),
	},
	{
		id:          "am-ops",
		description: "activity manager operations",
		regex:       regexp.MustCompile(`^am\s+(start|start-activity|startservice|start-service|force-stop|broadcast|stack|get-current-user)\b`),
	},
	{
		id:          "appops",
		description: "per-package operation modes",
		regex:       regexp.MustCompile(`^appops\s+(get|set)\b`),
	},
	{
		id:          "getprop",
		description: "system property read",
		regex:       regexp.MustCompile(`^getprop(\s|$)`),
	},
	{
		id:          "setprop",
		description: "system property write",
		regex:       regexp.MustCompile(`^setprop\s+\S+\s+\S+`),
	},
	{
		id:          "settings",
		description: "settings get/put in system, secure or global",
		regex:       regexp.MustCompile(`^settings\s+(get|put)\s+(system|secure|global)\b`),
	},
	{
		id:          "wm",
		description: "window manager size and density",
		regex:       regexp.MustCompile(`^wm\s+(size|density)(\s|$)`),
	},
	{
		id:          "dumpsys",
		description: "read-only dumpsys subsystems",
		regex:       regexp.MustCompile(`^dumpsys\s+(battery|display|window|activity|package|meminfo|cpuinfo|wifi|connectivity|input_method|power|usagestats)(\s|$)`),
	},
	{
		id:          "fs-inspect",
		description: "file inspection",
		regex:       regexp.MustCompile(`^(ls|cat|stat|df|du)(\s|$)`),
	},
	{
		id:          "proc-inspect",
		description: "process inspection",
		regex:       regexp.MustCompile(`^(ps|top|uptime)(\s|$)`),
	},
	{
		id:          "net-inspect",
		description: "network inspection",
		regex:       regexp.MustCompile(`^(netstat|ip|ifconfig|ping|netcfg)(\s|$)`),
	},
	{
		id:          "input",
		description: "input simulation",
		regex:       regexp.MustCompile(`^input\s+(tap|swipe|text|keyevent)\b`),
	},
	{
		id:          "screen-capture",
		description: "screen capture",
		regex:       regexp.MustCompile(`^(screencap|screenrecord)(\s|$)`),
	},
	{
		id:          "logcat",
		description: "log viewing",
		regex:       regexp.MustCompile(`^logcat(\s|$)`),
	},
	{
		id:          "service",
		description: "service list and check",
		regex:       regexp.MustCompile(`^service\s+(list|check)(\s|$)`),
	},
	{
		id:          "content-query",
		description: "read-only content queries",
		regex:       regexp.MustCompile(`^content\s+query\b`),
	},
	{
		id:          "monkey",
		description: "UI monkey testing",
		regex:       regexp.MustCompile(`^monkey(\s|$)`),
	},
	{
		id:          "grep",
		description: "text filtering",
		regex:       regexp.MustCompile(`^grep(\s|$)`),
	},
}

func matchAllowRule(command string) (allowRule, bool) {
	for _, rule := range allowRules {
		if rule.regex.MatchString(command) {
			return rule, true
		}
	}
	return allowRule{}, false
}
