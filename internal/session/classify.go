package session

import "strings"

type connectErrorRule struct {
	fragments []string
	message   string
}

// Ordered: the first matching category wins. Unrecognized errors pass
// through verbatim.
var connectErrorRules = []connectErrorRule{
	{
		fragments: []string{"secure context"},
		message:   "The console requires a secure context (HTTPS or localhost) to reach the device channel.",
	},
	{
		fragments: []string{"webusb", "usb not supported", "transport not supported"},
		message:   "This browser or host does not support the USB transport needed by the device channel.",
	},
	{
		fragments: []string{"init failed", "failed to initialize", "channel init"},
		message:   "The device channel failed to initialize. Unplug and replug the device, then retry.",
	},
	{
		fragments: []string{"no device selected", "no device"},
		message:   "No device selected. Plug a device in, enable USB debugging and pick it from the chooser.",
	},
	{
		fragments: []string{"busy", "claimed", "in use", "unable to claim"},
		message:   "The device is busy or claimed by another program. Close other debugging tools (adb, vendor suites) and retry.",
	},
	{
		fragments: []string{"access denied", "permission denied"},
		message:   "Access to the device was denied. Check USB debugging authorization on the device.",
	},
	{
		fragments: []string{"not found", "disconnected during"},
		message:   "The device disappeared during the handshake. Reconnect the cable and retry.",
	},
	{
		fragments: []string{"offline"},
		message:   "The device is offline. Toggle USB debugging off and on, then retry.",
	},
}

// ClassifyConnectError maps a transport failure onto a user-facing
// message by substring matching.
func ClassifyConnectError(connectError error) string {
	if connectError == nil {
		return ""
	}
	lowered := strings.ToLower(connectError.Error())
	for _, rule := range connectErrorRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(lowered, fragment) {
				return rule.message
			}
		}
	}
	return connectError.Error()
}
