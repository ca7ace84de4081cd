package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const maxSettingsValueLength = 256

var settingsNamespaces = map[string]bool{
	"system": true,
	"secure": true,
	"global": true,
}

var settingsKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Syntactic validity is necessary but not sufficient: a key must also be
// one of the recognized setting names.
var recognizedSettingsKeys = map[string]bool{
	"font_scale":                 true,
	"screen_brightness":          true,
	"screen_brightness_mode":     true,
	"screen_off_timeout":         true,
	"accelerometer_rotation":     true,
	"user_rotation":              true,
	"location_mode":              true,
	"accessibility_enabled":      true,
	"default_input_method":       true,
	"window_animation_scale":     true,
	"transition_animation_scale": true,
	"animator_duration_scale":    true,
	"private_dns_mode":           true,
	"private_dns_specifier":      true,
	"stay_on_while_plugged_in":   true,
	"low_power":                  true,
}

// Per-key value checks applied to puts after the generic value gate. Keys
// without an entry keep only the generic checks.
var settingsValueRules = map[string]func(value string) error{
	"private_dns_specifier": func(value string) error {
		_, hostnameError := Hostname(value)
		return hostnameError
	},
	"screen_brightness":      integerSettingRule("screen_brightness", 0, 255),
	"screen_brightness_mode": integerSettingRule("screen_brightness_mode", 0, 1),
	"screen_off_timeout":     integerSettingRule("screen_off_timeout", 5000, 1800000),
	"user_rotation":          integerSettingRule("user_rotation", 0, 3),
	"font_scale":             numberSettingRule("font_scale", 0.5, 3.0),
}

func integerSettingRule(label string, min int, max int) func(string) error {
	return func(value string) error {
		parsed, parseError := strconv.ParseFloat(value, 64)
		if parseError != nil {
			return fmt.Errorf("%s value %q is not a number", label, value)
		}
		_, rangeError := IntegerValue(parsed, min, max, label)
		return rangeError
	}
}

func numberSettingRule(label string, min float64, max float64) func(string) error {
	return func(value string) error {
		parsed, parseError := strconv.ParseFloat(value, 64)
		if parseError != nil {
			return fmt.Errorf("%s value %q is not a number", label, value)
		}
		return NumberValue(parsed, min, max, label)
	}
}

// SettingsCommand validates a settings get/put tuple and renders the full
// shell command for it.
func SettingsCommand(action string, namespace string, key string, value string) (string, error) {
	switch action {
	case "get", "put":
	default:
		return "", fmt.Errorf("settings action %q is not get or put", action)
	}
	if !settingsNamespaces[namespace] {
		return "", fmt.Errorf("settings namespace %q is not system, secure or global", namespace)
	}
	trimmedKey := strings.TrimSpace(key)
	if !settingsKeyPattern.MatchString(trimmedKey) {
		return "", fmt.Errorf("settings key %q does not match the key grammar", key)
	}
	if !recognizedSettingsKeys[trimmedKey] {
		return "", fmt.Errorf("settings key %q is not a recognized setting", trimmedKey)
	}

	if action == "get" {
		return fmt.Sprintf("settings get %s %s", namespace, trimmedKey), nil
	}

	trimmedValue := strings.TrimSpace(value)
	if trimmedValue == "" {
		return "", fmt.Errorf("settings put requires a value")
	}
	if len(trimmedValue) > maxSettingsValueLength {
		return "", fmt.Errorf("settings value exceeds %d characters", maxSettingsValueLength)
	}
	if index := strings.IndexAny(trimmedValue, pathDangerousCharacters); index >= 0 {
		return "", fmt.Errorf("settings value contains forbidden character %q", trimmedValue[index])
	}
	if rule, constrained := settingsValueRules[trimmedKey]; constrained {
		if ruleError := rule(trimmedValue); ruleError != nil {
			return "", ruleError
		}
	}
	return fmt.Sprintf("settings put %s %s %s", namespace, trimmedKey, trimmedValue), nil
}
