package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShellOutput(t *testing.T) {
	t.Parallel()

	result := parseShellOutput("package:com.foo\npackage:com.bar\n__droidgate_rc=0\n")
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "package:com.foo\npackage:com.bar", result.Stdout)
	assert.Empty(t, result.Stderr)

	result = parseShellOutput("Error: Unknown package: com.nope\n__droidgate_rc=1\n")
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, "Error: Unknown package: com.nope", result.Stdout)
	assert.Equal(t, result.Stdout, result.Stderr)

	result = parseShellOutput("no trailer here\n")
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "no trailer here", result.Stdout)
}

func TestParsePackageList(t *testing.T) {
	t.Parallel()

	raw := "package:/system/app/Bluetooth/Bluetooth.apk=com.android.bluetooth\n" +
		"package:/data/app/com.example.game-1/base.apk=com.example.game\n" +
		"garbage line\n" +
		"package:/vendor/app/Weather/Weather.apk=com.vendor.weather\n"
	disabled := parseDisabledNames("package:com.vendor.weather\npackage:com.other\n")

	packages := parsePackageList(raw, disabled)
	require.Len(t, packages, 3)

	assert.Equal(t, "com.android.bluetooth", packages[0].Name)
	assert.True(t, packages[0].System)
	assert.True(t, packages[0].Enabled)
	assert.Equal(t, "/system/app/Bluetooth/Bluetooth.apk", packages[0].ApkPath)

	assert.Equal(t, "com.example.game", packages[1].Name)
	assert.False(t, packages[1].System)

	assert.Equal(t, "com.vendor.weather", packages[2].Name)
	assert.False(t, packages[2].Enabled)
}

func TestParseUserList(t *testing.T) {
	t.Parallel()

	raw := "Users:\n\tUserInfo{0:Owner:c13} running\n\tUserInfo{11:Work profile:1030}\n"
	users := parseUserList(raw)
	require.Len(t, users, 2)
	assert.Equal(t, User{ID: 0, Name: "Owner"}, users[0])
	assert.Equal(t, User{ID: 11, Name: "Work profile"}, users[1])
}

func TestDeviceProbeParsers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 87, parseBatteryLevel("Current Battery Service state:\n  level: 87\n  scale: 100"))
	assert.Equal(t, -1, parseBatteryLevel("no level line"))
	assert.Equal(t, "1080x2340", parseScreenSize("Physical size: 1080x2340"))
	assert.Equal(t, 440, parseScreenDensity("Physical density: 440"))
	assert.Equal(t, 0, parseScreenDensity("Override density: abc"))
}

func TestAppendExitTrailer(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pm list packages; echo __droidgate_rc=$?", appendExitTrailer("pm list packages"))
}

func TestCreateProfileCommandQuotesName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `pm create-user --profileOf 0 --managed "Work"`, createProfileCommand("Work"))
	assert.Equal(t, `pm create-user --profileOf 0 --managed "a\"; rm -rf \$HOME\""`, createProfileCommand(`a"; rm -rf $HOME"`))
}
