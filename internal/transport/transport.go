package transport

import (
	"context"
	"errors"
)

// Sentinel connect failures the session layer branches on.
var (
	ErrNoDevice     = errors.New("no device selected")
	ErrUnauthorized = errors.New("device is waiting for on-device authorization")
)

// DeviceInfo describes one attached device.
type DeviceInfo struct {
	Manufacturer     string `json:"manufacturer"`
	Model            string `json:"model"`
	Serial           string `json:"serial"`
	AndroidVersion   string `json:"android_version"`
	APILevel         int    `json:"api_level"`
	BatteryLevel     int    `json:"battery_level"`
	Rooted           bool   `json:"rooted"`
	ScreenResolution string `json:"screen_resolution"`
	ScreenDensity    int    `json:"screen_density"`
}

// ShellResult is the outcome of one executed command. It is produced by
// the transport and consumed read-only by the orchestration layer.
type ShellResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Package is one installed package as reported by the device.
type Package struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	System  bool   `json:"system"`
	ApkPath string `json:"apk_path,omitempty"`
}

// User is one Android user/profile on the device.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ProgressFunc reports a fraction in [0, 1].
type ProgressFunc func(fraction float64)

// Transport is the privileged command channel to one device. All calls
// are sequential awaited operations; the channel is a single multiplexed
// conversation and concurrent shell invocations would race on shared
// device state.
type Transport interface {
	Connect(ctx context.Context) (DeviceInfo, error)
	Disconnect() error
	DeviceInfo(ctx context.Context) (DeviceInfo, error)

	Shell(ctx context.Context, command string) (ShellResult, error)
	InstallBinary(ctx context.Context, payload []byte, onProgress ProgressFunc) (ShellResult, error)

	ListPackages(ctx context.Context) ([]Package, error)
	EnablePackage(ctx context.Context, name string) (ShellResult, error)
	DisablePackage(ctx context.Context, name string) (ShellResult, error)
	UninstallPackageRoot(ctx context.Context, name string, apkPath string) (ShellResult, error)

	ListUsers(ctx context.Context) ([]User, error)
	CreateManagedProfile(ctx context.Context, name string) (ShellResult, error)
	StartUser(ctx context.Context, id int) (ShellResult, error)
	RemoveUser(ctx context.Context, id int) (ShellResult, error)
	InstallExistingForUser(ctx context.Context, name string, userID int) (ShellResult, error)
}
