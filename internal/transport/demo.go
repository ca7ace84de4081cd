package transport

import (
	"context"
	"fmt"
	"sync"
)

// Demo is an in-process stand-in used by demo sessions. It never opens a
// channel to a real device.
type Demo struct {
	mu       sync.Mutex
	packages []Package
}

func NewDemo() *Demo {
	return &Demo{
		packages: []Package{
			{Name: "com.android.chrome", Enabled: true, System: true, ApkPath: "/system/app/Chrome/Chrome.apk"},
			{Name: "com.android.bluetooth", Enabled: true, System: true, ApkPath: "/system/app/Bluetooth/Bluetooth.apk"},
			{Name: "com.vendor.weather", Enabled: true, System: true, ApkPath: "/system/app/Weather/Weather.apk"},
			{Name: "com.vendor.promotions", Enabled: false, System: true, ApkPath: "/system/app/Promotions/Promotions.apk"},
			{Name: "com.example.game", Enabled: true, System: false, ApkPath: "/data/app/com.example.game/base.apk"},
		},
	}
}

// DemoDeviceInfo is the canned identity presented by demo sessions.
func DemoDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Manufacturer:     "Droidgate",
		Model:            "Demo Device",
		Serial:           "DEMO0001",
		AndroidVersion:   "14",
		APILevel:         34,
		BatteryLevel:     100,
		Rooted:           false,
		ScreenResolution: "1080x2340",
		ScreenDensity:    440,
	}
}

func (demo *Demo) Connect(ctx context.Context) (DeviceInfo, error) {
	return DemoDeviceInfo(), nil
}

func (demo *Demo) Disconnect() error { return nil }

func (demo *Demo) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	return DemoDeviceInfo(), nil
}

func (demo *Demo) Shell(ctx context.Context, command string) (ShellResult, error) {
	return ShellResult{ExitCode: 0, Stdout: "demo: " + command}, nil
}

func (demo *Demo) InstallBinary(ctx context.Context, payload []byte, onProgress ProgressFunc) (ShellResult, error) {
	if onProgress != nil {
		onProgress(1)
	}
	return ShellResult{ExitCode: 0, Stdout: "Success"}, nil
}

func (demo *Demo) ListPackages(ctx context.Context) ([]Package, error) {
	demo.mu.Lock()
	defer demo.mu.Unlock()
	packages := make([]Package, len(demo.packages))
	copy(packages, demo.packages)
	return packages, nil
}

func (demo *Demo) EnablePackage(ctx context.Context, name string) (ShellResult, error) {
	return demo.setEnabled(name, true)
}

func (demo *Demo) DisablePackage(ctx context.Context, name string) (ShellResult, error) {
	return demo.setEnabled(name, false)
}

func (demo *Demo) setEnabled(name string, enabled bool) (ShellResult, error) {
	demo.mu.Lock()
	defer demo.mu.Unlock()
	for index := range demo.packages {
		if demo.packages[index].Name == name {
			demo.packages[index].Enabled = enabled
			state := "disabled-user"
			if enabled {
				state = "enabled"
			}
			return ShellResult{ExitCode: 0, Stdout: fmt.Sprintf("Package %s new state: %s", name, state)}, nil
		}
	}
	return ShellResult{ExitCode: 1, Stderr: fmt.Sprintf("Error: Unknown package: %s", name)}, nil
}

func (demo *Demo) UninstallPackageRoot(ctx context.Context, name string, apkPath string) (ShellResult, error) {
	return demo.setEnabled(name, false)
}

func (demo *Demo) ListUsers(ctx context.Context) ([]User, error) {
	return []User{{ID: 0, Name: "Owner"}}, nil
}

func (demo *Demo) CreateManagedProfile(ctx context.Context, name string) (ShellResult, error) {
	return ShellResult{ExitCode: 0, Stdout: "Success: created user id 10"}, nil
}

func (demo *Demo) StartUser(ctx context.Context, id int) (ShellResult, error) {
	return ShellResult{ExitCode: 0, Stdout: "Success: user started"}, nil
}

func (demo *Demo) RemoveUser(ctx context.Context, id int) (ShellResult, error) {
	return ShellResult{ExitCode: 0, Stdout: "Success: removed user"}, nil
}

func (demo *Demo) InstallExistingForUser(ctx context.Context, name string, userID int) (ShellResult, error) {
	return ShellResult{ExitCode: 0, Stdout: fmt.Sprintf("Package %s installed for user: %d", name, userID)}, nil
}
