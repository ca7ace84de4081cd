package transport

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	adb "github.com/zach-klippenstein/goadb"

	"github.com/webadb/droidgate/internal/gateway"
)

const installChunkSize = 32 * 1024

// ADB drives one device through a local adb server.
type ADB struct {
	serial string

	mu     sync.Mutex
	client *adb.Adb
	device *adb.Device
	info   DeviceInfo
}

// NewADB dials the local adb server. An empty serial selects the first
// attached device at connect time.
func NewADB(serial string) (*ADB, error) {
	client, clientError := adb.New()
	if clientError != nil {
		return nil, fmt.Errorf("dial adb server: %w", clientError)
	}
	return &ADB{serial: serial, client: client}, nil
}

func (transport *ADB) Connect(ctx context.Context) (DeviceInfo, error) {
	if ctxError := ctx.Err(); ctxError != nil {
		return DeviceInfo{}, ctxError
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()

	serial := transport.serial
	if serial == "" {
		devices, listError := transport.client.ListDevices()
		if listError != nil {
			return DeviceInfo{}, fmt.Errorf("list devices: %w", listError)
		}
		if len(devices) == 0 {
			return DeviceInfo{}, ErrNoDevice
		}
		serial = devices[0].Serial
	}

	device := transport.client.Device(adb.DeviceWithSerial(serial))
	state, stateError := device.State()
	if stateError != nil {
		return DeviceInfo{}, fmt.Errorf("query device state: %w", stateError)
	}
	switch state {
	case adb.StateOnline:
	case adb.StateUnauthorized:
		return DeviceInfo{}, ErrUnauthorized
	case adb.StateOffline:
		return DeviceInfo{}, fmt.Errorf("device %s is offline", serial)
	default:
		return DeviceInfo{}, fmt.Errorf("device %s is in state %v", serial, state)
	}

	info, probeError := probeDeviceInfo(device, serial)
	if probeError != nil {
		return DeviceInfo{}, probeError
	}
	transport.device = device
	transport.info = info
	return info, nil
}

func (transport *ADB) Disconnect() error {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	transport.device = nil
	transport.info = DeviceInfo{}
	return nil
}

func (transport *ADB) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	if ctxError := ctx.Err(); ctxError != nil {
		return DeviceInfo{}, ctxError
	}
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.device == nil {
		return DeviceInfo{}, ErrNoDevice
	}
	return transport.info, nil
}

func (transport *ADB) Shell(ctx context.Context, command string) (ShellResult, error) {
	device, deviceError := transport.attachedDevice()
	if deviceError != nil {
		return ShellResult{}, deviceError
	}
	if ctxError := ctx.Err(); ctxError != nil {
		return ShellResult{}, ctxError
	}

	output, runError := device.RunCommand(appendExitTrailer(command))
	if runError != nil {
		return ShellResult{}, fmt.Errorf("run shell command: %w", runError)
	}
	return parseShellOutput(output), nil
}

func (transport *ADB) InstallBinary(ctx context.Context, payload []byte, onProgress ProgressFunc) (ShellResult, error) {
	device, deviceError := transport.attachedDevice()
	if deviceError != nil {
		return ShellResult{}, deviceError
	}
	if len(payload) == 0 {
		return ShellResult{}, fmt.Errorf("install payload is empty")
	}

	remotePath := fmt.Sprintf("/data/local/tmp/droidgate-%d.apk", time.Now().UnixNano())
	if pushError := pushChunks(ctx, device, remotePath, payload, onProgress); pushError != nil {
		return ShellResult{}, pushError
	}

	result, installError := transport.Shell(ctx, "pm install -r -t "+remotePath)
	// Best-effort cleanup of the staged file either way.
	_, _ = device.RunCommand("rm -f " + remotePath)
	if installError != nil {
		return ShellResult{}, installError
	}
	return result, nil
}

func pushChunks(ctx context.Context, device *adb.Device, remotePath string, payload []byte, onProgress ProgressFunc) error {
	writer, openError := device.OpenWrite(remotePath, os.FileMode(0o644), time.Now())
	if openError != nil {
		return fmt.Errorf("open remote file: %w", openError)
	}
	defer writer.Close()

	total := len(payload)
	for offset := 0; offset < total; offset += installChunkSize {
		if ctxError := ctx.Err(); ctxError != nil {
			return ctxError
		}
		end := offset + installChunkSize
		if end > total {
			end = total
		}
		if _, writeError := writer.Write(payload[offset:end]); writeError != nil {
			return fmt.Errorf("push chunk at %d: %w", offset, writeError)
		}
		if onProgress != nil {
			onProgress(float64(end) / float64(total))
		}
	}
	return nil
}

func (transport *ADB) ListPackages(ctx context.Context) ([]Package, error) {
	disabledResult, disabledError := transport.Shell(ctx, "pm list packages -d")
	if disabledError != nil {
		return nil, disabledError
	}
	listResult, listError := transport.Shell(ctx, "pm list packages -f -u")
	if listError != nil {
		return nil, listError
	}
	return parsePackageList(listResult.Stdout, parseDisabledNames(disabledResult.Stdout)), nil
}

func (transport *ADB) EnablePackage(ctx context.Context, name string) (ShellResult, error) {
	return transport.Shell(ctx, "pm enable "+name)
}

func (transport *ADB) DisablePackage(ctx context.Context, name string) (ShellResult, error) {
	return transport.Shell(ctx, "pm disable-user --user 0 "+name)
}

func (transport *ADB) UninstallPackageRoot(ctx context.Context, name string, apkPath string) (ShellResult, error) {
	// apkPath is kept by the caller for later restore; the uninstall
	// itself only needs the package name.
	_ = apkPath
	return transport.Shell(ctx, fmt.Sprintf("su -c 'pm uninstall -k --user 0 %s'", name))
}

func (transport *ADB) ListUsers(ctx context.Context) ([]User, error) {
	result, runError := transport.Shell(ctx, "pm list users")
	if runError != nil {
		return nil, runError
	}
	return parseUserList(result.Stdout), nil
}

// The profile name is the one free-text value embedded in a channel
// command; it rides inside a double-quoted argument.
func createProfileCommand(name string) string {
	return `pm create-user --profileOf 0 --managed "` + gateway.EscapeQuoted(name) + `"`
}

func (transport *ADB) CreateManagedProfile(ctx context.Context, name string) (ShellResult, error) {
	return transport.Shell(ctx, createProfileCommand(name))
}

func (transport *ADB) StartUser(ctx context.Context, id int) (ShellResult, error) {
	return transport.Shell(ctx, "am start-user "+strconv.Itoa(id))
}

func (transport *ADB) RemoveUser(ctx context.Context, id int) (ShellResult, error) {
	return transport.Shell(ctx, "pm remove-user "+strconv.Itoa(id))
}

func (transport *ADB) InstallExistingForUser(ctx context.Context, name string, userID int) (ShellResult, error) {
	return transport.Shell(ctx, fmt.Sprintf("pm install-existing --user %d %s", userID, name))
}

func (transport *ADB) attachedDevice() (*adb.Device, error) {
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if transport.device == nil {
		return nil, ErrNoDevice
	}
	return transport.device, nil
}

func probeDeviceInfo(device *adb.Device, serial string) (DeviceInfo, error) {
	manufacturer, manufacturerError := device.RunCommand("getprop ro.product.manufacturer")
	if manufacturerError != nil {
		return DeviceInfo{}, fmt.Errorf("probe manufacturer: %w", manufacturerError)
	}
	model, _ := device.RunCommand("getprop ro.product.model")
	version, _ := device.RunCommand("getprop ro.build.version.release")
	apiRaw, _ := device.RunCommand("getprop ro.build.version.sdk")
	battery, _ := device.RunCommand("dumpsys battery")
	suPath, _ := device.RunCommand("which su")
	size, _ := device.RunCommand("wm size")
	density, _ := device.RunCommand("wm density")

	apiLevel, _ := strconv.Atoi(strings.TrimSpace(apiRaw))
	return DeviceInfo{
		Manufacturer:     strings.TrimSpace(manufacturer),
		Model:            strings.TrimSpace(model),
		Serial:           serial,
		AndroidVersion:   strings.TrimSpace(version),
		APILevel:         apiLevel,
		BatteryLevel:     parseBatteryLevel(battery),
		Rooted:           strings.TrimSpace(suPath) != "",
		ScreenResolution: parseScreenSize(size),
		ScreenDensity:    parseScreenDensity(density),
	}, nil
}
