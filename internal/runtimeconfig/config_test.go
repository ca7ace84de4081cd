package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsEmptyValues(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config")
	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if config.Path != configPath {
		t.Fatalf("Path = %q, want %q", config.Path, configPath)
	}
	if len(config.Values) != 0 {
		t.Fatalf("Values = %v, want empty", config.Values)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "nested", "config")
	saved := FileConfig{
		Path: configPath,
		Values: map[string]string{
			"daemon_addr": "127.0.0.1:8722",
			"adb_serial":  "emulator-5554",
		},
	}
	if err := Save(saved); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.Values["daemon_addr"] != "127.0.0.1:8722" {
		t.Fatalf("daemon_addr = %q", loaded.Values["daemon_addr"])
	}
	if loaded.Values["adb_serial"] != "emulator-5554" {
		t.Fatalf("adb_serial = %q", loaded.Values["adb_serial"])
	}
}

func TestLoadSkipsCommentsAndMalformedLines(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config")
	content := "# header comment\n\nnot a pair\ndaemon_addr = 127.0.0.1:8722\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(loaded.Values) != 1 {
		t.Fatalf("Values = %v, want single entry", loaded.Values)
	}
	if loaded.Values["daemon_addr"] != "127.0.0.1:8722" {
		t.Fatalf("daemon_addr = %q", loaded.Values["daemon_addr"])
	}
}

func TestEnsureTokenGeneratesAndPersists(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "config")
	config, token, err := EnsureToken(FileConfig{Path: configPath})
	if err != nil {
		t.Fatalf("EnsureToken returned error: %v", err)
	}
	if len(token) != 48 {
		t.Fatalf("token length = %d, want 48 hex characters", len(token))
	}

	_, secondToken, err := EnsureToken(config)
	if err != nil {
		t.Fatalf("second EnsureToken returned error: %v", err)
	}
	if secondToken != token {
		t.Fatalf("second token %q differs from first %q", secondToken, token)
	}

	reloaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if reloaded.Values[TokenKey] != token {
		t.Fatalf("persisted token %q, want %q", reloaded.Values[TokenKey], token)
	}
}

func TestResolveStringPrefersEnvironment(t *testing.T) {
	t.Setenv("DROIDGATE_TEST_ADDR", "10.0.0.2:8722")

	resolved := ResolveString("DROIDGATE_TEST_ADDR", map[string]string{"DROIDGATE_TEST_ADDR": "file-value"})
	if resolved != "10.0.0.2:8722" {
		t.Fatalf("ResolveString = %q, want environment value", resolved)
	}
	if got := ResolveString("DROIDGATE_TEST_MISSING", nil); got != "" {
		t.Fatalf("ResolveString for missing key = %q, want empty", got)
	}
}

func TestResolveBool(t *testing.T) {
	t.Setenv("DROIDGATE_TEST_DEMO", "on")

	if !ResolveBool("DROIDGATE_TEST_DEMO", nil) {
		t.Fatal("ResolveBool(on) = false, want true")
	}
	if ResolveBool("DROIDGATE_TEST_OFF", map[string]string{"DROIDGATE_TEST_OFF": "0"}) {
		t.Fatal("ResolveBool(0) = true, want false")
	}
}
