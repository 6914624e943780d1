package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mil-ad/audioswitch/device"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPathHonoursXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	if got := Path(); got != "/cfg/audioswitch/config.json" {
		t.Fatalf("Path = %q", got)
	}
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/u")
	if got := Path(); got != "/home/u/.config/audioswitch/config.json" {
		t.Fatalf("Path = %q", got)
	}
}

func TestSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := SocketPath(); got != "/run/user/1000/audioswitch.sock" {
		t.Fatalf("SocketPath = %q", got)
	}
	t.Setenv("XDG_RUNTIME_DIR", "")
	if got := SocketPath(); got != "/tmp/audioswitch.sock" {
		t.Fatalf("SocketPath = %q", got)
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Adapter != "hci0" || !cfg.Wired() {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	bt := cfg.Bluetooth()
	if bt.RetryInterval != 500*time.Millisecond || bt.Timeout != 5*time.Second {
		t.Fatalf("bluetooth timing = %+v", bt)
	}
}

func TestLoadOverridesAndCompletesOrder(t *testing.T) {
	path := writeConfig(t, `{
		"preferred_order": ["speakerphone", "bluetooth"],
		"sco_retry_interval": "250ms",
		"sco_timeout": "3s",
		"log_format": "json",
		"wired_detection": false
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := device.Order{device.Speakerphone, device.BluetoothHeadset, device.WiredHeadset, device.Earpiece}
	if got := cfg.Order(); got.String() != want.String() {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if cfg.Bluetooth().RetryInterval != 250*time.Millisecond || cfg.Bluetooth().Timeout != 3*time.Second {
		t.Fatalf("timing = %+v", cfg.Bluetooth())
	}
	if cfg.Wired() {
		t.Fatal("wired detection not disabled")
	}
	if cfg.LogFormat != "json" || cfg.LogLevel != "info" {
		t.Fatalf("log settings = %q %q", cfg.LogFormat, cfg.LogLevel)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"syntax", `{`, "parse config"},
		{"unknown kind", `{"preferred_order": ["radio"]}`, "parse config"},
		{"duplicate kind", `{"preferred_order": ["earpiece", "earpiece"]}`, "preferred_order"},
		{"bad duration", `{"sco_timeout": "soon"}`, "parse config"},
		{"timeout too short", `{"sco_retry_interval": "2s", "sco_timeout": "1s"}`, "shorter than"},
		{"empty adapter", `{"adapter": ""}`, "adapter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
