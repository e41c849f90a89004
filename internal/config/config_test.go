package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cellgym.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"cellId": "cell-1",
		"broker": {"host": "broker.local"},
		"devices": {
			"arm": {"type": "arm", "synchronous": true},
			"camera": {"type": "camera", "camera": {"width": 64, "height": 48}}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TimeoutSec != DefaultTimeoutSec {
		t.Fatalf("timeout = %v, want %v", cfg.TimeoutSec, DefaultTimeoutSec)
	}
	if cfg.Broker.Port != DefaultBrokerPort {
		t.Fatalf("port = %d, want %d", cfg.Broker.Port, DefaultBrokerPort)
	}
	if got := cfg.Devices["arm"].Arm.Joints; got != DefaultArmJoints {
		t.Fatalf("arm joints = %d, want %d", got, DefaultArmJoints)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := &EnvConfig{
		Devices: map[string]DeviceConfig{
			"BadName": {Type: KindVacuum},
			"camera":  {Type: KindCamera},
			"widget":  {Type: "widget"},
		},
	}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{
		"cellId is required",
		"broker.host is required",
		`device name "BadName"`,
		"camera requires positive width and height",
		`unknown type "widget"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestValidateRequiresDevices(t *testing.T) {
	cfg := &EnvConfig{CellID: "cell-1", Broker: BrokerConfig{Host: "broker.local"}}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "at least one device") {
		t.Fatalf("error = %v, want missing-devices problem", err)
	}
}

func TestValidateArchiveNeedsCredentials(t *testing.T) {
	cfg := &EnvConfig{
		CellID:  "cell-1",
		Broker:  BrokerConfig{Host: "broker.local"},
		Archive: &ArchiveConfig{Endpoint: "s3.local", Bucket: "runs"},
		Devices: map[string]DeviceConfig{"vacuum": {Type: KindVacuum}},
	}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "accessKeyFile") {
		t.Fatalf("error = %v, want archive credential problem", err)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"cellId": }`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse failure")
	}
}
