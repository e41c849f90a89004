package devices

import (
	"errors"
	"strings"
	"testing"

	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host/hosttest"
)

func TestBuildConstructsEveryKind(t *testing.T) {
	cfg := &config.EnvConfig{
		Devices: map[string]config.DeviceConfig{
			"arm":          {Type: config.KindArm, Synchronous: true},
			"camera":       {Type: config.KindCamera, Camera: &config.CameraConfig{Width: 64, Height: 48}},
			"vacuum":       {Type: config.KindVacuum},
			"oracle":       {Type: config.KindOracle},
			"server":       {Type: config.KindServer},
			"task":         {Type: config.KindTask},
			"instructions": {Type: config.KindTextInstructions},
		},
	}
	registry, err := Build(Entries(cfg), map[string]string{"intent": "pick"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(registry) != 7 {
		t.Fatalf("got %d devices, want 7", len(registry))
	}
	for name, d := range registry {
		if d.ConfigName() != name {
			t.Fatalf("device %q has config name %q", name, d.ConfigName())
		}
	}
}

func TestBuildRejectsDuplicateNames(t *testing.T) {
	entries := []Entry{
		{Name: "arm", Config: config.DeviceConfig{Type: config.KindArm}},
		{Name: "arm", Config: config.DeviceConfig{Type: config.KindArm}},
	}
	_, err := Build(entries, nil)
	if !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("error %v does not match configuration sentinel", err)
	}
	if !strings.Contains(err.Error(), `duplicate device config name "arm"`) {
		t.Fatalf("error %q does not name the duplicate", err)
	}
}

func TestBuildCollectsEveryProblem(t *testing.T) {
	entries := []Entry{
		{Name: "", Config: config.DeviceConfig{Type: config.KindArm}},
		{Name: "widget", Config: config.DeviceConfig{Type: "widget"}},
	}
	_, err := Build(entries, nil)
	var ce *core.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("error %v is not a ConfigurationError", err)
	}
	if len(ce.Problems) != 2 {
		t.Fatalf("problems = %v, want 2 entries", ce.Problems)
	}
}

func TestValidateAggregatesDiagnostics(t *testing.T) {
	cfg := &config.EnvConfig{
		Devices: map[string]config.DeviceConfig{
			"arm":    {Type: config.KindArm},
			"vacuum": {Type: config.KindVacuum},
		},
	}
	registry, err := Build(Entries(cfg), nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	h := hosttest.New()
	err = Validate(h, registry)
	var ce *core.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("error %v is not a ConfigurationError", err)
	}
	if len(ce.Problems) != 2 {
		t.Fatalf("problems = %v, want both devices reported", ce.Problems)
	}

	h.AddEndpoint("arm")
	h.AddEndpoint("vacuum")
	if err := Validate(h, registry); err != nil {
		t.Fatalf("validate with endpoints: %v", err)
	}
}
