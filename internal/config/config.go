// Package config loads and validates the environment configuration file:
// broker, cell identity, round timeout, snapshot archive, and the device
// map. Device entries are a closed tagged variant; unknown kinds fail
// loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DeviceKind discriminates the device configuration variants.
type DeviceKind string

const (
	KindArm              DeviceKind = "arm"
	KindCamera           DeviceKind = "camera"
	KindVacuum           DeviceKind = "vacuum"
	KindOracle           DeviceKind = "oracle"
	KindServer           DeviceKind = "server"
	KindTask             DeviceKind = "task"
	KindTextInstructions DeviceKind = "text-instructions"
)

// Kinds is the closed set of device kinds.
var Kinds = []DeviceKind{
	KindArm, KindCamera, KindVacuum, KindOracle,
	KindServer, KindTask, KindTextInstructions,
}

const (
	DefaultTimeoutSec = 15.0
	DefaultBrokerPort = 1883
	DefaultArmJoints  = 6
)

var deviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// EnvConfig is the whole environment configuration.
type EnvConfig struct {
	CellID      string                  `json:"cellId"`
	AgentID     string                  `json:"agentId,omitempty"`
	Broker      BrokerConfig            `json:"broker"`
	TimeoutSec  float64                 `json:"timeoutSec,omitempty"`
	TaskParams  map[string]string       `json:"taskParams,omitempty"`
	Archive     *ArchiveConfig          `json:"archive,omitempty"`
	MetricsAddr string                  `json:"metricsAddr,omitempty"`
	Devices     map[string]DeviceConfig `json:"devices"`
}

// BrokerConfig locates the cell host's MQTT broker.
type BrokerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	TLS      bool   `json:"tls,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ArchiveConfig enables mirroring telemetry snapshots to object storage.
type ArchiveConfig struct {
	Endpoint      string `json:"endpoint"`
	Bucket        string `json:"bucket"`
	Prefix        string `json:"prefix,omitempty"`
	Region        string `json:"region,omitempty"`
	AccessKeyFile string `json:"accessKeyFile"`
	SecretKeyFile string `json:"secretKeyFile"`
}

// DeviceConfig is one device entry: the kind discriminator, the host-side
// device name, the temporal class, and the kind-specific payload.
type DeviceConfig struct {
	Type        DeviceKind `json:"type"`
	CellName    string     `json:"cellName,omitempty"`
	Synchronous bool       `json:"synchronous,omitempty"`

	Arm    *ArmConfig    `json:"arm,omitempty"`
	Camera *CameraConfig `json:"camera,omitempty"`
	Vacuum *VacuumConfig `json:"vacuum,omitempty"`
	Oracle *OracleConfig `json:"oracle,omitempty"`
}

// ArmConfig configures an arm device.
type ArmConfig struct {
	Joints     int     `json:"joints,omitempty"`
	TimeoutSec float64 `json:"timeoutSec,omitempty"`
}

// CameraConfig configures a color camera device.
type CameraConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// VacuumConfig configures a vacuum gripper device.
type VacuumConfig struct {
	DetectEnable bool `json:"detectEnable,omitempty"`
}

// OracleConfig configures a pick-point oracle device.
type OracleConfig struct {
	TaskCode string `json:"taskCode,omitempty"`
}

// Load reads the JSON config file, applies defaults, and validates.
func Load(path string) (*EnvConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg EnvConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *EnvConfig) ApplyDefaults() {
	if c.TimeoutSec == 0 {
		c.TimeoutSec = DefaultTimeoutSec
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = DefaultBrokerPort
	}
	for name, dev := range c.Devices {
		if dev.Type == KindArm {
			if dev.Arm == nil {
				dev.Arm = &ArmConfig{}
			}
			if dev.Arm.Joints == 0 {
				dev.Arm.Joints = DefaultArmJoints
			}
		}
		c.Devices[name] = dev
	}
}

// Validate enforces required fields and the closed device-kind set.
func (c *EnvConfig) Validate() error {
	var problems []string
	if c.CellID == "" {
		problems = append(problems, "cellId is required")
	}
	if c.Broker.Host == "" {
		problems = append(problems, "broker.host is required")
	}
	if c.TimeoutSec < 0 {
		problems = append(problems, "timeoutSec must not be negative")
	}
	if len(c.Devices) == 0 {
		problems = append(problems, "at least one device is required")
	}
	if c.Archive != nil {
		if c.Archive.Endpoint == "" || c.Archive.Bucket == "" {
			problems = append(problems, "archive requires endpoint and bucket")
		}
		if c.Archive.AccessKeyFile == "" || c.Archive.SecretKeyFile == "" {
			problems = append(problems, "archive requires accessKeyFile and secretKeyFile")
		}
	}
	for name, dev := range c.Devices {
		if !deviceNamePattern.MatchString(name) {
			problems = append(problems, fmt.Sprintf(
				"device name %q does not match %s", name, deviceNamePattern.String()))
		}
		problems = append(problems, dev.validate(name)...)
	}
	if len(problems) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (d DeviceConfig) validate(name string) []string {
	var problems []string
	switch d.Type {
	case KindArm:
		if d.Arm != nil && d.Arm.Joints < 0 {
			problems = append(problems, fmt.Sprintf("device %q: joints must not be negative", name))
		}
	case KindCamera:
		if d.Camera == nil || d.Camera.Width <= 0 || d.Camera.Height <= 0 {
			problems = append(problems, fmt.Sprintf(
				"device %q: camera requires positive width and height", name))
		}
	case KindVacuum, KindOracle, KindServer, KindTask, KindTextInstructions:
	case "":
		problems = append(problems, fmt.Sprintf("device %q: type is required", name))
	default:
		problems = append(problems, fmt.Sprintf("device %q: unknown type %q", name, d.Type))
	}
	return problems
}
