// Package devices compiles the configured device map into the live
// registry. The kind switch here is the single place a device variant
// becomes a concrete implementation.
package devices

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robocell/cellgym/devices/arm"
	"github.com/robocell/cellgym/devices/camera"
	"github.com/robocell/cellgym/devices/oracle"
	"github.com/robocell/cellgym/devices/server"
	"github.com/robocell/cellgym/devices/task"
	"github.com/robocell/cellgym/devices/textinstructions"
	"github.com/robocell/cellgym/devices/vacuum"
	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
)

// Entry is one named device configuration.
type Entry struct {
	Name   string
	Config config.DeviceConfig
}

// Entries converts the config map into a name-sorted entry list.
func Entries(cfg *config.EnvConfig) []Entry {
	entries := make([]Entry, 0, len(cfg.Devices))
	for name, dc := range cfg.Devices {
		entries = append(entries, Entry{Name: name, Config: dc})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Build constructs the device registry. Empty or duplicate names and
// unknown kinds are collected into one ConfigurationError; construction
// is all-or-nothing.
func Build(entries []Entry, taskParams map[string]string) (map[string]core.Device, error) {
	registry := make(map[string]core.Device, len(entries))
	var problems []string

	for _, entry := range entries {
		if entry.Name == "" {
			problems = append(problems, "device with empty config name")
			continue
		}
		if _, dup := registry[entry.Name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate device config name %q", entry.Name))
			continue
		}

		var d core.Device
		switch entry.Config.Type {
		case config.KindArm:
			d = arm.New(entry.Config)
		case config.KindCamera:
			d = camera.New(entry.Config)
		case config.KindVacuum:
			d = vacuum.New(entry.Config)
		case config.KindOracle:
			d = oracle.New(entry.Config)
		case config.KindServer:
			d = server.New(entry.Config)
		case config.KindTask:
			d = task.New(entry.Config)
		case config.KindTextInstructions:
			d = textinstructions.New(entry.Config)
		default:
			problems = append(problems, fmt.Sprintf(
				"device %q: unknown kind %q", entry.Name, entry.Config.Type))
			continue
		}

		d.SetConfigName(entry.Name)
		d.SetTaskParams(taskParams)
		registry[entry.Name] = d
	}

	if len(problems) > 0 {
		return nil, &core.ConfigurationError{Problems: problems}
	}
	return registry, nil
}

// Validate collects every device's remote-dependency diagnostic into one
// combined ConfigurationError, or nil if everything resolves.
func Validate(h host.Host, registry map[string]core.Device) error {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	for _, name := range names {
		if diag := registry[name].Validate(h); diag != "" {
			problems = append(problems, fmt.Sprintf("%s: %s", name, diag))
		}
	}
	if len(problems) > 0 {
		return &core.ConfigurationError{Problems: problems}
	}
	return nil
}

// MetricsProvider is implemented by devices that export collectors.
type MetricsProvider interface {
	Collectors() []prometheus.Collector
}

// Collectors gathers every device's prometheus collectors.
func Collectors(registry map[string]core.Device) []prometheus.Collector {
	var out []prometheus.Collector
	for _, d := range registry {
		if mp, ok := d.(MetricsProvider); ok {
			out = append(out, mp.Collectors()...)
		}
	}
	return out
}
