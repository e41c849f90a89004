// Package server is the cell's pseudo device: it carries no state of its
// own, but its observation reports the round's merged latest timestamp
// and the host's server time, filled in by the environment after each
// round.
package server

import (
	"math"

	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/snapshot"
	"github.com/robocell/cellgym/internal/space"
)

// Observation reports the effective as-of time of the whole merged
// observation.
type Observation struct {
	LatestTS float64
	ServerTS float64
}

// Timestamp is zero: the server device never drives the round's latest
// timestamp, it reflects it.
func (o Observation) Timestamp() float64 { return 0 }

// Device is the server pseudo device.
type Device struct {
	core.Base
}

func New(dc config.DeviceConfig) *Device {
	observationSpace := space.Dict{
		"latest_ts": space.Box{High: math.MaxFloat64},
		"server_ts": space.Box{High: math.MaxFloat64},
	}
	return &Device{
		Base: core.NewBase(dc.CellName, space.Dict{}, observationSpace, dc.Synchronous),
	}
}

func (d *Device) StartObservation(h host.Host) (bool, error) {
	_ = h
	return false, nil
}

// Observation returns zeroed times; the environment overwrites them once
// the round's latest timestamp and the server time are known.
func (d *Device) Observation(h host.Host) (core.Observation, []snapshot.Reference, []snapshot.Response, error) {
	_ = h
	return Observation{}, nil, nil, nil
}

// FillTimes implements core.TimeFiller.
func (d *Device) FillTimes(latestTS, serverTS float64) core.Observation {
	return Observation{LatestTS: latestTS, ServerTS: serverTS}
}

func (d *Device) DoAction(action core.Action, h host.Host) ([]snapshot.Action, error) {
	_ = h
	return nil, core.Devicef(d.ConfigName(), "server device does not accept actions (got %T)", action)
}

// Validate always passes: the pseudo device is always there.
func (d *Device) Validate(h host.Host) string {
	_ = h
	return ""
}
