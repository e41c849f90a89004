// Package textinstructions wraps the operator instruction stream. It is
// passive and default-fills: before the first instruction arrives the
// observation is empty with a zero timestamp.
package textinstructions

import (
	"encoding/json"
	"fmt"

	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/snapshot"
	"github.com/robocell/cellgym/internal/space"
)

// Observation is the latest instruction text.
type Observation struct {
	TS          float64
	Instruction string
	Counter     int64
}

func (o Observation) Timestamp() float64 { return o.TS }

type state struct {
	Text string `json:"text"`
}

// Device is the text instructions wrapper.
type Device struct {
	core.Base
}

func New(dc config.DeviceConfig) *Device {
	observationSpace := space.Dict{
		"ts":          space.Box{High: 1e308},
		"instruction": space.Box{High: 255, Shape: []int{1024}},
		"counter":     space.Box{High: 1e308},
	}
	return &Device{
		Base: core.NewBase(dc.CellName, space.Dict{}, observationSpace, dc.Synchronous),
	}
}

func (d *Device) endpointName() string {
	if name := d.CellName(); name != "" {
		return name
	}
	return d.ConfigName()
}

func (d *Device) StartObservation(h host.Host) (bool, error) {
	_ = h
	return false, nil
}

func (d *Device) Observation(h host.Host) (core.Observation, []snapshot.Reference, []snapshot.Response, error) {
	ep, ok := h.Endpoint(d.endpointName())
	if !ok {
		return nil, nil, nil, core.Devicef(d.ConfigName(),
			"text instructions %q not present on host", d.endpointName())
	}
	msg, has := ep.State()
	if !has {
		// No instruction yet; default-fill.
		return Observation{}, nil, nil, nil
	}
	var st state
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "bad instruction payload: %v", err)
		}
	}
	obs := Observation{TS: msg.TS, Instruction: st.Text, Counter: msg.Seq}
	refs := []snapshot.Reference{{Time: msg.TS, Sequence: msg.Seq}}
	return obs, refs, nil, nil
}

func (d *Device) DoAction(action core.Action, h host.Host) ([]snapshot.Action, error) {
	_ = h
	return nil, core.Devicef(d.ConfigName(),
		"text instructions do not accept actions (got %T)", action)
}

func (d *Device) Validate(h host.Host) string {
	if _, ok := h.Endpoint(d.endpointName()); !ok {
		return fmt.Sprintf("text instructions %q not present on host", d.endpointName())
	}
	return ""
}
