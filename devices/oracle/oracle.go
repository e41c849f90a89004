// Package oracle wraps the pick-point oracle: a host-side service that
// proposes pick points from the cell's cameras. The SDK only requests
// proposals and relays them; the selection algorithm lives on the host.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/snapshot"
	"github.com/robocell/cellgym/internal/space"
)

const requestTimeout = 20 * time.Second

// Action requests a fresh pick-point proposal when Request is 1.
type Action struct {
	Request int
}

// Observation is the latest proposal.
type Observation struct {
	TS        float64
	PickPoint []float64
	PickID    string
	Response  int
}

func (o Observation) Timestamp() float64 { return o.TS }

type state struct {
	PickPoint []float64 `json:"pickPoint"`
	Response  int       `json:"response"`
}

// Device is the oracle wrapper.
type Device struct {
	core.Base
	cfg config.OracleConfig

	lastPickID string
}

func New(dc config.DeviceConfig) *Device {
	cfg := config.OracleConfig{}
	if dc.Oracle != nil {
		cfg = *dc.Oracle
	}
	actionSpace := space.Dict{
		"request": space.Discrete{N: 2},
	}
	observationSpace := space.Dict{
		"ts":         space.Box{High: math.MaxFloat64},
		"pick_point": space.Box{Low: math.Inf(-1), High: math.Inf(1), Shape: []int{2}},
		"response":   space.Discrete{N: 4},
	}
	return &Device{
		Base: core.NewBase(dc.CellName, actionSpace, observationSpace, dc.Synchronous),
		cfg:  cfg,
	}
}

func (d *Device) endpointName() string {
	if name := d.CellName(); name != "" {
		return name
	}
	return d.ConfigName()
}

func (d *Device) endpoint(h host.Host) (host.Endpoint, error) {
	ep, ok := h.Endpoint(d.endpointName())
	if !ok {
		return nil, core.Devicef(d.ConfigName(), "oracle %q not present on host", d.endpointName())
	}
	return ep, nil
}

func (d *Device) StartObservation(h host.Host) (bool, error) {
	_ = h
	return false, nil
}

func (d *Device) Observation(h host.Host) (core.Observation, []snapshot.Reference, []snapshot.Response, error) {
	ep, err := d.endpoint(h)
	if err != nil {
		return nil, nil, nil, err
	}
	msg, has := ep.State()
	if !has {
		// No proposal requested yet; default-fill.
		return Observation{PickPoint: make([]float64, 2)}, nil, nil, nil
	}
	var st state
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "bad oracle payload: %v", err)
		}
	}
	if len(st.PickPoint) != 2 {
		st.PickPoint = make([]float64, 2)
	}
	obs := Observation{
		TS:        msg.TS,
		PickPoint: st.PickPoint,
		PickID:    d.lastPickID,
		Response:  st.Response,
	}
	refs := []snapshot.Reference{{Time: msg.TS, Sequence: msg.Seq}}
	return obs, refs, nil, nil
}

func (d *Device) DoAction(action core.Action, h host.Host) ([]snapshot.Action, error) {
	var act Action
	switch a := action.(type) {
	case Action:
		act = a
	case *Action:
		act = *a
	default:
		return nil, core.Devicef(d.ConfigName(), "oracle action has type %T, want oracle.Action", action)
	}
	if act.Request < 0 || act.Request > 1 {
		return nil, core.Devicef(d.ConfigName(), "invalid oracle request %d (must be 0 or 1)", act.Request)
	}
	if act.Request == 0 {
		return nil, nil
	}

	ep, err := d.endpoint(h)
	if err != nil {
		return nil, err
	}
	pickID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	status, err := ep.SendCommand(ctx, host.Command{
		Method: "pick-point",
		Params: map[string]any{"taskCode": d.cfg.TaskCode, "pickId": pickID},
	})
	if err != nil {
		return nil, core.Devicef(d.ConfigName(), "pick-point request failed: %v", err)
	}
	if status.Error != "" {
		return nil, core.Devicef(d.ConfigName(), "pick-point request rejected: %s", status.Error)
	}
	d.lastPickID = pickID

	return []snapshot.Action{{
		DeviceType:  "oracle",
		DeviceName:  d.endpointName(),
		Synchronous: d.Synchronous(),
		PickID:      pickID,
	}}, nil
}

func (d *Device) Validate(h host.Host) string {
	if _, ok := h.Endpoint(d.endpointName()); !ok {
		return fmt.Sprintf("oracle %q not present on host", d.endpointName())
	}
	return ""
}
