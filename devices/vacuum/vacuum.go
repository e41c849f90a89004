// Package vacuum wraps a vacuum gripper endpoint: off/vacuum/blowoff
// commands and a polled state with optional object-detect.
package vacuum

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/snapshot"
	"github.com/robocell/cellgym/internal/space"
)

// Vacuum states.
const (
	StateOff     = 0
	StateVacuum  = 1
	StateBlowoff = 2
)

const commandTimeout = 10 * time.Second

// Action requests one vacuum state.
type Action struct {
	State int
}

// Observation is the vacuum's contribution to a merged observation.
type Observation struct {
	TS     float64
	State  int
	Detect int
}

func (o Observation) Timestamp() float64 { return o.TS }

type state struct {
	State  int `json:"state"`
	Detect int `json:"detect,omitempty"`
}

// Device is the vacuum wrapper.
type Device struct {
	core.Base
	cfg      config.VacuumConfig
	commands prometheus.Counter

	mu           sync.Mutex
	lastState    int
	lastSendSeq  int
	lastSendSent *int
}

func New(dc config.DeviceConfig) *Device {
	cfg := config.VacuumConfig{}
	if dc.Vacuum != nil {
		cfg = *dc.Vacuum
	}
	actionSpace := space.Dict{
		"state": space.Discrete{N: 3},
	}
	observationSpace := space.Dict{
		"ts":    space.Box{High: math.MaxFloat64},
		"state": space.Discrete{N: 3},
	}
	if cfg.DetectEnable {
		observationSpace["vacuum_detect"] = space.MultiBinary{N: 1}
	}
	return &Device{
		Base:      core.NewBase(dc.CellName, actionSpace, observationSpace, dc.Synchronous),
		cfg:       cfg,
		lastState: -1,
	}
}

// SetConfigName rebuilds the command counter under the registered name.
func (d *Device) SetConfigName(name string) {
	d.Base.SetConfigName(name)
	d.commands = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "cellgym_vacuum_commands_total",
		Help:        "Vacuum state commands dispatched",
		ConstLabels: prometheus.Labels{"device": name},
	})
}

func (d *Device) Collectors() []prometheus.Collector {
	return []prometheus.Collector{d.commands}
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
		return nil, core.Devicef(d.ConfigName(), "vacuum %q not present on host", d.endpointName())
	}
	return ep, nil
}

// StartObservation arms nothing: vacuum state is read at merge time.
func (d *Device) StartObservation(h host.Host) (bool, error) {
	_ = h
	return false, nil
}

func (d *Device) Observation(h host.Host) (core.Observation, []snapshot.Reference, []snapshot.Response, error) {
	ep, err := d.endpoint(h)
	if err != nil {
		return nil, nil, nil, err
	}

	var msg host.Message
	if d.Synchronous() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		msg, err = ep.FetchState(ctx)
		if err != nil {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "state fetch failed: %v", err)
		}
	} else {
		var ok bool
		msg, ok = ep.State()
		if !ok {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "no vacuum state received yet")
		}
	}

	var st state
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "bad vacuum payload: %v", err)
		}
	}
	d.mu.Lock()
	d.lastState = st.State
	d.mu.Unlock()

	obs := Observation{TS: msg.TS, State: st.State}
	if d.cfg.DetectEnable {
		obs.Detect = st.Detect
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
		return nil, core.Devicef(d.ConfigName(), "vacuum action has type %T, want vacuum.Action", action)
	}
	if act.State < StateOff || act.State > StateBlowoff {
		return nil, core.Devicef(d.ConfigName(), "invalid vacuum state request %d (must be 0 - 2)", act.State)
	}

	record := snapshot.Action{
		DeviceType:  "robot",
		DeviceName:  d.endpointName(),
		Synchronous: d.Synchronous(),
		State:       act.State,
	}

	d.mu.Lock()
	if act.State == d.lastState {
		// Already in the requested state, nothing to send.
		d.mu.Unlock()
		return []snapshot.Action{record}, nil
	}
	if d.lastSendSent != nil && *d.lastSendSent == act.State && !d.Synchronous() {
		// Same request already in flight.
		d.mu.Unlock()
		return []snapshot.Action{record}, nil
	}
	d.lastSendSeq++
	seq := d.lastSendSeq
	sent := act.State
	d.lastSendSent = &sent
	d.mu.Unlock()

	ep, err := d.endpoint(h)
	if err != nil {
		return nil, err
	}
	cmd := host.Command{Method: methodFor(act.State)}
	completed := func() {
		d.mu.Lock()
		if d.lastSendSeq == seq {
			d.lastSendSent = nil
		}
		d.mu.Unlock()
	}

	if d.Synchronous() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		status, err := ep.SendCommand(ctx, cmd)
		completed()
		if err != nil {
			return nil, core.Devicef(d.ConfigName(), "vacuum command failed: %v", err)
		}
		if status.Error != "" {
			return nil, core.Devicef(d.ConfigName(), "vacuum command rejected: %s", status.Error)
		}
	} else {
		if err := ep.AsyncCommand(cmd, func(host.Status) { completed() }); err != nil {
			return nil, core.Devicef(d.ConfigName(), "vacuum command failed: %v", err)
		}
	}
	d.commands.Inc()
	return []snapshot.Action{record}, nil
}

func (d *Device) Validate(h host.Host) string {
	if _, ok := h.Endpoint(d.endpointName()); !ok {
		return fmt.Sprintf("vacuum %q not present on host", d.endpointName())
	}
	return ""
}

func methodFor(state int) string {
	switch state {
	case StateVacuum:
		return "on"
	case StateBlowoff:
		return "blowoff"
	default:
		return "off"
	}
}
