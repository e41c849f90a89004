// Package arm wraps a robot arm endpoint: joint/pose move commands and
// joint-state observations. The arm is the usual synchronous device in a
// cell; its moves must settle before a step's observation is valid.
package arm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/snapshot"
	"github.com/robocell/cellgym/internal/space"
)

// Arm commands.
const (
	CommandNone   = 0
	CommandJoints = 1
	CommandPose   = 2
	CommandStop   = 3
)

const defaultMoveTimeout = 30 * time.Second

// Action is the arm's per-step action payload.
type Action struct {
	Command     int
	JointAngles []float64
	Pose        []float64
	CID         int
}

// Observation is the arm's contribution to a merged observation.
type Observation struct {
	TS          float64
	JointAngles []float64
	Pose        []float64
	Status      string
}

func (o Observation) Timestamp() float64 { return o.TS }

// state is the host-side arm payload.
type state struct {
	JointAngles []float64 `json:"jointAngles"`
	Pose        []float64 `json:"pose"`
	Status      string    `json:"status,omitempty"`
}

// Device is the arm wrapper.
type Device struct {
	core.Base
	cfg         config.ArmConfig
	metrics     *metrics
	moveTimeout time.Duration

	lastStatus string
	lastCID    int
}

// New builds an arm device from its configuration entry.
func New(dc config.DeviceConfig) *Device {
	cfg := config.ArmConfig{}
	if dc.Arm != nil {
		cfg = *dc.Arm
	}
	if cfg.Joints <= 0 {
		cfg.Joints = config.DefaultArmJoints
	}
	moveTimeout := defaultMoveTimeout
	if cfg.TimeoutSec > 0 {
		moveTimeout = time.Duration(cfg.TimeoutSec * float64(time.Second))
	}

	actionSpace := space.Dict{
		"command":      space.Discrete{N: 4},
		"joint_angles": space.Box{Low: -math.Pi, High: math.Pi, Shape: []int{cfg.Joints}},
		"pose":         space.Box{Low: math.Inf(-1), High: math.Inf(1), Shape: []int{6}},
	}
	observationSpace := space.Dict{
		"ts":           space.Box{High: math.MaxFloat64},
		"joint_angles": space.Box{Low: -math.Pi, High: math.Pi, Shape: []int{cfg.Joints}},
		"pose":         space.Box{Low: math.Inf(-1), High: math.Inf(1), Shape: []int{6}},
	}

	d := &Device{
		Base:        core.NewBase(dc.CellName, actionSpace, observationSpace, dc.Synchronous),
		cfg:         cfg,
		metrics:     newMetrics(""),
		moveTimeout: moveTimeout,
	}
	return d
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
		return nil, core.Devicef(d.ConfigName(), "arm %q not present on host", d.endpointName())
	}
	return ep, nil
}

func (d *Device) StartObservation(h host.Host) (bool, error) {
	ep, err := d.endpoint(h)
	if err != nil {
		return false, err
	}
	if err := d.Arm(ep.AddUpdateCallback); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Device) Observation(h host.Host) (core.Observation, []snapshot.Reference, []snapshot.Response, error) {
	ep, err := d.endpoint(h)
	if err != nil {
		return nil, nil, nil, err
	}

	var msg host.Message
	if d.Synchronous() {
		ctx, cancel := context.WithTimeout(context.Background(), d.moveTimeout)
		defer cancel()
		msg, err = ep.FetchState(ctx)
		if err != nil {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "state fetch failed: %v", err)
		}
	} else {
		var ok bool
		msg, ok = ep.State()
		if !ok {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "no arm state received yet")
		}
	}

	var st state
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "bad arm state payload: %v", err)
		}
	}
	d.lastStatus = st.Status
	d.metrics.observations.Inc()

	obs := Observation{
		TS:          msg.TS,
		JointAngles: padded(st.JointAngles, d.cfg.Joints),
		Pose:        padded(st.Pose, 6),
		Status:      st.Status,
	}
	refs := []snapshot.Reference{{Time: msg.TS, Sequence: msg.Seq}}
	resps := []snapshot.Response{{
		CID:        d.lastCID,
		DeviceType: "robot",
		ConfigName: d.ConfigName(),
		Status:     st.Status,
		Reference:  &snapshot.Reference{Time: msg.TS, Sequence: msg.Seq},
	}}
	return obs, refs, resps, nil
}

func (d *Device) DoAction(action core.Action, h host.Host) ([]snapshot.Action, error) {
	act, err := d.actionPayload(action)
	if err != nil {
		return nil, err
	}
	if act.Command == CommandNone {
		return nil, nil
	}

	ep, err := d.endpoint(h)
	if err != nil {
		return nil, err
	}
	cmd, err := d.hostCommand(act)
	if err != nil {
		return nil, err
	}

	if d.Synchronous() {
		ctx, cancel := context.WithTimeout(context.Background(), d.moveTimeout)
		defer cancel()
		status, err := ep.SendCommand(ctx, cmd)
		if err != nil {
			return nil, core.Devicef(d.ConfigName(), "arm command failed: %v", err)
		}
		if status.Error != "" {
			return nil, core.Devicef(d.ConfigName(), "arm command rejected: %s", status.Error)
		}
	} else {
		if err := ep.AsyncCommand(cmd, nil); err != nil {
			return nil, core.Devicef(d.ConfigName(), "arm command failed: %v", err)
		}
	}
	d.metrics.commands.WithLabelValues(commandName(act.Command)).Inc()
	d.lastCID = act.CID

	return []snapshot.Action{{
		DeviceType:  "robot",
		DeviceName:  d.endpointName(),
		Synchronous: d.Synchronous(),
		Command:     act.Command,
		CID:         act.CID,
		JointAngles: act.JointAngles,
		Pose:        act.Pose,
		Timeout:     d.moveTimeout.Seconds(),
	}}, nil
}

// actionPayload validates the action's shape and field ranges. Nothing is
// dispatched when validation fails.
func (d *Device) actionPayload(action core.Action) (Action, error) {
	var act Action
	switch a := action.(type) {
	case Action:
		act = a
	case *Action:
		act = *a
	default:
		return Action{}, core.Devicef(d.ConfigName(), "arm action has type %T, want arm.Action", action)
	}
	if act.Command < CommandNone || act.Command > CommandStop {
		return Action{}, core.Devicef(d.ConfigName(),
			"invalid arm command %d (must be 0 - 3)", act.Command)
	}
	if act.Command == CommandJoints && len(act.JointAngles) != d.cfg.Joints {
		return Action{}, core.Devicef(d.ConfigName(),
			"joint move needs %d joint angles, got %d", d.cfg.Joints, len(act.JointAngles))
	}
	if act.Command == CommandPose && len(act.Pose) != 6 {
		return Action{}, core.Devicef(d.ConfigName(),
			"pose move needs 6 pose values, got %d", len(act.Pose))
	}
	return act, nil
}

func (d *Device) hostCommand(act Action) (host.Command, error) {
	switch act.Command {
	case CommandJoints:
		return host.Command{Method: "move-joints", Params: map[string]any{
			"jointAngles": act.JointAngles,
			"cid":         act.CID,
		}}, nil
	case CommandPose:
		return host.Command{Method: "move-pose", Params: map[string]any{
			"pose": act.Pose,
			"cid":  act.CID,
		}}, nil
	case CommandStop:
		return host.Command{Method: "stop", Params: map[string]any{"cid": act.CID}}, nil
	default:
		return host.Command{}, core.Internalf("unreachable arm command %d", act.Command)
	}
}

// EarlyDone ends the episode when the arm reports a protective or
// emergency stop.
func (d *Device) EarlyDone() bool {
	return d.lastStatus == "protective-stop" || d.lastStatus == "emergency-stop"
}

func (d *Device) Validate(h host.Host) string {
	if _, ok := h.Endpoint(d.endpointName()); !ok {
		return fmt.Sprintf("arm %q not present on host", d.endpointName())
	}
	return ""
}

func padded(values []float64, n int) []float64 {
	if len(values) == n {
		return values
	}
	out := make([]float64, n)
	copy(out, values)
	return out
}

func commandName(command int) string {
	switch command {
	case CommandJoints:
		return "joints"
	case CommandPose:
		return "pose"
	case CommandStop:
		return "stop"
	default:
		return "none"
	}
}
