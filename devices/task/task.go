// Package task wraps the session bracketing device: starting and ending
// the logical task the host's logging collaborator groups telemetry
// under. It is stateful across steps and must close any open task on
// reset.
package task

import (
	"sync"

	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/snapshot"
	"github.com/robocell/cellgym/internal/space"
)

// Task actions.
const (
	ActionNone  = 0
	ActionStart = 1
	ActionStop  = 2
)

// Action starts or stops the logical task.
type Action struct {
	Action int
}

// Observation reports whether a task is open.
type Observation struct {
	Active bool
}

func (o Observation) Timestamp() float64 { return 0 }

// Device is the task wrapper.
type Device struct {
	core.Base

	mu     sync.Mutex
	active bool
}

func New(dc config.DeviceConfig) *Device {
	actionSpace := space.Dict{
		"action": space.Discrete{N: 3},
	}
	observationSpace := space.Dict{
		"active": space.MultiBinary{N: 1},
	}
	return &Device{
		Base: core.NewBase(dc.CellName, actionSpace, observationSpace, dc.Synchronous),
	}
}

func (d *Device) StartObservation(h host.Host) (bool, error) {
	_ = h
	return false, nil
}

func (d *Device) Observation(h host.Host) (core.Observation, []snapshot.Reference, []snapshot.Response, error) {
	_ = h
	d.mu.Lock()
	defer d.mu.Unlock()
	return Observation{Active: d.active}, nil, nil, nil
}

func (d *Device) DoAction(action core.Action, h host.Host) ([]snapshot.Action, error) {
	var act Action
	switch a := action.(type) {
	case Action:
		act = a
	case *Action:
		act = *a
	default:
		return nil, core.Devicef(d.ConfigName(), "task action has type %T, want task.Action", action)
	}
	if act.Action < ActionNone || act.Action > ActionStop {
		return nil, core.Devicef(d.ConfigName(), "invalid task action %d (must be 0 - 2)", act.Action)
	}

	d.mu.Lock()
	active := d.active
	d.mu.Unlock()
	params := d.TaskParams()

	switch {
	case act.Action == ActionStart && !active:
		if err := h.StartTask(params); err != nil {
			return nil, core.Devicef(d.ConfigName(), "start task: %v", err)
		}
		d.mu.Lock()
		d.active = true
		d.mu.Unlock()
		return []snapshot.Action{taskRecord(true, params)}, nil
	case act.Action == ActionStop && active:
		if err := h.EndTask(params); err != nil {
			return nil, core.Devicef(d.ConfigName(), "end task: %v", err)
		}
		d.mu.Lock()
		d.active = false
		d.mu.Unlock()
		return []snapshot.Action{taskRecord(false, params)}, nil
	}
	return nil, nil
}

// Reset ends any task left open by the previous episode.
func (d *Device) Reset(h host.Host) ([]snapshot.Action, error) {
	d.mu.Lock()
	active := d.active
	d.mu.Unlock()
	if !active {
		return nil, nil
	}
	params := d.TaskParams()
	if err := h.EndTask(params); err != nil {
		return nil, core.Devicef(d.ConfigName(), "end task on reset: %v", err)
	}
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
	return []snapshot.Action{taskRecord(false, params)}, nil
}

// Validate always passes: the task device is host-side bookkeeping.
func (d *Device) Validate(h host.Host) string {
	_ = h
	return ""
}

func taskRecord(started bool, params map[string]string) snapshot.Action {
	return snapshot.Action{
		DeviceType:  "operator",
		TaskStarted: started,
		TaskParams:  params,
	}
}
