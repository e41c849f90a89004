// Package core defines the device capability contract every cell device
// wrapper implements, plus the shared action/observation vocabulary and
// the SDK's error taxonomy.
package core

import (
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/snapshot"
	"github.com/robocell/cellgym/internal/space"
)

// Action is one device's action payload for a step. Each device package
// defines its own concrete action struct and rejects anything else with a
// DeviceError.
type Action any

// ActionSet maps device config name to that device's action for a step.
type ActionSet map[string]Action

// Observation is one device's contribution to a merged observation.
// Concrete payload types live in the device packages.
type Observation interface {
	// Timestamp is the capture time of the underlying device data, in
	// epoch seconds. Zero means the device has no temporal state.
	Timestamp() float64
}

// ObservationSet is the merged, fully-populated observation for one step
// or reset. After a completed round its key set equals the registry's.
type ObservationSet map[string]Observation

// RewardDone computes the reward and episode-done flag from a dispatched
// action set and the observation that followed it.
type RewardDone func(action ActionSet, obs ObservationSet) (reward float64, done bool)

// Synchronizer arms one-shot update callbacks on behalf of devices during
// a synchronization round. Implemented by the coordinator.
type Synchronizer interface {
	ArmUpdateCallback(configName string, cb host.AddUpdateCallback) error
}

// Device is one named, configured robot sub-system.
type Device interface {
	ConfigName() string
	CellName() string
	Synchronous() bool
	ActionSpace() space.Dict
	ObservationSpace() space.Dict
	ActingCapable() bool

	SetConfigName(name string)
	SetSynchronizer(sync Synchronizer)
	SetTaskParams(params map[string]string)

	// StartObservation arms the device's fresh-data notification for the
	// current round. Returns false if the device has nothing to arm
	// (passive-config devices).
	StartObservation(h host.Host) (bool, error)

	// Observation fetches the device's current best-known state. Fails
	// with a DeviceError if no observation exists and none can be
	// default-filled.
	Observation(h host.Host) (Observation, []snapshot.Reference, []snapshot.Response, error)

	// DoAction validates and dispatches one action. Invalid payloads are
	// DeviceErrors and nothing is sent.
	DoAction(action Action, h host.Host) ([]snapshot.Action, error)

	// Reset is invoked once per environment reset.
	Reset(h host.Host) ([]snapshot.Action, error)

	// ResetWait blocks until device-specific post-reset settling is done.
	ResetWait(h host.Host)

	// Validate returns "" if the device's remote dependency resolves,
	// otherwise a diagnostic collected into the combined startup error.
	Validate(h host.Host) string
}

// EarlyDoner is implemented by devices that can end an episode on their
// own (an arm protective stop, for example). Checked after every round.
type EarlyDoner interface {
	EarlyDone() bool
}

// Base carries the identity and schema fields common to all devices.
// Device packages embed it and implement the operational methods.
type Base struct {
	cellName         string
	configName       string
	synchronous      bool
	actionSpace      space.Dict
	observationSpace space.Dict
	taskParams       map[string]string
	sync             Synchronizer
}

// NewBase builds the embedded base for a device wrapper.
func NewBase(cellName string, actionSpace, observationSpace space.Dict, synchronous bool) Base {
	return Base{
		cellName:         cellName,
		synchronous:      synchronous,
		actionSpace:      actionSpace,
		observationSpace: observationSpace,
	}
}

func (b *Base) ConfigName() string           { return b.configName }
func (b *Base) CellName() string             { return b.cellName }
func (b *Base) Synchronous() bool            { return b.synchronous }
func (b *Base) ActionSpace() space.Dict      { return b.actionSpace }
func (b *Base) ObservationSpace() space.Dict { return b.observationSpace }

// ActingCapable reports whether this device can ever carry an action.
func (b *Base) ActingCapable() bool { return !b.actionSpace.Empty() }

func (b *Base) SetConfigName(name string)       { b.configName = name }
func (b *Base) SetSynchronizer(s Synchronizer)  { b.sync = s }
func (b *Base) SetTaskParams(p map[string]string) { b.taskParams = p }

// TaskParams returns the read-only task context for telemetry.
func (b *Base) TaskParams() map[string]string { return b.taskParams }

// Arm registers a one-shot update callback with the coordinator for this
// device. Devices call it from StartObservation.
func (b *Base) Arm(cb host.AddUpdateCallback) error {
	if b.sync == nil {
		return Internalf("device %q armed with no synchronizer", b.configName)
	}
	return b.sync.ArmUpdateCallback(b.configName, cb)
}

// Reset is a no-op for stateless devices.
func (b *Base) Reset(h host.Host) ([]snapshot.Action, error) {
	_ = h
	return nil, nil
}

// ResetWait is a no-op for devices without post-reset settling.
func (b *Base) ResetWait(h host.Host) {
	_ = h
}
