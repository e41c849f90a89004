// Package gymenv is the agent-facing environment facade. It owns the
// device registry, the synchronization coordinator, and the telemetry
// stream, and exposes the reset/step/close loop an agent drives.
package gymenv

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/robocell/cellgym/internal/blob"
	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/devices"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/logging"
	"github.com/robocell/cellgym/internal/obsync"
	"github.com/robocell/cellgym/internal/snapshot"
	"github.com/robocell/cellgym/internal/space"
)

// Result is what an agent gets back from Reset and Step.
type Result struct {
	Observation core.ObservationSet
	Reward      float64
	Done        bool
}

// Env is one live robot-cell environment session.
type Env struct {
	cfg      *config.EnvConfig
	host     host.Host
	registry map[string]core.Device
	coord    *obsync.Coordinator
	reward   core.RewardDone
	archive  blob.Store
	metrics  *obsync.Metrics

	runID     string
	episodeID int
	stepID    int
	closed    bool
}

// Option customizes environment construction.
type Option func(*Env)

// WithRewardDone installs the reward computation invoked after every
// step's observation round. The default yields zero reward, never done.
func WithRewardDone(fn core.RewardDone) Option {
	return func(e *Env) { e.reward = fn }
}

// WithArchive mirrors every snapshot to the given store.
func WithArchive(store blob.Store) Option {
	return func(e *Env) { e.archive = store }
}

// New builds the environment over an already-connected host: registry
// construction, coordinator wiring, and the combined device validation
// pass. All configuration problems surface together in one error.
func New(cfg *config.EnvConfig, h host.Host, opts ...Option) (*Env, error) {
	registry, err := devices.Build(devices.Entries(cfg), cfg.TaskParams)
	if err != nil {
		return nil, err
	}
	if err := devices.Validate(h, registry); err != nil {
		return nil, err
	}

	metrics := obsync.NewMetrics()
	timeout := time.Duration(cfg.TimeoutSec * float64(time.Second))
	coord := obsync.New(h, timeout, metrics)
	for _, d := range registry {
		coord.Register(d)
	}

	e := &Env{
		cfg:      cfg,
		host:     h,
		registry: registry,
		coord:    coord,
		metrics:  metrics,
		reward:   func(core.ActionSet, core.ObservationSet) (float64, bool) { return 0, false },
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(e)
	}
	logging.Info("environment ready",
		"runId", e.runID, "cellId", cfg.CellID, "devices", len(registry))
	return e, nil
}

// RunID identifies this session in the telemetry stream.
func (e *Env) RunID() string { return e.runID }

// ActionSpace returns the per-device action schema for every device that
// can act.
func (e *Env) ActionSpace() map[string]space.Dict {
	out := make(map[string]space.Dict)
	for name, d := range e.registry {
		if d.ActingCapable() {
			out[name] = d.ActionSpace()
		}
	}
	return out
}

// ObservationSpace returns the per-device observation schema.
func (e *Env) ObservationSpace() map[string]space.Dict {
	out := make(map[string]space.Dict)
	for name, d := range e.registry {
		out[name] = d.ObservationSpace()
	}
	return out
}

// Collectors exposes every metric the environment and its devices carry.
func (e *Env) Collectors() []prometheus.Collector {
	out := e.metrics.Collectors()
	out = append(out, devices.Collectors(e.registry)...)
	return out
}

// Reset starts a new episode: per-device resets, the host-side cell
// reset, settle waits, then one full observation round. The returned
// reward is always zero and done always false.
func (e *Env) Reset(ctx context.Context) (*Result, error) {
	if e.closed {
		return nil, core.Internalf("environment is closed")
	}

	var actions []snapshot.Action
	for _, name := range e.deviceNames() {
		acts, err := e.registry[name].Reset(e.host)
		if err != nil {
			return nil, err
		}
		actions = append(actions, acts...)
	}
	if err := e.host.Reset(ctx); err != nil {
		return nil, core.Devicef("", "cell reset failed: %v", err)
	}
	for _, name := range e.deviceNames() {
		e.registry[name].ResetWait(e.host)
	}

	observations, latestTS, refs, resps, err := e.round(ctx, nil)
	if err != nil {
		return nil, err
	}

	e.episodeID++
	e.stepID = 0
	e.emit(ctx, &snapshot.Snapshot{
		RunID:      e.runID,
		AgentID:    e.cfg.AgentID,
		CellID:     e.cfg.CellID,
		EpisodeID:  e.episodeID,
		StepID:     e.stepID,
		ServerTime: latestTS,
		Actions:    actions,
		References: refs,
		Responses:  resps,
	})
	logging.Info("episode reset", "runId", e.runID, "episodeId", e.episodeID)
	return &Result{Observation: observations}, nil
}

// Step dispatches the action set, runs the synchronization round, and
// computes reward/done. Unknown action keys are DeviceErrors and nothing
// is dispatched for them.
func (e *Env) Step(ctx context.Context, actionSet core.ActionSet) (*Result, error) {
	if e.closed {
		return nil, core.Internalf("environment is closed")
	}

	names := make([]string, 0, len(actionSet))
	for name := range actionSet {
		d, ok := e.registry[name]
		if !ok {
			return nil, core.Devicef(name, "action for unknown device")
		}
		if !d.ActingCapable() {
			return nil, core.Devicef(name, "device does not accept actions")
		}
		names = append(names, name)
	}
	sort.Strings(names)

	acted := make(map[string]struct{}, len(names))
	var actions []snapshot.Action
	for _, name := range names {
		acts, err := e.registry[name].DoAction(actionSet[name], e.host)
		if err != nil {
			return nil, err
		}
		if len(acts) > 0 {
			acted[name] = struct{}{}
			actions = append(actions, acts...)
		}
	}

	observations, latestTS, refs, resps, err := e.round(ctx, acted)
	if err != nil {
		return nil, err
	}

	reward, done := e.reward(actionSet, observations)
	for _, d := range e.registry {
		if ed, ok := d.(core.EarlyDoner); ok && ed.EarlyDone() {
			done = true
		}
	}

	e.stepID++
	e.emit(ctx, &snapshot.Snapshot{
		RunID:      e.runID,
		AgentID:    e.cfg.AgentID,
		CellID:     e.cfg.CellID,
		EpisodeID:  e.episodeID,
		StepID:     e.stepID,
		Reward:     reward,
		Done:       done,
		ServerTime: latestTS,
		Actions:    actions,
		References: refs,
		Responses:  resps,
	})
	return &Result{Observation: observations, Reward: reward, Done: done}, nil
}

// Observe runs one synchronization round without dispatching actions.
func (e *Env) Observe(ctx context.Context) (core.ObservationSet, error) {
	if e.closed {
		return nil, core.Internalf("environment is closed")
	}
	observations, _, _, _, err := e.round(ctx, nil)
	return observations, err
}

// round runs one full observation round and fills pseudo-device times.
func (e *Env) round(ctx context.Context, acted map[string]struct{}) (
	core.ObservationSet, float64, []snapshot.Reference, []snapshot.Response, error,
) {
	if err := e.coord.StartObservations(acted); err != nil {
		return nil, 0, nil, nil, err
	}
	observations := make(core.ObservationSet, len(e.registry))
	latestTS, refs, resps, err := e.coord.SynchronizeObservations(ctx, observations)
	if err != nil {
		return nil, 0, nil, nil, err
	}

	serverTS, err := e.host.ServerTime(ctx)
	if err != nil {
		logging.Warn("server time unavailable", "error", err)
		serverTS = 0
	}
	for name, d := range e.registry {
		if tf, ok := d.(core.TimeFiller); ok {
			observations[name] = tf.FillTimes(latestTS, serverTS)
		}
	}
	return observations, latestTS, refs, resps, nil
}

// emit delivers one snapshot to the host log stream and, when
// configured, the object-storage archive. Both paths are best-effort.
func (e *Env) emit(ctx context.Context, snap *snapshot.Snapshot) {
	if err := e.host.SendSnapshot(snap); err != nil {
		logging.Warn("snapshot publish failed", "error", err, "stepId", snap.StepID)
	}
	if e.archive != nil {
		if err := e.archive.Save(ctx, snap); err != nil {
			logging.Warn("snapshot archive failed", "error", err, "stepId", snap.StepID)
		}
	}
}

// Close ends any open task, emits a final snapshot stamped with host
// time, and releases the host connection. Idempotent.
func (e *Env) Close(ctx context.Context) error {
	if e.closed {
		return nil
	}
	e.closed = true

	for _, name := range e.deviceNames() {
		if _, err := e.registry[name].Reset(e.host); err != nil {
			logging.Warn("device close reset failed", "device", name, "error", err)
		}
	}

	serverTS, err := e.host.ServerTime(ctx)
	if err != nil {
		logging.Warn("server time unavailable at close", "error", err)
	}
	e.emit(ctx, &snapshot.Snapshot{
		RunID:      e.runID,
		AgentID:    e.cfg.AgentID,
		CellID:     e.cfg.CellID,
		EpisodeID:  e.episodeID,
		StepID:     e.stepID,
		Done:       true,
		ServerTime: serverTS,
	})
	logging.Info("environment closed", "runId", e.runID, "episodes", e.episodeID)
	return e.host.Close()
}

func (e *Env) deviceNames() []string {
	names := make([]string, 0, len(e.registry))
	for name := range e.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
