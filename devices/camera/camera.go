// Package camera wraps a color camera endpoint. The camera is the
// archetypal passive device: it streams frames on its own cadence and a
// step only reads the latest one, subject to the coordinator's staleness
// re-trigger so a frame is never older than the step's actions.
package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/snapshot"
	"github.com/robocell/cellgym/internal/space"
)

const fetchTimeout = 10 * time.Second

// Observation is one frame reference. Pixel data stays on the host; the
// FrameID resolves it there.
type Observation struct {
	TS      float64
	Width   int
	Height  int
	Seq     int64
	FrameID string
}

func (o Observation) Timestamp() float64 { return o.TS }

type state struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	FrameID string `json:"frameId"`
}

// Device is the color camera wrapper.
type Device struct {
	core.Base
	cfg    config.CameraConfig
	frames prometheus.Counter
}

func New(dc config.DeviceConfig) *Device {
	cfg := config.CameraConfig{}
	if dc.Camera != nil {
		cfg = *dc.Camera
	}
	observationSpace := space.Dict{
		"ts":    space.Box{High: math.MaxFloat64},
		"color": space.Box{High: 255, Shape: []int{cfg.Height, cfg.Width, 3}},
	}
	return &Device{
		Base: core.NewBase(dc.CellName, space.Dict{}, observationSpace, dc.Synchronous),
		cfg:  cfg,
	}
}

// SetConfigName rebuilds the frame counter under the registered name.
func (d *Device) SetConfigName(name string) {
	d.Base.SetConfigName(name)
	d.frames = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "cellgym_camera_frames_total",
		Help:        "Camera frames served in observations",
		ConstLabels: prometheus.Labels{"device": name},
	})
}

func (d *Device) Collectors() []prometheus.Collector {
	return []prometheus.Collector{d.frames}
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
		return nil, core.Devicef(d.ConfigName(), "camera %q not present on host", d.endpointName())
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
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		msg, err = ep.FetchState(ctx)
		if err != nil {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "frame fetch failed: %v", err)
		}
	} else {
		var ok bool
		msg, ok = ep.State()
		if !ok {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "no camera frame received yet")
		}
	}

	var st state
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			return nil, nil, nil, core.Devicef(d.ConfigName(), "bad frame payload: %v", err)
		}
	}
	d.frames.Inc()

	obs := Observation{
		TS:      msg.TS,
		Width:   st.Width,
		Height:  st.Height,
		Seq:     msg.Seq,
		FrameID: st.FrameID,
	}
	refs := []snapshot.Reference{{Time: msg.TS, Sequence: msg.Seq}}
	return obs, refs, nil, nil
}

// DoAction rejects everything: the camera is passive.
func (d *Device) DoAction(action core.Action, h host.Host) ([]snapshot.Action, error) {
	_ = h
	return nil, core.Devicef(d.ConfigName(), "camera does not accept actions (got %T)", action)
}

func (d *Device) Validate(h host.Host) string {
	if _, ok := h.Endpoint(d.endpointName()); !ok {
		return fmt.Sprintf("camera %q not present on host", d.endpointName())
	}
	return ""
}
