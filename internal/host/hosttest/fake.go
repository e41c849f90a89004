// Package hosttest provides a scripted in-memory Host for package tests:
// tests publish device messages by hand and inspect the commands the SDK
// dispatched.
package hosttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/snapshot"
)

// Host is a fake robot-cell host.
type Host struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint

	Resets    int
	Time      float64
	Tasks     []TaskEvent
	Snapshots []*snapshot.Snapshot
	Closed    bool
}

// TaskEvent records one StartTask/EndTask call.
type TaskEvent struct {
	Event  string
	Params map[string]string
}

func New() *Host {
	return &Host{endpoints: make(map[string]*Endpoint)}
}

// AddEndpoint declares a device on the fake host and returns its endpoint
// for scripting.
func (h *Host) AddEndpoint(name string) *Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep := &Endpoint{name: name}
	h.endpoints[name] = ep
	return ep
}

func (h *Host) Endpoint(name string) (host.Endpoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep, ok := h.endpoints[name]
	if !ok {
		return nil, false
	}
	return ep, true
}

func (h *Host) Reset(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Resets++
	return nil
}

func (h *Host) ServerTime(_ context.Context) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Time, nil
}

func (h *Host) StartTask(params map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Tasks = append(h.Tasks, TaskEvent{Event: "start", Params: params})
	return nil
}

func (h *Host) EndTask(params map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Tasks = append(h.Tasks, TaskEvent{Event: "end", Params: params})
	return nil
}

func (h *Host) SendSnapshot(snap *snapshot.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Snapshots = append(h.Snapshots, snap)
	return nil
}

func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Closed = true
	return nil
}

// Endpoint is a scriptable device endpoint.
type Endpoint struct {
	name string

	mu       sync.Mutex
	last     host.Message
	hasLast  bool
	watchers []*watcher
	commands []host.Command

	// StatusFunc, when set, produces the status for SendCommand and
	// AsyncCommand. Defaults to {"done"}.
	StatusFunc func(cmd host.Command) host.Status

	// OnCommand, when set, runs after a command is recorded. Tests use it
	// to publish follow-up state, simulating the physical operation.
	OnCommand func(cmd host.Command)
}

type watcher struct {
	update   host.UpdateCallback
	finished func()
}

func (ep *Endpoint) Name() string { return ep.name }

// Publish delivers a state message exactly as the transport would:
// updating the cache and firing any armed one-shot callbacks.
func (ep *Endpoint) Publish(msg host.Message) {
	if msg.Device == "" {
		msg.Device = ep.name
	}
	ep.mu.Lock()
	ep.last = msg
	ep.hasLast = true
	fulfilled := ep.watchers
	ep.watchers = nil
	remaining := fulfilled[:0]
	done := make([]*watcher, 0, len(fulfilled))
	for _, w := range fulfilled {
		if w.update == nil || w.update(msg) {
			done = append(done, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	ep.watchers = remaining
	ep.mu.Unlock()

	for _, w := range done {
		if w.finished != nil {
			w.finished()
		}
	}
}

func (ep *Endpoint) State() (host.Message, bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.last, ep.hasLast
}

func (ep *Endpoint) FetchState(ctx context.Context) (host.Message, error) {
	_ = ctx
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if !ep.hasLast {
		return host.Message{}, fmt.Errorf("device %q produced no state", ep.name)
	}
	return ep.last, nil
}

func (ep *Endpoint) SendCommand(ctx context.Context, cmd host.Command) (host.Status, error) {
	_ = ctx
	ep.mu.Lock()
	ep.commands = append(ep.commands, cmd)
	statusFunc := ep.StatusFunc
	onCommand := ep.OnCommand
	ep.mu.Unlock()

	if onCommand != nil {
		onCommand(cmd)
	}
	if statusFunc != nil {
		return statusFunc(cmd), nil
	}
	return host.Status{Code: "done"}, nil
}

func (ep *Endpoint) AsyncCommand(cmd host.Command, finished func(host.Status)) error {
	ep.mu.Lock()
	ep.commands = append(ep.commands, cmd)
	statusFunc := ep.StatusFunc
	onCommand := ep.OnCommand
	ep.mu.Unlock()

	if onCommand != nil {
		onCommand(cmd)
	}
	status := host.Status{Code: "done"}
	if statusFunc != nil {
		status = statusFunc(cmd)
	}
	if finished != nil {
		finished(status)
	}
	return nil
}

func (ep *Endpoint) AddUpdateCallback(update host.UpdateCallback, finished func()) func() {
	w := &watcher{update: update, finished: finished}
	ep.mu.Lock()
	ep.watchers = append(ep.watchers, w)
	ep.mu.Unlock()

	return func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		for i, other := range ep.watchers {
			if other == w {
				ep.watchers = append(ep.watchers[:i], ep.watchers[i+1:]...)
				return
			}
		}
	}
}

// Commands returns a copy of every command dispatched to this endpoint.
func (ep *Endpoint) Commands() []host.Command {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	out := make([]host.Command, len(ep.commands))
	copy(out, ep.commands)
	return out
}

// Armed reports how many one-shot callbacks are currently registered.
func (ep *Endpoint) Armed() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.watchers)
}
