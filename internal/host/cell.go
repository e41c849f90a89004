package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robocell/cellgym/internal/logging"
	"github.com/robocell/cellgym/internal/snapshot"
)

// Topic layout, mirrored from the host side:
//
//	cell/<id>/o/<device>   device state stream (host -> client)
//	cell/<id>/i/<device>   device commands (client -> host)
//	cell/<id>/r/<device>   command statuses (host -> client)
//	cell/<id>/log/task     task session events (client -> host)
//	cell/<id>/log/snapshot telemetry snapshots (client -> host)
//
// The pseudo device "_ctl" carries cell-level commands (reset, time).
const ctlDevice = "_ctl"

// CellClient is the MQTT implementation of Host.
type CellClient struct {
	cellID string
	conn   *mqttClient

	mu        sync.Mutex
	endpoints map[string]*cellEndpoint
	nextReq   atomic.Int64
}

// Dial connects to the cell's broker.
func Dial(cellID string, cfg MQTTConfig) (*CellClient, error) {
	conn, err := newMQTTClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect cell %q: %w", cellID, err)
	}
	return &CellClient{
		cellID:    cellID,
		conn:      conn,
		endpoints: make(map[string]*cellEndpoint),
	}, nil
}

func (c *CellClient) Endpoint(name string) (Endpoint, bool) {
	ep, err := c.endpoint(name)
	if err != nil {
		logging.Warn("endpoint subscribe failed", "device", name, "error", err)
		return nil, false
	}
	return ep, true
}

func (c *CellClient) endpoint(name string) (*cellEndpoint, error) {
	c.mu.Lock()
	if ep, ok := c.endpoints[name]; ok {
		c.mu.Unlock()
		return ep, nil
	}
	c.mu.Unlock()

	ep := &cellEndpoint{
		name:    name,
		client:  c,
		pending: make(map[int]chan Status),
		async:   make(map[int]func(Status)),
	}
	unsubState, err := c.conn.subscribe(c.topic("o", name), ep.onState)
	if err != nil {
		return nil, err
	}
	unsubResp, err := c.conn.subscribe(c.topic("r", name), ep.onStatus)
	if err != nil {
		unsubState()
		return nil, err
	}
	ep.unsub = func() {
		unsubState()
		unsubResp()
	}

	c.mu.Lock()
	if existing, ok := c.endpoints[name]; ok {
		c.mu.Unlock()
		ep.unsub()
		return existing, nil
	}
	c.endpoints[name] = ep
	c.mu.Unlock()
	return ep, nil
}

func (c *CellClient) Reset(ctx context.Context) error {
	ep, err := c.endpoint(ctlDevice)
	if err != nil {
		return err
	}
	status, err := ep.SendCommand(ctx, Command{Method: "reset"})
	if err != nil {
		return err
	}
	if !status.Done() {
		return fmt.Errorf("cell reset failed: %s", status.Error)
	}
	return nil
}

func (c *CellClient) ServerTime(ctx context.Context) (float64, error) {
	ep, err := c.endpoint(ctlDevice)
	if err != nil {
		return 0, err
	}
	status, err := ep.SendCommand(ctx, Command{Method: "time"})
	if err != nil {
		return 0, err
	}
	return status.TS, nil
}

func (c *CellClient) StartTask(params map[string]string) error {
	return c.publishTaskEvent("start", params)
}

func (c *CellClient) EndTask(params map[string]string) error {
	return c.publishTaskEvent("end", params)
}

func (c *CellClient) publishTaskEvent(event string, params map[string]string) error {
	payload, err := json.Marshal(map[string]any{
		"event":  event,
		"params": params,
	})
	if err != nil {
		return err
	}
	return c.conn.publish(c.topic("log", "task"), payload)
}

func (c *CellClient) SendSnapshot(snap *snapshot.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.conn.publish(c.topic("log", "snapshot"), payload)
}

func (c *CellClient) Close() error {
	c.mu.Lock()
	endpoints := make([]*cellEndpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		endpoints = append(endpoints, ep)
	}
	c.endpoints = make(map[string]*cellEndpoint)
	c.mu.Unlock()

	for _, ep := range endpoints {
		ep.unsub()
	}
	c.conn.close()
	return nil
}

func (c *CellClient) topic(kind, name string) string {
	return fmt.Sprintf("cell/%s/%s/%s", c.cellID, kind, name)
}

func (c *CellClient) requestID() int {
	return int(c.nextReq.Add(1))
}

// cellEndpoint is one device's command/state surface over the shared
// connection.
type cellEndpoint struct {
	name   string
	client *CellClient
	unsub  func()

	mu       sync.Mutex
	last     Message
	hasLast  bool
	watchers []*watcher
	pending  map[int]chan Status
	async    map[int]func(Status)
}

type watcher struct {
	update   UpdateCallback
	finished func()
}

func (ep *cellEndpoint) Name() string { return ep.name }

func (ep *cellEndpoint) State() (Message, bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.last, ep.hasLast
}

func (ep *cellEndpoint) FetchState(ctx context.Context) (Message, error) {
	status, err := ep.SendCommand(ctx, Command{Method: "state"})
	if err != nil {
		return Message{}, err
	}
	if status.Error != "" {
		return Message{}, fmt.Errorf("device %q state fetch: %s", ep.name, status.Error)
	}
	// The host publishes the state on the o/ topic before acking, so the
	// cache observes it by the time the status lands.
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if !ep.hasLast {
		return Message{}, fmt.Errorf("device %q produced no state", ep.name)
	}
	return ep.last, nil
}

func (ep *cellEndpoint) SendCommand(ctx context.Context, cmd Command) (Status, error) {
	cmd.RequestID = ep.client.requestID()
	ch := make(chan Status, 1)
	ep.mu.Lock()
	ep.pending[cmd.RequestID] = ch
	ep.mu.Unlock()
	defer func() {
		ep.mu.Lock()
		delete(ep.pending, cmd.RequestID)
		ep.mu.Unlock()
	}()

	if err := ep.publish(cmd); err != nil {
		return Status{}, err
	}
	select {
	case status := <-ch:
		return status, nil
	case <-ctx.Done():
		return Status{}, fmt.Errorf("device %q command %q: %w", ep.name, cmd.Method, ctx.Err())
	}
}

func (ep *cellEndpoint) AsyncCommand(cmd Command, finished func(Status)) error {
	cmd.RequestID = ep.client.requestID()
	if finished != nil {
		ep.mu.Lock()
		ep.async[cmd.RequestID] = finished
		ep.mu.Unlock()
	}
	return ep.publish(cmd)
}

func (ep *cellEndpoint) AddUpdateCallback(update UpdateCallback, finished func()) func() {
	w := &watcher{update: update, finished: finished}
	ep.mu.Lock()
	ep.watchers = append(ep.watchers, w)
	ep.mu.Unlock()

	return func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		ep.removeWatcher(w)
	}
}

// removeWatcher assumes the lock is held.
func (ep *cellEndpoint) removeWatcher(w *watcher) {
	for i, other := range ep.watchers {
		if other == w {
			ep.watchers = append(ep.watchers[:i], ep.watchers[i+1:]...)
			return
		}
	}
}

func (ep *cellEndpoint) onState(payload []byte) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		logging.Warn("bad state payload", "device", ep.name, "error", err)
		return
	}
	if msg.Device == "" {
		msg.Device = ep.name
	}

	ep.mu.Lock()
	ep.last = msg
	ep.hasLast = true
	fulfilled := make([]*watcher, 0, len(ep.watchers))
	for _, w := range ep.watchers {
		if w.update == nil || w.update(msg) {
			fulfilled = append(fulfilled, w)
		}
	}
	for _, w := range fulfilled {
		ep.removeWatcher(w)
	}
	ep.mu.Unlock()

	for _, w := range fulfilled {
		if w.finished != nil {
			w.finished()
		}
	}
}

func (ep *cellEndpoint) onStatus(payload []byte) {
	var status Status
	if err := json.Unmarshal(payload, &status); err != nil {
		logging.Warn("bad status payload", "device", ep.name, "error", err)
		return
	}

	ep.mu.Lock()
	ch, sync := ep.pending[status.RequestID]
	cb, async := ep.async[status.RequestID]
	terminal := status.Done() || status.Error != ""
	if async && terminal {
		delete(ep.async, status.RequestID)
	}
	ep.mu.Unlock()

	if sync {
		select {
		case ch <- status:
		default:
		}
	}
	if async && terminal {
		cb(status)
	}
}

func (ep *cellEndpoint) publish(cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return ep.client.conn.publish(ep.client.topic("i", ep.name), payload)
}
