// Package obsync drives the per-step observation synchronization round:
// arming device callbacks, waiting for fresh data, re-triggering stale
// passive devices, and merging the results into one atomic observation.
package obsync

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/logging"
	"github.com/robocell/cellgym/internal/snapshot"
)

// DefaultTimeout bounds one whole synchronization round.
const DefaultTimeout = 15 * time.Second

// Coordinator owns the round state: the armed stop-function table, the
// pending-action set, and the ready channel device fulfillments arrive on.
// One Coordinator serves one environment; rounds never overlap.
type Coordinator struct {
	host    host.Host
	timeout time.Duration
	metrics *Metrics

	mu             sync.Mutex
	devices        map[string]core.Device
	callbacks      map[string]host.AddUpdateCallback
	stops          map[string]func()
	pendingActions map[string]struct{}
	acted          map[string]struct{}
	ready          chan string
}

// New builds a coordinator over the given host. A non-positive timeout
// selects DefaultTimeout. metrics may be nil.
func New(h host.Host, timeout time.Duration, metrics *Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		host:           h,
		timeout:        timeout,
		metrics:        metrics,
		devices:        make(map[string]core.Device),
		callbacks:      make(map[string]host.AddUpdateCallback),
		stops:          make(map[string]func()),
		pendingActions: make(map[string]struct{}),
	}
}

// Register adds a device for synchronized observations and hands it this
// coordinator as its synchronizer.
func (c *Coordinator) Register(d core.Device) {
	d.SetSynchronizer(c)
	c.mu.Lock()
	c.devices[d.ConfigName()] = d
	c.mu.Unlock()
}

// Devices returns the registered device names, sorted.
func (c *Coordinator) Devices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArmUpdateCallback implements core.Synchronizer. The first arming of a
// device in a round records its callback; every arming registers a fresh
// one-shot stop.
func (c *Coordinator) ArmUpdateCallback(name string, cb host.AddUpdateCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.callbacks[name]; !ok {
		c.callbacks[name] = cb
	}
	return c.registerStopLocked(name)
}

// registerStopLocked arms one device. Lock must be held.
func (c *Coordinator) registerStopLocked(name string) error {
	cb, ok := c.callbacks[name]
	if !ok {
		return core.Internalf("no update callback found for %q", name)
	}
	if _, dup := c.stops[name]; dup {
		return core.Internalf("duplicate callback for %q", name)
	}

	stop := cb(func(host.Message) bool { return true }, func() { c.push(name) })
	c.stops[name] = stop
	if _, ok := c.acted[name]; ok {
		c.pendingActions[name] = struct{}{}
	}
	return nil
}

// push delivers a fulfillment token. The channel is sized so an armed
// device's token always fits; a nil channel means the round was already
// torn down and the token is dropped.
func (c *Coordinator) push(name string) {
	c.mu.Lock()
	ch := c.ready
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- name:
	default:
		logging.Warn("ready channel full, dropping fulfillment", "device", name)
	}
}

// StartObservations begins a round: every registered device gets the
// chance to arm its fresh-data notification. acted names the devices an
// action was dispatched to this step.
func (c *Coordinator) StartObservations(acted map[string]struct{}) error {
	c.mu.Lock()
	if len(c.stops) != 0 {
		c.mu.Unlock()
		return core.Internalf("round started with %d devices still armed", len(c.stops))
	}
	c.acted = make(map[string]struct{}, len(acted))
	for name := range acted {
		c.acted[name] = struct{}{}
	}
	c.pendingActions = make(map[string]struct{})
	c.ready = make(chan string, 2*len(c.devices)+8)
	named := make([]core.Device, 0, len(c.devices))
	for _, d := range c.devices {
		named = append(named, d)
	}
	c.mu.Unlock()

	sort.Slice(named, func(i, j int) bool {
		return named[i].ConfigName() < named[j].ConfigName()
	})
	for _, d := range named {
		if _, err := d.StartObservation(c.host); err != nil {
			c.clearStops()
			return err
		}
	}
	return nil
}

// SynchronizeObservations waits out the round and merges every device's
// contribution into observations. It returns the latest timestamp seen
// across the merge plus the accumulated telemetry references/responses.
//
// Passive devices whose data predates the acting devices' settle time are
// re-armed until they catch up; this is the causal-consistency guarantee
// that a camera frame returned with a step is no older than the motion
// that step commanded.
func (c *Coordinator) SynchronizeObservations(
	ctx context.Context,
	observations core.ObservationSet,
) (float64, []snapshot.Reference, []snapshot.Response, error) {
	started := time.Now()
	latestTS := 0.0
	minimumTS := 0.0

	c.mu.Lock()
	if len(c.pendingActions) > 0 {
		minimumTS = math.MaxFloat64
	}
	c.mu.Unlock()

	var references []snapshot.Reference
	var responses []snapshot.Response
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		remaining := len(c.stops)
		c.mu.Unlock()
		if remaining == 0 {
			break
		}

		var name string
		select {
		case name = <-c.ready:
		case <-deadline.C:
			outstanding := c.clearStops()
			c.observeRound(started, "timeout")
			return 0, nil, nil, &core.TimeoutError{Outstanding: outstanding, Wait: c.timeout}
		case <-ctx.Done():
			c.clearStops()
			c.observeRound(started, "canceled")
			return 0, nil, nil, core.Devicef("", "synchronization canceled: %v", ctx.Err())
		}

		// Disarm before merging so a device commits at most once.
		c.mu.Lock()
		stop, armed := c.stops[name]
		if armed {
			delete(c.stops, name)
		}
		d := c.devices[name]
		c.mu.Unlock()
		if !armed {
			// Leftover token from an already-cleared arm.
			continue
		}
		stop()
		if d == nil {
			c.clearStops()
			return 0, nil, nil, core.Internalf("fulfilled device %q is not registered", name)
		}

		obs, refs, resps, err := d.Observation(c.host)
		if err != nil {
			c.clearStops()
			c.observeRound(started, "error")
			return 0, nil, nil, err
		}
		observationTS := obs.Timestamp()
		latestTS = math.Max(latestTS, observationTS)
		observations[name] = obs
		references = append(references, refs...)
		responses = append(responses, resps...)

		c.mu.Lock()
		_, isActing := c.acted[name]
		if isActing {
			delete(c.pendingActions, name)
			if minimumTS >= math.MaxFloat64 {
				minimumTS = observationTS
			} else {
				minimumTS = math.Max(minimumTS, observationTS)
			}
			c.mu.Unlock()
			logging.Debug("acting device fulfilled", "device", name, "ts", observationTS, "minimumTs", minimumTS)
			continue
		}
		stillPending := len(c.pendingActions) > 0
		var rearmErr error
		if stillPending || observationTS < minimumTS {
			// Known to over-trigger: any pending action re-arms every
			// passive device, related or not. Kept as observed behavior.
			rearmErr = c.registerStopLocked(name)
			if c.metrics != nil {
				c.metrics.retriggers.Inc()
			}
		}
		c.mu.Unlock()
		if rearmErr != nil {
			c.clearStops()
			return 0, nil, nil, rearmErr
		}
	}

	c.mu.Lock()
	residual := len(c.pendingActions)
	c.pendingActions = make(map[string]struct{})
	c.ready = nil
	c.callbacks = make(map[string]host.AddUpdateCallback)
	c.mu.Unlock()
	if residual != 0 {
		c.observeRound(started, "error")
		return 0, nil, nil, core.Internalf("pending-action set not drained at round end (%d left)", residual)
	}

	// Devices that never armed still owe an entry: back-fill so the
	// observation key set matches the registry key set.
	c.mu.Lock()
	backfill := make([]core.Device, 0)
	for name, d := range c.devices {
		if _, ok := observations[name]; !ok {
			backfill = append(backfill, d)
		}
	}
	c.mu.Unlock()
	sort.Slice(backfill, func(i, j int) bool {
		return backfill[i].ConfigName() < backfill[j].ConfigName()
	})
	for _, d := range backfill {
		obs, refs, resps, err := d.Observation(c.host)
		if err != nil {
			c.observeRound(started, "error")
			return 0, nil, nil, err
		}
		observations[d.ConfigName()] = obs
		references = append(references, refs...)
		responses = append(responses, resps...)
	}

	if err := c.checkKeySet(observations); err != nil {
		c.observeRound(started, "error")
		return 0, nil, nil, err
	}

	c.observeRound(started, "ok")
	return latestTS, references, responses, nil
}

// checkKeySet enforces the cardinality invariant: observation keys must
// exactly equal registry keys.
func (c *Coordinator) checkKeySet(observations core.ObservationSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(observations) != len(c.devices) {
		return core.Internalf("observation keys (%d) != registered devices (%d)",
			len(observations), len(c.devices))
	}
	for name := range observations {
		if _, ok := c.devices[name]; !ok {
			return core.Internalf("observation for unregistered device %q", name)
		}
	}
	return nil
}

// clearStops force-cancels every remaining armed callback and returns the
// device names that were still outstanding, sorted.
func (c *Coordinator) clearStops() []string {
	c.mu.Lock()
	outstanding := make([]string, 0, len(c.stops))
	stops := make([]func(), 0, len(c.stops))
	for name, stop := range c.stops {
		outstanding = append(outstanding, name)
		stops = append(stops, stop)
	}
	c.stops = make(map[string]func())
	c.pendingActions = make(map[string]struct{})
	c.callbacks = make(map[string]host.AddUpdateCallback)
	c.ready = nil
	c.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	sort.Strings(outstanding)
	return outstanding
}

func (c *Coordinator) observeRound(started time.Time, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.rounds.WithLabelValues(result).Inc()
	c.metrics.roundDuration.Observe(time.Since(started).Seconds())
}
