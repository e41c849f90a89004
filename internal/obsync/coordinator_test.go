package obsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/host/hosttest"
	"github.com/robocell/cellgym/internal/snapshot"
	"github.com/robocell/cellgym/internal/space"
)

type stubObs struct {
	ts float64
}

func (o stubObs) Timestamp() float64 { return o.ts }

type stubWatcher struct {
	finished func()
	active   bool
}

// stubDevice is a scriptable device: tests fire its armed callbacks by
// hand and script the timestamps its observations report.
type stubDevice struct {
	core.Base

	mu       sync.Mutex
	never    bool
	arms     int
	watchers []*stubWatcher
	queue    []float64
	idx      int
	observes int
	obsErr   error
}

func newStub(name string, never bool, ts ...float64) *stubDevice {
	d := &stubDevice{never: never, queue: ts}
	d.Base = core.NewBase("", space.Dict{}, space.Dict{}, false)
	d.SetConfigName(name)
	return d
}

func (d *stubDevice) StartObservation(h host.Host) (bool, error) {
	if d.never {
		return false, nil
	}
	return true, d.Arm(d.addCallback)
}

func (d *stubDevice) addCallback(update host.UpdateCallback, finished func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := &stubWatcher{finished: finished, active: true}
	d.watchers = append(d.watchers, w)
	d.arms++
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		w.active = false
	}
}

func (d *stubDevice) fire() {
	d.mu.Lock()
	pending := d.watchers
	d.watchers = nil
	d.mu.Unlock()
	for _, w := range pending {
		if w.active {
			w.finished()
		}
	}
}

func (d *stubDevice) armCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.arms
}

func (d *stubDevice) observeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.observes
}

func (d *stubDevice) Observation(h host.Host) (core.Observation, []snapshot.Reference, []snapshot.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observes++
	if d.obsErr != nil {
		return nil, nil, nil, d.obsErr
	}
	ts := 0.0
	if len(d.queue) > 0 {
		ts = d.queue[d.idx]
		if d.idx < len(d.queue)-1 {
			d.idx++
		}
	}
	return stubObs{ts: ts}, []snapshot.Reference{{Time: ts}}, nil, nil
}

func (d *stubDevice) DoAction(action core.Action, h host.Host) ([]snapshot.Action, error) {
	return nil, nil
}

func (d *stubDevice) Validate(h host.Host) string { return "" }

func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestStalePassiveDeviceIsRetriggered(t *testing.T) {
	arm := newStub("arm", false, 5.0)
	camera := newStub("camera", false, 4.0, 5.2)

	c := New(hosttest.New(), time.Second, nil)
	c.Register(arm)
	c.Register(camera)

	if err := c.StartObservations(map[string]struct{}{"arm": {}}); err != nil {
		t.Fatalf("start observations: %v", err)
	}

	go func() {
		// First camera frame predates the arm's motion and must be
		// discarded: it re-arms, then the arm settles, then a fresh
		// frame arrives.
		camera.fire()
		if !waitUntil(func() bool { return camera.armCount() == 2 }) {
			return
		}
		arm.fire()
		camera.fire()
	}()

	observations := make(core.ObservationSet)
	latestTS, refs, _, err := c.SynchronizeObservations(context.Background(), observations)
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	if latestTS != 5.2 {
		t.Fatalf("latest ts = %v, want 5.2", latestTS)
	}
	if got := observations["arm"].Timestamp(); got != 5.0 {
		t.Fatalf("arm ts = %v, want 5.0", got)
	}
	if got := observations["camera"].Timestamp(); got != 5.2 {
		t.Fatalf("camera ts = %v, want 5.2", got)
	}
	if camera.observeCount() != 2 {
		t.Fatalf("camera observed %d times, want 2", camera.observeCount())
	}
	if len(refs) != 3 {
		t.Fatalf("got %d references, want 3", len(refs))
	}
}

func TestPassiveOnlyRoundAcceptsFirstData(t *testing.T) {
	camera := newStub("camera", false, 4.0)

	c := New(hosttest.New(), time.Second, nil)
	c.Register(camera)

	if err := c.StartObservations(nil); err != nil {
		t.Fatalf("start observations: %v", err)
	}
	camera.fire()

	observations := make(core.ObservationSet)
	latestTS, _, _, err := c.SynchronizeObservations(context.Background(), observations)
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if latestTS != 4.0 {
		t.Fatalf("latest ts = %v, want 4.0", latestTS)
	}
	if camera.armCount() != 1 {
		t.Fatalf("camera armed %d times, want 1", camera.armCount())
	}
}

func TestTimeoutNamesOutstandingDevices(t *testing.T) {
	arm := newStub("arm", false, 5.0)
	camera := newStub("camera", false, 4.0)

	c := New(hosttest.New(), 50*time.Millisecond, nil)
	c.Register(arm)
	c.Register(camera)

	if err := c.StartObservations(map[string]struct{}{"arm": {}}); err != nil {
		t.Fatalf("start observations: %v", err)
	}
	camera.fire()

	_, _, _, err := c.SynchronizeObservations(context.Background(), make(core.ObservationSet))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, core.ErrTimeout) || !errors.Is(err, core.ErrDevice) {
		t.Fatalf("error %v does not match timeout/device sentinels", err)
	}
	var te *core.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("error %v is not a TimeoutError", err)
	}
	if len(te.Outstanding) != 1 || te.Outstanding[0] != "arm" {
		t.Fatalf("outstanding = %v, want [arm]", te.Outstanding)
	}
}

func TestNeverArmedDevicesAreBackfilled(t *testing.T) {
	camera := newStub("camera", false, 4.0)
	vacuum := newStub("vacuum", true)
	status := newStub("instructions", true, 2.5)

	c := New(hosttest.New(), time.Second, nil)
	c.Register(camera)
	c.Register(vacuum)
	c.Register(status)

	if err := c.StartObservations(nil); err != nil {
		t.Fatalf("start observations: %v", err)
	}
	camera.fire()

	observations := make(core.ObservationSet)
	latestTS, _, _, err := c.SynchronizeObservations(context.Background(), observations)
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	if len(observations) != 3 {
		t.Fatalf("got %d observations, want 3", len(observations))
	}
	for _, name := range []string{"camera", "vacuum", "instructions"} {
		if _, ok := observations[name]; !ok {
			t.Fatalf("missing observation for %q", name)
		}
	}
	// Backfilled data never moves the merge's latest timestamp.
	if latestTS != 4.0 {
		t.Fatalf("latest ts = %v, want 4.0", latestTS)
	}
	if vacuum.observeCount() != 1 {
		t.Fatalf("vacuum observed %d times, want 1", vacuum.observeCount())
	}
}

func TestDuplicateFulfillmentCommitsOnce(t *testing.T) {
	camera := newStub("camera", false, 4.0, 9.9)

	c := New(hosttest.New(), time.Second, nil)
	c.Register(camera)

	if err := c.StartObservations(nil); err != nil {
		t.Fatalf("start observations: %v", err)
	}

	// Deliver the same fulfillment token twice. Only the armed one may
	// merge; the second is a leftover and must be skipped.
	camera.mu.Lock()
	finished := camera.watchers[0].finished
	camera.mu.Unlock()
	finished()
	finished()

	observations := make(core.ObservationSet)
	latestTS, _, _, err := c.SynchronizeObservations(context.Background(), observations)
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if camera.observeCount() != 1 {
		t.Fatalf("camera observed %d times, want 1", camera.observeCount())
	}
	if latestTS != 4.0 {
		t.Fatalf("latest ts = %v, want 4.0", latestTS)
	}
}

func TestContextCancelTearsDownRound(t *testing.T) {
	arm := newStub("arm", false, 5.0)

	c := New(hosttest.New(), time.Minute, nil)
	c.Register(arm)

	if err := c.StartObservations(map[string]struct{}{"arm": {}}); err != nil {
		t.Fatalf("start observations: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, _, err := c.SynchronizeObservations(ctx, make(core.ObservationSet))
	if !errors.Is(err, core.ErrDevice) {
		t.Fatalf("error %v does not match device sentinel", err)
	}

	// The round is fully torn down: a fresh one can start.
	if err := c.StartObservations(nil); err != nil {
		t.Fatalf("second round: %v", err)
	}
	arm.fire()
	if _, _, _, err := c.SynchronizeObservations(context.Background(), make(core.ObservationSet)); err != nil {
		t.Fatalf("second synchronize: %v", err)
	}
}

func TestOverlappingRoundsRejected(t *testing.T) {
	arm := newStub("arm", false, 5.0)

	c := New(hosttest.New(), time.Second, nil)
	c.Register(arm)

	if err := c.StartObservations(nil); err != nil {
		t.Fatalf("start observations: %v", err)
	}
	err := c.StartObservations(nil)
	if !errors.Is(err, core.ErrInternal) {
		t.Fatalf("error %v does not match internal sentinel", err)
	}
}

func TestObservationErrorAbortsRound(t *testing.T) {
	camera := newStub("camera", false)
	camera.obsErr = core.Devicef("camera", "no frame received yet")

	c := New(hosttest.New(), time.Second, nil)
	c.Register(camera)

	if err := c.StartObservations(nil); err != nil {
		t.Fatalf("start observations: %v", err)
	}
	camera.fire()

	_, _, _, err := c.SynchronizeObservations(context.Background(), make(core.ObservationSet))
	if !errors.Is(err, core.ErrDevice) {
		t.Fatalf("error %v does not match device sentinel", err)
	}
}
