package vacuum

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/robocell/cellgym/internal/config"
	"github.com/robocell/cellgym/internal/core"
	"github.com/robocell/cellgym/internal/host"
	"github.com/robocell/cellgym/internal/host/hosttest"
)

func newTestVacuum(t *testing.T) (*Device, *hosttest.Host, *hosttest.Endpoint) {
	t.Helper()
	d := New(config.DeviceConfig{
		Type:        config.KindVacuum,
		Synchronous: true,
		Vacuum:      &config.VacuumConfig{DetectEnable: true},
	})
	d.SetConfigName("vacuum")
	h := hosttest.New()
	ep := h.AddEndpoint("vacuum")
	return d, h, ep
}

func TestInvalidStateRejected(t *testing.T) {
	d, h, ep := newTestVacuum(t)

	_, err := d.DoAction(Action{State: 3}, h)
	if !errors.Is(err, core.ErrDevice) {
		t.Fatalf("error %v does not match device sentinel", err)
	}
	if !strings.Contains(err.Error(), "invalid vacuum state request 3") {
		t.Fatalf("error %q does not name the invalid state", err)
	}
	if len(ep.Commands()) != 0 {
		t.Fatalf("invalid action dispatched %d commands", len(ep.Commands()))
	}
}

func TestStateRequestsMapToMethods(t *testing.T) {
	d, h, ep := newTestVacuum(t)

	if _, err := d.DoAction(Action{State: StateVacuum}, h); err != nil {
		t.Fatalf("vacuum on: %v", err)
	}
	if _, err := d.DoAction(Action{State: StateBlowoff}, h); err != nil {
		t.Fatalf("blowoff: %v", err)
	}
	if _, err := d.DoAction(Action{State: StateOff}, h); err != nil {
		t.Fatalf("off: %v", err)
	}

	cmds := ep.Commands()
	want := []string{"on", "blowoff", "off"}
	if len(cmds) != len(want) {
		t.Fatalf("got %d commands, want %d", len(cmds), len(want))
	}
	for i, method := range want {
		if cmds[i].Method != method {
			t.Fatalf("command %d = %q, want %q", i, cmds[i].Method, method)
		}
	}
}

func TestDuplicateStateSuppressed(t *testing.T) {
	d, h, ep := newTestVacuum(t)

	payload, _ := json.Marshal(map[string]int{"state": StateVacuum, "detect": 1})
	ep.Publish(host.Message{TS: 3.0, Data: payload})
	obs, _, _, err := d.Observation(h)
	if err != nil {
		t.Fatalf("observation: %v", err)
	}
	if got := obs.(Observation); got.State != StateVacuum || got.Detect != 1 {
		t.Fatalf("observation = %+v", got)
	}

	// The gripper already holds the requested state, so nothing goes to
	// the host but the action is still recorded.
	acts, err := d.DoAction(Action{State: StateVacuum}, h)
	if err != nil {
		t.Fatalf("do action: %v", err)
	}
	if len(acts) != 1 || acts[0].State != StateVacuum {
		t.Fatalf("action record = %+v", acts)
	}
	if len(ep.Commands()) != 0 {
		t.Fatalf("duplicate state dispatched %d commands", len(ep.Commands()))
	}
}

func TestStartObservationIsPassive(t *testing.T) {
	d, h, _ := newTestVacuum(t)
	armed, err := d.StartObservation(h)
	if err != nil {
		t.Fatalf("start observation: %v", err)
	}
	if armed {
		t.Fatal("vacuum should not arm a callback")
	}
}
