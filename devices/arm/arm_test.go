package arm

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

func newTestArm(t *testing.T) (*Device, *hosttest.Host, *hosttest.Endpoint) {
	t.Helper()
	d := New(config.DeviceConfig{
		Type:        config.KindArm,
		Synchronous: true,
		Arm:         &config.ArmConfig{Joints: 6},
	})
	d.SetConfigName("arm")
	h := hosttest.New()
	ep := h.AddEndpoint("arm")
	return d, h, ep
}

func TestInvalidCommandRejectedWithoutDispatch(t *testing.T) {
	d, h, ep := newTestArm(t)

	_, err := d.DoAction(Action{Command: 5}, h)
	if !errors.Is(err, core.ErrDevice) {
		t.Fatalf("error %v does not match device sentinel", err)
	}
	if !strings.Contains(err.Error(), "invalid arm command 5") {
		t.Fatalf("error %q does not name the invalid command", err)
	}
	if len(ep.Commands()) != 0 {
		t.Fatalf("invalid action dispatched %d commands", len(ep.Commands()))
	}
}

func TestWrongActionTypeRejected(t *testing.T) {
	d, h, ep := newTestArm(t)

	_, err := d.DoAction("not an arm action", h)
	if !errors.Is(err, core.ErrDevice) {
		t.Fatalf("error %v does not match device sentinel", err)
	}
	if len(ep.Commands()) != 0 {
		t.Fatalf("invalid action dispatched %d commands", len(ep.Commands()))
	}
}

func TestJointMoveNeedsMatchingJointCount(t *testing.T) {
	d, h, ep := newTestArm(t)

	_, err := d.DoAction(Action{Command: CommandJoints, JointAngles: []float64{1, 2}}, h)
	if !errors.Is(err, core.ErrDevice) {
		t.Fatalf("error %v does not match device sentinel", err)
	}
	if len(ep.Commands()) != 0 {
		t.Fatalf("invalid action dispatched %d commands", len(ep.Commands()))
	}
}

func TestJointMoveDispatches(t *testing.T) {
	d, h, ep := newTestArm(t)

	angles := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	acts, err := d.DoAction(Action{Command: CommandJoints, JointAngles: angles, CID: 7}, h)
	if err != nil {
		t.Fatalf("do action: %v", err)
	}
	cmds := ep.Commands()
	if len(cmds) != 1 || cmds[0].Method != "move-joints" {
		t.Fatalf("commands = %+v, want one move-joints", cmds)
	}
	if len(acts) != 1 || acts[0].Command != CommandJoints || acts[0].CID != 7 {
		t.Fatalf("action record = %+v", acts)
	}
}

func TestNoneCommandSendsNothing(t *testing.T) {
	d, h, ep := newTestArm(t)

	acts, err := d.DoAction(Action{Command: CommandNone}, h)
	if err != nil {
		t.Fatalf("do action: %v", err)
	}
	if len(acts) != 0 {
		t.Fatalf("none command produced records: %+v", acts)
	}
	if len(ep.Commands()) != 0 {
		t.Fatalf("none command dispatched %d commands", len(ep.Commands()))
	}
}

func TestObservationDecodesStateAndDetectsProtectiveStop(t *testing.T) {
	d, h, ep := newTestArm(t)

	payload, _ := json.Marshal(map[string]any{
		"jointAngles": []float64{1, 2, 3, 4, 5, 6},
		"status":      "protective-stop",
	})
	ep.Publish(host.Message{TS: 12.5, Seq: 3, Data: payload})

	obs, refs, _, err := d.Observation(h)
	if err != nil {
		t.Fatalf("observation: %v", err)
	}
	arm := obs.(Observation)
	if arm.TS != 12.5 || arm.JointAngles[5] != 6 {
		t.Fatalf("observation = %+v", arm)
	}
	if len(refs) != 1 || refs[0].Sequence != 3 {
		t.Fatalf("references = %+v", refs)
	}
	if !d.EarlyDone() {
		t.Fatal("protective stop did not flag early done")
	}
}

func TestObservationResponseCarriesCommandContext(t *testing.T) {
	d, h, ep := newTestArm(t)

	angles := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	if _, err := d.DoAction(Action{Command: CommandJoints, JointAngles: angles, CID: 9}, h); err != nil {
		t.Fatalf("do action: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"jointAngles": angles,
		"status":      "done",
	})
	ep.Publish(host.Message{TS: 6.0, Seq: 4, Data: payload})

	_, _, resps, err := d.Observation(h)
	if err != nil {
		t.Fatalf("observation: %v", err)
	}
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	if resps[0].CID != 9 || resps[0].Status != "done" {
		t.Fatalf("response = %+v, want cid 9 status done", resps[0])
	}
}

func TestZeroJointConfigGetsDefault(t *testing.T) {
	d := New(config.DeviceConfig{
		Type:        config.KindArm,
		Synchronous: true,
		Arm:         &config.ArmConfig{},
	})
	d.SetConfigName("arm")
	h := hosttest.New()
	ep := h.AddEndpoint("arm")

	// An empty joint slice must not validate against a defaulted arm.
	_, err := d.DoAction(Action{Command: CommandJoints}, h)
	if !errors.Is(err, core.ErrDevice) {
		t.Fatalf("error %v does not match device sentinel", err)
	}
	if len(ep.Commands()) != 0 {
		t.Fatalf("invalid action dispatched %d commands", len(ep.Commands()))
	}

	if _, err := d.DoAction(Action{Command: CommandJoints, JointAngles: make([]float64, config.DefaultArmJoints)}, h); err != nil {
		t.Fatalf("defaulted joint move: %v", err)
	}
	if len(ep.Commands()) != 1 {
		t.Fatalf("got %d commands, want 1", len(ep.Commands()))
	}
}

func TestValidateReportsMissingEndpoint(t *testing.T) {
	d := New(config.DeviceConfig{Type: config.KindArm})
	d.SetConfigName("arm")
	h := hosttest.New()

	if diag := d.Validate(h); diag == "" {
		t.Fatal("expected a diagnostic for a missing endpoint")
	}
	h.AddEndpoint("arm")
	if diag := d.Validate(h); diag != "" {
		t.Fatalf("unexpected diagnostic: %s", diag)
	}
}
