// Package host is the client side of the robot-cell host protocol. The
// rest of the SDK only depends on the interfaces here; the MQTT
// implementation lives in cell.go and mqtt.go.
package host

import (
	"context"
	"encoding/json"

	"github.com/robocell/cellgym/internal/snapshot"
)

// Message is one device state update from the host. Data carries the
// device-specific payload; each device wrapper decodes its own.
type Message struct {
	Device string          `json:"device"`
	Seq    int64           `json:"seq"`
	TS     float64         `json:"ts"`
	Status string          `json:"status,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Command is one request to a device endpoint.
type Command struct {
	Method    string `json:"method"`
	Params    any    `json:"params,omitempty"`
	RequestID int    `json:"id"`
}

// Status is the host's reply to a Command.
type Status struct {
	RequestID int     `json:"id"`
	Code      string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	TS        float64 `json:"ts,omitempty"`
	Sequence  int64   `json:"seq,omitempty"`
}

// Done reports whether the status code is a terminal success.
func (s Status) Done() bool {
	return s.Code == "done" || s.Code == "ok"
}

// UpdateCallback receives device state updates. Returning true stops
// further delivery and fires the finished callback exactly once.
type UpdateCallback func(Message) bool

// AddUpdateCallback arms a one-shot update subscription and returns a stop
// function that cancels it without firing finished.
type AddUpdateCallback func(update UpdateCallback, finished func()) (stop func())

// Endpoint is one device's operation set on the host.
type Endpoint interface {
	Name() string

	// State returns the last cached update, if any has arrived.
	State() (Message, bool)

	// FetchState performs a blocking state round-trip.
	FetchState(ctx context.Context) (Message, error)

	// SendCommand dispatches a command and blocks for its status.
	SendCommand(ctx context.Context, cmd Command) (Status, error)

	// AsyncCommand dispatches fire-and-forget; finished is invoked with
	// the terminal status when the host reports one.
	AsyncCommand(cmd Command, finished func(Status)) error

	AddUpdateCallback(update UpdateCallback, finished func()) (stop func())
}

// Host is the full robot-cell collaborator: device endpoints plus the
// session logging surface.
type Host interface {
	Endpoint(name string) (Endpoint, bool)
	Reset(ctx context.Context) error
	ServerTime(ctx context.Context) (float64, error)

	StartTask(params map[string]string) error
	EndTask(params map[string]string) error
	SendSnapshot(snap *snapshot.Snapshot) error

	Close() error
}
