// Package snapshot defines the immutable telemetry records emitted after
// every step and reset. Snapshots are a recording artifact only: nothing
// in the SDK reads them back.
package snapshot

// Reference points at one piece of device data by capture time and
// sequence number.
type Reference struct {
	Time     float64 `json:"time"`
	Sequence int64   `json:"sequence"`
}

// Response records the host's status for one command or fetch issued
// while assembling an observation.
type Response struct {
	CID        int        `json:"cid"`
	DeviceType string     `json:"deviceType"`
	ConfigName string     `json:"configName"`
	Status     string     `json:"status,omitempty"`
	Reference  *Reference `json:"reference,omitempty"`
}

// Action records one command actually dispatched to a device. The typed
// payload fields are populated per device kind; unused fields stay zero.
type Action struct {
	DeviceType  string            `json:"deviceType"`
	DeviceName  string            `json:"deviceName"`
	Synchronous bool              `json:"synchronous"`
	Command     int               `json:"command,omitempty"`
	CID         int               `json:"cid,omitempty"`
	JointAngles []float64         `json:"jointAngles,omitempty"`
	Pose        []float64         `json:"pose,omitempty"`
	State       int               `json:"state,omitempty"`
	TaskStarted bool              `json:"taskStarted,omitempty"`
	TaskParams  map[string]string `json:"taskParams,omitempty"`
	PickID      string            `json:"pickId,omitempty"`
	Timeout     float64           `json:"timeoutSec,omitempty"`
}

// Snapshot is the full record of one step or reset.
type Snapshot struct {
	RunID      string      `json:"runId"`
	AgentID    string      `json:"agentId,omitempty"`
	CellID     string      `json:"cellId"`
	EpisodeID  int         `json:"episodeId"`
	StepID     int         `json:"stepId"`
	Reward     float64     `json:"reward"`
	Done       bool        `json:"done"`
	ServerTime float64     `json:"serverTime,omitempty"`
	Actions    []Action    `json:"actions,omitempty"`
	References []Reference `json:"references,omitempty"`
	Responses  []Response  `json:"responses,omitempty"`
}
