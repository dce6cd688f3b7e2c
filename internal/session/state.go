package session

import "time"

// State is a session lifecycle state
type State int32

const (
	StateProvisioning State = iota
	StateJoining
	StateActive
	StateLeaving
	StatePostProcessing
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProvisioning:
		return "provisioning"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	case StatePostProcessing:
		return "post_processing"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Final reports whether no further transitions can happen
func (s State) Final() bool {
	return s == StateTerminated || s == StateFailed
}

// Lifecycle policies
const (
	// DefaultMonitorInterval is how often meeting occupancy is polled
	DefaultMonitorInterval = 3 * time.Second
	// DefaultMaxProbeFailures is the number of consecutive failed occupancy
	// probes after which the session leaves
	DefaultMaxProbeFailures = 3
	// DefaultJoinTimeout bounds the wait for host approval
	DefaultJoinTimeout = 120 * time.Second
	// DefaultWorkerJoinTimeout bounds the wait for workers after stop
	DefaultWorkerJoinTimeout = 5 * time.Second
	// DefaultReadTimeout bounds every blocking read in the worker loops
	DefaultReadTimeout = time.Second
	// DefaultLeaveTimeout bounds the best-effort leave action
	DefaultLeaveTimeout = 10 * time.Second
	// DefaultQueueSize is the frame queue capacity
	DefaultQueueSize = 256
	// DefaultPushTimeout is how long capture waits for queue space before
	// dropping a frame
	DefaultPushTimeout = 100 * time.Millisecond
	// DefaultCommandQueueSize is the number of transcribed lines waiting for
	// the command router
	DefaultCommandQueueSize = 16
)

// DefaultWarningThresholds are the remaining-time marks announced in chat
var DefaultWarningThresholds = []time.Duration{10 * time.Minute, 5 * time.Minute}
