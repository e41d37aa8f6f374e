package model

// State is the lifecycle state of a client connection.
type State uint8

const (
	// StateStopped is the initial state and the only state from which a
	// connection may be safely released.
	StateStopped State = iota
	// StateStarting means the connection is attempting to reach the server.
	StateStarting
	// StateReady means sends are expected to succeed.
	StateReady
	// StateStopping means teardown is in progress; no further sends accepted.
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateReady:
		return "Ready"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// StopReason is the latched cause of a connection leaving Ready/Starting.
type StopReason uint8

const (
	// StopReasonNone means the connection is not stopping/stopped.
	StopReasonNone StopReason = iota
	// StopReasonInit is the reason on a freshly constructed connection.
	StopReasonInit
	// StopReasonUserRequested means Stop() was called.
	StopReasonUserRequested
	// StopReasonPermission means the OS refused the connect attempt.
	StopReasonPermission
	// StopReasonClosedByPeer means the server closed the transport.
	StopReasonClosedByPeer
	// StopReasonIoError means an unexpected communication failure occurred.
	StopReasonIoError
	// StopReasonShutdown means the connection's resources are being freed
	// permanently; Restart is no longer possible.
	StopReasonShutdown
)

func (r StopReason) String() string {
	switch r {
	case StopReasonNone:
		return "None"
	case StopReasonInit:
		return "Init"
	case StopReasonUserRequested:
		return "UserRequested"
	case StopReasonPermission:
		return "Permission"
	case StopReasonClosedByPeer:
		return "ClosedByPeer"
	case StopReasonIoError:
		return "IoError"
	case StopReasonShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// ClientIdentity is the OS-reported identity of a connected peer, gathered
// server-side via SO_PEERCRED (POSIX) or the resource-manager client-info
// call (QNX, where Uid/Gid are always zero — SO_PEERCRED is unavailable
// there).
type ClientIdentity struct {
	PID int32
	UID uint32
	GID uint32
}
