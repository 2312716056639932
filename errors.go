package shmkv

import "errors"

// Sentinel errors returned by Client and Server methods, wrapped with
// fmt.Errorf("%w") where additional context helps. The sentinel
// pattern and naming follow the retrieved grpc-go shared-memory
// transport's ErrRingClosed/ErrConnectionClosed.
var (
	// ErrRegionClosed identifies an operation against a region that
	// has already been closed or unlinked. No Client or Server method
	// returns it; a client of a stopped server gets ErrDisconnected.
	ErrRegionClosed = errors.New("shmkv: region closed")

	// ErrSubmissionFailed is returned when a task could not be pushed
	// onto the request ring within its retry budget, meaning the ring
	// was full and the server isn't draining it fast enough.
	ErrSubmissionFailed = errors.New("shmkv: task submission failed, ring full")

	// ErrTimeout is returned by a synchronous call when the response
	// table slot for its task never reached a terminal status before
	// the caller's deadline.
	ErrTimeout = errors.New("shmkv: timed out waiting for response")

	// ErrDisconnected is returned by any Client method called after
	// Close.
	ErrDisconnected = errors.New("shmkv: client is disconnected")

	// ErrAlreadyRunning is returned by Server.Start when the server
	// has already been started.
	ErrAlreadyRunning = errors.New("shmkv: server already running")
)
