package telephony

import "errors"

var (
	// ErrLegGone indicates an operation targeted a leg that no longer
	// exists. Teardown paths treat this as already-done.
	ErrLegGone = errors.New("leg no longer exists")

	// ErrBridgeGone indicates an operation targeted a destroyed bridge.
	ErrBridgeGone = errors.New("bridge no longer exists")

	// ErrOriginateFailed indicates an outbound call could not start.
	ErrOriginateFailed = errors.New("origination failed")
)
