package types

import "errors"

// Error kinds raised by the local cluster. Callers match them with errors.Is.
var (
	// ErrConfiguration marks bad input. Only clamping is recovered from.
	ErrConfiguration = errors.New("configuration error")
	// ErrTimeout marks a readiness or convergence phase that ran out of time.
	ErrTimeout = errors.New("timeout")
	// ErrProvisioning marks missing safe, module or chain addresses.
	ErrProvisioning = errors.New("provisioning failure")
	// ErrProcess marks an external tool or process that failed to run.
	ErrProcess = errors.New("process failure")
	// ErrIO marks a snapshot copy or a missing file.
	ErrIO = errors.New("io failure")
)
