package compute

import "github.com/pkg/errors"

// Initialization failures come in three flavours, none of them retryable.
// Callers compare with errors.Cause.
var (
	// ErrHostMemory means the backend could not allocate its host-side
	// mirrors or staging buffers.
	ErrHostMemory = errors.New("insufficient host memory")

	// ErrDeviceMemory means the device could not hold the dataset,
	// parameters and scratch for the requested geometry.
	ErrDeviceMemory = errors.New("insufficient device memory")

	// ErrDevice is an unexpected device failure during initialization.
	ErrDevice = errors.New("device error")
)

// ErrNotInitialized is returned by any operation issued before Init or
// after Cleanup.
var ErrNotInitialized = errors.New("backend not initialized")
