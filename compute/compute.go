// Package compute is the boundary between the RBM training core and the
// bulk numeric engine that executes its coarse-grained operations. The core
// issues every matrix-sized piece of work through the Backend interface and
// treats each call as blocking; a Backend is free to pipeline internally.
//
// Dense is the reference in-memory implementation. A CUDA or OpenCL backend
// would implement the same interface against device memory.
package compute

import "gorgonia.org/tensor"

// Session carries everything a Backend needs to mirror one training run:
// the dataset, its per-input mean, the starting parameters and the scratch
// geometry. The dataset is read-only to the backend; the parameter slices
// are copied in, not aliased.
type Session struct {
	NCases   int
	NCols    int // columns in Data; only the first NInputs are used
	NInputs  int
	NHidden  int
	MaxBatch int

	MeanField       bool // use probabilities instead of sampling visible2
	GreedyMeanField bool // use raw data values instead of sampling visible1

	Data     *tensor.Dense // NCases × NCols, values in [0,1]
	DataMean []float32     // NInputs, clamped away from 0 and 1

	InBias  []float32 // NInputs
	HidBias []float32 // NHidden
	Weights []float32 // NHidden × NInputs, row-major
}

// Backend is the compute engine contract. Init must be the first call and
// Cleanup the last; every other operation may fail, and any such failure is
// fatal to the training invocation that issued it (the session state can no
// longer be trusted).
//
// Operations that make sampling decisions take a seed drawn from the
// caller's random stream, so that two runs with the same seed schedule are
// bit-identical regardless of where the backend executes.
type Backend interface {
	Init(s Session) error
	Cleanup() error

	PushShuffle(index []int) error
	PushParameters(inBias, hidBias, w []float32) error
	PullParameters(inBias, hidBias, w []float32) error

	// FetchVisible loads rows [start, stop) of the shuffled dataset into
	// visible1, sampling them from seed unless the session is greedy
	// mean field.
	FetchVisible(start, stop int, seed int32) error

	// VisibleToHidden computes hidden1 probabilities from visible1 and
	// copies them to hidden2 as the Markov chain's starting point.
	VisibleToHidden() error

	// SampleHidden samples hidden2 into the binary hidden activations.
	SampleHidden(seed int32) error

	// HiddenToVisible reconstructs visible2 from the hidden activations,
	// sampling it unless the session is mean field.
	HiddenToVisible(seed int32) error

	// HiddenToVisibleDirect reconstructs visible2 from the hidden2
	// probabilities with no sampling anywhere.
	HiddenToVisibleDirect() error

	// Visible2ToHidden2 recomputes hidden2 probabilities from visible2.
	// Hidden units are never resampled here.
	Visible2ToHidden2() error

	// ReconstructionError fills dst (NInputs long) with the per-input sum
	// of squared differences between visible1 and visible2.
	ReconstructionError(dst []float32) error

	UpdateVisibleBias(rate, momentum float32) error

	// UpdateHiddenBias needs seed to sample hidden1 for the positive term
	// when the session is not mean field.
	UpdateHiddenBias(rate, momentum float32, seed int32, sparsityPenalty, sparsityTarget float32) error

	UpdateWeights(rate, momentum, weightPenalty, sparsityPenalty, sparsityTarget float32) error

	// TransposeWeights refreshes the transposed weight mirror used by the
	// visible→hidden propagations.
	TransposeWeights() error

	// MaxWeights returns max |ΔW| of the most recent weight update when
	// increments is true, otherwise max |W|.
	MaxWeights(increments bool) (float32, error)

	// GradientLengthAndDot returns the squared Euclidean length of the
	// current raw weight gradient and its dot product with the previous
	// one, then retires current to previous.
	GradientLengthAndDot() (length, dot float32, err error)
}
