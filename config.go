package boltzmann

import (
	"log"

	"github.com/gorgonia/boltzmann/compute"
)

// Interrupt is polled between batches and epochs. Returning true requests a
// graceful stop; the poll is also expected to clear whatever flag it read,
// so the same request is not reported twice.
type Interrupt func() bool

// Config configures one machine.
type Config struct {
	NInputs int // visible units; also the number of dataset columns used
	NHidden int // hidden units

	// Markov chain annealing: the chain starts NChainStart steps long and
	// is exponentially smoothed toward NChainEnd at NChainRate per epoch.
	NChainStart int
	NChainEnd   int
	NChainRate  float64

	MeanField       bool // reconstruct visible2 from probabilities, no sampling
	GreedyMeanField bool // feed raw data values as visible1, no sampling

	NBatches         int
	MaxEpochs        int
	MaxNoImprovement int     // stop after this many epochs without ratio improvement
	ConvergenceCrit  float64 // stop when max increment / max weight drops below this

	LearningRate    float64
	StartMomentum   float64
	EndMomentum     float64
	WeightPenalty   float64
	SparsityPenalty float64
	SparsityTarget  float64

	// extensions
	Backend   compute.Backend // nil means the in-memory reference backend
	Rand      Uniform         // nil means a fixed-seed Lehmer source
	Interrupt Interrupt       // nil means never interrupted
	Logger    *log.Logger     // nil means the process-default logger
}

// DefaultConfig returns a workable configuration for the given layer sizes.
func DefaultConfig(nInputs, nHidden int) Config {
	return Config{
		NInputs: nInputs,
		NHidden: nHidden,

		NChainStart: 1,
		NChainEnd:   4,
		NChainRate:  0.02,

		GreedyMeanField: true,

		NBatches:         8,
		MaxEpochs:        1000,
		MaxNoImprovement: 300,
		ConvergenceCrit:  1e-4,

		LearningRate:    0.05,
		StartMomentum:   0.1,
		EndMomentum:     0.9,
		WeightPenalty:   0.0001,
		SparsityPenalty: 0.1,
		SparsityTarget:  0.1,
	}
}

func (c Config) IsValid() bool {
	return c.NInputs >= 1 &&
		c.NHidden >= 1 &&
		c.NChainStart >= 1 &&
		c.NChainEnd >= 1 &&
		c.NChainRate >= 0 && c.NChainRate <= 1 &&
		c.NBatches >= 1 &&
		c.MaxEpochs >= 1 &&
		c.MaxNoImprovement >= 1 &&
		c.ConvergenceCrit > 0 &&
		c.LearningRate >= 0.001 && c.LearningRate <= 1.0 &&
		c.StartMomentum >= 0 && c.StartMomentum < 1 &&
		c.EndMomentum >= 0 && c.EndMomentum < 1
}
