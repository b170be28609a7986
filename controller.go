package boltzmann

import "math"

type stopReason int

const (
	stopNone stopReason = iota
	stopConverged
	stopStalled
)

// controller owns the hyperparameters that move during training: learning
// rate, momentum and chain length. Per batch it scores the agreement
// between successive weight gradients; per epoch it smooths momentum and
// chain length toward their end values and decides whether to stop.
// State lives for one Train invocation.
type controller struct {
	nWeights        int
	nChainEnd       float64
	nChainRate      float64
	endMomentum     float64
	convergenceCrit float64
	maxNoImp        int

	learningRate float64
	momentum     float64
	chainLength  float64

	lenPrev float64
	seeded  bool

	// Display statistics only; nothing downstream reads them.
	smoothedLen   float64
	smoothedDot   float64
	smoothedRatio float64

	bestCrit      float64
	noImprovement int
	epochs        int
}

func newController(conf Config) *controller {
	return &controller{
		nWeights:        conf.NHidden * conf.NInputs,
		nChainEnd:       float64(conf.NChainEnd),
		nChainRate:      conf.NChainRate,
		endMomentum:     conf.EndMomentum,
		convergenceCrit: conf.ConvergenceCrit,
		maxNoImp:        conf.MaxNoImprovement,

		learningRate: conf.LearningRate,
		momentum:     conf.StartMomentum,
		chainLength:  float64(conf.NChainStart),
	}
}

// chainSteps is the rounded current chain length, never below 1.
func (c *controller) chainSteps() int {
	n := int(c.chainLength + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// observe takes the squared length of the current weight gradient and its
// raw dot product with the previous one, and adjusts the learning rate by
// how well the two directions agree. The very first batch has no previous
// gradient; it only seeds the length statistic.
func (c *controller) observe(length, dot float64) {
	if !c.seeded {
		c.lenPrev = length
		c.smoothedLen = math.Sqrt(length / float64(c.nWeights))
		c.smoothedDot = 0
		c.seeded = true
		return
	}

	dot /= math.Sqrt(length * c.lenPrev)
	c.lenPrev = length

	switch {
	case dot > 0.5:
		c.learningRate *= 1.2
	case dot > 0.3:
		c.learningRate *= 1.1
	case dot < -0.5:
		c.learningRate /= 1.2
	case dot < -0.3:
		c.learningRate /= 1.1
	}
	if c.learningRate > 1.0 {
		c.learningRate = 1.0
	}
	if c.learningRate < 0.001 {
		c.learningRate = 0.001
	}

	// Strong agreement or disagreement both mean the step size, not the
	// direction, is driving the trajectory. Damp the momentum.
	if math.Abs(dot) > 0.3 {
		c.momentum /= 1.5
	}

	c.smoothedLen = 0.99*c.smoothedLen + 0.01*math.Sqrt(length/float64(c.nWeights))
	c.smoothedDot = 0.9*c.smoothedDot + 0.1*dot
}

// endEpoch runs the per-epoch bookkeeping on ratio = max weight increment /
// max weight magnitude. The order matters and matches the training loop:
// the convergence test fires before stall accounting, and the smoothing
// steps are skipped entirely on any stop.
func (c *controller) endEpoch(ratio float64) stopReason {
	first := c.epochs == 0
	c.epochs++

	if ratio < c.convergenceCrit {
		return stopConverged
	}

	if first || ratio < c.bestCrit {
		c.bestCrit = ratio
		c.noImprovement = 0
	} else {
		c.noImprovement++
		if c.noImprovement > c.maxNoImp {
			return stopStalled
		}
	}

	c.momentum = 0.99*c.momentum + 0.01*c.endMomentum
	c.chainLength = (1.0-c.nChainRate)*c.chainLength + c.nChainRate*c.nChainEnd

	if first {
		c.smoothedRatio = ratio
	} else {
		c.smoothedRatio = 0.9*c.smoothedRatio + 0.1*ratio
	}

	// Near convergence the stochastic gradient wanders; cap the learning
	// rate progressively the longer the ratio fails to improve. The caps
	// only ever tighten within a run.
	switch {
	case c.noImprovement > 250 && c.learningRate > 0.002:
		c.learningRate = 0.002
	case c.noImprovement > 200 && c.learningRate > 0.005:
		c.learningRate = 0.005
	case c.noImprovement > 150 && c.learningRate > 0.01:
		c.learningRate = 0.01
	case c.noImprovement > 100 && c.learningRate > 0.02:
		c.learningRate = 0.02
	case c.noImprovement > 50 && c.learningRate > 0.03:
		c.learningRate = 0.03
	}

	return stopNone
}
