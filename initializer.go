package boltzmann

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// bestSnapshot is the best-scoring trial parameter set seen so far. It is
// copied on improvement and never aliases the live working copy.
type bestSnapshot struct {
	err     float64
	w       []float32
	inBias  []float32
	hidBias []float32
}

func (b *bestSnapshot) improve(err float64, w, inBias, hidBias []float32) {
	b.err = err
	copy(b.w, w)
	copy(b.inBias, inBias)
	copy(b.hidBias, hidBias)
}

// InitWeights searches for a good starting parameter set: nRand independent
// random weight trials, each scored by one deterministic forward/
// reconstruct pass over the whole dataset with no training updates. The
// best trial is installed into the machine's parameters.
//
// It returns the best per-case-per-input mean reconstruction error. An
// interrupt abandons the remaining trials but the best snapshot found so
// far is still installed; a backend failure installs nothing.
func (m *Machine) InitWeights(data *tensor.Dense, nRand int) (float64, error) {
	if nRand < 1 {
		return 0, errors.Errorf("nRand must be >= 1, got %d", nRand)
	}
	rows, err := m.checkData(data)
	if err != nil {
		return 0, err
	}
	nc := data.Shape()[0]
	if m.NBatches > nc {
		return 0, errors.Errorf("%d batches cannot split %d cases", m.NBatches, nc)
	}

	mean := m.dataMean(rows)
	sizes := batchSizes(nc, m.NBatches)

	// The trial passes are always deterministic mean-field
	// reconstructions, whatever the training configuration says.
	sess := m.session(data, mean, maxBatchSize(nc, m.NBatches), true, true)
	if err = m.initBackend(sess); err != nil {
		return 0, err
	}
	defer func() {
		if cerr := m.backend.Cleanup(); cerr != nil {
			m.logger.Printf("WARNING... backend cleanup failed: %v", cerr)
		}
	}()

	index := make([]int, nc)
	for i := range index {
		index[i] = i
	}
	if err = m.backend.PushShuffle(index); err != nil {
		return 0, errors.WithMessage(err, "push shuffle")
	}

	nIn, nHid := m.NInputs, m.NHidden
	w := make([]float32, nHid*nIn)
	inBias := make([]float32, nIn)
	hidBias := make([]float32, nHid)
	errVec := make([]float32, nIn)

	best := bestSnapshot{
		err:     math.MaxFloat64,
		w:       make([]float32, nHid*nIn),
		inBias:  make([]float32, nIn),
		hidBias: make([]float32, nHid),
	}

	scale := 4.0 / math.Sqrt(math.Sqrt(float64(nIn*nHid)))

	for trial := 0; trial < nRand; trial++ {
		// Zero-mean symmetric draws with a fresh shared scale per trial.
		// Hidden biases center each unit's pre-activation at the data
		// mean; visible biases start at the data log odds, less half the
		// incoming weight sum.
		diff := scale * m.rand.Next()
		for j := 0; j < nHid; j++ {
			sum := 0.0
			for i := 0; i < nIn; i++ {
				wt := diff * (m.rand.Next() - 0.5)
				w[j*nIn+i] = float32(wt)
				sum += mean[i] * wt
			}
			hidBias[j] = float32(-sum)
		}
		for i := 0; i < nIn; i++ {
			sum := 0.0
			for j := 0; j < nHid; j++ {
				sum += float64(w[j*nIn+i])
			}
			inBias[i] = float32(logit(mean[i]) - 0.5*sum)
		}

		if err = m.backend.PushParameters(inBias, hidBias, w); err != nil {
			return 0, errors.WithMessage(err, "push parameters")
		}

		trialErr := 0.0
		istart := 0
		for _, n := range sizes {
			istop := istart + n
			if err = m.backend.FetchVisible(istart, istop, 1); err != nil {
				return 0, errors.WithMessage(err, "fetch visible")
			}
			if err = m.backend.VisibleToHidden(); err != nil {
				return 0, errors.WithMessage(err, "visible to hidden")
			}
			if err = m.backend.HiddenToVisibleDirect(); err != nil {
				return 0, errors.WithMessage(err, "hidden to visible")
			}
			if err = m.backend.ReconstructionError(errVec); err != nil {
				return 0, errors.WithMessage(err, "reconstruction error")
			}
			for _, e := range errVec {
				trialErr += float64(e)
			}
			istart = istop
		}

		if trialErr < best.err {
			best.improve(trialErr, w, inBias, hidBias)
		}

		if m.interrupted() {
			m.logger.Printf("WARNING... user interrupt; weight search stopped after %d of %d trials", trial+1, nRand)
			break
		}
	}

	copy(m.Weights, best.w)
	copy(m.InBias, best.inBias)
	copy(m.HidBias, best.hidBias)

	// The trial error is one stochastic pass with these weights, so the
	// first training epoch will not reproduce it exactly, only closely.
	return best.err / float64(nc*nIn), nil
}
