package boltzmann

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Train runs the full contrastive-divergence loop from the machine's
// current parameters: per-epoch reshuffle, per-batch Gibbs chain and
// parameter updates, and the adaptive controller in between. It stops on
// convergence, stall, epoch exhaustion or interrupt, and returns the mean
// reconstruction error of the last fully summed epoch.
//
// An interrupt mid-epoch abandons the remaining batches, so that epoch's
// error is an undercount; the returned value is from the last complete
// epoch. Interrupts are ignored during epoch 0 so at least one full epoch
// always runs. Any backend failure is fatal to the invocation; the backend
// session is torn down on every exit path, exactly once.
func (m *Machine) Train(data *tensor.Dense) (float64, error) {
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

	sess := m.session(data, mean, maxBatchSize(nc, m.NBatches), m.MeanField, m.GreedyMeanField)
	if err = m.initBackend(sess); err != nil {
		return 0, err
	}
	defer func() {
		if cerr := m.backend.Cleanup(); cerr != nil {
			m.logger.Printf("WARNING... backend cleanup failed: %v", cerr)
		}
	}()

	m.timings = Timings{}
	t := &m.timings

	index := make([]int, nc)
	for i := range index {
		index[i] = i
	}

	ctl := newController(m.Config)
	errVec := make([]float32, m.NInputs)
	seed := Seed(1)

	var (
		lastErr float64 // error of the last completely summed epoch
		bestErr float64 // best epoch error seen; tracked, not yet consumed
		tripped bool
	)

	for epoch := 0; epoch < m.MaxEpochs; epoch++ {
		// Reshuffle so serial correlation in the data cannot pin similar
		// cases into the same batch, and so batch contents vary epoch to
		// epoch.
		shuffle(index, m.rand)
		if err = m.backend.PushShuffle(index); err != nil {
			return lastErr, errors.WithMessage(err, "push shuffle")
		}

		istart := 0
		epochErr := 0.0
		maxInc := 0.0

		for _, n := range sizes {
			istop := istart + n
			t.Launches++

			// Under greedy mean field the fetch consumes no randomness,
			// and the stream must not advance for it either.
			if !m.GreedyMeanField {
				seed = seed.Next()
			}
			if err = timed(&t.Fetch, func() error {
				return m.backend.FetchVisible(istart, istop, seed.Int32())
			}); err != nil {
				return lastErr, errors.WithMessage(err, "fetch visible")
			}

			if err = timed(&t.VisToHid, func() error {
				return m.backend.VisibleToHidden()
			}); err != nil {
				return lastErr, errors.WithMessage(err, "visible to hidden")
			}

			// Markov chain. Only the first step's reconstruction error is
			// captured: the one-step error is the convergence signal, and
			// it must not depend on how far the chain has been annealed.
			steps := ctl.chainSteps()
			for ichain := 0; ichain < steps; ichain++ {
				t.ChainLaunches++

				seed = seed.Next()
				if err = timed(&t.SampleHidden, func() error {
					return m.backend.SampleHidden(seed.Int32())
				}); err != nil {
					return lastErr, errors.WithMessage(err, "sample hidden")
				}

				seed = seed.Next()
				if err = timed(&t.HidToVis, func() error {
					return m.backend.HiddenToVisible(seed.Int32())
				}); err != nil {
					return lastErr, errors.WithMessage(err, "hidden to visible")
				}

				if ichain == 0 {
					if err = timed(&t.Recon, func() error {
						return m.backend.ReconstructionError(errVec)
					}); err != nil {
						return lastErr, errors.WithMessage(err, "reconstruction error")
					}
				}

				if err = timed(&t.Vis2ToHid2, func() error {
					return m.backend.Visible2ToHidden2()
				}); err != nil {
					return lastErr, errors.WithMessage(err, "visible2 to hidden2")
				}
			}

			rate := float32(ctl.learningRate)
			mom := float32(ctl.momentum)

			if err = timed(&t.UpdateInBias, func() error {
				return m.backend.UpdateVisibleBias(rate, mom)
			}); err != nil {
				return lastErr, errors.WithMessage(err, "update visible bias")
			}

			// The hidden-bias update samples hidden1 when not mean field.
			seed = seed.Next()
			if err = timed(&t.UpdateHidBias, func() error {
				return m.backend.UpdateHiddenBias(rate, mom, seed.Int32(),
					float32(m.SparsityPenalty), float32(m.SparsityTarget))
			}); err != nil {
				return lastErr, errors.WithMessage(err, "update hidden bias")
			}

			if err = timed(&t.UpdateWeights, func() error {
				return m.backend.UpdateWeights(rate, mom, float32(m.WeightPenalty),
					float32(m.SparsityPenalty), float32(m.SparsityTarget))
			}); err != nil {
				return lastErr, errors.WithMessage(err, "update weights")
			}

			if err = timed(&t.Transpose, func() error {
				return m.backend.TransposeWeights()
			}); err != nil {
				return lastErr, errors.WithMessage(err, "transpose weights")
			}

			for _, e := range errVec {
				epochErr += float64(e)
			}

			var inc float32
			if err = timed(&t.MaxInc, func() error {
				inc, err = m.backend.MaxWeights(true)
				return err
			}); err != nil {
				return lastErr, errors.WithMessage(err, "max increment")
			}
			if float64(inc) > maxInc {
				maxInc = float64(inc)
			}

			if epoch > 0 && m.interrupted() {
				tripped = true
				break
			}

			var length, dot float32
			if err = timed(&t.LenDot, func() error {
				length, dot, err = m.backend.GradientLengthAndDot()
				return err
			}); err != nil {
				return lastErr, errors.WithMessage(err, "gradient length and dot")
			}
			ctl.observe(float64(length), float64(dot))

			istart = istop
		}

		if epoch > 0 && (tripped || m.interrupted()) {
			m.logger.Printf("WARNING... user interrupt; epoch %d abandoned, its error undercounted", epoch)
			break
		}

		epochErr /= float64(nc * m.NInputs)
		lastErr = epochErr
		if epoch == 0 || epochErr < bestErr {
			bestErr = epochErr
		}

		var maxWeight float32
		if err = timed(&t.MaxInc, func() error {
			maxWeight, err = m.backend.MaxWeights(false)
			return err
		}); err != nil {
			return lastErr, errors.WithMessage(err, "max weight")
		}
		ratio := maxInc / float64(maxWeight)

		m.logger.Printf("epoch %d: err %.6f  ratio %.5f  rate %.4f  momentum %.3f  chain %d  grad %.5f  dot %.3f",
			epoch, epochErr, ratio, ctl.learningRate, ctl.momentum, ctl.chainSteps(), ctl.smoothedLen, ctl.smoothedDot)

		switch ctl.endEpoch(ratio) {
		case stopConverged:
			m.logger.Printf("converged at epoch %d: ratio %.6g below %.6g", epoch, ratio, m.ConvergenceCrit)
			return m.finish(lastErr)
		case stopStalled:
			m.logger.Printf("stopped at epoch %d: no ratio improvement in %d epochs", epoch, ctl.noImprovement)
			return m.finish(lastErr)
		}
	}

	return m.finish(lastErr)
}

// finish pulls the trained parameters off the backend and logs the timing
// table. Cleanup is the caller's deferred responsibility.
func (m *Machine) finish(lastErr float64) (float64, error) {
	if err := m.backend.PullParameters(m.InBias, m.HidBias, m.Weights); err != nil {
		return lastErr, errors.WithMessage(err, "pull parameters")
	}
	m.timings.Log(m.logger)
	return lastErr, nil
}
