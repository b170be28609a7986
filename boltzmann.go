// Package boltzmann trains Restricted Boltzmann Machines with mini-batch
// contrastive divergence. The host side owns the control flow: a multi-trial
// weight initializer, the epoch/batch/Markov-chain training loop, and an
// adaptive controller that retunes the learning rate, momentum and chain
// length from gradient-direction statistics. All bulk numeric work goes
// through a compute.Backend, and every sampling decision the backend makes
// is seeded from a host-side stream, so runs are reproducible bit for bit.
package boltzmann

import (
	"log"
	"math"
	"os"

	"github.com/gorgonia/boltzmann/compute"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
)

// Machine is the entry point of the API: one RBM plus the collaborators
// that train it. A Machine supports one training invocation at a time.
type Machine struct {
	Config

	// The parameter set being optimized. Weights is row-major,
	// NHidden rows of NInputs columns.
	Weights []float32
	InBias  []float32
	HidBias []float32

	backend   compute.Backend
	rand      Uniform
	interrupt Interrupt
	logger    *log.Logger

	timings Timings
}

// New builds a Machine from conf, filling in default collaborators for any
// extension field left nil.
func New(conf Config) *Machine {
	if !conf.IsValid() {
		panic("Config is not valid. Unable to proceed")
	}

	m := &Machine{
		Config:    conf,
		Weights:   make([]float32, conf.NHidden*conf.NInputs),
		InBias:    make([]float32, conf.NInputs),
		HidBias:   make([]float32, conf.NHidden),
		backend:   conf.Backend,
		rand:      conf.Rand,
		interrupt: conf.Interrupt,
		logger:    conf.Logger,
	}
	if m.backend == nil {
		m.backend = compute.NewDense()
	}
	if m.rand == nil {
		m.rand = NewUniform(97)
	}
	if m.logger == nil {
		m.logger = log.New(os.Stderr, "", log.Ltime)
	}
	return m
}

// Timings reports the per-operation wall time accumulated by the most
// recent call to Train.
func (m *Machine) Timings() Timings { return m.timings }

func (m *Machine) interrupted() bool {
	if m.interrupt == nil {
		return false
	}
	return m.interrupt()
}

// dataMean computes the per-input empirical mean over the first NInputs
// columns, clamped away from 0 and 1 so its log odds stay finite.
func (m *Machine) dataMean(rows [][]float32) []float64 {
	mean := make([]float64, m.NInputs)
	for _, row := range rows {
		for i := 0; i < m.NInputs; i++ {
			mean[i] += float64(row[i])
		}
	}
	nc := float64(len(rows))
	for i := range mean {
		mean[i] /= nc
		if mean[i] < 1e-8 {
			mean[i] = 1e-8
		}
		if mean[i] > 1.0-1e-8 {
			mean[i] = 1.0 - 1e-8
		}
	}
	return mean
}

// checkData validates the dataset tensor and returns its row views.
func (m *Machine) checkData(data *tensor.Dense) ([][]float32, error) {
	if data == nil {
		return nil, errors.New("nil dataset")
	}
	shp := data.Shape()
	if len(shp) != 2 {
		return nil, errors.Errorf("dataset must be 2D, got shape %v", shp)
	}
	if shp[0] < 1 || shp[1] < m.NInputs {
		return nil, errors.Errorf("dataset shape %v cannot supply %d inputs", shp, m.NInputs)
	}
	rows, err := native.MatrixF32(data)
	if err != nil {
		return nil, errors.Wrap(err, "dataset rows")
	}
	return rows, nil
}

// session assembles the backend session for a dataset. The float64 mean is
// narrowed here; the clamp is enforced on the float64 vector, which is the
// one the host keeps using for log odds.
func (m *Machine) session(data *tensor.Dense, mean []float64, maxBatch int, meanField, greedy bool) compute.Session {
	mean32 := make([]float32, len(mean))
	for i, v := range mean {
		mean32[i] = float32(v)
	}
	return compute.Session{
		NCases:          data.Shape()[0],
		NCols:           data.Shape()[1],
		NInputs:         m.NInputs,
		NHidden:         m.NHidden,
		MaxBatch:        maxBatch,
		MeanField:       meanField,
		GreedyMeanField: greedy,
		Data:            data,
		DataMean:        mean32,
		InBias:          m.InBias,
		HidBias:         m.HidBias,
		Weights:         m.Weights,
	}
}

// initBackend runs Backend.Init and translates its failure taxonomy into
// audit lines. All three failure classes are non-retryable.
func (m *Machine) initBackend(s compute.Session) error {
	err := m.backend.Init(s)
	switch errors.Cause(err) {
	case nil:
		return nil
	case compute.ErrHostMemory:
		m.logger.Printf("ERROR... insufficient memory: %v", err)
	case compute.ErrDeviceMemory:
		m.logger.Printf("WARNING... insufficient device memory: %v", err)
	case compute.ErrDevice:
		m.logger.Printf("WARNING... device error (this should never happen; please contact the developer): %v", err)
	default:
		m.logger.Printf("ERROR... backend initialization failed: %v", err)
	}
	return errors.WithMessage(err, "backend init")
}

func logit(p float64) float64 { return math.Log(p / (1.0 - p)) }
