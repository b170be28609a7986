package boltzmann

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/gorgonia/boltzmann/compute"
)

// scriptBackend is a scripted compute.Backend for exercising the control
// flow without real numerics. Every op succeeds unless told otherwise;
// MaxWeights answers from fixed values so the convergence ratio is under
// the test's control.
type scriptBackend struct {
	inc    float32 // answer for MaxWeights(true)
	weight float32 // answer for MaxWeights(false)

	initErr   error
	failOp    string // name of the op that should fail, "" for none
	failAfter int    // fail on the Nth call of failOp (1-based)

	calls    map[string]int
	cleanups int
	nInputs  int
}

func newScriptBackend(inc, weight float32) *scriptBackend {
	return &scriptBackend{inc: inc, weight: weight, calls: make(map[string]int)}
}

func (b *scriptBackend) op(name string) error {
	b.calls[name]++
	if name == b.failOp && b.calls[name] >= b.failAfter {
		return errors.New(name + " failed")
	}
	return nil
}

func (b *scriptBackend) Init(s compute.Session) error {
	if b.initErr != nil {
		return b.initErr
	}
	b.nInputs = s.NInputs
	return b.op("init")
}
func (b *scriptBackend) Cleanup() error                               { b.cleanups++; return nil }
func (b *scriptBackend) PushShuffle([]int) error                      { return b.op("pushShuffle") }
func (b *scriptBackend) PushParameters(_, _, _ []float32) error       { return b.op("pushParams") }
func (b *scriptBackend) PullParameters(_, _, _ []float32) error       { return b.op("pullParams") }
func (b *scriptBackend) FetchVisible(_, _ int, _ int32) error         { return b.op("fetch") }
func (b *scriptBackend) VisibleToHidden() error                       { return b.op("visToHid") }
func (b *scriptBackend) SampleHidden(int32) error                     { return b.op("sampleHidden") }
func (b *scriptBackend) HiddenToVisible(int32) error                  { return b.op("hidToVis") }
func (b *scriptBackend) HiddenToVisibleDirect() error                 { return b.op("hidToVisDirect") }
func (b *scriptBackend) Visible2ToHidden2() error                     { return b.op("vis2ToHid2") }
func (b *scriptBackend) UpdateVisibleBias(_, _ float32) error         { return b.op("updateInBias") }
func (b *scriptBackend) TransposeWeights() error                      { return b.op("transpose") }
func (b *scriptBackend) UpdateHiddenBias(_, _ float32, _ int32, _, _ float32) error {
	return b.op("updateHidBias")
}
func (b *scriptBackend) UpdateWeights(_, _, _, _, _ float32) error { return b.op("updateWeights") }
func (b *scriptBackend) ReconstructionError(dst []float32) error {
	for i := range dst {
		dst[i] = 0
	}
	return b.op("recon")
}
func (b *scriptBackend) MaxWeights(increments bool) (float32, error) {
	if err := b.op("maxWeights"); err != nil {
		return 0, err
	}
	if increments {
		return b.inc, nil
	}
	return b.weight, nil
}
func (b *scriptBackend) GradientLengthAndDot() (float32, float32, error) {
	return 1, 0, b.op("lenDot")
}

func scriptedConfig(be compute.Backend) Config {
	conf := quietConfig(10, 5)
	conf.NBatches = 4
	conf.MaxEpochs = 50
	conf.ConvergenceCrit = 1e-3
	conf.Backend = be
	return conf
}

func TestTrainConvergesTheEpochTheRatioDrops(t *testing.T) {
	assert := assert.New(t)
	// ratio = 1e-4 / 1.0, below crit from the first epoch.
	be := newScriptBackend(1e-4, 1.0)
	m := New(scriptedConfig(be))

	_, err := m.Train(bernoulliData(100, 10, 0.3, 11))
	assert.NoError(err)
	assert.Equal(1, be.calls["pushShuffle"], "must stop after the first epoch, not later")
	assert.Equal(1, be.calls["pullParams"], "trained parameters must be pulled")
	assert.Equal(1, be.cleanups, "teardown exactly once")
}

func TestTrainStallStopsWhenCounterExceedsLimit(t *testing.T) {
	assert := assert.New(t)
	// ratio is constant, so epoch 0 sets the best and every later epoch
	// is a miss. MaxNoImprovement = 2 stops at the third miss: epoch 3.
	be := newScriptBackend(0.5, 1.0)
	conf := scriptedConfig(be)
	conf.ConvergenceCrit = 1e-9
	conf.MaxNoImprovement = 2
	m := New(conf)

	_, err := m.Train(bernoulliData(100, 10, 0.3, 11))
	assert.NoError(err)
	assert.Equal(4, be.calls["pushShuffle"], "epochs 0..3 must run, then stall-stop")
	assert.Equal(1, be.cleanups)
}

func TestTrainBackendFailureIsFatalAndTornDown(t *testing.T) {
	assert := assert.New(t)
	be := newScriptBackend(0.5, 1.0)
	be.failOp = "updateWeights"
	be.failAfter = 3
	conf := scriptedConfig(be)
	conf.ConvergenceCrit = 1e-9
	m := New(conf)

	_, err := m.Train(bernoulliData(100, 10, 0.3, 11))
	assert.Error(err, "a mid-training backend failure must abort the invocation")
	assert.Equal(1, be.cleanups, "teardown still happens, exactly once")
	assert.Equal(0, be.calls["pullParams"], "no parameters pulled from a corrupt session")
}

func TestTrainInitFailureCommitsNothing(t *testing.T) {
	assert := assert.New(t)
	be := newScriptBackend(0.5, 1.0)
	be.initErr = errors.Wrap(compute.ErrDeviceMemory, "mirror allocation")
	m := New(scriptedConfig(be))

	before := append([]float32(nil), m.Weights...)
	_, err := m.Train(bernoulliData(100, 10, 0.3, 11))
	assert.Error(err)
	assert.Equal(compute.ErrDeviceMemory, errors.Cause(err))
	assert.Equal(0, be.cleanups, "nothing to tear down when init failed")
	assert.Equal(before, m.Weights, "no partial state committed")
}

// countingBackend wraps the real backend to count teardowns.
type countingBackend struct {
	compute.Backend
	cleanups int
}

func (c *countingBackend) Cleanup() error {
	c.cleanups++
	return c.Backend.Cleanup()
}

func TestTrainInterruptAfterFirstEpoch(t *testing.T) {
	assert := assert.New(t)
	be := &countingBackend{Backend: compute.NewDense()}

	conf := quietConfig(10, 5)
	conf.NBatches = 4
	conf.MaxEpochs = 20
	conf.ConvergenceCrit = 1e-12 // keep convergence out of the way
	conf.Backend = be
	conf.Interrupt = func() bool { return true } // polled from epoch 1 onward
	m := New(conf)

	data := bernoulliData(100, 10, 0.3, 11)
	_, err := m.InitWeights(data, 2)
	assert.NoError(err)
	assert.Equal(1, be.cleanups)

	lastErr, err := m.Train(data)
	assert.NoError(err, "an interrupt is a graceful stop, not an error")
	assert.True(lastErr > 0, "epoch 0 must complete and report its error")
	assert.Equal(2, be.cleanups, "one teardown per invocation")
}

func TestTrainEndToEnd(t *testing.T) {
	assert := assert.New(t)
	// The §-scale scenario: 100 cases of independent Bernoulli(0.3)
	// columns, 10 visible, 5 hidden, 4 batches.
	data := bernoulliData(100, 10, 0.3, 11)

	conf := quietConfig(10, 5)
	conf.NBatches = 4
	conf.MaxEpochs = 50
	conf.ConvergenceCrit = 1e-3
	m := New(conf)

	_, err := m.InitWeights(data, 5)
	assert.NoError(err)

	lastErr, err := m.Train(data)
	assert.NoError(err)
	assert.True(lastErr > 0 && lastErr < 1,
		"mean per-case-per-input error must be a sane fraction, got %v", lastErr)

	for i, w := range m.Weights {
		if math.IsNaN(float64(w)) || math.IsInf(float64(w), 0) {
			t.Fatalf("weight %d is not finite: %v", i, w)
		}
	}
	for i, b := range m.InBias {
		if math.IsNaN(float64(b)) || math.IsInf(float64(b), 0) {
			t.Fatalf("visible bias %d is not finite: %v", i, b)
		}
	}
}

func TestTrainDeterministic(t *testing.T) {
	data := bernoulliData(80, 10, 0.3, 11)

	run := func() ([]float32, []float32, []float32, float64) {
		conf := quietConfig(10, 5)
		conf.NBatches = 4
		conf.MaxEpochs = 15
		conf.ConvergenceCrit = 1e-9
		conf.Rand = NewUniform(31)
		m := New(conf)
		if _, err := m.InitWeights(data, 3); err != nil {
			t.Fatal(err)
		}
		lastErr, err := m.Train(data)
		if err != nil {
			t.Fatal(err)
		}
		return m.Weights, m.InBias, m.HidBias, lastErr
	}

	w1, in1, hid1, err1 := run()
	w2, in2, hid2, err2 := run()

	if diff := cmp.Diff(w1, w2); diff != "" {
		t.Errorf("weight trajectories diverged (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(in1, in2); diff != "" {
		t.Errorf("visible biases diverged:\n%s", diff)
	}
	if diff := cmp.Diff(hid1, hid2); diff != "" {
		t.Errorf("hidden biases diverged:\n%s", diff)
	}
	if err1 != err2 {
		t.Errorf("epoch errors diverged: %v vs %v", err1, err2)
	}
}
