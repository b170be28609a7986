package boltzmann

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorgonia.org/tensor"
)

// bernoulliData builds an nc × ncols dataset of independent Bernoulli(p)
// columns from a fixed uniform source.
func bernoulliData(nc, ncols int, p float64, seed int32) *tensor.Dense {
	u := NewUniform(seed)
	backing := make([]float32, nc*ncols)
	for i := range backing {
		if u.Next() < p {
			backing[i] = 1
		}
	}
	return tensor.New(tensor.WithShape(nc, ncols), tensor.WithBacking(backing))
}

func quietConfig(nInputs, nHidden int) Config {
	conf := DefaultConfig(nInputs, nHidden)
	conf.Logger = log.New(&bytes.Buffer{}, "", 0)
	return conf
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	conf := DefaultConfig(10, 5)
	conf.NBatches = 0
	assert.Panics(t, func() { New(conf) })
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.True(t, DefaultConfig(10, 5).IsValid())
}

func TestDataMeanClamped(t *testing.T) {
	assert := assert.New(t)
	// One all-zero column, one all-one column, one mixed.
	backing := []float32{
		0, 1, 1,
		0, 1, 0,
		0, 1, 1,
		0, 1, 0,
	}
	data := tensor.New(tensor.WithShape(4, 3), tensor.WithBacking(backing))

	m := New(quietConfig(3, 2))
	rows, err := m.checkData(data)
	assert.NoError(err)

	mean := m.dataMean(rows)
	for i, v := range mean {
		assert.True(v > 0 && v < 1, "mean[%d] = %v must stay inside (0,1)", i, v)
	}
	assert.Equal(1e-8, mean[0])
	assert.Equal(1.0-1e-8, mean[1])
	assert.InDelta(0.5, mean[2], 1e-12)
}

func TestCheckDataRejectsBadShapes(t *testing.T) {
	m := New(quietConfig(10, 5))
	_, err := m.checkData(nil)
	assert.Error(t, err)

	narrow := tensor.New(tensor.WithShape(4, 3), tensor.Of(tensor.Float32))
	_, err = m.checkData(narrow)
	assert.Error(t, err, "fewer columns than NInputs")
}
