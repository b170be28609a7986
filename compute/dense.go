package compute

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"
	"gorgonia.org/vecf32"
)

// The per-element sampling streams are spun off the seed the caller hands
// in, using the same 31-bit Lehmer generator the caller advances between
// operations. Schrage's decomposition keeps the product in 32 bits.
const (
	lcgA = 16807
	lcgM = 2147483647
	lcgQ = 127773
	lcgR = 2836
)

func lcgNext(s int32) int32 {
	k := s / lcgQ
	s = lcgA*(s-k*lcgQ) - lcgR*k
	if s < 0 {
		s += lcgM
	}
	return s
}

func lcgUniform(s int32) float32 { return float32(s) * (1.0 / float32(lcgM)) }

func logistic(x float32) float32 { return 1.0 / (1.0 + math32.Exp(-x)) }

// Dense is the reference Backend. It keeps every mirror the device would
// hold as an in-memory tensor and runs the propagation matmuls through
// gorgonia's dense engine. One Dense serves one training invocation at a
// time; Init and Cleanup bracket the session.
type Dense struct {
	nc, nIn, nHid, maxBatch int
	meanField, greedy       bool

	data     *tensor.Dense // nc × nIn mirror of the caller's dataset
	dataRows [][]float32
	dataMean []float32
	shuffle  []int

	inBias, hidBias []float32
	w, wT           *tensor.Dense // nHid × nIn and its transpose

	vis1, vis2         *tensor.Dense // maxBatch × nIn
	hid1, hid2, hidAct *tensor.Dense // maxBatch × nHid
	vis1Rows, vis2Rows [][]float32
	hid1Rows, hid2Rows [][]float32
	hidActRows         [][]float32

	inBiasInc, hidBiasInc []float32
	inGrad, hidGrad       []float32
	hidFrac               []float32 // positive-phase hidden activation mean
	wInc                  []float32 // momentum-smoothed weight increments
	wGrad, wPrev          []float32 // raw CD gradient, current and retired
	wScratch              []float32

	nBatch int // rows loaded by the most recent FetchVisible
	live   bool
}

// NewDense returns an uninitialized reference backend.
func NewDense() *Dense { return &Dense{} }

func (d *Dense) Init(s Session) error {
	if d.live {
		return errors.New("Init on a live session")
	}
	if s.NCases < 1 || s.NInputs < 1 || s.NHidden < 1 || s.MaxBatch < 1 {
		return errors.Errorf("bad session geometry: nc %d, inputs %d, hidden %d, max batch %d",
			s.NCases, s.NInputs, s.NHidden, s.MaxBatch)
	}
	if s.Data == nil || len(s.Data.Shape()) != 2 || s.Data.Shape()[0] != s.NCases || s.Data.Shape()[1] != s.NCols {
		return errors.Wrap(ErrHostMemory, "dataset does not match session geometry")
	}
	if len(s.DataMean) != s.NInputs || len(s.InBias) != s.NInputs ||
		len(s.HidBias) != s.NHidden || len(s.Weights) != s.NHidden*s.NInputs {
		return errors.Wrap(ErrHostMemory, "parameter vectors do not match session geometry")
	}

	d.nc = s.NCases
	d.nIn = s.NInputs
	d.nHid = s.NHidden
	d.maxBatch = s.MaxBatch
	d.meanField = s.MeanField
	d.greedy = s.GreedyMeanField

	src, err := native.MatrixF32(s.Data)
	if err != nil {
		return errors.Wrap(err, "dataset rows")
	}

	d.data = tensor.New(tensor.WithShape(d.nc, d.nIn), tensor.Of(tensor.Float32))
	if d.dataRows, err = native.MatrixF32(d.data); err != nil {
		return errors.Wrap(err, "dataset mirror rows")
	}
	for i := 0; i < d.nc; i++ {
		copy(d.dataRows[i], src[i][:d.nIn])
	}

	d.dataMean = append([]float32(nil), s.DataMean...)
	d.inBias = append([]float32(nil), s.InBias...)
	d.hidBias = append([]float32(nil), s.HidBias...)

	d.w = tensor.New(tensor.WithShape(d.nHid, d.nIn), tensor.WithBacking(append([]float32(nil), s.Weights...)))
	d.wT = tensor.New(tensor.WithShape(d.nIn, d.nHid), tensor.Of(tensor.Float32))
	d.refreshTranspose()

	d.vis1 = tensor.New(tensor.WithShape(d.maxBatch, d.nIn), tensor.Of(tensor.Float32))
	d.vis2 = tensor.New(tensor.WithShape(d.maxBatch, d.nIn), tensor.Of(tensor.Float32))
	d.hid1 = tensor.New(tensor.WithShape(d.maxBatch, d.nHid), tensor.Of(tensor.Float32))
	d.hid2 = tensor.New(tensor.WithShape(d.maxBatch, d.nHid), tensor.Of(tensor.Float32))
	d.hidAct = tensor.New(tensor.WithShape(d.maxBatch, d.nHid), tensor.Of(tensor.Float32))

	if d.vis1Rows, err = native.MatrixF32(d.vis1); err != nil {
		return errors.Wrap(err, "scratch rows")
	}
	if d.vis2Rows, err = native.MatrixF32(d.vis2); err != nil {
		return errors.Wrap(err, "scratch rows")
	}
	if d.hid1Rows, err = native.MatrixF32(d.hid1); err != nil {
		return errors.Wrap(err, "scratch rows")
	}
	if d.hid2Rows, err = native.MatrixF32(d.hid2); err != nil {
		return errors.Wrap(err, "scratch rows")
	}
	if d.hidActRows, err = native.MatrixF32(d.hidAct); err != nil {
		return errors.Wrap(err, "scratch rows")
	}

	d.shuffle = make([]int, d.nc)
	for i := range d.shuffle {
		d.shuffle[i] = i
	}

	d.inBiasInc = make([]float32, d.nIn)
	d.hidBiasInc = make([]float32, d.nHid)
	d.inGrad = make([]float32, d.nIn)
	d.hidGrad = make([]float32, d.nHid)
	d.hidFrac = make([]float32, d.nHid)
	d.wInc = make([]float32, d.nHid*d.nIn)
	d.wGrad = make([]float32, d.nHid*d.nIn)
	d.wPrev = make([]float32, d.nHid*d.nIn)
	d.wScratch = make([]float32, d.nHid*d.nIn)

	d.nBatch = 0
	d.live = true
	return nil
}

func (d *Dense) Cleanup() error {
	if !d.live {
		return ErrNotInitialized
	}
	*d = Dense{}
	return nil
}

func (d *Dense) PushShuffle(index []int) error {
	if !d.live {
		return ErrNotInitialized
	}
	if len(index) != d.nc {
		return errors.Errorf("shuffle index length %d, want %d", len(index), d.nc)
	}
	copy(d.shuffle, index)
	return nil
}

func (d *Dense) PushParameters(inBias, hidBias, w []float32) error {
	if !d.live {
		return ErrNotInitialized
	}
	copy(d.inBias, inBias)
	copy(d.hidBias, hidBias)
	copy(d.w.Data().([]float32), w)
	d.refreshTranspose()
	return nil
}

func (d *Dense) PullParameters(inBias, hidBias, w []float32) error {
	if !d.live {
		return ErrNotInitialized
	}
	copy(inBias, d.inBias)
	copy(hidBias, d.hidBias)
	copy(w, d.w.Data().([]float32))
	return nil
}

func (d *Dense) FetchVisible(start, stop int, seed int32) error {
	if !d.live {
		return ErrNotInitialized
	}
	n := stop - start
	if n < 1 || n > d.maxBatch || stop > d.nc {
		return errors.Errorf("bad batch bounds [%d, %d)", start, stop)
	}
	d.nBatch = n
	for i := 0; i < n; i++ {
		src := d.dataRows[d.shuffle[start+i]]
		dst := d.vis1Rows[i]
		if d.greedy {
			copy(dst, src)
			continue
		}
		for j, p := range src {
			seed = lcgNext(seed)
			if lcgUniform(seed) < p {
				dst[j] = 1
			} else {
				dst[j] = 0
			}
		}
	}
	return nil
}

// propagate computes dst = σ(src · w + bias) over the first n rows.
func (d *Dense) propagate(src, w *tensor.Dense, dstRows [][]float32, bias []float32, n int) error {
	var s slicer
	in := s.Slice(src, sli(0, n))
	if s.err != nil {
		return s.err
	}
	prod, err := tensor.Dot(in, w)
	if err != nil {
		return errors.Wrap(err, "propagation matmul")
	}
	flat := prod.(*tensor.Dense).Data().([]float32)
	cols := len(bias)
	for i := 0; i < n; i++ {
		row := dstRows[i]
		raw := flat[i*cols : (i+1)*cols]
		for j := range row {
			row[j] = logistic(raw[j] + bias[j])
		}
	}
	return nil
}

func (d *Dense) VisibleToHidden() error {
	if !d.live {
		return ErrNotInitialized
	}
	if err := d.propagate(d.vis1, d.wT, d.hid1Rows, d.hidBias, d.nBatch); err != nil {
		return err
	}
	for i := 0; i < d.nBatch; i++ {
		copy(d.hid2Rows[i], d.hid1Rows[i])
	}
	return nil
}

func (d *Dense) SampleHidden(seed int32) error {
	if !d.live {
		return ErrNotInitialized
	}
	for i := 0; i < d.nBatch; i++ {
		act := d.hidActRows[i]
		for j, p := range d.hid2Rows[i] {
			seed = lcgNext(seed)
			if lcgUniform(seed) < p {
				act[j] = 1
			} else {
				act[j] = 0
			}
		}
	}
	return nil
}

func (d *Dense) HiddenToVisible(seed int32) error {
	if !d.live {
		return ErrNotInitialized
	}
	if err := d.propagate(d.hidAct, d.w, d.vis2Rows, d.inBias, d.nBatch); err != nil {
		return err
	}
	if d.meanField {
		return nil
	}
	for i := 0; i < d.nBatch; i++ {
		row := d.vis2Rows[i]
		for j, p := range row {
			seed = lcgNext(seed)
			if lcgUniform(seed) < p {
				row[j] = 1
			} else {
				row[j] = 0
			}
		}
	}
	return nil
}

func (d *Dense) HiddenToVisibleDirect() error {
	if !d.live {
		return ErrNotInitialized
	}
	return d.propagate(d.hid2, d.w, d.vis2Rows, d.inBias, d.nBatch)
}

func (d *Dense) Visible2ToHidden2() error {
	if !d.live {
		return ErrNotInitialized
	}
	return d.propagate(d.vis2, d.wT, d.hid2Rows, d.hidBias, d.nBatch)
}

func (d *Dense) ReconstructionError(dst []float32) error {
	if !d.live {
		return ErrNotInitialized
	}
	if len(dst) != d.nIn {
		return errors.Errorf("error vector length %d, want %d", len(dst), d.nIn)
	}
	for j := range dst {
		dst[j] = 0
	}
	for i := 0; i < d.nBatch; i++ {
		v1 := d.vis1Rows[i]
		v2 := d.vis2Rows[i]
		for j := range dst {
			diff := v1[j] - v2[j]
			dst[j] += diff * diff
		}
	}
	return nil
}

func (d *Dense) UpdateVisibleBias(rate, momentum float32) error {
	if !d.live {
		return ErrNotInitialized
	}
	grad := d.inGrad
	for j := range grad {
		grad[j] = 0
	}
	for i := 0; i < d.nBatch; i++ {
		v1 := d.vis1Rows[i]
		v2 := d.vis2Rows[i]
		for j := range grad {
			grad[j] += v1[j] - v2[j]
		}
	}
	vecf32.Scale(grad, rate/float32(d.nBatch))
	vecf32.Scale(d.inBiasInc, momentum)
	vecf32.Add(d.inBiasInc, grad)
	vecf32.Add(d.inBias, d.inBiasInc)
	return nil
}

func (d *Dense) UpdateHiddenBias(rate, momentum float32, seed int32, sparsityPenalty, sparsityTarget float32) error {
	if !d.live {
		return ErrNotInitialized
	}

	// Positive phase: hidden1 probabilities under mean field, otherwise a
	// fresh binary sample of hidden1.
	pos := d.hid1Rows
	if !d.meanField {
		for i := 0; i < d.nBatch; i++ {
			act := d.hidActRows[i]
			for j, p := range d.hid1Rows[i] {
				seed = lcgNext(seed)
				if lcgUniform(seed) < p {
					act[j] = 1
				} else {
					act[j] = 0
				}
			}
		}
		pos = d.hidActRows
	}

	grad := d.hidGrad
	for j := range grad {
		grad[j] = 0
		d.hidFrac[j] = 0
	}
	for i := 0; i < d.nBatch; i++ {
		p := pos[i]
		h2 := d.hid2Rows[i]
		for j := range grad {
			grad[j] += p[j] - h2[j]
			d.hidFrac[j] += p[j]
		}
	}
	n := float32(d.nBatch)
	vecf32.Scale(grad, 1/n)
	vecf32.Scale(d.hidFrac, 1/n)
	for j := range grad {
		grad[j] -= sparsityPenalty * (d.hidFrac[j] - sparsityTarget)
	}
	vecf32.Scale(grad, rate)
	vecf32.Scale(d.hidBiasInc, momentum)
	vecf32.Add(d.hidBiasInc, grad)
	vecf32.Add(d.hidBias, d.hidBiasInc)
	return nil
}

func (d *Dense) UpdateWeights(rate, momentum, weightPenalty, sparsityPenalty, sparsityTarget float32) error {
	if !d.live {
		return ErrNotInitialized
	}
	grad := d.wGrad
	for k := range grad {
		grad[k] = 0
	}
	for c := 0; c < d.nBatch; c++ {
		v1 := d.vis1Rows[c]
		v2 := d.vis2Rows[c]
		h1 := d.hid1Rows[c]
		h2 := d.hid2Rows[c]
		for j := 0; j < d.nHid; j++ {
			pj := h1[j]
			nj := h2[j]
			row := grad[j*d.nIn : (j+1)*d.nIn]
			for i := range row {
				row[i] += pj*v1[i] - nj*v2[i]
			}
		}
	}
	vecf32.Scale(grad, 1/float32(d.nBatch))

	// Penalized gradient goes into the momentum buffer; the raw gradient
	// stays behind for GradientLengthAndDot.
	wd := d.w.Data().([]float32)
	copy(d.wScratch, grad)
	for j := 0; j < d.nHid; j++ {
		sparse := sparsityPenalty * (d.hidFrac[j] - sparsityTarget)
		for i := 0; i < d.nIn; i++ {
			k := j*d.nIn + i
			d.wScratch[k] -= weightPenalty*wd[k] + sparse*d.dataMean[i]
		}
	}
	vecf32.Scale(d.wScratch, rate)
	vecf32.Scale(d.wInc, momentum)
	vecf32.Add(d.wInc, d.wScratch)
	vecf32.Add(wd, d.wInc)
	return nil
}

func (d *Dense) TransposeWeights() error {
	if !d.live {
		return ErrNotInitialized
	}
	d.refreshTranspose()
	return nil
}

func (d *Dense) refreshTranspose() {
	wd := d.w.Data().([]float32)
	td := d.wT.Data().([]float32)
	for j := 0; j < d.nHid; j++ {
		for i := 0; i < d.nIn; i++ {
			td[i*d.nHid+j] = wd[j*d.nIn+i]
		}
	}
}

func (d *Dense) MaxWeights(increments bool) (float32, error) {
	if !d.live {
		return 0, ErrNotInitialized
	}
	src := d.w.Data().([]float32)
	if increments {
		src = d.wInc
	}
	var max float32
	for _, v := range src {
		if a := math32.Abs(v); a > max {
			max = a
		}
	}
	return max, nil
}

func (d *Dense) GradientLengthAndDot() (length, dot float32, err error) {
	if !d.live {
		return 0, 0, ErrNotInitialized
	}
	for k, g := range d.wGrad {
		length += g * g
		dot += g * d.wPrev[k]
	}
	copy(d.wPrev, d.wGrad)
	return length, dot, nil
}
