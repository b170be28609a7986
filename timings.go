package boltzmann

import (
	"log"
	"time"
)

// Timings accumulates wall time per backend operation across one Train
// call. It is owned by the Machine and reset at the start of every run;
// nothing about it is global.
type Timings struct {
	Launches      int // batch-level launches
	ChainLaunches int // Markov-chain-step launches

	Fetch         time.Duration
	VisToHid      time.Duration
	HidToVis      time.Duration
	Vis2ToHid2    time.Duration
	SampleHidden  time.Duration
	Recon         time.Duration
	UpdateInBias  time.Duration
	UpdateHidBias time.Duration
	UpdateWeights time.Duration
	Transpose     time.Duration
	MaxInc        time.Duration
	LenDot        time.Duration
}

func (t Timings) total() time.Duration {
	return t.Fetch + t.VisToHid + t.HidToVis + t.Vis2ToHid2 + t.SampleHidden +
		t.Recon + t.UpdateInBias + t.UpdateHidBias + t.UpdateWeights +
		t.Transpose + t.MaxInc + t.LenDot
}

// Log writes the per-operation table: total seconds, share of the run, and
// time per launch.
func (t Timings) Log(l *log.Logger) {
	sum := t.total()
	if sum <= 0 || t.Launches == 0 {
		return
	}
	line := func(name string, d time.Duration, launches int) {
		if launches == 0 {
			launches = 1
		}
		l.Printf("  %-22s %9.3fs  (%5.1f%%)  %.6fs per launch",
			name, d.Seconds(), 100*float64(d)/float64(sum), d.Seconds()/float64(launches))
	}
	l.Printf("backend times:")
	line("fetch batch", t.Fetch, t.Launches)
	line("visible to hidden1", t.VisToHid, t.Launches)
	line("hidden to visible2", t.HidToVis, t.Launches+t.ChainLaunches)
	line("visible2 to hidden2", t.Vis2ToHid2, t.Launches+t.ChainLaunches)
	line("sample hidden2", t.SampleHidden, t.ChainLaunches)
	line("reconstruction", t.Recon, t.Launches)
	line("update input bias", t.UpdateInBias, t.Launches)
	line("update hidden bias", t.UpdateHidBias, t.Launches)
	line("update weights", t.UpdateWeights, t.Launches)
	line("transpose", t.Transpose, t.Launches)
	line("max increment/weight", t.MaxInc, t.Launches)
	line("gradient length/dot", t.LenDot, t.Launches)
}

// timed runs op, adding its wall time to *d.
func timed(d *time.Duration, op func() error) error {
	start := time.Now()
	err := op()
	*d += time.Since(start)
	return err
}
