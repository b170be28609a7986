package boltzmann

// The random stream that drives device-side sampling is the classic 31-bit
// Lehmer generator (Park–Miller minimal standard), advanced on the host and
// handed down by value so a run is reproducible from its starting seed
// alone. Schrage's decomposition keeps the product in 32 bits.
const (
	seedA = 16807
	seedM = 2147483647
	seedQ = 127773
	seedR = 2836
)

// Seed is one state of the sampling stream. The zero Seed is not valid;
// start from 1 (or any value in [1, 2^31-2]).
type Seed int32

// Next returns the following state. Seed is a value type; advancing never
// mutates in place.
func (s Seed) Next() Seed {
	k := s / seedQ
	s = seedA*(s-k*seedQ) - seedR*k
	if s < 0 {
		s += seedM
	}
	return s
}

// Int32 is the form backends take.
func (s Seed) Int32() int32 { return int32(s) }

// Uniform is the continuous random source used for host-side draws: trial
// weight generation and the epoch shuffle. Next yields values in [0, 1).
type Uniform interface {
	Next() float64
}

// lehmerSource is the default Uniform, running the same generator as Seed
// on its own state.
type lehmerSource struct {
	s Seed
}

// NewUniform returns a Uniform seeded with the given state. Seeds outside
// [1, 2^31-2] are folded back in.
func NewUniform(seed int32) Uniform {
	if seed <= 0 {
		seed = -seed + 1
	}
	if seed >= seedM {
		seed = seedM - 1
	}
	return &lehmerSource{s: Seed(seed)}
}

func (l *lehmerSource) Next() float64 {
	l.s = l.s.Next()
	return float64(l.s) / float64(seedM)
}

// shuffle permutes index in place, Fisher–Yates driven by u. The j >= i
// guard protects against a source that returns values equal to 1 after
// rounding.
func shuffle(index []int, u Uniform) {
	i := len(index)
	for i > 1 {
		j := int(u.Next() * float64(i))
		if j >= i {
			j = i - 1
		}
		i--
		index[i], index[j] = index[j], index[i]
	}
}
