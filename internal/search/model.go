package search

// Model is the forward model mapping a counter to the identifier pairs it
// produces, one pair per advance.
type Model interface {
	Generator() Generator
}

// Generator fills dst with the pairs produced by advances 0..len(dst)-1 from c.
// A Generator is used by one goroutine only.
type Generator interface {
	Pairs(c Counter, dst []Pair)
}

const (
	mtN         = 624
	mtM         = 397
	mtMatrixA   = 0x9908b0df
	mtUpperMask = 0x80000000
	mtLowerMask = 0x7fffffff
)

// MT is the console's identifier model: a 32 bit Mersenne Twister seeded with
// the counter, where every advance consumes one output and the low and high
// halves of that output are the primary and secondary identifiers.
type MT struct{}

func (MT) Generator() Generator {
	return &mersenne{}
}

type mersenne struct {
	state [mtN]uint32
	index int
}

func (m *mersenne) seed(s uint32) {
	m.state[0] = s
	for i := 1; i < mtN; i++ {
		prev := m.state[i-1]
		m.state[i] = 1812433253*(prev^(prev>>30)) + uint32(i)
	}
	m.index = 0
}

// next twists one word at a time, in the same order a full twist would, so
// a short window never pays for the whole state.
func (m *mersenne) next() uint32 {
	i := m.index
	y := (m.state[i] & mtUpperMask) | (m.state[(i+1)%mtN] & mtLowerMask)
	v := m.state[(i+mtM)%mtN] ^ (y >> 1)
	if y&1 != 0 {
		v ^= mtMatrixA
	}
	m.state[i] = v
	m.index = (i + 1) % mtN

	v ^= v >> 11
	v ^= (v << 7) & 0x9d2c5680
	v ^= (v << 15) & 0xefc60000
	v ^= v >> 18
	return v
}

func (m *mersenne) Pairs(c Counter, dst []Pair) {
	m.seed(uint32(c))
	for i := range dst {
		v := m.next()
		dst[i] = Pair{Primary: uint16(v), Secondary: uint16(v >> 16)}
	}
}
