package search

import "fmt"

// Counter is the generator's 32 bit forward advancing state. It wraps modulo
// 2^32, so two counters are only ever compared through Distance.
type Counter uint32

// Add returns the counter n steps ahead of c.
func (c Counter) Add(n uint32) Counter {
	return c + Counter(n)
}

func (c Counter) String() string {
	return fmt.Sprintf("%08X", uint32(c))
}

// Distance is the number of forward steps needed to get from a to b.
// When b is behind a the walk wraps: (2^32 - a) + b.
func Distance(a, b Counter) uint32 {
	return uint32(b - a)
}

// Offset is the signed shortest way from a to b.
func Offset(a, b Counter) int64 {
	return int64(int32(uint32(b - a)))
}

// absDistance is the shorter of the two walks between a and b.
func absDistance(a, b Counter) uint32 {
	forward, backward := Distance(a, b), Distance(b, a)
	if forward < backward {
		return forward
	}
	return backward
}

// Pair is the two identifiers shown on the trainer card.
type Pair struct {
	Primary   uint16
	Secondary uint16
}

func (p Pair) String() string {
	return fmt.Sprintf("%05d/%05d", p.Primary, p.Secondary)
}
