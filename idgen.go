package quanta

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator produces identifiers for anything that needs one minted at
// run time rather than supplied by the domain being simulated — trace
// spans in particular. Simulation.NextID is the call site that consults
// it.
type IDGenerator interface {
	Generate() string
}

// NewSequentialIDGenerator returns an IDGenerator that hands out small,
// strictly increasing decimal strings. It is deterministic across runs and
// is the default used by a bench unless SetIDGenerator replaces it, matching
// the teacher's default behavior (sim/idgenerator.go).
func NewSequentialIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

type sequentialIDGenerator struct {
	next uint64
}

func (g *sequentialIDGenerator) Generate() string {
	n := atomic.AddUint64(&g.next, 1)
	return strconv.FormatUint(n, 10)
}

// NewDistributedIDGenerator returns an IDGenerator backed by xid, suitable
// when multiple processes (e.g. a bench plus a remote-control companion)
// need to mint IDs without coordinating a shared counter. IDs are no
// longer ordered by generation time, so benches that rely on deterministic
// IDs for golden-file comparisons should stick to the sequential
// generator.
func NewDistributedIDGenerator() IDGenerator {
	return distributedIDGenerator{}
}

type distributedIDGenerator struct{}

func (distributedIDGenerator) Generate() string {
	return xid.New().String()
}
