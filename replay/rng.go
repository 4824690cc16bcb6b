package replay

import (
	"hash/fnv"
	"math/rand"
)

// SubsystemScaler names the rate-scaler's random stream. It is seeded with
// the run seed itself, so `--seed N` alone reproduces a scaled workload.
const SubsystemScaler = "scaler"

// PartitionedRNG hands out one independent *rand.Rand per named consumer,
// all derived from a single run seed. Draws from one stream never shift
// another. Any name other than SubsystemScaler is seeded with
// seed XOR fnv1a64(name).
//
// Not safe for concurrent use; streams are created and drawn during setup.
type PartitionedRNG struct {
	seed    int64
	streams map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{seed: seed, streams: make(map[string]*rand.Rand)}
}

// ForSubsystem returns the stream for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if r, ok := p.streams[name]; ok {
		return r
	}
	r := rand.New(rand.NewSource(p.derive(name)))
	p.streams[name] = r
	return r
}

// Seed returns the run seed.
func (p *PartitionedRNG) Seed() int64 {
	return p.seed
}

func (p *PartitionedRNG) derive(name string) int64 {
	if name == SubsystemScaler {
		return p.seed
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return p.seed ^ int64(h.Sum64())
}
