package replay

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

// an arbitrary non-scaler stream name
const otherStream = "other"

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// GIVEN two RNGs with the same seed
	rng1 := NewPartitionedRNG(42)
	rng2 := NewPartitionedRNG(42)

	// WHEN drawing from the same subsystem
	// THEN sequences are identical
	for i := 0; i < 3; i++ {
		a := rng1.ForSubsystem(otherStream).Float64()
		b := rng2.ForSubsystem(otherStream).Float64()
		if a != b {
			t.Errorf("value %d: got %v and %v, want identical", i, a, b)
		}
	}
}

func TestPartitionedRNG_ScalerUsesSeedDirectly(t *testing.T) {
	rng := NewPartitionedRNG(7).ForSubsystem(SubsystemScaler)
	direct := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		assert.Equal(t, direct.Int63(), rng.Int63(), "value %d", i)
	}
}

func TestPartitionedRNG_SubsystemIsolation(t *testing.T) {
	// GIVEN one RNG that drew from the scaler subsystem first
	drained := NewPartitionedRNG(42)
	for i := 0; i < 10; i++ {
		drained.ForSubsystem(SubsystemScaler).Float64()
	}

	// THEN another stream still starts at its first value
	fresh := NewPartitionedRNG(42)
	assert.Equal(t, fresh.ForSubsystem(otherStream).Float64(), drained.ForSubsystem(otherStream).Float64())
}

func TestPartitionedRNG_CachesInstance(t *testing.T) {
	rng := NewPartitionedRNG(42)
	if rng.ForSubsystem(SubsystemScaler) != rng.ForSubsystem(SubsystemScaler) {
		t.Error("expected the same *rand.Rand for repeated calls")
	}
	assert.Equal(t, int64(42), rng.Seed())
}

func TestPartitionedRNG_OtherStreams_DifferFromScaler(t *testing.T) {
	rng := NewPartitionedRNG(42)
	assert.NotEqual(t, rng.ForSubsystem(SubsystemScaler).Int63(), rng.ForSubsystem(otherStream).Int63())
}
