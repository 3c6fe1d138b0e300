// Package estimate provides a small HyperLogLog sketch used to count
// distinct users affected by a group without storing user ids.
package estimate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/bits"
)

// precision fixes the register count at 2^precision (4KB per sketch,
// ~1% standard error). A fixed precision keeps sketches mergeable.
const precision = 12

const registerCount = 1 << precision

// Sketch estimates the number of distinct strings added to it.
// Sketches with equal precision merge losslessly.
type Sketch struct {
	registers []uint8
}

// New creates an empty sketch.
func New() *Sketch {
	return &Sketch{registers: make([]uint8, registerCount)}
}

// Add observes one value.
func (s *Sketch) Add(value string) {
	h := fnv.New64a()
	h.Write([]byte(value))
	hash := h.Sum64()

	idx := hash & (registerCount - 1)
	w := hash >> precision

	var rank uint8
	if w == 0 {
		rank = 64 - precision + 1
	} else {
		rank = uint8(bits.LeadingZeros64(w)-precision) + 1
	}

	if rank > s.registers[idx] {
		s.registers[idx] = rank
	}
}

// Count returns the estimated number of distinct values observed.
func (s *Sketch) Count() uint64 {
	sum := 0.0
	zeros := 0
	for _, r := range s.registers {
		sum += 1.0 / float64(uint64(1)<<r)
		if r == 0 {
			zeros++
		}
	}

	alpha := 0.7213 / (1 + 1.079/float64(registerCount))
	estimate := alpha * registerCount * registerCount / sum

	// Linear counting for the small range
	if estimate <= 2.5*registerCount && zeros > 0 {
		estimate = registerCount * math.Log(float64(registerCount)/float64(zeros))
	}

	return uint64(estimate + 0.5)
}

// Merge folds another sketch into this one. The result estimates the
// union of both observed sets.
func (s *Sketch) Merge(other *Sketch) {
	if other == nil {
		return
	}
	for i, r := range other.registers {
		if r > s.registers[i] {
			s.registers[i] = r
		}
	}
}

// MarshalJSON serializes the registers as base64 for snapshotting.
func (s *Sketch) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(s.registers))
}

// UnmarshalJSON restores a serialized sketch.
func (s *Sketch) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	registers, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decoding sketch registers: %w", err)
	}
	if len(registers) != registerCount {
		return fmt.Errorf("sketch has %d registers, want %d", len(registers), registerCount)
	}
	s.registers = registers
	return nil
}
