// Package bloom provides the probabilistic membership filter stored next to
// each period summary in the index. It answers "might this event id have been
// archived in this period?" without keeping every archived id around.
package bloom

import (
	"math"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultFalsePositiveRate is used by ForIDs.
const DefaultFalsePositiveRate = 0.001

// Filter provides probabilistic membership testing with a configurable false
// positive rate. It never yields false negatives.
type Filter struct {
	mu        sync.RWMutex
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a Filter with the specified number of bits and hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates creates a Filter sized for expectedItems at targetFPR.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	numBits, numHashes := OptimalParameters(expectedItems, targetFPR)
	return New(numBits, numHashes)
}

// ForIDs builds a filter holding every id in ids.
func ForIDs(ids []string) *Filter {
	f := NewWithEstimates(len(ids), DefaultFalsePositiveRate)
	for _, id := range ids {
		f.AddString(id)
	}
	return f
}

// OptimalParameters calculates the number of bits and hash functions for a
// given expected number of items and target false positive rate:
//
//	m = -n * ln(p) / (ln(2)^2)
//	k = (m/n) * ln(2)
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add adds an item to the filter.
func (f *Filter) Add(item []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		f.setBit((h1 + i*h2) % f.numBits)
	}
	f.count++
}

// AddString adds a string item, typically an event id.
func (f *Filter) AddString(item string) {
	f.Add([]byte(item))
}

// Contains reports whether item might be in the filter.
func (f *Filter) Contains(item []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h1, h2 := murmur3.Sum128(item)
	for i := uint64(0); i < f.numHashes; i++ {
		if !f.getBit((h1 + i*h2) % f.numBits) {
			return false
		}
	}
	return true
}

// ContainsString reports whether the string item might be in the filter.
func (f *Filter) ContainsString(item string) bool {
	return f.Contains([]byte(item))
}

func (f *Filter) setBit(pos uint64) {
	f.bits[pos/64] |= 1 << (pos % 64)
}

func (f *Filter) getBit(pos uint64) bool {
	return f.bits[pos/64]&(1<<(pos%64)) != 0
}

// NumBits returns the number of bits in the filter.
func (f *Filter) NumBits() int {
	return int(f.numBits)
}

// NumHashes returns the number of hash functions used.
func (f *Filter) NumHashes() int {
	return int(f.numHashes)
}

// Count returns the number of items added to the filter.
func (f *Filter) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// FalsePositiveRate returns the estimated false positive rate for the
// current fill: (1 - e^(-k*n/m))^k.
func (f *Filter) FalsePositiveRate() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.count == 0 {
		return 0
	}
	k := float64(f.numHashes)
	n := float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}
