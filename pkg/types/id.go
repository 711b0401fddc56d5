package types

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventIDPrefix marks generated event ids.
const EventIDPrefix = "evt_"

// IDGenerator produces time-ordered event ids. Ids generated within the same
// millisecond are monotonically increasing.
type IDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewIDGenerator creates a new event id generator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Generate returns an id stamped with t.
func (g *IDGenerator) Generate(t time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), g.entropy)
	if err != nil {
		return "", fmt.Errorf("generate event id: %w", err)
	}
	return EventIDPrefix + id.String(), nil
}

// IDTime extracts the timestamp embedded in a generated event id.
func IDTime(id string) (time.Time, error) {
	if !strings.HasPrefix(id, EventIDPrefix) {
		return time.Time{}, fmt.Errorf("event id %q has no %s prefix", id, EventIDPrefix)
	}
	u, err := ulid.ParseStrict(strings.TrimPrefix(id, EventIDPrefix))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse event id %q: %w", id, err)
	}
	return ulid.Time(u.Time()).UTC(), nil
}
