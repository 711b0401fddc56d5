package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_EventIDOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ids generated at later times sort after earlier ones", prop.ForAll(
		func(t1Ms, t2Ms int64) bool {
			if t1Ms >= t2Ms {
				t1Ms, t2Ms = t2Ms, t1Ms+1
			}

			g := NewIDGenerator()
			id1, err := g.Generate(time.UnixMilli(t1Ms))
			if err != nil {
				return false
			}
			id2, err := g.Generate(time.UnixMilli(t2Ms))
			if err != nil {
				return false
			}
			return id1 < id2
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.Int64Range(1000000000000, 2000000000000),
	))

	properties.Property("ids within the same millisecond are strictly increasing", prop.ForAll(
		func(timestampMs int64, count int) bool {
			g := NewIDGenerator()
			ts := time.UnixMilli(timestampMs)

			prev := ""
			for i := 0; i < count; i++ {
				curr, err := g.Generate(ts)
				if err != nil {
					return false
				}
				if i > 0 && prev >= curr {
					return false
				}
				prev = curr
			}
			return true
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.IntRange(2, 100),
	))

	properties.Property("embedded time matches generation time", prop.ForAll(
		func(timestampMs int64) bool {
			id, err := NewIDGenerator().Generate(time.UnixMilli(timestampMs))
			if err != nil {
				return false
			}
			got, err := IDTime(id)
			if err != nil {
				return false
			}
			return got.UnixMilli() == timestampMs
		},
		gen.Int64Range(0, 281474976710655),
	))

	properties.TestingRun(t)
}
