package bloom

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestForIDs_NoFalseNegatives(t *testing.T) {
	ids := make([]string, 500)
	for i := range ids {
		ids[i] = fmt.Sprintf("evt_%06d", i)
	}

	f := ForIDs(ids)
	for _, id := range ids {
		if !f.ContainsString(id) {
			t.Fatalf("filter lost %s", id)
		}
	}
	if f.Count() != uint64(len(ids)) {
		t.Errorf("count = %d, want %d", f.Count(), len(ids))
	}
}

func TestForIDs_Empty(t *testing.T) {
	f := ForIDs(nil)
	if f.ContainsString("evt_1") {
		t.Error("empty filter should not contain anything")
	}
	if f.FalsePositiveRate() != 0 {
		t.Error("empty filter has zero false positive rate")
	}
}

func TestEncodeDecode(t *testing.T) {
	f := ForIDs([]string{"evt_a", "evt_b", "evt_c"})

	decoded, err := Decode(f.Encode())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.NumBits() != f.NumBits() || decoded.NumHashes() != f.NumHashes() || decoded.Count() != f.Count() {
		t.Errorf("parameters differ after round trip")
	}
	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		if !decoded.ContainsString(id) {
			t.Errorf("decoded filter lost %s", id)
		}
	}
}

func TestDecode_Invalid(t *testing.T) {
	if _, err := Decode([]byte("short")); err == nil {
		t.Error("expected error for short input")
	}
	bad := make([]byte, headerSize)
	if _, err := Decode(bad); err == nil {
		t.Error("expected error for zero parameters")
	}
}

func TestFalsePositiveRateWithinBound(t *testing.T) {
	ids := make([]string, 1000)
	for i := range ids {
		ids[i] = fmt.Sprintf("evt_in_%d", i)
	}
	f := ForIDs(ids)

	hits := 0
	const probes = 10000
	for i := 0; i < probes; i++ {
		if f.ContainsString(fmt.Sprintf("evt_out_%d", i)) {
			hits++
		}
	}
	if DefaultFalsePositiveRate != 0.001 {
		t.Fatalf("DefaultFalsePositiveRate = %v, want 0.001", DefaultFalsePositiveRate)
	}
	if rate := float64(hits) / probes; rate > 10*DefaultFalsePositiveRate {
		t.Errorf("observed false positive rate %.4f too high", rate)
	}
}

func TestProperty_AddedIDsAlwaysFound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every added id survives encode and decode", prop.ForAll(
		func(ids []string) bool {
			decoded, err := Decode(ForIDs(ids).Encode())
			if err != nil {
				return false
			}
			for _, id := range ids {
				if !decoded.ContainsString(id) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}
