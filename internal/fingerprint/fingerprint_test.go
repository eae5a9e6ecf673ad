package fingerprint

import (
	"strings"
	"testing"
)

// TestOfDeterministic verifies identical bytes always produce identical
// digests and different bytes produce different ones.
func TestOfDeterministic(t *testing.T) {
	a := Of([]byte("the quick brown fox"))
	b := Of([]byte("the quick brown fox"))
	if a != b {
		t.Errorf("same content produced different fingerprints: %s vs %s", a.Hex(), b.Hex())
	}

	c := Of([]byte("the quick brown fox "))
	if a == c {
		t.Error("trailing space produced the same fingerprint — content must be byte-exact")
	}
}

// TestOfNoNormalization verifies that case and whitespace differences are
// preserved: equality is on raw bytes, never on a canonicalized form.
func TestOfNoNormalization(t *testing.T) {
	variants := []string{
		"Hello World",
		"hello world",
		"hello  world",
		"hello world\n",
		" hello world",
	}
	seen := map[Fingerprint]string{}
	for _, v := range variants {
		f := Of([]byte(v))
		if prev, dup := seen[f]; dup {
			t.Errorf("variants %q and %q share a fingerprint", prev, v)
		}
		seen[f] = v
	}
}

func TestHexRoundTrip(t *testing.T) {
	f := Of([]byte("payload"))
	s := f.Hex()
	if len(s) != Size*2 {
		t.Fatalf("hex length: got %d, want %d", len(s), Size*2)
	}
	back, err := FromHex(s)
	if err != nil {
		t.Fatalf("FromHex: %v", err)
	}
	if back != f {
		t.Errorf("round trip mismatch: %s vs %s", back.Hex(), f.Hex())
	}
}

func TestFromHexRejectsBadInput(t *testing.T) {
	if _, err := FromHex("zz"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := FromHex(strings.Repeat("ab", Size-1)); err == nil {
		t.Error("expected error for short input")
	}
}

func TestCompareOrdersLexicographically(t *testing.T) {
	var lo, hi Fingerprint
	hi[0] = 1
	if lo.Compare(hi) != -1 {
		t.Error("expected lo < hi")
	}
	if hi.Compare(lo) != 1 {
		t.Error("expected hi > lo")
	}
	if lo.Compare(lo) != 0 {
		t.Error("expected lo == lo")
	}
	if !lo.Less(hi) || hi.Less(lo) {
		t.Error("Less disagrees with Compare")
	}
}
