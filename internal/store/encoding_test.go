package store

import (
	"testing"

	"horse.fit/simcluster/internal/fingerprint"
)

func TestSimhashChunks_SplitsIntoFourSixteenBitWindows(t *testing.T) {
	h := uint64(0x1122_3344_5566_7788)
	c0, c1, c2, c3 := simhashChunks(h)
	if c0 != 0x7788 || c1 != 0x5566 || c2 != 0x3344 || c3 != 0x1122 {
		t.Fatalf("unexpected chunks: %04x %04x %04x %04x", c0, c1, c2, c3)
	}
}

func TestEncodeDecodeMinHash_RoundTrips(t *testing.T) {
	var raw [fingerprint.MinHashPermutations]uint64
	for i := range raw {
		raw[i] = uint64(i) * 7
	}

	encoded := encodeMinHash(raw)
	if len(encoded) != fingerprint.MinHashPermutations*8 {
		t.Fatalf("expected %d encoded bytes, got %d", fingerprint.MinHashPermutations*8, len(encoded))
	}

	decoded, err := decodeMinHash(encoded)
	if err != nil {
		t.Fatalf("unexpected error decoding: %v", err)
	}
	if decoded != raw {
		t.Fatalf("expected round-tripped signature to match original")
	}
}

func TestDecodeMinHash_RejectsWrongLength(t *testing.T) {
	_, err := decodeMinHash([]byte{1, 2, 3})
	if err == nil {
		t.Fatalf("expected an error for a malformed minhash blob")
	}
}

func TestEncodeBandArray_PreservesValuesAsInt64(t *testing.T) {
	var bands [fingerprint.LSHBands]uint64
	for i := range bands {
		bands[i] = uint64(i) * 1000
	}
	out := encodeBandArray(bands)
	if len(out) != fingerprint.LSHBands {
		t.Fatalf("expected %d entries, got %d", fingerprint.LSHBands, len(out))
	}
	for i, v := range out {
		if v != int64(bands[i]) {
			t.Fatalf("band %d: expected %d, got %d", i, bands[i], v)
		}
	}
}
