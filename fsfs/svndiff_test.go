package fsfs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDeltaRoundTrip(t *testing.T) {
	source := []byte("the quick brown fox")
	target := []byte("jumps over the lazy dog")

	payload := encodeDelta(target, source)
	got, err := applyDelta(payload, source)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestEncodeDeltaRoundTripEmptyTarget(t *testing.T) {
	source := []byte("anything")
	payload := encodeDelta(nil, source)
	got, err := applyDelta(payload, source)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEncodeDeltaRoundTripEmptySource(t *testing.T) {
	target := []byte("brand new content")
	payload := encodeDelta(target, nil)
	got, err := applyDelta(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestEncodeDeltaSharesStorageWithSource(t *testing.T) {
	source := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 10)
	target := append(append([]byte{}, source...), []byte(" one extra sentence appended at the end")...)

	payload := encodeDelta(target, source)
	got, err := applyDelta(payload, source)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	plainSize := len(target)
	assert.Less(t, len(payload), plainSize,
		"a target that is mostly a copy of source should encode far smaller than storing it wholesale")
}

func TestEncodeDeltaFallsBackToLiteralWhenNothingMatches(t *testing.T) {
	source := []byte("completely unrelated base content")
	target := []byte("wholly different new bytes, no overlap at all")

	payload := encodeDelta(target, source)
	got, err := applyDelta(payload, source)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}
