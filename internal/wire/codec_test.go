package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	type payload struct {
		A int
		B string
		C map[string]int
	}
	in := payload{A: 1, B: "two", C: map[string]int{"x": 1, "y": 2, "z": 3}}

	b, err := Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

// TestMarshalSortsMapKeysDeterministically builds the same map via two
// different insertion orders; if keys weren't sorted before encoding,
// Go's randomized map iteration would make these diverge across runs.
func TestMarshalSortsMapKeysDeterministically(t *testing.T) {
	m1 := map[string]int{}
	m1["alpha"] = 1
	m1["beta"] = 2
	m1["gamma"] = 3

	m2 := map[string]int{}
	m2["gamma"] = 3
	m2["alpha"] = 1
	m2["beta"] = 2

	b1, err := Marshal(m1)
	require.NoError(t, err)
	b2, err := Marshal(m2)
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
}
