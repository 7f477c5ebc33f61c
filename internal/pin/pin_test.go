package pin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinEquality(t *testing.T) {
	assert.Equal(t, AnalogPin(3), AnalogPin(3))
	assert.NotEqual(t, AnalogPin(3), DigitalPin(3))

	seen := map[Pin]int{AnalogPin(1): 1, DigitalPin(1): 2}
	assert.Equal(t, 1, seen[AnalogPin(1)])
	assert.Equal(t, 2, seen[DigitalPin(1)])
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Pin
	}{
		{"A3", AnalogPin(3)},
		{"a0", AnalogPin(0)},
		{"D13", DigitalPin(13)},
		{" d7 ", DigitalPin(7)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, mustParse(t, got.String()))
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, in := range []string{"", "A", "X3", "D-1", "Dx"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func mustParse(t *testing.T, s string) Pin {
	t.Helper()
	p, err := Parse(s)
	require.NoError(t, err)
	return p
}
