package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

func newCapture(resolution float64, freqs ...float64) *spectrum.SweepCapture {
	c := &spectrum.SweepCapture{Source: "test", Resolution: resolution}
	for _, f := range freqs {
		c.Samples = append(c.Samples, spectrum.Sample{Frequency: f, Power: -90})
	}
	return c
}

func TestNewGrid_FinestResolution(t *testing.T) {
	coarse := newCapture(200_000, 900_000_000, 900_200_000, 900_400_000)
	fine := newCapture(100_000, 900_100_000, 900_200_000)

	g, err := NewGrid([]*spectrum.SweepCapture{coarse, fine})
	require.NoError(t, err)

	assert.Equal(t, 100_000.0, g.Width())
	assert.Equal(t, 900_000_000.0, g.Start())
	assert.Equal(t, 5, g.Len())
}

func TestNewGrid_Contiguous(t *testing.T) {
	testCases := []struct {
		name     string
		captures []*spectrum.SweepCapture
		options  []Option
	}{
		{
			name:     "single capture",
			captures: []*spectrum.SweepCapture{newCapture(100_000, 900_000_000, 900_100_000, 900_200_000)},
		},
		{
			name: "disjoint captures",
			captures: []*spectrum.SweepCapture{
				newCapture(100_000, 900_000_000, 900_100_000),
				newCapture(100_000, 901_000_000, 901_100_000),
			},
		},
		{
			name: "odd resolution",
			captures: []*spectrum.SweepCapture{
				newCapture(30_517.578125, 2_400_000_000, 2_400_030_517.578125, 2_400_061_035.15625),
				newCapture(48_828.125, 2_400_500_000, 2_400_548_828.125),
			},
		},
		{
			name:     "override",
			captures: []*spectrum.SweepCapture{newCapture(100_000, 900_000_000, 900_100_000, 900_200_000, 900_300_000)},
			options:  []Option{WithBinWidth(250_000)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := NewGrid(tc.captures, tc.options...)
			require.NoError(t, err)

			bins := g.Bins()
			require.Len(t, bins, g.Len())
			for i := 1; i < len(bins); i++ {
				assert.Greater(t, bins[i].Center, bins[i-1].Center, "bin %d not increasing", i)
				assert.InDelta(t, bins[i-1].High(), bins[i].Low(), 1e-3, "bins %d and %d not contiguous", i-1, i)
			}

			for _, c := range tc.captures {
				for _, s := range c.Samples {
					assert.GreaterOrEqual(t, s.Frequency, bins[0].Low())
					assert.LessOrEqual(t, s.Frequency, bins[len(bins)-1].High())
				}
			}
		})
	}
}

func TestNewGrid_DisjointCapturesExtendRange(t *testing.T) {
	a := newCapture(100_000, 900_000_000, 900_100_000)
	b := newCapture(100_000, 901_000_000, 901_100_000)

	g, err := NewGrid([]*spectrum.SweepCapture{a, b})
	require.NoError(t, err)
	assert.Equal(t, 12, g.Len())

	idx, ok := g.Index(901_100_000)
	require.True(t, ok)
	assert.Equal(t, 11, idx)
}

func TestNewGrid_Errors(t *testing.T) {
	_, err := NewGrid(nil)
	assert.ErrorIs(t, err, ErrNoCaptures)

	_, err = NewGrid([]*spectrum.SweepCapture{newCapture(0, 900_000_000)})
	assert.ErrorIs(t, err, ErrUnknownResolution)

	g, err := NewGrid([]*spectrum.SweepCapture{newCapture(0, 900_000_000)}, WithBinWidth(1000))
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())

	_, err = NewGrid([]*spectrum.SweepCapture{newCapture(1, 0, 1_000_000_000)})
	assert.ErrorIs(t, err, ErrGridTooLarge)

	_, err = NewGrid([]*spectrum.SweepCapture{newCapture(100, 0, 1_000_000)}, WithMaxBins(100))
	assert.ErrorIs(t, err, ErrGridTooLarge)
}

func TestGrid_Index(t *testing.T) {
	g, err := NewGrid([]*spectrum.SweepCapture{newCapture(100_000, 900_000_000, 900_100_000, 900_200_000)})
	require.NoError(t, err)

	testCases := []struct {
		freq  float64
		index int
		ok    bool
	}{
		{900_000_000, 0, true},
		{900_049_999, 0, true},
		{900_050_000, 0, true}, // Tie resolves to the lower bin
		{900_050_001, 1, true},
		{900_150_000, 1, true},
		{900_200_000, 2, true},
		{900_250_000, 2, true},
		{899_950_000, 0, true},
		{899_900_000, 0, false},
		{900_300_000, 0, false},
	}

	for _, tc := range testCases {
		idx, ok := g.Index(tc.freq)
		assert.Equal(t, tc.ok, ok, "frequency %.0f", tc.freq)
		if tc.ok {
			assert.Equal(t, tc.index, idx, "frequency %.0f", tc.freq)
		}
	}
}

func TestGrid_Map(t *testing.T) {
	g, err := NewGrid([]*spectrum.SweepCapture{newCapture(100_000, 900_000_000, 900_100_000, 900_200_000)})
	require.NoError(t, err)

	shifted := newCapture(100_000, 900_050_000, 900_140_000, 950_000_000)
	assert.Equal(t, []int{0, 1, -1}, g.Map(shifted))
}

func TestGrid_Equal(t *testing.T) {
	captures := []*spectrum.SweepCapture{newCapture(100_000, 900_000_000, 900_100_000)}
	a, err := NewGrid(captures)
	require.NoError(t, err)
	b, err := NewGrid(captures)
	require.NoError(t, err)
	c, err := NewGrid(captures, WithBinWidth(50_000))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}
