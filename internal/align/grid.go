package align

import (
	"errors"
	"fmt"
	"math"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

// DefaultMaxBins bounds the number of bins of a canonical grid.
const DefaultMaxBins = 4_000_000

// tolerance is expressed in bins. A sample within tolerance of the midpoint
// between two centers is treated as an exact tie.
const tolerance = 1e-9

var (
	ErrNoCaptures        = errors.New("no captures to align")
	ErrUnknownResolution = errors.New("bin resolution cannot be derived from captures")
	ErrGridTooLarge      = errors.New("canonical grid too large")
)

// Option configures grid construction.
type Option func(*gridConfig)

type gridConfig struct {
	binWidth float64
	maxBins  int
}

// WithBinWidth forces the canonical bin width in Hz. Values <= 0 keep the
// automatically detected width.
func WithBinWidth(width float64) Option {
	return func(c *gridConfig) {
		if width > 0 {
			c.binWidth = width
		}
	}
}

// WithMaxBins sets the upper bound on the number of bins.
func WithMaxBins(n int) Option {
	return func(c *gridConfig) {
		if n > 0 {
			c.maxBins = n
		}
	}
}

// Grid is the canonical, contiguous sequence of frequency bins of a run.
// Centers are start + i*width for i in [0, Len()). A Grid is immutable and
// safe for concurrent use.
type Grid struct {
	start float64
	width float64
	n     int
}

// NewGrid builds the grid covering the union of all capture frequency
// ranges. The bin width is the finest capture resolution unless overridden;
// gaps between disjoint captures are filled with bins that receive no data.
func NewGrid(captures []*spectrum.SweepCapture, options ...Option) (*Grid, error) {
	cfg := gridConfig{maxBins: DefaultMaxBins}
	for _, option := range options {
		option(&cfg)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	var finest float64
	for _, c := range captures {
		if c == nil || len(c.Samples) == 0 {
			continue
		}
		lo = min(lo, c.FrequencyStart())
		hi = max(hi, c.FrequencyEnd())
		if c.Resolution > 0 && (finest == 0 || c.Resolution < finest) {
			finest = c.Resolution
		}
	}
	if math.IsInf(lo, 1) {
		return nil, ErrNoCaptures
	}

	width := cfg.binWidth
	if width == 0 {
		width = finest
	}
	if width == 0 {
		return nil, ErrUnknownResolution
	}

	span := (hi - lo) / width
	if span+1 > float64(cfg.maxBins) {
		return nil, fmt.Errorf("%w: %.0f bins of %.3f Hz exceed the limit of %d", ErrGridTooLarge, span+1, width, cfg.maxBins)
	}

	return &Grid{start: lo, width: width, n: nearest(span) + 1}, nil
}

// Len returns the number of bins.
func (g *Grid) Len() int {
	return g.n
}

// Width returns the bin width in Hz.
func (g *Grid) Width() float64 {
	return g.width
}

// Start returns the center frequency of the first bin.
func (g *Grid) Start() float64 {
	return g.start
}

// Bin returns the i-th bin.
func (g *Grid) Bin(i int) spectrum.FrequencyBin {
	return spectrum.FrequencyBin{
		Center:    g.start + float64(i)*g.width,
		HalfWidth: g.width / 2,
	}
}

// Bins returns every bin of the grid in increasing frequency order.
func (g *Grid) Bins() []spectrum.FrequencyBin {
	bins := make([]spectrum.FrequencyBin, g.n)
	for i := range bins {
		bins[i] = g.Bin(i)
	}
	return bins
}

// Index returns the bin nearest to frequency f. Ties resolve to the lower
// bin. The boolean is false when f lies outside the grid.
func (g *Grid) Index(f float64) (int, bool) {
	pos := (f - g.start) / g.width
	if pos < -0.5-tolerance || pos > float64(g.n)-0.5+tolerance {
		return 0, false
	}
	return min(max(nearest(pos), 0), g.n-1), true
}

// Map returns the bin index of every sample of c, in sample order. Samples
// outside the grid map to -1.
func (g *Grid) Map(c *spectrum.SweepCapture) []int {
	indexes := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		idx, ok := g.Index(s.Frequency)
		if !ok {
			idx = -1
		}
		indexes[i] = idx
	}
	return indexes
}

// Equal reports whether both grids describe the same bins.
func (g *Grid) Equal(other *Grid) bool {
	if g == nil || other == nil {
		return g == other
	}
	return g.n == other.n && g.start == other.start && g.width == other.width
}

func (g *Grid) String() string {
	return fmt.Sprintf("%d bins of %.3f Hz from %.3f Hz", g.n, g.width, g.start)
}

// nearest rounds a position expressed in bins to the closest bin, resolving
// ties downwards.
func nearest(pos float64) int {
	return int(math.Ceil(pos - 0.5 - tolerance))
}
