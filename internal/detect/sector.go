package detect

import (
	"errors"
	"math"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

const (
	DefaultSectors           = 32
	DefaultDontSellOccupancy = 0.55
	DefaultSqueezeOccupancy  = 0.35
)

var ErrSectorThresholds = errors.New("sector occupancy thresholds must satisfy 0 <= squeeze <= don't sell <= 1")

// SectorThresholds are the occupancy cutoffs of the sector sales verdicts.
type SectorThresholds struct {
	DontSell float64 `yaml:"dont_sell_occupancy"`
	Squeeze  float64 `yaml:"squeeze_occupancy"`
}

// DefaultSectorThresholds returns the stock verdict cutoffs.
func DefaultSectorThresholds() SectorThresholds {
	return SectorThresholds{
		DontSell: DefaultDontSellOccupancy,
		Squeeze:  DefaultSqueezeOccupancy,
	}
}

func (t SectorThresholds) Validate() error {
	if t.Squeeze < 0 || t.Squeeze > t.DontSell || t.DontSell > 1 {
		return ErrSectorThresholds
	}
	return nil
}

// Verdict classifies a sector occupancy.
func (t SectorThresholds) Verdict(occupancy *float64) spectrum.Verdict {
	switch {
	case occupancy == nil:
		return spectrum.VerdictNoData
	case *occupancy >= t.DontSell:
		return spectrum.VerdictDontSell
	case *occupancy >= t.Squeeze:
		return spectrum.VerdictSqueezeRoom
	default:
		return spectrum.VerdictSell
	}
}

// Sectors splits the spectrum covered by bins into n equal slices and rates
// each one. A bin belongs to the sector holding its center; sector
// occupancy is weighted by the number of samples of each bin.
func Sectors(bins []spectrum.AggregatedBin, n int, t SectorThresholds) []spectrum.Sector {
	if len(bins) == 0 || n <= 0 {
		return nil
	}

	low, high := bins[0].Low(), bins[len(bins)-1].High()
	width := (high - low) / float64(n)

	above := make([]float64, n)
	counts := make([]int64, n)
	for _, b := range bins {
		if !b.HasData() {
			continue
		}
		i := min(int(math.Floor((b.Center-low)/width)), n-1)
		above[i] += *b.Occupancy * float64(b.Count)
		counts[i] += b.Count
	}

	sectors := make([]spectrum.Sector, n)
	for i := range sectors {
		sectors[i] = spectrum.Sector{
			Index:          i + 1,
			StartFrequency: low + float64(i)*width,
			EndFrequency:   low + float64(i+1)*width,
		}
		if counts[i] > 0 {
			occupancy := above[i] / float64(counts[i])
			sectors[i].Occupancy = &occupancy
		}
		sectors[i].Verdict = t.Verdict(sectors[i].Occupancy)
	}
	sectors[n-1].EndFrequency = high

	return sectors
}
