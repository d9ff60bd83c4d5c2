package capture

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

const (
	// sweepRowFields is the minimum number of fields in a rtl_power or
	// hackrf_sweep row: date, time, Hz low, Hz high, Hz step, samples, dB...
	sweepRowFields = 7

	// Fractional seconds (hackrf_sweep) are accepted by time.Parse even
	// though the layout does not carry them.
	sweepRowTimeLayout = "2006-01-02 15:04:05"

	// Readings outside this range are corrupt, not weak or strong signals.
	minPlausiblePower = -300.0 // dBm
	maxPlausiblePower = 200.0  // dBm
)

var errEmptyRow = errors.New("no valid power readings")

// record is one parsed line of a capture.
type record struct {
	samples   []spectrum.Sample
	timestamp time.Time // Zero for plain records
	binWidth  float64   // Declared bin width, 0 for plain records
	badCells  int       // Unparsable power cells skipped in a sweep row
}

func parseRecord(line string) (record, error) {
	if fields := strings.Split(line, ","); len(fields) >= sweepRowFields {
		return parseSweepRow(fields)
	}
	return parsePlainRecord(line)
}

// parsePlainRecord parses a "<frequency> <power>" line. The frequency may
// carry an SI prefix and unit, e.g. "900.1 MHz".
func parsePlainRecord(line string) (record, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		switch r {
		case ' ', '\t', ',', ';':
			return true
		}
		return false
	})
	if len(fields) < 2 || len(fields) > 3 {
		return record{}, fmt.Errorf("expected frequency and power, got %d fields", len(fields))
	}

	freq, err := parseFrequency(strings.Join(fields[:len(fields)-1], ""))
	if err != nil {
		return record{}, err
	}

	power, err := parsePower(fields[len(fields)-1])
	if err != nil {
		return record{}, err
	}

	return record{samples: []spectrum.Sample{{Frequency: freq, Power: power}}}, nil
}

// parseSweepRow parses a rtl_power / hackrf_sweep CSV row. Each power cell
// becomes a sample at the center of its bin.
func parseSweepRow(fields []string) (record, error) {
	var rec record
	var err error

	dateTime := strings.TrimSpace(fields[0]) + " " + strings.TrimSpace(fields[1])
	rec.timestamp, err = time.Parse(sweepRowTimeLayout, dateTime)
	if err != nil {
		return record{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	// The high frequency is not used, the low frequency and bin width
	// define the center frequency of every bin.
	freqLow, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil || !isFinite(freqLow) || freqLow < 0 {
		return record{}, fmt.Errorf("invalid start frequency: %q", fields[2])
	}

	rec.binWidth, err = strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil || !isFinite(rec.binWidth) || rec.binWidth <= 0 {
		return record{}, fmt.Errorf("invalid bin width: %q", fields[4])
	}

	if _, err = strconv.Atoi(strings.TrimSpace(fields[5])); err != nil {
		return record{}, fmt.Errorf("invalid number of samples: %w", err)
	}

	rec.samples = make([]spectrum.Sample, 0, len(fields)-6)
	for i, field := range fields[6:] {
		power, err := parsePower(field)
		if err != nil {
			rec.badCells++
			continue
		}
		rec.samples = append(rec.samples, spectrum.Sample{
			Frequency: freqLow + (float64(i) * rec.binWidth) + (rec.binWidth / 2),
			Power:     power,
		})
	}
	if len(rec.samples) == 0 {
		return record{}, errEmptyRow
	}

	return rec, nil
}

func parseFrequency(s string) (float64, error) {
	freq, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var unit string
		freq, unit, err = humanize.ParseSI(s)
		if err != nil {
			return 0, fmt.Errorf("invalid frequency: %q", s)
		}
		if unit != "" && !strings.EqualFold(unit, "Hz") {
			return 0, fmt.Errorf("invalid frequency unit: %q", unit)
		}
	}
	if !isFinite(freq) || freq < 0 {
		return 0, fmt.Errorf("invalid frequency: %q", s)
	}
	return freq, nil
}

func parsePower(s string) (float64, error) {
	power, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || !isFinite(power) {
		return 0, fmt.Errorf("invalid power: %q", s)
	}
	if power < minPlausiblePower || power > maxPlausiblePower {
		return 0, fmt.Errorf("implausible power: %q", s)
	}
	return power, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
