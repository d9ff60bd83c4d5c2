package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

const (
	sectionReport  = "[report]"
	sectionBins    = "[bins]"
	sectionBands   = "[bands]"
	sectionSectors = "[sectors]"
	sectionSkipped = "[skipped]"
)

var (
	reportHeader  = []string{"key", "value"}
	binsHeader    = []string{"center_hz", "low_hz", "high_hz", "count", "min_dbm", "max_dbm", "mean_dbm", "variance_db2", "occupancy"}
	bandsHeader   = []string{"start_hz", "end_hz", "peak_hz", "peak_dbm", "bins"}
	sectorsHeader = []string{"sector", "start_hz", "end_hz", "occupancy", "verdict"}
	skippedHeader = []string{"source", "kind", "line", "reason"}
)

var ErrInvalidReport = errors.New("invalid report file")

func formatHz(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func formatDB(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func formatRatio(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOccupancy(v *float64) string {
	if v == nil {
		return ""
	}
	return formatRatio(*v)
}

// reportFields returns the key/value pairs of the report summary in their
// fixed order.
func reportFields(r *spectrum.Report) [][2]string {
	return [][2]string{
		{"run_id", r.RunID},
		{"time_start", formatTime(r.TimeStart)},
		{"time_end", formatTime(r.TimeEnd)},
		{"captures", strconv.Itoa(r.Captures)},
		{"bin_width_hz", formatHz(r.BinWidth)},
		{"power_threshold_dbm", formatDB(r.Settings.PowerThreshold)},
		{"noise_floor_margin_db", formatDB(r.Settings.NoiseFloorMargin)},
		{"noise_floor_percentile", formatDB(r.Settings.NoiseFloorPercentile)},
		{"noise_floor_dbm", formatDB(r.NoiseFloor)},
	}
}

func binRecord(b spectrum.AggregatedBin) []string {
	record := []string{formatHz(b.Center), formatHz(b.Low()), formatHz(b.High()), strconv.FormatInt(b.Count, 10), "", "", "", "", ""}
	if b.HasData() {
		record[4] = formatDB(b.Min)
		record[5] = formatDB(b.Max)
		record[6] = formatDB(b.Mean)
		record[7] = formatRatio(b.Variance)
		record[8] = formatOccupancy(b.Occupancy)
	}
	return record
}

func bandRecord(b spectrum.InterferenceBand) []string {
	return []string{formatHz(b.StartFrequency), formatHz(b.EndFrequency), formatHz(b.PeakFrequency), formatDB(b.PeakPower), strconv.Itoa(b.Bins)}
}

func sectorRecord(s spectrum.Sector) []string {
	return []string{strconv.Itoa(s.Index), formatHz(s.StartFrequency), formatHz(s.EndFrequency), formatOccupancy(s.Occupancy), string(s.Verdict)}
}

func skippedRecord(s spectrum.SkippedCapture) []string {
	return []string{s.Source, s.Kind, strconv.Itoa(s.Line), s.Reason}
}

// WriteCSV encodes r as a sectioned CSV document. The output only depends on
// the report content.
func WriteCSV(w io.Writer, r *spectrum.Report) error {
	cw := csv.NewWriter(w)

	section := func(name string, header []string, records func(write func([]string) error) error) error {
		if err := cw.Write([]string{name}); err != nil {
			return err
		}
		if err := cw.Write(header); err != nil {
			return err
		}
		if err := records(cw.Write); err != nil {
			return err
		}
		return cw.Write(nil)
	}

	err := section(sectionReport, reportHeader, func(write func([]string) error) error {
		for _, kv := range reportFields(r) {
			if err := write(kv[:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		err = section(sectionBins, binsHeader, func(write func([]string) error) error {
			for _, b := range r.Bins {
				if err := write(binRecord(b)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err == nil {
		err = section(sectionBands, bandsHeader, func(write func([]string) error) error {
			for _, b := range r.Bands {
				if err := write(bandRecord(b)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err == nil {
		err = section(sectionSectors, sectorsHeader, func(write func([]string) error) error {
			for _, s := range r.Sectors {
				if err := write(sectorRecord(s)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err == nil {
		err = section(sectionSkipped, skippedHeader, func(write func([]string) error) error {
			for _, s := range r.Skipped {
				if err := write(skippedRecord(s)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV decodes a report written by WriteCSV. Values are restored with the
// precision they were written with.
func ReadCSV(rd io.Reader) (*spectrum.Report, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1

	var r spectrum.Report
	var section string
	var expectHeader bool

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}

		if len(record) == 1 && strings.HasPrefix(record[0], "[") {
			section, expectHeader = record[0], true
			continue
		}
		if expectHeader {
			expectHeader = false
			continue
		}

		line, _ := cr.FieldPos(0)
		if err = decodeRecord(&r, section, record); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidReport, line, err)
		}
	}

	if section == "" {
		return nil, fmt.Errorf("%w: no sections", ErrInvalidReport)
	}
	return &r, nil
}

func decodeRecord(r *spectrum.Report, section string, record []string) error {
	var err error
	p := fieldParser{record: record}

	switch section {
	case sectionReport:
		if len(record) != 2 {
			return fmt.Errorf("expected 2 fields, got %d", len(record))
		}
		err = decodeReportField(r, record[0], record[1])

	case sectionBins:
		if err = p.expect(len(binsHeader)); err != nil {
			return err
		}
		var b spectrum.AggregatedBin
		b.Center = p.float(0)
		b.HalfWidth = (p.float(2) - p.float(1)) / 2
		b.Count = p.int64(3)
		if b.Count > 0 {
			b.Min = p.float(4)
			b.Max = p.float(5)
			b.Mean = p.float(6)
			b.Variance = p.float(7)
			b.Occupancy = p.optionalFloat(8)
		}
		r.Bins = append(r.Bins, b)
		err = p.err

	case sectionBands:
		if err = p.expect(len(bandsHeader)); err != nil {
			return err
		}
		r.Bands = append(r.Bands, spectrum.InterferenceBand{
			StartFrequency: p.float(0),
			EndFrequency:   p.float(1),
			PeakFrequency:  p.float(2),
			PeakPower:      p.float(3),
			Bins:           int(p.int64(4)),
		})
		err = p.err

	case sectionSectors:
		if err = p.expect(len(sectorsHeader)); err != nil {
			return err
		}
		r.Sectors = append(r.Sectors, spectrum.Sector{
			Index:          int(p.int64(0)),
			StartFrequency: p.float(1),
			EndFrequency:   p.float(2),
			Occupancy:      p.optionalFloat(3),
			Verdict:        spectrum.Verdict(record[4]),
		})
		err = p.err

	case sectionSkipped:
		if err = p.expect(len(skippedHeader)); err != nil {
			return err
		}
		r.Skipped = append(r.Skipped, spectrum.SkippedCapture{
			Source: record[0],
			Kind:   record[1],
			Line:   int(p.int64(2)),
			Reason: record[3],
		})
		err = p.err

	default:
		err = fmt.Errorf("unknown section %q", section)
	}

	return err
}

func decodeReportField(r *spectrum.Report, key, value string) error {
	p := fieldParser{record: []string{value}}

	switch key {
	case "run_id":
		r.RunID = value
	case "time_start":
		r.TimeStart = p.time(0)
	case "time_end":
		r.TimeEnd = p.time(0)
	case "captures":
		r.Captures = int(p.int64(0))
	case "bin_width_hz":
		r.BinWidth = p.float(0)
	case "power_threshold_dbm":
		r.Settings.PowerThreshold = p.float(0)
	case "noise_floor_margin_db":
		r.Settings.NoiseFloorMargin = p.float(0)
	case "noise_floor_percentile":
		r.Settings.NoiseFloorPercentile = p.float(0)
	case "noise_floor_dbm":
		r.NoiseFloor = p.float(0)
	default:
		return fmt.Errorf("unknown report key %q", key)
	}

	if p.err != nil {
		return fmt.Errorf("%s: %w", key, p.err)
	}
	return nil
}

// fieldParser converts the cells of one record and keeps the first error.
type fieldParser struct {
	record []string
	err    error
}

func (p *fieldParser) expect(n int) error {
	if len(p.record) != n {
		return fmt.Errorf("expected %d fields, got %d", n, len(p.record))
	}
	return nil
}

func (p *fieldParser) float(i int) float64 {
	v, err := strconv.ParseFloat(p.record[i], 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *fieldParser) optionalFloat(i int) *float64 {
	if p.record[i] == "" {
		return nil
	}
	v := p.float(i)
	return &v
}

func (p *fieldParser) int64(i int) int64 {
	v, err := strconv.ParseInt(p.record[i], 10, 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *fieldParser) time(i int) time.Time {
	v, err := time.Parse(time.RFC3339, p.record[i])
	if err != nil && p.err == nil {
		p.err = err
	}
	return v.UTC()
}
