package report

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

func ptr(v float64) *float64 {
	return &v
}

func testReport() *spectrum.Report {
	bin := func(center float64, count int64, minP, maxP, mean, variance float64, occupancy *float64) spectrum.AggregatedBin {
		return spectrum.AggregatedBin{
			FrequencyBin: spectrum.FrequencyBin{Center: center, HalfWidth: 50_000},
			Count:        count,
			Min:          minP,
			Max:          maxP,
			Mean:         mean,
			Variance:     variance,
			Occupancy:    occupancy,
		}
	}

	return &spectrum.Report{
		RunID:     "4f1c2a8e-1d1a-5c3b-9a1e-0e6f1b2c3d4e",
		TimeStart: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		TimeEnd:   time.Date(2026, 1, 19, 18, 30, 0, 0, time.UTC),
		Captures:  2,
		BinWidth:  100_000,
		Settings: spectrum.Settings{
			PowerThreshold:       -50,
			NoiseFloorMargin:     10,
			NoiseFloorPercentile: 10,
		},
		NoiseFloor: -81,
		Bins: []spectrum.AggregatedBin{
			bin(900_000_000, 2, -82, -80, -81, 1, ptr(0)),
			bin(900_100_000, 2, -40, -38, -39, 1, ptr(1)),
			{FrequencyBin: spectrum.FrequencyBin{Center: 900_200_000, HalfWidth: 50_000}},
			bin(900_300_000, 3, -91.1234, -60.5, -77.33333333, 160.123456, ptr(2.0/3.0)),
		},
		Bands: []spectrum.InterferenceBand{
			{StartFrequency: 900_050_000, EndFrequency: 900_150_000, PeakFrequency: 900_100_000, PeakPower: -38, Bins: 1},
		},
		Sectors: []spectrum.Sector{
			{Index: 1, StartFrequency: 899_950_000, EndFrequency: 900_150_000, Occupancy: ptr(0.5), Verdict: spectrum.VerdictSqueezeRoom},
			{Index: 2, StartFrequency: 900_150_000, EndFrequency: 900_350_000, Occupancy: ptr(2.0 / 3.0), Verdict: spectrum.VerdictDontSell},
			{Index: 3, StartFrequency: 900_350_000, EndFrequency: 900_550_000, Verdict: spectrum.VerdictNoData},
		},
		Skipped: []spectrum.SkippedCapture{
			{Source: "in/bad, \"quoted\".txt", Kind: "MalformedCapture", Line: 3, Reason: "invalid power: \"loud\""},
		},
	}
}

func assertReportsEqual(t *testing.T, want, got *spectrum.Report, delta float64) {
	t.Helper()

	assert.Equal(t, want.RunID, got.RunID)
	assert.True(t, want.TimeStart.Equal(got.TimeStart), "time start %s != %s", want.TimeStart, got.TimeStart)
	assert.True(t, want.TimeEnd.Equal(got.TimeEnd), "time end %s != %s", want.TimeEnd, got.TimeEnd)
	assert.Equal(t, want.Captures, got.Captures)
	assert.InDelta(t, want.BinWidth, got.BinWidth, delta)
	assert.InDelta(t, want.NoiseFloor, got.NoiseFloor, delta)
	assert.InDelta(t, want.Settings.PowerThreshold, got.Settings.PowerThreshold, delta)
	assert.InDelta(t, want.Settings.NoiseFloorMargin, got.Settings.NoiseFloorMargin, delta)
	assert.InDelta(t, want.Settings.NoiseFloorPercentile, got.Settings.NoiseFloorPercentile, delta)

	require.Len(t, got.Bins, len(want.Bins))
	for i, w := range want.Bins {
		g := got.Bins[i]
		assert.InDelta(t, w.Center, g.Center, delta, "bin %d center", i)
		assert.InDelta(t, w.HalfWidth, g.HalfWidth, delta, "bin %d half width", i)
		assert.Equal(t, w.Count, g.Count, "bin %d count", i)
		assert.InDelta(t, w.Min, g.Min, delta, "bin %d min", i)
		assert.InDelta(t, w.Max, g.Max, delta, "bin %d max", i)
		assert.InDelta(t, w.Mean, g.Mean, delta, "bin %d mean", i)
		assert.InDelta(t, w.Variance, g.Variance, delta, "bin %d variance", i)
		if w.Occupancy == nil {
			assert.Nil(t, g.Occupancy, "bin %d occupancy", i)
		} else {
			require.NotNil(t, g.Occupancy, "bin %d occupancy", i)
			assert.InDelta(t, *w.Occupancy, *g.Occupancy, delta, "bin %d occupancy", i)
		}
	}

	require.Len(t, got.Bands, len(want.Bands))
	for i, w := range want.Bands {
		g := got.Bands[i]
		assert.InDelta(t, w.StartFrequency, g.StartFrequency, delta)
		assert.InDelta(t, w.EndFrequency, g.EndFrequency, delta)
		assert.InDelta(t, w.PeakFrequency, g.PeakFrequency, delta)
		assert.InDelta(t, w.PeakPower, g.PeakPower, delta)
		assert.Equal(t, w.Bins, g.Bins)
	}

	require.Len(t, got.Sectors, len(want.Sectors))
	for i, w := range want.Sectors {
		g := got.Sectors[i]
		assert.Equal(t, w.Index, g.Index)
		assert.Equal(t, w.Verdict, g.Verdict)
		assert.InDelta(t, w.StartFrequency, g.StartFrequency, delta)
		assert.InDelta(t, w.EndFrequency, g.EndFrequency, delta)
		assert.Equal(t, w.Occupancy == nil, g.Occupancy == nil)
	}

	assert.Equal(t, want.Skipped, got.Skipped)
}

func TestCSV_RoundTrip(t *testing.T) {
	want := testReport()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, want))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)

	// Values are written with three (dB, Hz) or four (variance, ratio) decimals.
	assertReportsEqual(t, want, got, 5e-4)
}

func TestCSV_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, WriteCSV(&a, testReport()))
	require.NoError(t, WriteCSV(&b, testReport()))
	assert.Equal(t, a.String(), b.String())
}

func TestCSV_Layout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, testReport()))
	out := buf.String()

	assert.Contains(t, out, "[report]\nkey,value\nrun_id,4f1c2a8e-1d1a-5c3b-9a1e-0e6f1b2c3d4e\n")
	assert.Contains(t, out, "time_start,2026-01-05T10:00:00Z\n")
	assert.Contains(t, out, "900100000.000,900050000.000,900150000.000,2,-40.000,-38.000,-39.000,1.0000,1.0000\n")
	assert.Contains(t, out, "900200000.000,900150000.000,900250000.000,0,,,,,\n")
	assert.Contains(t, out, "[bands]\nstart_hz,end_hz,peak_hz,peak_dbm,bins\n900050000.000,900150000.000,900100000.000,-38.000,1\n")
	assert.Contains(t, out, "3,900350000.000,900550000.000,,No data\n")
	assert.Contains(t, out, "\"in/bad, \"\"quoted\"\".txt\",MalformedCapture,3,")
}

func TestReadCSV_Invalid(t *testing.T) {
	_, err := ReadCSV(bytes.NewBufferString(""))
	assert.ErrorIs(t, err, ErrInvalidReport)

	_, err = ReadCSV(bytes.NewBufferString("[bins]\ncenter_hz\n1,2,3\n"))
	assert.ErrorIs(t, err, ErrInvalidReport)

	_, err = ReadCSV(bytes.NewBufferString("[report]\nkey,value\ncaptures,many\n"))
	assert.ErrorIs(t, err, ErrInvalidReport)
}

func TestXLSX(t *testing.T) {
	r := testReport()

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, r))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetReport, sheetBins, sheetBands, sheetSectors, sheetSkipped}, f.GetSheetList())

	rows, err := f.GetRows(sheetBins)
	require.NoError(t, err)
	require.Len(t, rows, len(r.Bins)+1)
	assert.Equal(t, binsHeader, rows[0])
	assert.Equal(t, "-39", rows[2][6])

	runID, err := f.GetCellValue(sheetReport, "B2")
	require.NoError(t, err)
	assert.Equal(t, r.RunID, runID)

	verdict, err := f.GetCellValue(sheetSectors, "E4")
	require.NoError(t, err)
	assert.Equal(t, string(spectrum.VerdictNoData), verdict)
}

func TestSqliteArchive_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.sqlite")
	want := testReport()

	archive := NewSqliteArchive(path)
	require.NoError(t, archive.Store(ctx, want))
	require.NoError(t, archive.Close())

	got, err := LoadReport(ctx, path)
	require.NoError(t, err)
	assertReportsEqual(t, want, got, 0)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "occupancy_20260105_20260119.csv", FileName(testReport(), FormatCSV))
	assert.Equal(t, "occupancy_20260105_20260119.sqlite", FileName(testReport(), FormatSQLite))
}

func TestParseFormats(t *testing.T) {
	formats, err := ParseFormats([]string{"XLSX", " sqlite", "csv", "xlsx", ""})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatCSV, FormatXLSX, FormatSQLite}, formats)

	formats, err = ParseFormats(nil)
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatCSV}, formats)

	_, err = ParseFormats([]string{"pdf"})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestWriter_Write(t *testing.T) {
	dir := t.TempDir()
	r := testReport()

	w := NewWriter(dir, WithFormats(FormatXLSX, FormatSQLite))
	paths, err := w.Write(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	for _, path := range paths {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	f, err := os.Open(paths[0])
	require.NoError(t, err)
	defer f.Close()
	got, err := ReadCSV(f)
	require.NoError(t, err)
	assertReportsEqual(t, r, got, 5e-4)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "temporary files left behind")
}

func TestWriter_UnwritableDestination(t *testing.T) {
	dir := t.TempDir()

	_, err := NewWriter(filepath.Join(dir, "missing")).Write(context.Background(), testReport())
	assert.ErrorIs(t, err, ErrOutputWrite)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewWriter(file).Write(context.Background(), testReport())

	var writeErr *OutputWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, file, writeErr.Path)
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriter_Extras(t *testing.T) {
	dir := t.TempDir()
	r := testReport()

	extra := Artifact{Name: "occupancy.prom", Encode: func(w io.Writer) error {
		_, err := io.WriteString(w, "occupancy_bins 3\n")
		return err
	}}

	paths, err := NewWriter(dir).Write(context.Background(), r, extra)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, FileName(r, FormatCSV)),
		filepath.Join(dir, "occupancy.prom"),
	}, paths)

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "occupancy_bins 3\n", string(data))
}

func TestWriter_FailureAfterFirstFormat(t *testing.T) {
	dir := t.TempDir()
	r := testReport()

	csvPath := filepath.Join(dir, FileName(r, FormatCSV))
	require.NoError(t, os.WriteFile(csvPath, []byte("previous"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, FileName(r, FormatXLSX)), 0o755))

	paths, err := NewWriter(dir, WithFormats(FormatXLSX)).Write(context.Background(), r)
	assert.Nil(t, paths)
	assert.ErrorIs(t, err, ErrOutputWrite)

	var writeErr *OutputWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "commit", writeErr.Op)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
	assert.ElementsMatch(t, []string{FileName(r, FormatCSV), FileName(r, FormatXLSX)}, dirEntries(t, dir))
}

func TestWriter_EncodeFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()

	extra := Artifact{Name: "occupancy.prom", Encode: func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return errors.New("interrupted")
	}}

	_, err := NewWriter(dir, WithFormats(FormatSQLite)).Write(context.Background(), testReport(), extra)
	assert.ErrorIs(t, err, ErrOutputWrite)

	var writeErr *OutputWriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "encode", writeErr.Op)
	assert.Empty(t, dirEntries(t, dir))
}

func TestWriter_Cancelled(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewWriter(dir, WithFormats(FormatXLSX)).Write(ctx, testReport())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dirEntries(t, dir))
}

func TestStage_DiscardKeepsPreviousReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "occupancy_20260105_20260119.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	var st stage
	require.NoError(t, st.write(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "replacement")
		return err
	}))
	assert.Len(t, dirEntries(t, dir), 2)
	st.discard()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
	assert.Equal(t, []string{"occupancy_20260105_20260119.csv"}, dirEntries(t, dir))
}

func TestStage_Commit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "occupancy_20260105_20260119.csv")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o600))

	var st stage
	defer st.discard()
	require.NoError(t, st.write(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "replacement")
		return err
	}))
	require.NoError(t, st.commit())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "replacement", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	assert.Len(t, dirEntries(t, dir), 1)
}
