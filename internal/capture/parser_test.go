package capture

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

func TestParse_PlainRecords(t *testing.T) {
	input := strings.Join([]string{
		"# timestamp: 2026-01-05T10:00:00Z",
		"900000000 -80.5",
		"900100000,-40",
		"900.2M;-60",
		"900.3 MHz\t-61.25",
		"",
	}, "\n")

	result := Parse(strings.NewReader(input), "a.txt")
	require.True(t, result.OK(), "unexpected error: %v", result.Err)
	assert.Empty(t, result.Warnings)

	c := result.Capture
	assert.Equal(t, "a.txt", c.Source)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), c.Timestamp)
	require.Len(t, c.Samples, 4)

	expected := []spectrum.Sample{
		{Frequency: 900_000_000, Power: -80.5},
		{Frequency: 900_100_000, Power: -40},
		{Frequency: 900_200_000, Power: -60},
		{Frequency: 900_300_000, Power: -61.25},
	}
	for i, s := range expected {
		assert.InDelta(t, s.Frequency, c.Samples[i].Frequency, 1e-3, "sample %d frequency", i)
		assert.InDelta(t, s.Power, c.Samples[i].Power, 1e-9, "sample %d power", i)
	}
	assert.InDelta(t, 100_000, c.Resolution, 1e-3)
}

func TestParse_SkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		"900000000 -80",
		"garbage",
		"900100000 loud",
		"900200000 -70",
		"1 2 3 4",
	}, "\n")

	result := Parse(strings.NewReader(input), "b.txt")
	require.True(t, result.OK(), "unexpected error: %v", result.Err)
	assert.Len(t, result.Capture.Samples, 2)

	require.Len(t, result.Warnings, 3)
	assert.Equal(t, 2, result.Warnings[0].Line)
	assert.Equal(t, 3, result.Warnings[1].Line)
	assert.Equal(t, 5, result.Warnings[2].Line)
}

func TestParse_ImplausiblePower(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		samples int
		reason  string
	}{
		{"huge plain record", "900000000 -80\n900100000 1e300\n900200000 -70\n", 2, "implausible power"},
		{"huge negative plain record", "900000000 -80\n900100000 -1e300\n900200000 -70\n", 2, "implausible power"},
		{"sweep row cell", "2026-01-05, 10:00:00, 900000000, 900300000, 100000, 10, -80, 1e300, -70\n", 2, "skipped 1 unparsable power cells"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Parse(strings.NewReader(tc.input), "e.txt")
			require.True(t, result.OK(), "unexpected error: %v", result.Err)
			assert.Len(t, result.Capture.Samples, tc.samples)
			for _, s := range result.Capture.Samples {
				assert.GreaterOrEqual(t, s.Power, minPlausiblePower)
				assert.LessOrEqual(t, s.Power, maxPlausiblePower)
			}
			require.Len(t, result.Warnings, 1)
			assert.Contains(t, result.Warnings[0].Reason, tc.reason)
		})
	}
}

func TestParse_LongLines(t *testing.T) {
	long := strings.Repeat("x", MaxLineLength+10)
	input := "900000000 -80\n" + long + "\n900100000 -70\r\n" + long

	result := Parse(strings.NewReader(input), "f.txt")
	require.True(t, result.OK(), "unexpected error: %v", result.Err)
	assert.Len(t, result.Capture.Samples, 2)
	assert.InDelta(t, -70, result.Capture.Samples[1].Power, 1e-9)

	require.Len(t, result.Warnings, 2)
	for i, line := range []int{2, 4} {
		assert.Equal(t, line, result.Warnings[i].Line)
		assert.Empty(t, result.Warnings[i].Text)
		assert.Contains(t, result.Warnings[i].Reason, "line exceeds")
	}
}

func TestParse_Failures(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		sentinel error
		line     int
	}{
		{"empty capture", "", ErrMalformedCapture, 0},
		{"comments only", "# nothing here\n# timestamp: 2026-01-05T10:00:00Z\n", ErrMalformedCapture, 0},
		{"no valid record", "hello world\nnot a record at all\n", ErrMalformedCapture, 1},
		{"descending", "900100000 -80\n900000000 -70\n", ErrUnsortedCapture, 2},
		{"duplicate frequency", "900000000 -80\n900000000 -70\n", ErrUnsortedCapture, 2},
		{"non-finite power", "900000000 NaN\n", ErrMalformedCapture, 1},
		{"implausible power", "900000000 1e300\n", ErrMalformedCapture, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Parse(strings.NewReader(tc.input), "c.txt")
			require.False(t, result.OK())
			require.Error(t, result.Err)
			assert.ErrorIs(t, result.Err, tc.sentinel)
			assert.Equal(t, tc.line, Line(result.Err))
			assert.Contains(t, result.Err.Error(), "c.txt")
		})
	}
}

func TestParse_UnsortedCaptureDetails(t *testing.T) {
	result := Parse(strings.NewReader("900000000 -80\n900200000 -70\n900100000 -75\n"), "d.txt")

	var unsorted *UnsortedCaptureError
	require.True(t, errors.As(result.Err, &unsorted))
	assert.Equal(t, 3, unsorted.Line)
	assert.Equal(t, 900_100_000.0, unsorted.Frequency)
	assert.Equal(t, 900_200_000.0, unsorted.Previous)
	assert.Equal(t, KindUnsortedCapture, Kind(result.Err))
}

func TestParse_SweepRows(t *testing.T) {
	input := strings.Join([]string{
		"2026-01-05, 10:00:01, 900000000, 900400000, 100000.00, 10, -80.1, -79.9, -40.0, -81.2",
		"2026-01-05, 10:00:02, 900400000, 900800000, 100000.00, 10, -82.0, bad, -83.0, -84.0",
	}, "\n")

	result := Parse(strings.NewReader(input), "rtl.csv")
	require.True(t, result.OK(), "unexpected error: %v", result.Err)

	c := result.Capture
	require.Len(t, c.Samples, 7)
	assert.InDelta(t, 900_050_000, c.Samples[0].Frequency, 1e-3)
	assert.InDelta(t, 900_350_000, c.Samples[3].Frequency, 1e-3)
	assert.InDelta(t, 900_450_000, c.Samples[4].Frequency, 1e-3)
	assert.InDelta(t, 900_650_000, c.Samples[5].Frequency, 1e-3)
	assert.InDelta(t, 100_000, c.Resolution, 1e-3)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 0, 1, 0, time.UTC), c.Timestamp)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, 2, result.Warnings[0].Line)
}

func TestParse_HackRFRowTimestamp(t *testing.T) {
	input := "2026-01-05, 10:00:01.250000, 2400000000, 2405000000, 1000000.00, 20, -70, -71, -72, -73, -74\n"

	result := Parse(strings.NewReader(input), "hackrf.csv")
	require.True(t, result.OK(), "unexpected error: %v", result.Err)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 0, 1, 250_000_000, time.UTC), result.Capture.Timestamp)
	assert.Len(t, result.Capture.Samples, 5)
}

func TestParse_FallbackTimestamp(t *testing.T) {
	fallback := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	result := Parse(strings.NewReader("900000000 -80\n"), "e.txt", WithTimestamp(fallback))
	require.True(t, result.OK())
	assert.Equal(t, fallback, result.Capture.Timestamp)
	assert.Zero(t, result.Capture.Resolution)
}

func TestParseFile_Gzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.txt.gz")

	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("900000000 -80\n900100000 -40\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	result := ParseFile(path)
	require.True(t, result.OK(), "unexpected error: %v", result.Err)
	assert.Len(t, result.Capture.Samples, 2)
	assert.False(t, result.Capture.Timestamp.IsZero())
}

func TestParseFile_Errors(t *testing.T) {
	dir := t.TempDir()

	result := ParseFile(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, result.Err, ErrUnreadableCapture)
	assert.Equal(t, KindUnreadableCapture, Kind(result.Err))

	broken := filepath.Join(dir, "broken.csv.gz")
	require.NoError(t, os.WriteFile(broken, []byte("not gzip"), 0o644))
	result = ParseFile(broken)
	assert.ErrorIs(t, result.Err, ErrMalformedCapture)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"b.txt",
		"a.csv",
		"c.csv.gz",
		"notes.md",
		".hidden.txt",
		"sub/d.dat",
		".git/e.txt",
	}
	for _, name := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("900000000 -80\n"), 0o644))
	}

	flat, err := Discover(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.csv"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "c.csv.gz"),
	}, flat)

	deep, err := Discover(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.csv"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "c.csv.gz"),
		filepath.Join(dir, "sub", "d.dat"),
	}, deep)
}

func TestDiscover_InputPathErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Discover(filepath.Join(dir, "missing"), false)
	assert.ErrorIs(t, err, ErrInputPath)
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Discover(file, false)
	assert.ErrorIs(t, err, ErrInputPath)
}
