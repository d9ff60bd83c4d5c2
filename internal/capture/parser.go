package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

const (
	// MaxLineLength bounds a single capture line. rtl_power rows over wide
	// ranges carry thousands of power cells. Longer lines are skipped with a
	// warning.
	MaxLineLength = 4 * 1024 * 1024

	timestampHeader = "timestamp:"
)

// LineWarning describes a capture line that was skipped.
type LineWarning struct {
	Line   int
	Text   string
	Reason string
}

// Result is the outcome of parsing one capture: either a parsed capture or
// a failure. Failures are MalformedCaptureError, UnsortedCaptureError or
// ReadError.
type Result struct {
	Source   string
	Capture  *spectrum.SweepCapture
	Warnings []LineWarning
	Err      error
}

// OK reports whether the capture was parsed.
func (r Result) OK() bool {
	return r.Err == nil && r.Capture != nil
}

// Option configures the parser.
type Option func(*parser)

// WithLogger sets the logger used to report skipped lines.
func WithLogger(logger *slog.Logger) Option {
	return func(p *parser) {
		p.logger = logger.With(slog.String("source", p.source))
	}
}

// WithTimestamp sets the capture timestamp used when the capture itself
// carries none.
func WithTimestamp(t time.Time) Option {
	return func(p *parser) {
		p.fallbackTime = t
	}
}

type parser struct {
	source       string
	logger       *slog.Logger
	fallbackTime time.Time

	headerTime time.Time
	rowTime    time.Time
	resolution float64
	samples    []spectrum.Sample
	warnings   []LineWarning
}

func newParser(source string, options ...Option) *parser {
	p := parser{
		source: source,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&p)
	}
	return &p
}

// Parse reads one capture from r. Lines that do not match a known record
// shape are skipped with a warning; a capture with no valid record fails as
// a whole.
func Parse(r io.Reader, source string, options ...Option) Result {
	p := newParser(source, options...)

	lines := newLineReader(r, MaxLineLength)

	var lineNo int
	for {
		raw, tooLong, err := lines.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{
				Source:   source,
				Warnings: p.warnings,
				Err:      &MalformedCaptureError{Source: source, Line: lineNo + 1, Reason: fmt.Sprintf("reading line: %s", err)},
			}
		}

		lineNo++
		if tooLong {
			p.warn(lineNo, "", fmt.Sprintf("line exceeds %d bytes", MaxLineLength))
			continue
		}
		line := strings.TrimSpace(string(raw))

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			p.parseComment(lineNo, line)
			continue
		}

		rec, err := parseRecord(line)
		if err != nil {
			p.warn(lineNo, line, err.Error())
			continue
		}
		if rec.badCells > 0 {
			p.warn(lineNo, line, fmt.Sprintf("skipped %d unparsable power cells", rec.badCells))
		}

		if err = p.append(lineNo, rec); err != nil {
			return Result{Source: source, Warnings: p.warnings, Err: err}
		}
	}

	if len(p.samples) == 0 {
		return Result{Source: source, Warnings: p.warnings, Err: p.noRecordsError()}
	}

	return Result{
		Source: source,
		Capture: &spectrum.SweepCapture{
			Source:     source,
			Timestamp:  p.timestamp(),
			Samples:    p.samples,
			Resolution: p.resolution,
		},
		Warnings: p.warnings,
	}
}

// ParseFile parses the capture stored at path. Files ending in ".gz" are
// decompressed on the fly. The file modification time is the fallback
// capture timestamp unless WithTimestamp overrides it.
func ParseFile(path string, options ...Option) Result {
	f, err := os.Open(path)
	if err != nil {
		return Result{Source: path, Err: &ReadError{Source: path, Err: err}}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{Source: path, Err: &ReadError{Source: path, Err: err}}
	}
	options = append([]Option{WithTimestamp(info.ModTime())}, options...)

	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Result{
				Source: path,
				Err:    &MalformedCaptureError{Source: path, Reason: fmt.Sprintf("invalid gzip stream: %s", err)},
			}
		}
		defer gz.Close()
		r = gz
	}

	return Parse(r, path, options...)
}

// lineReader splits a capture into lines of bounded length. The remainder
// of an over-long line is consumed without being buffered.
type lineReader struct {
	r     *bufio.Reader
	limit int
	buf   []byte
}

func newLineReader(r io.Reader, limit int) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024), limit: limit}
}

// next returns the next line without its terminator. A line longer than the
// limit is reported with tooLong set and no content. It returns io.EOF once
// the input is exhausted.
func (lr *lineReader) next() (line []byte, tooLong bool, err error) {
	lr.buf = lr.buf[:0]
	for {
		chunk, readErr := lr.r.ReadSlice('\n')
		if !tooLong {
			// Two extra bytes leave room for a "\r\n" terminator.
			if len(lr.buf)+len(chunk) > lr.limit+2 {
				tooLong = true
				lr.buf = lr.buf[:0]
			} else {
				lr.buf = append(lr.buf, chunk...)
			}
		}

		switch {
		case errors.Is(readErr, bufio.ErrBufferFull):
			continue
		case errors.Is(readErr, io.EOF):
			if len(lr.buf) == 0 && !tooLong {
				return nil, false, io.EOF
			}
		case readErr != nil:
			return nil, false, readErr
		}

		line = bytes.TrimSuffix(bytes.TrimSuffix(lr.buf, []byte("\n")), []byte("\r"))
		if len(line) > lr.limit {
			return nil, true, nil
		}
		return line, tooLong, nil
	}
}

func (p *parser) parseComment(lineNo int, line string) {
	comment := strings.TrimSpace(strings.TrimPrefix(line, "#"))
	if !strings.HasPrefix(strings.ToLower(comment), timestampHeader) {
		return
	}

	value := strings.TrimSpace(comment[len(timestampHeader):])
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		p.warn(lineNo, line, fmt.Sprintf("invalid timestamp header: %s", err))
		return
	}
	p.headerTime = t
}

func (p *parser) append(lineNo int, rec record) error {
	for _, s := range rec.samples {
		if n := len(p.samples); n > 0 {
			prev := p.samples[n-1].Frequency
			if s.Frequency <= prev {
				return &UnsortedCaptureError{Source: p.source, Line: lineNo, Frequency: s.Frequency, Previous: prev}
			}
			p.updateResolution(s.Frequency - prev)
		}
		p.samples = append(p.samples, s)
	}

	p.updateResolution(rec.binWidth)

	if !rec.timestamp.IsZero() && (p.rowTime.IsZero() || rec.timestamp.Before(p.rowTime)) {
		p.rowTime = rec.timestamp
	}
	return nil
}

func (p *parser) updateResolution(step float64) {
	if step <= 0 {
		return
	}
	if p.resolution == 0 || step < p.resolution {
		p.resolution = step
	}
}

func (p *parser) warn(lineNo int, line, reason string) {
	p.warnings = append(p.warnings, LineWarning{Line: lineNo, Text: line, Reason: reason})
	p.logger.Warn(fmt.Sprintf("skipping capture line: %s", reason), slog.Int("line", lineNo))
}

func (p *parser) timestamp() time.Time {
	switch {
	case !p.headerTime.IsZero():
		return p.headerTime.UTC()
	case !p.rowTime.IsZero():
		return p.rowTime.UTC()
	default:
		return p.fallbackTime.UTC()
	}
}

func (p *parser) noRecordsError() error {
	if len(p.warnings) == 0 {
		return &MalformedCaptureError{Source: p.source, Reason: "no frequency/power records"}
	}
	first := p.warnings[0]
	return &MalformedCaptureError{Source: p.source, Line: first.Line, Reason: first.Reason}
}
