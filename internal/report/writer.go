package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

// Format is a report artifact type.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatXLSX   Format = "xlsx"
	FormatSQLite Format = "sqlite"
)

var ErrUnknownFormat = errors.New("unknown report format")

// ParseFormats parses a list of format names. The CSV report is always
// included and always written first.
func ParseFormats(names []string) ([]Format, error) {
	formats := []Format{FormatCSV}
	for _, name := range names {
		f := Format(strings.ToLower(strings.TrimSpace(name)))
		switch f {
		case "":
			continue
		case FormatCSV, FormatXLSX, FormatSQLite:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
		}
		if !slices.Contains(formats, f) {
			formats = append(formats, f)
		}
	}
	return formats, nil
}

// FileName returns the artifact name of r in the given format, e.g.
// "occupancy_20260105_20260119.csv".
func FileName(r *spectrum.Report, format Format) string {
	return fmt.Sprintf("occupancy_%s_%s.%s",
		r.TimeStart.UTC().Format("20060102"),
		r.TimeEnd.UTC().Format("20060102"),
		format,
	)
}

// Option configures the Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WithFormats sets the artifact formats to write in addition to CSV.
func WithFormats(formats ...Format) Option {
	return func(w *Writer) {
		for _, f := range formats {
			if !slices.Contains(w.formats, f) {
				w.formats = append(w.formats, f)
			}
		}
	}
}

// Artifact is an additional file committed together with the report.
type Artifact struct {
	Name   string // File name inside the output directory
	Encode func(w io.Writer) error
}

// Writer writes report artifacts into an output directory. All artifacts of
// a report are staged in pending files first and renamed into place
// together, so a failed or cancelled write leaves the directory untouched.
type Writer struct {
	dir     string
	formats []Format
	logger  *slog.Logger
}

// NewWriter returns a Writer for the output directory dir.
func NewWriter(dir string, options ...Option) *Writer {
	w := Writer{
		dir:     dir,
		formats: []Format{FormatCSV},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&w)
	}
	return &w
}

// Write writes r in every configured format, followed by the extra
// artifacts, and returns their paths in that order. Either every artifact is
// committed or none is.
func (w *Writer) Write(ctx context.Context, r *spectrum.Report, extras ...Artifact) (paths []string, err error) {
	info, err := os.Stat(w.dir)
	if err != nil {
		return nil, &OutputWriteError{Path: w.dir, Op: "stat", Err: err}
	}
	if !info.IsDir() {
		return nil, &OutputWriteError{Path: w.dir, Op: "stat", Err: errors.New("not a directory")}
	}

	var st stage
	defer st.discard()

	paths = make([]string, 0, len(w.formats)+len(extras))
	for _, format := range w.formats {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(w.dir, FileName(r, format))
		switch format {
		case FormatCSV:
			err = st.write(path, func(out io.Writer) error { return WriteCSV(out, r) })
		case FormatXLSX:
			err = st.write(path, func(out io.Writer) error { return WriteXLSX(out, r) })
		case FormatSQLite:
			err = stageArchive(ctx, &st, path, r)
		default:
			err = &OutputWriteError{Path: path, Op: "encode", Err: fmt.Errorf("%w: %q", ErrUnknownFormat, format)}
		}
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	for _, a := range extras {
		path := filepath.Join(w.dir, a.Name)
		if err = st.write(path, a.Encode); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	// Nothing is committed once the run has been cancelled.
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if err = st.commit(); err != nil {
		return nil, err
	}

	for _, path := range paths {
		w.logger.Info("report written", slog.String("path", path))
	}
	return paths, nil
}

// stageArchive builds a fresh SQLite archive in a pending file for path.
func stageArchive(ctx context.Context, st *stage, path string, r *spectrum.Report) error {
	f, err := st.create(path)
	if err != nil {
		return err
	}

	archive := NewSqliteArchive(f.Name())
	if err = errors.Join(archive.Store(ctx, r), archive.Close()); err != nil {
		_ = os.Remove(f.Name() + "-journal")
		return &OutputWriteError{Path: path, Op: "encode", Err: err}
	}
	return nil
}
