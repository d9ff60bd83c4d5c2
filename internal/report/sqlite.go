package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/spectrum-survey/internal/spectrum"
)

// insertBatchRows bounds the rows of a single multi-row INSERT so the number
// of bound parameters stays well below the SQLite limit.
const insertBatchRows = 500

// SqliteArchive stores reports in a SQLite database.
type SqliteArchive struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteArchive returns an archive backed by the database at dbPath. The
// database is opened lazily.
func NewSqliteArchive(dbPath string) *SqliteArchive {
	return &SqliteArchive{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteArchive) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_synchronous=NORMAL&_foreign_keys=on"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteArchive) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// Store writes r and all of its sections in a single transaction.
func (s *SqliteArchive) Store(ctx context.Context, r *spectrum.Report) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	result, err := tx.ExecContext(ctx, insertReportSQL,
		r.RunID,
		r.TimeStart.UTC().Format(time.RFC3339Nano),
		r.TimeEnd.UTC().Format(time.RFC3339Nano),
		r.Captures,
		r.BinWidth,
		r.Settings.PowerThreshold,
		r.Settings.NoiseFloorMargin,
		r.Settings.NoiseFloorPercentile,
		r.NoiseFloor,
	)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}

	reportID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting report ID: %w", err)
	}

	bins := make([][]any, len(r.Bins))
	for i, b := range r.Bins {
		bins[i] = []any{reportID, i, b.Center, b.HalfWidth, b.Count, nil, nil, nil, nil, nullFloat(b.Occupancy)}
		if b.HasData() {
			bins[i][5], bins[i][6], bins[i][7], bins[i][8] = b.Min, b.Max, b.Mean, b.Variance
		}
	}
	if err = batchInsert(ctx, tx, insertBinsSQL, bins); err != nil {
		return fmt.Errorf("batch inserting bins: %w", err)
	}

	bands := make([][]any, len(r.Bands))
	for i, b := range r.Bands {
		bands[i] = []any{reportID, i, b.StartFrequency, b.EndFrequency, b.PeakFrequency, b.PeakPower, b.Bins}
	}
	if err = batchInsert(ctx, tx, insertBandsSQL, bands); err != nil {
		return fmt.Errorf("batch inserting bands: %w", err)
	}

	sectors := make([][]any, len(r.Sectors))
	for i, sec := range r.Sectors {
		sectors[i] = []any{reportID, sec.Index, sec.StartFrequency, sec.EndFrequency, nullFloat(sec.Occupancy), string(sec.Verdict)}
	}
	if err = batchInsert(ctx, tx, insertSectorsSQL, sectors); err != nil {
		return fmt.Errorf("batch inserting sectors: %w", err)
	}

	skipped := make([][]any, len(r.Skipped))
	for i, sk := range r.Skipped {
		skipped[i] = []any{reportID, i, sk.Source, sk.Kind, sk.Line, sk.Reason}
	}
	if err = batchInsert(ctx, tx, insertSkippedSQL, skipped); err != nil {
		return fmt.Errorf("batch inserting skipped captures: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Load reads back the most recently stored report.
func (s *SqliteArchive) Load(ctx context.Context) (r *spectrum.Report, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	var rep spectrum.Report
	var reportID int64
	var timeStart, timeEnd string
	err = db.QueryRowContext(ctx, selectReportSQL).Scan(
		&reportID,
		&rep.RunID,
		&timeStart,
		&timeEnd,
		&rep.Captures,
		&rep.BinWidth,
		&rep.Settings.PowerThreshold,
		&rep.Settings.NoiseFloorMargin,
		&rep.Settings.NoiseFloorPercentile,
		&rep.NoiseFloor,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning report: %w", err)
	}
	if rep.TimeStart, err = time.Parse(time.RFC3339Nano, timeStart); err != nil {
		return nil, fmt.Errorf("parsing start time: %w", err)
	}
	if rep.TimeEnd, err = time.Parse(time.RFC3339Nano, timeEnd); err != nil {
		return nil, fmt.Errorf("parsing end time: %w", err)
	}

	err = queryRows(ctx, db, selectBinsSQL, reportID, func(rows *sql.Rows) error {
		var b spectrum.AggregatedBin
		var minPower, maxPower, mean, variance, occupancy sql.NullFloat64
		if err := rows.Scan(&b.Center, &b.HalfWidth, &b.Count, &minPower, &maxPower, &mean, &variance, &occupancy); err != nil {
			return err
		}
		b.Min, b.Max, b.Mean, b.Variance = minPower.Float64, maxPower.Float64, mean.Float64, variance.Float64
		b.Occupancy = fromNullFloat(occupancy)
		rep.Bins = append(rep.Bins, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading bins: %w", err)
	}

	err = queryRows(ctx, db, selectBandsSQL, reportID, func(rows *sql.Rows) error {
		var b spectrum.InterferenceBand
		if err := rows.Scan(&b.StartFrequency, &b.EndFrequency, &b.PeakFrequency, &b.PeakPower, &b.Bins); err != nil {
			return err
		}
		rep.Bands = append(rep.Bands, b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading bands: %w", err)
	}

	err = queryRows(ctx, db, selectSectorsSQL, reportID, func(rows *sql.Rows) error {
		var sec spectrum.Sector
		var occupancy sql.NullFloat64
		var verdict string
		if err := rows.Scan(&sec.Index, &sec.StartFrequency, &sec.EndFrequency, &occupancy, &verdict); err != nil {
			return err
		}
		sec.Occupancy = fromNullFloat(occupancy)
		sec.Verdict = spectrum.Verdict(verdict)
		rep.Sectors = append(rep.Sectors, sec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading sectors: %w", err)
	}

	err = queryRows(ctx, db, selectSkippedSQL, reportID, func(rows *sql.Rows) error {
		var sk spectrum.SkippedCapture
		if err := rows.Scan(&sk.Source, &sk.Kind, &sk.Line, &sk.Reason); err != nil {
			return err
		}
		rep.Skipped = append(rep.Skipped, sk)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading skipped captures: %w", err)
	}

	return &rep, nil
}

func (s *SqliteArchive) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}

// LoadReport reads the most recent report from the archive at path.
func LoadReport(ctx context.Context, path string) (r *spectrum.Report, err error) {
	archive := NewSqliteArchive(path)
	defer closeWithError(archive, &err)

	return archive.Load(ctx)
}

// batchInsert inserts rows with multi-row INSERT statements built from the
// given statement prefix.
func batchInsert(ctx context.Context, tx *sql.Tx, prefix string, rows [][]any) error {
	for len(rows) > 0 {
		n := min(len(rows), insertBatchRows)
		batch := rows[:n]
		rows = rows[n:]

		placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(batch[0])), ", ") + ")"
		values := make([]any, 0, n*len(batch[0]))

		var sb strings.Builder
		sb.WriteString(prefix)
		for i, row := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(placeholder)
			values = append(values, row...)
		}

		if _, err := tx.ExecContext(ctx, sb.String(), values...); err != nil {
			return err
		}
	}
	return nil
}

func queryRows(ctx context.Context, db *sql.DB, query string, reportID int64, scan func(*sql.Rows) error) (err error) {
	rows, err := db.QueryContext(ctx, query, reportID)
	if err != nil {
		return err
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		if err = scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if rErr := rb.Rollback(); rErr != nil && !errors.Is(rErr, sql.ErrTxDone) && *err == nil {
		*err = rErr
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
