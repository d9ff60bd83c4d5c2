package report

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	insertReportSQL = `
INSERT INTO reports (run_id,
                     time_start,
                     time_end,
                     captures,
                     bin_width,
                     power_threshold,
                     noise_floor_margin,
                     noise_floor_percentile,
                     noise_floor)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertBinsSQL = `
INSERT INTO bins (report_id,
                  idx,
                  center,
                  half_width,
                  count,
                  min,
                  max,
                  mean,
                  variance,
                  occupancy)
VALUES `

	insertBandsSQL = `
INSERT INTO bands (report_id,
                   idx,
                   start_frequency,
                   end_frequency,
                   peak_frequency,
                   peak_power,
                   bins)
VALUES `

	insertSectorsSQL = `
INSERT INTO sectors (report_id,
                     idx,
                     start_frequency,
                     end_frequency,
                     occupancy,
                     verdict)
VALUES `

	insertSkippedSQL = `
INSERT INTO skipped (report_id,
                     idx,
                     source,
                     kind,
                     line,
                     reason)
VALUES `

	selectReportSQL = `
SELECT
    id,
    run_id,
    time_start,
    time_end,
    captures,
    bin_width,
    power_threshold,
    noise_floor_margin,
    noise_floor_percentile,
    noise_floor
FROM reports
ORDER BY id DESC
LIMIT 1`

	selectBinsSQL = `
SELECT
    center,
    half_width,
    count,
    min,
    max,
    mean,
    variance,
    occupancy
FROM bins
WHERE
    report_id = ?
ORDER BY idx`

	selectBandsSQL = `
SELECT
    start_frequency,
    end_frequency,
    peak_frequency,
    peak_power,
    bins
FROM bands
WHERE
    report_id = ?
ORDER BY idx`

	selectSectorsSQL = `
SELECT
    idx,
    start_frequency,
    end_frequency,
    occupancy,
    verdict
FROM sectors
WHERE
    report_id = ?
ORDER BY idx`

	selectSkippedSQL = `
SELECT
    source,
    kind,
    line,
    reason
FROM skipped
WHERE
    report_id = ?
ORDER BY idx`
)
