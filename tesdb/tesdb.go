// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tesdb records the outcome of pulse analyses in the TES
// bookkeeping database.
package tesdb // import "github.com/go-lpc/tes/tesdb"

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var (
	host = getenv("TESDB_HOST", "localhost")
	usr  = getenv("TESDB_USER", "username")
	pwd  = getenv("TESDB_PASS", "s3cr3t")

	drvName = "mysql"
)

const timeout = 5 * time.Second

// Schema creates the table holding run summaries.
const Schema = `
CREATE TABLE IF NOT EXISTS pulse_runs (
	identifier   BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	channel      INT UNSIGNED NOT NULL,
	datetime     DATETIME NOT NULL,
	folder       VARCHAR(1024) NOT NULL,
	pulses       INT UNSIGNED NOT NULL,
	dropped      INT UNSIGNED NOT NULL,
	peak_average DOUBLE NOT NULL,
	rise_time    DOUBLE NOT NULL,
	decay_time   DOUBLE NOT NULL,
	config       TEXT NOT NULL
)`

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// DB exposes convenience methods to record and retrieve pulse
// analysis summaries.
type DB struct {
	db   *sql.DB
	name string // name of the TES database
}

// Open opens a connection to the TES database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("tesdb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("tesdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Init creates the tables of the database, if needed.
func (db *DB) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(ctx, Schema)
	if err != nil {
		return fmt.Errorf("tesdb: could not create tables of %q: %w", db.name, err)
	}
	return nil
}

// Record inserts the summary of one analysed channel.
func (db *DB) Record(ctx context.Context, sum RunSummary) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		`INSERT INTO pulse_runs
	(channel, datetime, folder, pulses, dropped, peak_average, rise_time, decay_time, config)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.Channel, sum.Date, sum.Folder,
		sum.Pulses, sum.Dropped,
		sum.PeakAverage, sum.RiseTime, sum.DecayTime,
		sum.Config,
	)
	if err != nil {
		return fmt.Errorf("tesdb: could not record run of channel %d: %w", sum.Channel, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("tesdb: context error while recording channel %d: %w", sum.Channel, err)
	}

	return nil
}

// Runs returns the summaries recorded for channel ch, most recent first.
func (db *DB) Runs(ctx context.Context, ch uint32) ([]RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var runs []RunSummary
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT channel, datetime, folder, pulses, dropped, peak_average, rise_time, decay_time, config
FROM pulse_runs
WHERE channel=?
ORDER BY datetime DESC
`,
		ch,
	)
	if err != nil {
		return runs, fmt.Errorf("tesdb: could not query runs of channel %d: %w", ch, err)
	}
	defer rows.Close()

	for rows.Next() {
		var run RunSummary
		err = rows.Scan(
			&run.Channel, &run.Date, &run.Folder,
			&run.Pulses, &run.Dropped,
			&run.PeakAverage, &run.RiseTime, &run.DecayTime,
			&run.Config,
		)
		if err != nil {
			return runs, fmt.Errorf("tesdb: could not scan run %d of channel %d: %w", len(runs), ch, err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return runs, fmt.Errorf("tesdb: could not scan db for runs of channel %d: %w", ch, err)
	}

	if err := ctx.Err(); err != nil {
		return runs, fmt.Errorf("tesdb: context error while retrieving runs of channel %d: %w", ch, err)
	}

	return runs, nil
}
