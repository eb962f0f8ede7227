package app

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// History keeps a local record of raid outcomes and viewer-count samples.
// It is auxiliary data: failures here are logged by callers, never fatal.
type History struct {
	*sql.DB
}

// RaidRecord is one finished (or cancelled/aborted) raid. The csv tags feed
// the export endpoint.
type RaidRecord struct {
	TargetID     string    `csv:"target_id"`
	TargetLogin  string    `csv:"target_login"`
	StartedAt    time.Time `csv:"started_at"`
	Outcome      string    `csv:"outcome"`
	Participants int       `csv:"participants"`
}

// TelemetrySample is one viewer-count observation from a sync pass.
type TelemetrySample struct {
	ChannelID string
	Login     string
	Viewers   int
	IsLive    bool
	SampledAt time.Time
}

func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	history := &History{DB: db}

	_, err = history.Exec(`
		CREATE TABLE IF NOT EXISTS raids (
			id INTEGER PRIMARY KEY,
			target_id TEXT,
			target_login TEXT NOT NULL,
			started_at TEXT NOT NULL,
			outcome TEXT NOT NULL,
			participants INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS telemetry (
			channel_id TEXT,
			login TEXT NOT NULL,
			viewers INTEGER NOT NULL,
			is_live INTEGER NOT NULL,
			sampled_at TEXT NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}

	return history, nil
}

func (h *History) RecordRaid(rec RaidRecord) error {
	_, err := h.Exec(
		"INSERT INTO raids (target_id, target_login, started_at, outcome, participants) VALUES (?, ?, ?, ?, ?)",
		rec.TargetID, rec.TargetLogin, rec.StartedAt.UTC().Format(time.RFC3339), rec.Outcome, rec.Participants,
	)
	return err
}

func (h *History) RecordTelemetry(samples []TelemetrySample) error {
	valGroups := make([][]any, 0, len(samples))
	for _, s := range samples {
		isLive := 0
		if s.IsLive {
			isLive = 1
		}
		valGroups = append(valGroups, []any{
			s.ChannelID, s.Login, s.Viewers, isLive, s.SampledAt.UTC().Format(time.RFC3339),
		})
	}

	return h.bulkInsert("telemetry", []string{"channel_id", "login", "viewers", "is_live", "sampled_at"}, valGroups)
}

func (h *History) RecentRaids(limit int) ([]RaidRecord, error) {
	rows, err := h.Query(
		"SELECT target_id, target_login, started_at, outcome, participants FROM raids ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RaidRecord
	for rows.Next() {
		var rec RaidRecord
		var startedAt string
		if err := rows.Scan(&rec.TargetID, &rec.TargetLogin, &startedAt, &rec.Outcome, &rec.Participants); err != nil {
			return nil, err
		}
		rec.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, fmt.Errorf("bad started_at in history: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (h *History) bulkInsert(tableName string, columns []string, valGroups [][]any) error {
	if len(valGroups) == 0 {
		return nil
	}

	var (
		placeholders []string
		args         []any
	)

	for _, valGroup := range valGroups {
		if len(valGroup) != len(columns) {
			return errors.New("values count doesn't match columns count")
		}

		placeholders = append(placeholders, "("+strings.TrimRight(strings.Repeat("?,", len(columns)), ",")+")")
		args = append(args, valGroup...)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s",
		tableName,
		strings.Join(columns, ","),
		strings.Join(placeholders, ","),
	)

	_, err := h.Exec(query, args...)

	return err
}
