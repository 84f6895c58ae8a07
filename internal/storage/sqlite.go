// Package storage keeps a history of decoded telegrams in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/resident-x/go-p1/internal/domain"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS telegrams (
		telegram_id   INTEGER PRIMARY KEY AUTOINCREMENT,
		received      INTEGER NOT NULL,
		raw_timestamp INTEGER NOT NULL,
		meter_time    INTEGER,
		error_kind    TEXT NOT NULL,
		measurements  TEXT
	);
	CREATE INDEX IF NOT EXISTS telegrams_received ON telegrams (received);
`

// SQLiteStore implements domain.TelegramStore.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the database at path.
func Open(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "storage").Logger(),
	}, nil
}

// Save stores a telegram. Measurements are kept as raw register values keyed
// by quantity; absent values are omitted.
func (s *SQLiteStore) Save(ctx context.Context, t *domain.Telegram) error {
	var (
		meterTime    sql.NullInt64
		measurements sql.NullString
	)
	if t.OK() {
		meterTime = sql.NullInt64{Int64: t.Timestamp.Unix(), Valid: true}
		raw := make(map[domain.Quantity]uint64, len(t.Measurements))
		for _, m := range t.Measurements {
			if m.Present {
				raw[m.Quantity] = m.Raw
			}
		}
		payload, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		measurements = sql.NullString{String: string(payload), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO telegrams (received, raw_timestamp, meter_time, error_kind, measurements) VALUES (?, ?, ?, ?, ?)",
		t.Received.UnixNano(), int64(t.RawTimestamp), meterTime, t.ErrorCode.Kind.String(), measurements)
	if err != nil {
		return fmt.Errorf("failed to save telegram: %w", err)
	}
	return nil
}

// Recent returns up to limit telegrams, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*domain.Telegram, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT received, raw_timestamp, meter_time, error_kind, measurements FROM telegrams ORDER BY received DESC, telegram_id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var telegrams []*domain.Telegram
	for rows.Next() {
		var (
			received     int64
			rawTimestamp int64
			meterTime    sql.NullInt64
			errorKind    string
			measurements sql.NullString
		)
		if err := rows.Scan(&received, &rawTimestamp, &meterTime, &errorKind, &measurements); err != nil {
			return nil, err
		}

		t, err := rebuild(received, rawTimestamp, meterTime, errorKind, measurements)
		if err != nil {
			return nil, err
		}
		telegrams = append(telegrams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return telegrams, nil
}

func rebuild(received, rawTimestamp int64, meterTime sql.NullInt64, errorKind string, measurements sql.NullString) (*domain.Telegram, error) {
	kind, ok := domain.ParseErrorKind(errorKind)
	if !ok {
		return nil, fmt.Errorf("unknown error kind %q in history", errorKind)
	}

	t := &domain.Telegram{
		RawTimestamp: uint32(rawTimestamp),
		Received:     time.Unix(0, received).UTC(),
	}
	if kind != domain.ErrorNone {
		t.ErrorCode = domain.ErrorCode{Kind: kind, Raw: uint32(rawTimestamp)}
		return t, nil
	}

	if meterTime.Valid {
		t.Timestamp = time.Unix(meterTime.Int64, 0).UTC()
	}
	raw := map[domain.Quantity]uint64{}
	if measurements.Valid {
		if err := json.Unmarshal([]byte(measurements.String), &raw); err != nil {
			return nil, fmt.Errorf("corrupt measurements in history: %w", err)
		}
	}
	t.Measurements = make([]domain.Measurement, 0, len(domain.Quantities))
	for _, def := range domain.Quantities {
		if v, ok := raw[def.Quantity]; ok {
			t.Measurements = append(t.Measurements, domain.NewMeasurement(def, v))
		} else {
			t.Measurements = append(t.Measurements, domain.AbsentMeasurement(def))
		}
	}
	return t, nil
}

// Prune deletes telegrams received before the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM telegrams WHERE received < ?", before.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Time("before", before).Msg("Pruned telegram history")
	}
	return n, nil
}

// Count returns the number of stored telegrams.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM telegrams").Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
