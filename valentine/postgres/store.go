/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package postgres stores valentines in a single Postgres table. Writes are
// conditional single-statement UPDATEs, so a claim or an answer either
// applies whole or not at all.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Seednode/valentines/valentine"
)

//go:embed migrations/*.sql
var migrations embed.FS

const columns = `id, sender_name, receiver_name, sender_visitor_id, receiver_visitor_id,
	character_type, love_note, sender_choice, receiver_choice, status,
	created_at, opened_at, completed_at`

type Store struct {
	db *sql.DB
}

// Open connects to databaseURL through the pgx driver and checks the
// connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, rec valentine.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO valentines (id, sender_name, receiver_name, sender_visitor_id,
			character_type, love_note, sender_choice, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.SenderName, rec.ReceiverName, rec.SenderVisitorID,
		string(rec.CharacterType), nullString(rec.LoveNote), string(rec.SenderChoice),
		string(rec.Status), rec.CreatedAt)
	if err != nil {
		return valentine.Persistence("create valentine", err)
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context, id string) (valentine.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM valentines WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return valentine.Record{}, valentine.ErrNotFound
	}
	if err != nil {
		return valentine.Record{}, valentine.Persistence("fetch valentine", err)
	}
	return rec, nil
}

func (s *Store) ClaimReceiver(ctx context.Context, id, visitorID string, at time.Time) (valentine.Record, bool, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
		UPDATE valentines
		SET receiver_visitor_id = $2,
			status = CASE WHEN status = 'sent' THEN 'opened' ELSE status END,
			opened_at = COALESCE(opened_at, $3)
		WHERE id = $1
			AND receiver_visitor_id IS NULL
			AND sender_visitor_id <> $2
		RETURNING `+columns, id, visitorID, at))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return valentine.Record{}, false, valentine.Persistence("claim valentine", err)
	}

	current, err := s.Fetch(ctx, id)
	if err != nil {
		return valentine.Record{}, false, err
	}

	held, err := valentine.ClaimOutcome(current, visitorID)
	if err != nil {
		return valentine.Record{}, false, err
	}
	if !held {
		// Unclaimed yet the update matched nothing: only a racing delete
		// could do that, and there is no delete path.
		return valentine.Record{}, false, valentine.Persistence("claim valentine", errors.New("conditional update matched no row"))
	}

	return current, false, nil
}

func (s *Store) SubmitChoice(ctx context.Context, id, visitorID string, choice valentine.Choice, at time.Time) (valentine.Record, bool, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
		UPDATE valentines
		SET receiver_visitor_id = COALESCE(receiver_visitor_id, $2),
			receiver_choice = $3,
			status = 'complete',
			completed_at = $4
		WHERE id = $1
			AND receiver_choice IS NULL
			AND sender_visitor_id <> $2
			AND (receiver_visitor_id IS NULL OR receiver_visitor_id = $2)
		RETURNING `+columns, id, visitorID, string(choice), at))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return valentine.Record{}, false, valentine.Persistence("submit choice", err)
	}

	current, err := s.Fetch(ctx, id)
	if err != nil {
		return valentine.Record{}, false, err
	}

	same, err := valentine.ChoiceOutcome(current, visitorID, choice)
	if err != nil {
		return valentine.Record{}, false, err
	}
	if !same {
		return valentine.Record{}, false, valentine.Persistence("submit choice", errors.New("conditional update matched no row"))
	}

	return current, false, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM valentines`).Scan(&n); err != nil {
		return 0, valentine.Persistence("count valentines", err)
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]valentine.Record, error) {
	query := `SELECT ` + columns + ` FROM valentines ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, valentine.Persistence("list valentines", err)
	}
	defer rows.Close()

	var out []valentine.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, valentine.Persistence("list valentines", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, valentine.Persistence("list valentines", err)
	}

	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (valentine.Record, error) {
	var (
		rec            valentine.Record
		character      string
		senderChoice   string
		status         string
		receiver       sql.NullString
		note           sql.NullString
		receiverChoice sql.NullString
		openedAt       sql.NullTime
		completedAt    sql.NullTime
	)

	err := row.Scan(
		&rec.ID, &rec.SenderName, &rec.ReceiverName, &rec.SenderVisitorID, &receiver,
		&character, &note, &senderChoice, &receiverChoice, &status,
		&rec.CreatedAt, &openedAt, &completedAt,
	)
	if err != nil {
		return valentine.Record{}, err
	}

	rec.CharacterType = valentine.Character(character)
	rec.SenderChoice = valentine.Choice(senderChoice)
	rec.Status = valentine.Status(status)

	if receiver.Valid {
		rec.ReceiverVisitorID = &receiver.String
	}
	if note.Valid {
		rec.LoveNote = &note.String
	}
	if receiverChoice.Valid {
		c := valentine.Choice(receiverChoice.String)
		rec.ReceiverChoice = &c
	}
	if openedAt.Valid {
		rec.OpenedAt = &openedAt.Time
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}

	return rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
