// Package store persists answer history in Postgres: every completed request
// with its sources, verification outcome and plan, queryable for the service
// API and the scheduler.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/nkamali/faro/internal/pipeline"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *sql.DB
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record is one persisted answer.
type Record struct {
	ID           string                       `json:"id"`
	Query        string                       `json:"query"`
	Answer       string                       `json:"answer"`
	Sources      []pipeline.SourceRef         `json:"sources"`
	Images       []string                     `json:"images"`
	Verification *pipeline.VerificationResult `json:"verification,omitempty"`
	Plan         []pipeline.SubTask           `json:"plan,omitempty"`
	Deep         bool                         `json:"deep"`
	CreatedAt    time.Time                    `json:"created_at"`
}

// SaveAnswer persists one completed request and returns its record ID.
func (s *Store) SaveAnswer(ctx context.Context, query string, deep bool, answer *pipeline.Answer) (string, error) {
	id := uuid.NewString()
	sources, err := json.Marshal(answer.Sources)
	if err != nil {
		return "", err
	}
	images, err := json.Marshal(answer.Images)
	if err != nil {
		return "", err
	}
	plan, err := json.Marshal(answer.Plan)
	if err != nil {
		return "", err
	}
	var verification []byte
	if answer.Verification != nil {
		if verification, err = json.Marshal(answer.Verification); err != nil {
			return "", err
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO answers (id, query, answer, sources, images, verification, plan, deep, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, query, answer.FormattedAnswer, sources, images, nullable(verification), plan, deep, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert answer: %w", err)
	}
	return id, nil
}

// GetAnswer loads one record by ID.
func (s *Store) GetAnswer(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, query, answer, sources, images, verification, plan, deep, created_at
		FROM answers WHERE id = $1`, id)
	return scanRecord(row)
}

// ListAnswers returns recent records, newest first. query filters by
// substring match when non-empty.
func (s *Store) ListAnswers(ctx context.Context, query string, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, answer, sources, images, verification, plan, deep, created_at
		FROM answers
		WHERE ($1 = '' OR query ILIKE '%' || $1 || '%')
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// DeleteAnswer removes one record.
func (s *Store) DeleteAnswer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM answers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete answer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var sources, images, plan []byte
	var verification sql.NullString
	err := row.Scan(&rec.ID, &rec.Query, &rec.Answer, &sources, &images, &verification, &plan, &rec.Deep, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan answer: %w", err)
	}
	if err := json.Unmarshal(sources, &rec.Sources); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(images, &rec.Images); err != nil {
		return nil, err
	}
	if len(plan) > 0 {
		if err := json.Unmarshal(plan, &rec.Plan); err != nil {
			return nil, err
		}
	}
	if verification.Valid && verification.String != "" {
		var v pipeline.VerificationResult
		if err := json.Unmarshal([]byte(verification.String), &v); err != nil {
			return nil, err
		}
		rec.Verification = &v
	}
	return &rec, nil
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// CreateUser registers a new account. The unique constraint on email is the
// only duplicate guard; callers inspect the pq error code.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2)`, email, passwordHash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id, passwordHash string, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &passwordHash)
	if err == sql.ErrNoRows {
		err = ErrNotFound
	}
	return
}
