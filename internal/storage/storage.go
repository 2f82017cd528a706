package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"artvault/internal/logger"
	"artvault/internal/models"
)

// Journal records lifecycle transitions.
type Journal interface {
	Record(ctx context.Context, ev models.Event) error
	Events(ctx context.Context, sku string) ([]models.Event, error)
	Close()
}

// NopJournal is used when no database is configured.
type NopJournal struct{}

func (NopJournal) Record(context.Context, models.Event) error { return nil }
func (NopJournal) Events(context.Context, string) ([]models.Event, error) {
	return nil, nil
}
func (NopJournal) Close() {}

// Storage is the Postgres-backed journal.
type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // for migrations
}

func NewStorage(ctx context.Context, dsn string, log *logger.Logger) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db, log.Component("migrations")); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

func (s *Storage) Record(ctx context.Context, ev models.Event) error {
	const op = "storage.Record"

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO record_events (id, sku, slug, stage, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.SKU, ev.Slug, string(ev.Stage), ev.Action, ev.Detail, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) Events(ctx context.Context, sku string) ([]models.Event, error) {
	const op = "storage.Events"

	rows, err := s.pool.Query(ctx,
		`SELECT id, sku, slug, stage, action, detail, created_at
		 FROM record_events WHERE sku = $1 ORDER BY created_at, id`, sku)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var stage string
		if err := rows.Scan(&ev.ID, &ev.SKU, &ev.Slug, &stage, &ev.Action, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ev.Stage = models.Stage(stage)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return events, nil
}
