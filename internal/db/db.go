package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendbot/internal/config"
	"attendbot/internal/db/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

type DB struct {
	*pgxpool.Pool
}

func New(config config.DatabaseConfig) (*DB, error) {
	// Create a configuration object
	cfg, err := pgxpool.ParseConfig(config.URL())
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// Configure connection pool and statement cache
	cfg.MaxConns = config.MaxConns
	cfg.MinConns = config.MinConns
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return &DB{pool}, nil
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pq.ErrorCode(pgErr.Code).Name() == "unique_violation"
}

const workerColumns = `id, discord_id, username, timezone, daily_goal_seconds, office_id, created_at`

func scanWorker(row pgx.Row) (*models.Worker, error) {
	w := &models.Worker{}
	err := row.Scan(
		&w.ID,
		&w.DiscordID,
		&w.Username,
		&w.Timezone,
		&w.DailyGoalSeconds,
		&w.OfficeID,
		&w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetOrCreateWorker retrieves a worker by Discord ID or creates a new one
func (db *DB) GetOrCreateWorker(ctx context.Context, discordID, username string, defaultGoal time.Duration) (*models.Worker, error) {
	query := `
		SELECT ` + workerColumns + `
		FROM workers
		WHERE discord_id = $1`

	worker, err := scanWorker(db.QueryRow(ctx, query, discordID))
	if err == nil {
		return worker, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("error getting worker: %w", err)
	}

	// Create new worker with UTC timezone by default
	insertQuery := `
		INSERT INTO workers (id, discord_id, username, timezone, daily_goal_seconds, created_at)
		VALUES ($1, $2, $3, 'UTC', $4, now())
		ON CONFLICT (discord_id) DO UPDATE SET username = EXCLUDED.username
		RETURNING ` + workerColumns

	worker, err = scanWorker(db.QueryRow(ctx, insertQuery,
		uuid.New(),
		discordID,
		username,
		int64(defaultGoal/time.Second),
	))
	if err != nil {
		return nil, fmt.Errorf("error creating worker: %w", err)
	}
	return worker, nil
}

// GetWorkerByID returns nil, nil when the worker does not exist.
func (db *DB) GetWorkerByID(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	query := `
		SELECT ` + workerColumns + `
		FROM workers
		WHERE id = $1`

	worker, err := scanWorker(db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return worker, err
}

// GetWorkerByDiscordID returns nil, nil when the worker does not exist.
func (db *DB) GetWorkerByDiscordID(ctx context.Context, discordID string) (*models.Worker, error) {
	query := `
		SELECT ` + workerColumns + `
		FROM workers
		WHERE discord_id = $1`

	worker, err := scanWorker(db.QueryRow(ctx, query, discordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return worker, err
}

func (db *DB) ListWorkers(ctx context.Context) ([]*models.Worker, error) {
	query := `
		SELECT ` + workerColumns + `
		FROM workers
		ORDER BY username`

	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// UpdateWorkerTimezone updates a worker's timezone
func (db *DB) UpdateWorkerTimezone(ctx context.Context, workerID uuid.UUID, timezone string) (*models.Worker, error) {
	query := `
		UPDATE workers
		SET timezone = $1
		WHERE id = $2
		RETURNING ` + workerColumns

	return scanWorker(db.QueryRow(ctx, query, timezone, workerID))
}

// UpdateWorkerGoal sets the worked time after which a shift auto-completes.
func (db *DB) UpdateWorkerGoal(ctx context.Context, workerID uuid.UUID, goal time.Duration) (*models.Worker, error) {
	query := `
		UPDATE workers
		SET daily_goal_seconds = $1
		WHERE id = $2
		RETURNING ` + workerColumns

	return scanWorker(db.QueryRow(ctx, query, int64(goal/time.Second), workerID))
}

// CreateOffice registers an office geofence.
func (db *DB) CreateOffice(ctx context.Context, office *models.Office) error {
	query := `
		INSERT INTO offices (id, name, latitude, longitude, radius_meters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.Exec(ctx, query,
		office.ID,
		office.Name,
		office.Latitude,
		office.Longitude,
		office.RadiusMeters,
		office.CreatedAt,
	)
	return err
}

// AssignOffice sets or clears (officeID == nil) a worker's office.
func (db *DB) AssignOffice(ctx context.Context, workerID uuid.UUID, officeID *uuid.UUID) (*models.Worker, error) {
	query := `
		UPDATE workers
		SET office_id = $1
		WHERE id = $2
		RETURNING ` + workerColumns

	return scanWorker(db.QueryRow(ctx, query, officeID, workerID))
}

// GetOfficeForWorker returns nil, nil when the worker has no office.
func (db *DB) GetOfficeForWorker(ctx context.Context, workerID uuid.UUID) (*models.Office, error) {
	query := `
		SELECT o.id, o.name, o.latitude, o.longitude, o.radius_meters, o.created_at
		FROM offices o
		JOIN workers w ON w.office_id = o.id
		WHERE w.id = $1`

	office := &models.Office{}
	err := db.QueryRow(ctx, query, workerID).Scan(
		&office.ID,
		&office.Name,
		&office.Latitude,
		&office.Longitude,
		&office.RadiusMeters,
		&office.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return office, nil
}
