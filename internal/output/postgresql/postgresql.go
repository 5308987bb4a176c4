// Package postgresql persists generations and their transactions in PostgreSQL.
package postgresql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/manifest-network/aexplorer/internal/models"
	"github.com/manifest-network/aexplorer/internal/output"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	upsertGenerationQuery = `INSERT INTO api.generations_raw (id, hash, num_transactions, data)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET hash = EXCLUDED.hash, num_transactions = EXCLUDED.num_transactions, data = EXCLUDED.data`

	upsertTransactionQuery = `INSERT INTO api.transactions_raw (id, generation_id, micro_block_hash, data)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET generation_id = EXCLUDED.generation_id, micro_block_hash = EXCLUDED.micro_block_hash, data = EXCLUDED.data`

	latestGenerationQuery   = `SELECT data FROM api.generations_raw ORDER BY id DESC LIMIT 1`
	earliestGenerationQuery = `SELECT data FROM api.generations_raw ORDER BY id ASC LIMIT 1`

	missingHeightsQuery = `SELECT s.i AS missing_id
FROM generate_series((SELECT MIN(id) FROM api.generations_raw), (SELECT MAX(id) FROM api.generations_raw)) s(i)
WHERE NOT EXISTS (SELECT 1 FROM api.generations_raw g WHERE g.id = s.i)
ORDER BY s.i`

	deleteGenerationsQuery = `DELETE FROM api.generations_raw WHERE id >= $1`
)

type PostgresOutputHandler struct {
	db *sql.DB
}

var _ output.OutputHandler = (*PostgresOutputHandler)(nil)

// NewPostgresOutputHandler opens and pings the database behind dsn.
func NewPostgresOutputHandler(ctx context.Context, dsn string) (*PostgresOutputHandler, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened database.
func NewWithDB(db *sql.DB) *PostgresOutputHandler {
	return &PostgresOutputHandler{db: db}
}

// Migrate brings the schema up to date.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, MigrateURL(dsn))
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			slog.Warn("Failed to close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateURL rewrites a postgres DSN to the scheme of the migrate pgx driver.
func MigrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func (h *PostgresOutputHandler) WriteGeneration(ctx context.Context, generation *models.Generation) error {
	if generation == nil || generation.KeyBlock == nil {
		return fmt.Errorf("generation has no key-block")
	}
	data, err := json.Marshal(generation)
	if err != nil {
		return fmt.Errorf("failed to marshal generation: %w", err)
	}
	id := int64(generation.Height())

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Warn("Failed to roll back transaction", "error", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, upsertGenerationQuery, id, generation.KeyBlock.Hash, generation.NumTransactions, data); err != nil {
		return fmt.Errorf("failed to write generation %d: %w", id, err)
	}

	for _, microBlock := range generation.MicroBlocksDetailed {
		for _, t := range microBlock.Transactions {
			txData, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("failed to marshal transaction %s: %w", t.Hash, err)
			}
			if _, err := tx.ExecContext(ctx, upsertTransactionQuery, t.Hash, id, microBlock.Hash, txData); err != nil {
				return fmt.Errorf("failed to write transaction %s: %w", t.Hash, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit generation %d: %w", id, err)
	}
	return nil
}

func (h *PostgresOutputHandler) GetLatestGeneration(ctx context.Context) (*models.Generation, error) {
	return h.queryGeneration(ctx, latestGenerationQuery)
}

func (h *PostgresOutputHandler) GetEarliestGeneration(ctx context.Context) (*models.Generation, error) {
	return h.queryGeneration(ctx, earliestGenerationQuery)
}

func (h *PostgresOutputHandler) queryGeneration(ctx context.Context, query string) (*models.Generation, error) {
	var data []byte
	err := h.db.QueryRowContext(ctx, query).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query generation: %w", err)
	}
	var generation models.Generation
	if err := json.Unmarshal(data, &generation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal generation: %w", err)
	}
	return &generation, nil
}

func (h *PostgresOutputHandler) GetMissingGenerationHeights(ctx context.Context) ([]uint64, error) {
	rows, err := h.db.QueryContext(ctx, missingHeightsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query missing generations: %w", err)
	}
	defer rows.Close()

	var heights []uint64
	for rows.Next() {
		var height int64
		if err := rows.Scan(&height); err != nil {
			return nil, fmt.Errorf("failed to scan missing generation: %w", err)
		}
		heights = append(heights, uint64(height))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate missing generations: %w", err)
	}
	return heights, nil
}

func (h *PostgresOutputHandler) DeleteGenerationsFrom(ctx context.Context, height uint64) error {
	res, err := h.db.ExecContext(ctx, deleteGenerationsQuery, int64(height))
	if err != nil {
		return fmt.Errorf("failed to delete generations from %d: %w", height, err)
	}
	if n, err := res.RowsAffected(); err == nil {
		slog.Info("Deleted generations", "from", height, "count", n)
	}
	return nil
}

func (h *PostgresOutputHandler) Close() error {
	return h.db.Close()
}
