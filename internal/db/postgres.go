package db

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/mixsim/internal/sim"
	"github.com/rawblock/mixsim/internal/stats"
	"github.com/rawblock/mixsim/pkg/models"
)

// The CSV tree under the output directory is the canonical record of a
// sweep; Postgres is a query convenience layered on top. The engine runs
// fine without it.

type PostgresStore struct {
	pool *pgxpool.Pool
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sweeps (
	sweep_id    UUID PRIMARY KEY,
	experiment  SMALLINT NOT NULL,
	session     SMALLINT NOT NULL,
	queue_type  TEXT NOT NULL,
	out_dir     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS paramset_stats (
	sweep_id          UUID NOT NULL REFERENCES sweeps(sweep_id),
	paramset          INT NOT NULL,
	queue_type        TEXT NOT NULL,
	latency_min       DOUBLE PRECISION,
	latency_median    DOUBLE PRECISION,
	latency_mean      DOUBLE PRECISION,
	latency_std       DOUBLE PRECISION,
	latency_max       DOUBLE PRECISION,
	strong_coeff_mean DOUBLE PRECISION,
	causal_coeff_mean DOUBLE PRECISION,
	weak_coeff_mean   DOUBLE PRECISION,
	PRIMARY KEY (sweep_id, paramset)
);

CREATE TABLE IF NOT EXISTS iteration_durations (
	sweep_id   UUID NOT NULL REFERENCES sweeps(sweep_id),
	paramset   INT NOT NULL,
	iteration  INT NOT NULL,
	seconds    DOUBLE PRECISION NOT NULL,
	vtime      REAL NOT NULL,
	PRIMARY KEY (sweep_id, paramset, iteration)
);
`

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}
	log.Println("Successfully connected to PostgreSQL for sweep results")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the result tables if they do not exist yet.
func (s *PostgresStore) InitSchema() error {
	if _, err := s.pool.Exec(context.Background(), schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}
	log.Println("Sweep results schema initialized")
	return nil
}

// SaveSweep records the sweep configuration when a sweep starts.
func (s *PostgresStore) SaveSweep(ctx context.Context, sweepID string, cfg sim.SweepConfig) error {
	sql := `
		INSERT INTO sweeps (sweep_id, experiment, session, queue_type, out_dir)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sweep_id) DO NOTHING;
	`
	_, err := s.pool.Exec(ctx, sql, sweepID,
		int16(cfg.Experiment), int16(cfg.Session), cfg.QueueType.String(), cfg.OutDir)
	return err
}

// SaveParamSetSummary persists the aggregated measurements of one paramset.
func (s *PostgresStore) SaveParamSetSummary(ctx context.Context, sweepID string,
	p models.ParamSet, latency stats.Summary, coeffs map[string]stats.Summary) error {
	sql := `
		INSERT INTO paramset_stats
		(sweep_id, paramset, queue_type,
		 latency_min, latency_median, latency_mean, latency_std, latency_max,
		 strong_coeff_mean, causal_coeff_mean, weak_coeff_mean)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (sweep_id, paramset) DO UPDATE SET
			latency_min = EXCLUDED.latency_min,
			latency_median = EXCLUDED.latency_median,
			latency_mean = EXCLUDED.latency_mean,
			latency_std = EXCLUDED.latency_std,
			latency_max = EXCLUDED.latency_max,
			strong_coeff_mean = EXCLUDED.strong_coeff_mean,
			causal_coeff_mean = EXCLUDED.causal_coeff_mean,
			weak_coeff_mean = EXCLUDED.weak_coeff_mean;
	`
	_, err := s.pool.Exec(ctx, sql, sweepID, int32(p.ID), p.QueueType.String(),
		latency.Min, latency.Median, latency.Mean, latency.Std, latency.Max,
		coeffMean(coeffs, "strong"), coeffMean(coeffs, "causal"), coeffMean(coeffs, "weak"))
	return err
}

// SaveIterationDuration persists one wall-clock timing row.
func (s *PostgresStore) SaveIterationDuration(ctx context.Context, sweepID string,
	paramsetID uint16, iteration int, seconds float64, vtime float32) error {
	sql := `
		INSERT INTO iteration_durations (sweep_id, paramset, iteration, seconds, vtime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sweep_id, paramset, iteration) DO UPDATE
		SET seconds = EXCLUDED.seconds, vtime = EXCLUDED.vtime;
	`
	_, err := s.pool.Exec(ctx, sql, sweepID, int32(paramsetID), int32(iteration), seconds, vtime)
	return err
}

// ParamSetStats is one aggregated result row for the API.
type ParamSetStats struct {
	ParamSet        int32   `json:"paramset"`
	QueueType       string  `json:"queueType"`
	LatencyMean     float64 `json:"latencyMean"`
	LatencyMedian   float64 `json:"latencyMedian"`
	LatencyMax      float64 `json:"latencyMax"`
	StrongCoeffMean float64 `json:"strongCoeffMean"`
	CausalCoeffMean float64 `json:"causalCoeffMean"`
	WeakCoeffMean   float64 `json:"weakCoeffMean"`
}

// GetParamSetStats lists the persisted summaries of a sweep in paramset
// order.
func (s *PostgresStore) GetParamSetStats(ctx context.Context, sweepID string) ([]ParamSetStats, error) {
	sql := `
		SELECT paramset, queue_type, latency_mean, latency_median, latency_max,
		       COALESCE(strong_coeff_mean, 0), COALESCE(causal_coeff_mean, 0),
		       COALESCE(weak_coeff_mean, 0)
		FROM paramset_stats
		WHERE sweep_id = $1
		ORDER BY paramset;
	`
	rows, err := s.pool.Query(ctx, sql, sweepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []ParamSetStats{}
	for rows.Next() {
		var r ParamSetStats
		if err := rows.Scan(&r.ParamSet, &r.QueueType, &r.LatencyMean, &r.LatencyMedian,
			&r.LatencyMax, &r.StrongCoeffMean, &r.CausalCoeffMean, &r.WeakCoeffMean); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetPool exposes the connection pool for other subsystems.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}

func coeffMean(coeffs map[string]stats.Summary, kind string) *float64 {
	s, ok := coeffs[kind]
	if !ok {
		return nil
	}
	mean := s.Mean
	return &mean
}
