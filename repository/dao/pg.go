package dao

import (
	"context"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS measurement_jobs (
	id               BIGSERIAL PRIMARY KEY,
	job_key          VARCHAR(128) NOT NULL UNIQUE,
	type             VARCHAR(32)  NOT NULL,
	user_name        VARCHAR(128) NOT NULL DEFAULT '',
	target           TEXT         NOT NULL DEFAULT '',
	priority         INT          NOT NULL DEFAULT 0,
	params           TEXT         NOT NULL DEFAULT '{}',
	start_time       BIGINT       NOT NULL DEFAULT 0,
	end_time         BIGINT       NOT NULL DEFAULT 0,
	interval_ms      BIGINT       NOT NULL DEFAULT 0,
	last_executed_at BIGINT       NOT NULL DEFAULT 0,
	status           INT          NOT NULL,
	cycle            INT          NOT NULL DEFAULT 0,
	created_time     BIGINT       NOT NULL,
	updated_time     BIGINT       NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_measurement_jobs_type ON measurement_jobs (type);
`

const pgUpsert = `
INSERT INTO measurement_jobs (job_key, type, user_name, target, priority, params, start_time,
	end_time, interval_ms, last_executed_at, status, cycle, created_time, updated_time)
VALUES (:job_key, :type, :user_name, :target, :priority, :params, :start_time,
	:end_time, :interval_ms, :last_executed_at, :status, :cycle, :created_time, :updated_time)
ON CONFLICT (job_key) DO UPDATE SET
	type = EXCLUDED.type,
	user_name = EXCLUDED.user_name,
	target = EXCLUDED.target,
	priority = EXCLUDED.priority,
	params = EXCLUDED.params,
	start_time = EXCLUDED.start_time,
	end_time = EXCLUDED.end_time,
	interval_ms = EXCLUDED.interval_ms,
	last_executed_at = EXCLUDED.last_executed_at,
	status = EXCLUDED.status,
	cycle = EXCLUDED.cycle,
	updated_time = EXCLUDED.updated_time`

// PgJobDAO 直接使用 sqlx 访问 Postgres
type PgJobDAO struct {
	db *sqlx.DB
}

func NewPgJobDAO(ctx context.Context, dsn string) (*PgJobDAO, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &PgJobDAO{db: db}, nil
}

func (p *PgJobDAO) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, pgSchema)
	return err
}

func (p *PgJobDAO) Upsert(ctx context.Context, job MeasurementJob) error {
	_, err := p.db.NamedExecContext(ctx, pgUpsert, job)
	return err
}

func (p *PgJobDAO) FindAll(ctx context.Context) ([]MeasurementJob, error) {
	var res []MeasurementJob
	err := p.db.SelectContext(ctx, &res, `SELECT * FROM measurement_jobs ORDER BY id`)
	return res, err
}

func (p *PgJobDAO) FindByType(ctx context.Context, typ string) ([]MeasurementJob, error) {
	var res []MeasurementJob
	err := p.db.SelectContext(ctx, &res,
		`SELECT * FROM measurement_jobs WHERE type = $1 ORDER BY id`, typ)
	return res, err
}

func (p *PgJobDAO) Delete(ctx context.Context, key string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM measurement_jobs WHERE job_key = $1`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PgJobDAO) Close() error {
	return p.db.Close()
}

// 编译期检查
var (
	_ JobDAO = (*PgJobDAO)(nil)
	_ JobDAO = (*GormJobDAO)(nil)
)
