package repository

import (
	"context"
	"fmt"

	"github.com/TimeWtr/probe_scheduler/repository/dao"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open 按驱动打开存储并建表，返回的close用于释放连接
func Open(ctx context.Context, driver, dsn string) (JobRepository, func() error, error) {
	var d dao.JobDAO
	switch driver {
	case DriverSQLite, "":
		g, err := openGormSQLite(ctx, dsn, dao.AutoMigrate)
		if err != nil {
			return nil, nil, err
		}
		d = g
	case DriverPostgres:
		pg, err := dao.NewPgJobDAO(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err = pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		d = pg
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", driver)
	}

	return NewJobRepository(d), d.Close, nil
}

// openGormSQLite 建表失败时关闭已经打开的连接
func openGormSQLite(ctx context.Context, dsn string, migrate func(context.Context, *gorm.DB) error) (dao.JobDAO, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}

	g := dao.NewGormJobDAO(db)
	if err = migrate(ctx, db); err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return g, nil
}
