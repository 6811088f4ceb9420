package dao

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRecordNotFound = errors.New("record not found")

// JobDAO 测量任务的存储
type JobDAO interface {
	// Upsert 按 job_key 插入或整行更新
	Upsert(ctx context.Context, job MeasurementJob) error
	FindAll(ctx context.Context) ([]MeasurementJob, error)
	FindByType(ctx context.Context, typ string) ([]MeasurementJob, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type MeasurementJob struct {
	// ID 在数据库中的ID信息
	ID int64 `gorm:"column:id;primaryKey;autoIncrement" db:"id"`
	// JobKey 任务的唯一标识
	JobKey   string `gorm:"column:job_key;type:varchar(128);uniqueIndex;not null" db:"job_key"`
	Type     string `gorm:"column:type;type:varchar(32);index;not null" db:"type"`
	UserName string `gorm:"column:user_name;type:varchar(128);not null;default:''" db:"user_name"`
	Target   string `gorm:"column:target;type:text;not null;default:''" db:"target"`
	Priority int    `gorm:"column:priority;type:int;not null;default:0" db:"priority"`
	// Params 测量参数，JSON文本
	Params string `gorm:"column:params;type:text;not null;default:'{}'" db:"params"`
	// 时间均为毫秒时间戳，0表示未设置
	StartTime      int64 `gorm:"column:start_time;not null;default:0" db:"start_time"`
	EndTime        int64 `gorm:"column:end_time;not null;default:0" db:"end_time"`
	IntervalMs     int64 `gorm:"column:interval_ms;not null;default:0" db:"interval_ms"`
	LastExecutedAt int64 `gorm:"column:last_executed_at;not null;default:0" db:"last_executed_at"`
	Status         int   `gorm:"column:status;type:int;not null" db:"status"`
	Cycle          int   `gorm:"column:cycle;type:int;not null;default:0" db:"cycle"`
	CreatedTime    int64 `gorm:"column:created_time;not null" db:"created_time"`
	UpdatedTime    int64 `gorm:"column:updated_time;not null" db:"updated_time"`
}

func (MeasurementJob) TableName() string {
	return "measurement_jobs"
}

// updateColumns Upsert 冲突时覆盖的列，不包括 created_time
var updateColumns = []string{
	"type", "user_name", "target", "priority", "params", "start_time", "end_time",
	"interval_ms", "last_executed_at", "status", "cycle", "updated_time",
}

type GormJobDAO struct {
	db *gorm.DB
}

func NewGormJobDAO(db *gorm.DB) JobDAO {
	return &GormJobDAO{db: db}
}

// AutoMigrate 创建或更新表结构
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&MeasurementJob{})
}

func (g *GormJobDAO) Upsert(ctx context.Context, job MeasurementJob) error {
	job.ID = 0
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_key"}},
		DoUpdates: clause.AssignmentColumns(updateColumns),
	}).Create(&job).Error
}

func (g *GormJobDAO) FindAll(ctx context.Context) ([]MeasurementJob, error) {
	var res []MeasurementJob
	err := g.db.WithContext(ctx).Order("id").Find(&res).Error
	return res, err
}

func (g *GormJobDAO) FindByType(ctx context.Context, typ string) ([]MeasurementJob, error) {
	var res []MeasurementJob
	err := g.db.WithContext(ctx).Where("type = ?", typ).Order("id").Find(&res).Error
	return res, err
}

func (g *GormJobDAO) Delete(ctx context.Context, key string) error {
	res := g.db.WithContext(ctx).Where("job_key = ?", key).Delete(&MeasurementJob{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (g *GormJobDAO) Close() error {
	db, err := g.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
