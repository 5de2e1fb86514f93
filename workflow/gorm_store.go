package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is a SQL-backed implementation of Store using GORM.
// Works with SQLite for single-node deployments and PostgreSQL for
// shared ones. Step checkpoints rely on a unique (run_id, step_name)
// index plus an ON CONFLICT DO NOTHING insert for write-once semantics.
type GormStore struct {
	db *gorm.DB
}

// runRow is the GORM model for workflow runs.
type runRow struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	WorkflowName    string         `gorm:"type:varchar(100);index;not null"`
	Status          string         `gorm:"type:varchar(20);index;not null"`
	Input           datatypes.JSON `gorm:"type:jsonb"`
	Output          datatypes.JSON `gorm:"type:jsonb"`
	Error           string
	CancelRequested bool
	StartedAt       time.Time `gorm:"index"`
	TimeoutAt       time.Time
	CompletedAt     *time.Time
}

func (runRow) TableName() string { return "workflow_runs" }

// stepRow is the GORM model for step checkpoints. Result is an opaque
// byte column, not a JSON column: a checkpoint payload may be any JSON
// value including bare scalars ("42"), which JSON column types refuse
// to scan on some dialects.
type stepRow struct {
	RunID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	StepName    string    `gorm:"type:varchar(255);primaryKey"`
	Result      []byte
	CompletedAt time.Time `gorm:"index"`
}

func (stepRow) TableName() string { return "workflow_steps" }

// NewGormStore creates a SQL-backed store and migrates its tables.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&runRow{}, &stepRow{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func toRow(run *Run) *runRow {
	return &runRow{
		ID:              run.ID,
		WorkflowName:    run.WorkflowName,
		Status:          string(run.Status),
		Input:           datatypes.JSON(run.Input),
		Output:          datatypes.JSON(run.Output),
		Error:           run.Error,
		CancelRequested: run.CancelRequested,
		StartedAt:       run.StartedAt,
		TimeoutAt:       run.TimeoutAt,
		CompletedAt:     run.CompletedAt,
	}
}

func fromRow(row *runRow) *Run {
	return &Run{
		ID:              row.ID,
		WorkflowName:    row.WorkflowName,
		Status:          RunStatus(row.Status),
		Input:           []byte(row.Input),
		Output:          []byte(row.Output),
		Error:           row.Error,
		CancelRequested: row.CancelRequested,
		StartedAt:       row.StartedAt,
		TimeoutAt:       row.TimeoutAt,
		CompletedAt:     row.CompletedAt,
	}
}

func (s *GormStore) CreateRun(ctx context.Context, run *Run) error {
	return s.db.WithContext(ctx).Create(toRow(run)).Error
}

func (s *GormStore) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var row runRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row), nil
}

func (s *GormStore) UpdateRun(ctx context.Context, run *Run) error {
	// Conditional write: running is the only non-terminal status, so
	// matching on it keeps terminal records immutable without a lock.
	result := s.db.WithContext(ctx).Model(&runRow{}).
		Where("id = ? AND status = ?", run.ID, string(RunStatusRunning)).
		Updates(map[string]any{
			"status":           string(run.Status),
			"output":           datatypes.JSON(run.Output),
			"error":            run.Error,
			"cancel_requested": run.CancelRequested,
			"completed_at":     run.CompletedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var row runRow
		err := s.db.WithContext(ctx).Select("status").First(&row, "id = ?", run.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}
		return ErrRunTerminal
	}
	return nil
}

func (s *GormStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	q := s.db.WithContext(ctx).Model(&runRow{}).Order("started_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(rows))
	for i := range rows {
		runs = append(runs, fromRow(&rows[i]))
	}
	return runs, nil
}

func (s *GormStore) SaveStepResult(ctx context.Context, runID uuid.UUID, stepName string, result []byte) error {
	row := stepRow{
		RunID:       runID,
		StepName:    stepName,
		Result:      result,
		CompletedAt: time.Now(),
	}
	// First writer wins; a duplicate insert is silently ignored.
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (s *GormStore) GetStepResult(ctx context.Context, runID uuid.UUID, stepName string) ([]byte, bool, error) {
	var row stepRow
	err := s.db.WithContext(ctx).
		First(&row, "run_id = ? AND step_name = ?", runID, stepName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.Result, true, nil
}

func (s *GormStore) ListStepResults(ctx context.Context, runID uuid.UUID) ([]*StepRecord, error) {
	var rows []stepRow
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("completed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]*StepRecord, 0, len(rows))
	for i := range rows {
		records = append(records, &StepRecord{
			RunID:       rows[i].RunID,
			StepName:    rows[i].StepName,
			Result:      rows[i].Result,
			CompletedAt: rows[i].CompletedAt,
		})
	}
	return records, nil
}

func (s *GormStore) DeleteStepResults(ctx context.Context, runID uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&stepRow{}, "run_id = ?", runID).Error
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
