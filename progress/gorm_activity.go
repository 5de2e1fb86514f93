package progress

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormActivityLog is a SQL-backed ActivityLog using GORM.
type GormActivityLog struct {
	db *gorm.DB
}

// activityRow is the GORM model for activity records.
type activityRow struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	JobID     string    `gorm:"type:varchar(100);index;not null"`
	Kind      string    `gorm:"type:varchar(20);not null"`
	Status    string    `gorm:"type:varchar(20);not null"`
	Label     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (activityRow) TableName() string { return "job_activities" }

// NewGormActivityLog creates a SQL-backed activity log and migrates
// its table.
func NewGormActivityLog(db *gorm.DB) (*GormActivityLog, error) {
	if err := db.AutoMigrate(&activityRow{}); err != nil {
		return nil, err
	}
	return &GormActivityLog{db: db}, nil
}

func (l *GormActivityLog) Create(ctx context.Context, jobID string, kind Kind, status ActivityStatus, label string) (string, error) {
	now := time.Now().UTC()
	row := activityRow{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Kind:      string(kind),
		Status:    string(status),
		Label:     label,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", err
	}
	return row.ID, nil
}

func (l *GormActivityLog) Update(ctx context.Context, activityID string, patch ActivityPatch) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.Label != nil {
		updates["label"] = *patch.Label
	}

	result := l.db.WithContext(ctx).Model(&activityRow{}).
		Where("id = ?", activityID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrActivityNotFound
	}
	return nil
}

func (l *GormActivityLog) List(ctx context.Context, jobID string) ([]*Activity, error) {
	var rows []activityRow
	err := l.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]*Activity, 0, len(rows))
	for i := range rows {
		result = append(result, &Activity{
			ID:        rows[i].ID,
			JobID:     rows[i].JobID,
			Kind:      Kind(rows[i].Kind),
			Status:    ActivityStatus(rows[i].Status),
			Label:     rows[i].Label,
			CreatedAt: rows[i].CreatedAt,
			UpdatedAt: rows[i].UpdatedAt,
		})
	}
	return result, nil
}

func (l *GormActivityLog) DeleteForJob(ctx context.Context, jobID string) error {
	err := l.db.WithContext(ctx).Delete(&activityRow{}, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
