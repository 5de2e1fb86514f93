package progress

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is a SQL-backed progress store. Update runs the whole
// read-merge-write cycle inside one transaction with a row lock, so
// concurrent workers serialize per job and no merge is lost.
type GormStore struct {
	db *gorm.DB
}

// snapshotRow is the GORM model for progress snapshots.
type snapshotRow struct {
	JobID           string         `gorm:"type:varchar(100);primaryKey"`
	Status          string         `gorm:"type:varchar(20);not null"`
	ProgressPercent int            `gorm:"not null"`
	Title           string         `gorm:"type:text"`
	Sources         datatypes.JSON `gorm:"type:jsonb"`
	Result          datatypes.JSON `gorm:"type:jsonb"`
	Error           string         `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (snapshotRow) TableName() string { return "job_progress" }

// NewGormStore creates a SQL-backed progress store and migrates its table.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Create(ctx context.Context, snapshot Snapshot) error {
	row, err := toRow(snapshot)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrJobExists
	}
	return nil
}

func (s *GormStore) Update(ctx context.Context, jobID string, update Update) (Snapshot, error) {
	var merged Snapshot

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("job_id = ?", jobID)
		// SQLite has no SELECT ... FOR UPDATE; its writers serialize on
		// the database lock instead.
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var row snapshotRow
		err := query.First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		existing, decErr := fromRow(row)
		if decErr != nil {
			return decErr
		}

		merged = Merge(existing, update)
		updated, encErr := toRow(merged)
		if encErr != nil {
			return encErr
		}
		return tx.Save(&updated).Error
	})
	if err != nil {
		return Snapshot{}, err
	}
	return merged, nil
}

func (s *GormStore) Read(ctx context.Context, jobID string) (Snapshot, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, ErrJobNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return fromRow(row)
}

func toRow(snapshot Snapshot) (snapshotRow, error) {
	sources, err := json.Marshal(snapshot.Sources)
	if err != nil {
		return snapshotRow{}, err
	}
	return snapshotRow{
		JobID:           snapshot.JobID,
		Status:          string(snapshot.Status),
		ProgressPercent: snapshot.ProgressPercent,
		Title:           snapshot.Title,
		Sources:         datatypes.JSON(sources),
		Result:          datatypes.JSON(snapshot.Result),
		Error:           snapshot.Error,
		CreatedAt:       snapshot.CreatedAt,
		UpdatedAt:       snapshot.UpdatedAt,
	}, nil
}

func fromRow(row snapshotRow) (Snapshot, error) {
	snapshot := Snapshot{
		JobID:           row.JobID,
		Status:          Status(row.Status),
		ProgressPercent: row.ProgressPercent,
		Title:           row.Title,
		Result:          json.RawMessage(row.Result),
		Error:           row.Error,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if len(row.Sources) > 0 {
		if err := json.Unmarshal(row.Sources, &snapshot.Sources); err != nil {
			return Snapshot{}, err
		}
	}
	return snapshot, nil
}
