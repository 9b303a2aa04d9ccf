package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/coverletter-api/internal/models"
	"github.com/noah-isme/coverletter-api/internal/workflow"
)

// CoverLetterFilter narrows cover letter queries to an actor's queue.
type CoverLetterFilter struct {
	Stage      *workflow.Stage
	Department string
	Page       int
	PageSize   int
}

// StageAdvance describes a conditional stage change. The update only applies when the
// stored record still sits at From (and is unsigned when RequireUnsigned is set).
type StageAdvance struct {
	EntryID         string
	From            workflow.Stage
	To              workflow.Stage
	RequireUnsigned bool
	MarkChairSigned bool
	ActorID         string
	At              time.Time
}

// CoverLetterRepository defines data operations for cover letters.
type CoverLetterRepository interface {
	Create(ctx context.Context, letter *models.CoverLetter) error
	GetByEntryID(ctx context.Context, entryID string) (models.CoverLetter, error)
	List(ctx context.Context, filter CoverLetterFilter) ([]models.CoverLetter, int64, error)
	AdvanceStage(ctx context.Context, change StageAdvance) (bool, error)
}

type coverLetterRepository struct {
	db *gorm.DB
}

// NewCoverLetterRepository instantiates the repository.
func NewCoverLetterRepository(db *gorm.DB) CoverLetterRepository {
	return &coverLetterRepository{db: db}
}

func (r *coverLetterRepository) Create(ctx context.Context, letter *models.CoverLetter) error {
	return r.db.WithContext(ctx).Create(letter).Error
}

func (r *coverLetterRepository) GetByEntryID(ctx context.Context, entryID string) (models.CoverLetter, error) {
	var letter models.CoverLetter
	if err := r.db.WithContext(ctx).Where("entry_id = ?", entryID).First(&letter).Error; err != nil {
		return models.CoverLetter{}, err
	}

	return letter, nil
}

func (r *coverLetterRepository) List(ctx context.Context, filter CoverLetterFilter) ([]models.CoverLetter, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.CoverLetter{})

	if filter.Stage != nil {
		query = query.Where("stage = ?", *filter.Stage)
	}

	if filter.Department != "" {
		query = query.Where("LOWER(department) = LOWER(?)", strings.TrimSpace(filter.Department))
	}

	countQuery := query.Session(&gorm.Session{})
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.PageSize > 0 {
		page := filter.Page
		if page <= 0 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var letters []models.CoverLetter
	if err := query.Order("created_at DESC").Order("id DESC").Find(&letters).Error; err != nil {
		return nil, 0, err
	}

	return letters, total, nil
}

// AdvanceStage applies the change as a single conditional UPDATE. It reports false when
// another writer moved the record first or the preconditions no longer hold.
func (r *coverLetterRepository) AdvanceStage(ctx context.Context, change StageAdvance) (bool, error) {
	updates := map[string]interface{}{
		"stage":      change.To,
		"updated_at": change.At,
	}
	if change.MarkChairSigned {
		updates["department_chair_signed"] = true
		updates["department_chair_signed_by"] = change.ActorID
		updates["department_chair_signed_at"] = change.At
	}

	query := r.db.WithContext(ctx).Model(&models.CoverLetter{}).
		Where("entry_id = ?", change.EntryID).
		Where("stage = ?", change.From)
	if change.RequireUnsigned {
		query = query.Where("department_chair_signed = ?", false)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}
