package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/campuscore/coursework-api/internal/models"
)

// SubmissionRepository defines data operations for submissions. The
// composite unique index on (assignment_id, student_email) is the final
// authority on the one-record-per-pair invariant; callers serialize
// find-or-replace around it.
type SubmissionRepository interface {
	GetByID(ctx context.Context, assignmentID, id uint) (models.Submission, error)
	GetByPair(ctx context.Context, assignmentID uint, studentEmail string) (models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error)
	ListByStudent(ctx context.Context, studentEmail string) ([]models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Submission{}).Preload("Assignment")
}

func (r *submissionRepository) GetByID(ctx context.Context, assignmentID, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) GetByPair(ctx context.Context, assignmentID uint, studentEmail string) (models.Submission, error) {
	var submission models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("student_email = ?", studentEmail).
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

// ListByAssignment returns the grading queue: ungraded work oldest first,
// followed by graded work newest first for audit and regrade.
func (r *submissionRepository) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error) {
	var ungraded []models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("graded = ?", false).
		Order("uploaded_at ASC").
		Find(&ungraded).Error; err != nil {
		return nil, err
	}

	var graded []models.Submission
	if err := r.baseQuery(ctx).
		Where("assignment_id = ?", assignmentID).
		Where("graded = ?", true).
		Order("uploaded_at DESC").
		Find(&graded).Error; err != nil {
		return nil, err
	}

	return append(ungraded, graded...), nil
}

func (r *submissionRepository) ListByStudent(ctx context.Context, studentEmail string) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.baseQuery(ctx).
		Where("student_email = ?", studentEmail).
		Order("uploaded_at DESC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Save(submission).Error
}
