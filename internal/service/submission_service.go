package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/campuscore/coursework-api/internal/dto"
	"github.com/campuscore/coursework-api/internal/events"
	"github.com/campuscore/coursework-api/internal/models"
	"github.com/campuscore/coursework-api/internal/observability"
	"github.com/campuscore/coursework-api/internal/repository"
	"github.com/campuscore/coursework-api/pkg/blobstore"
)

var (
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrSubmissionAlreadyGraded rejects upload attempts on graded work.
	ErrSubmissionAlreadyGraded = errors.New("submission already graded")
	// ErrDocumentTypeNotAllowed indicates the upload is not a PDF document.
	ErrDocumentTypeNotAllowed = errors.New("document type not allowed")
	// ErrDocumentTooLarge indicates the upload exceeded the configured limit.
	ErrDocumentTooLarge = errors.New("document exceeds maximum allowed size")
	// ErrFeedbackNotAvailable indicates no feedback document exists yet.
	ErrFeedbackNotAvailable = errors.New("feedback document not available")
)

// SubmissionService orchestrates the submission side of the workflow:
// gate check, find-or-replace, blob bookkeeping, and event emission.
type SubmissionService interface {
	Submit(ctx context.Context, assignmentID uint, studentEmail string, file *multipart.FileHeader) (dto.SubmissionResponse, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]dto.SubmissionResponse, error)
	FindOne(ctx context.Context, assignmentID uint, studentEmail string) (*dto.SubmissionResponse, error)
	Document(ctx context.Context, assignmentID, submissionID uint) ([]byte, error)
	Feedback(ctx context.Context, assignmentID, submissionID uint) ([]byte, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	gate        AccessGate
	blobs       blobstore.Store
	bus         *events.Bus
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	maxSize     int64
	locks       pairLocks
	now         func() time.Time
}

// NewSubmissionService constructs a SubmissionService instance.
func NewSubmissionService(subRepo repository.SubmissionRepository, assignmentRepo repository.AssignmentRepository, gate AccessGate, blobs blobstore.Store, bus *events.Bus, validate *validator.Validate, maxSizeMB int, logger zerolog.Logger) SubmissionService {
	if maxSizeMB <= 0 {
		maxSizeMB = 20
	}
	return &submissionService{
		submissions: subRepo,
		assignments: assignmentRepo,
		gate:        gate,
		blobs:       blobs,
		bus:         bus,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/campuscore/coursework-api/internal/service/submission"),
		maxSize:     int64(maxSizeMB) * 1024 * 1024,
		now:         time.Now,
	}
}

// pairLocks serializes the find-or-replace step per (assignment, student)
// pair. The unique index on the submissions table is the cross-process
// backstop; this keeps concurrent uploads on one node from racing past the
// lookup.
type pairLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *pairLocks) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

func (s *submissionService) Submit(ctx context.Context, assignmentID uint, studentEmail string, file *multipart.FileHeader) (dto.SubmissionResponse, error) {
	email := strings.ToLower(strings.TrimSpace(studentEmail))

	ctx, span := s.tracer.Start(ctx, "submissions.submit", trace.WithAttributes(
		attribute.Int64("submission.assignment_id", int64(assignmentID)),
		attribute.String("submission.student_email", email),
	))
	defer span.End()

	if err := s.validator.Var(email, "required,email"); err != nil {
		return dto.SubmissionResponse{}, err
	}

	// The gate is re-evaluated on every attempt; flags change between calls.
	decision, err := s.gate.CanAct(ctx, email)
	if err != nil {
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}
	if !decision.Allowed {
		observability.SubmissionsReceived().WithLabelValues("rejected").Inc()
		return dto.SubmissionResponse{}, decision.Err()
	}

	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrAssignmentNotFound
		}
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	document, err := s.readDocument(file)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	lock := s.locks.get(fmt.Sprintf("%d:%s", assignmentID, email))
	lock.Lock()
	defer lock.Unlock()

	submission, replaced, err := s.storeSubmission(ctx, assignment, email, file.Filename, document)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	outcome := "created"
	if replaced {
		outcome = "replaced"
	}
	observability.SubmissionsReceived().WithLabelValues(outcome).Inc()

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("assignment_id", assignmentID).
		Str("student_email", email).
		Bool("replaced", replaced).
		Msg("submission stored")

	s.bus.Publish(ctx, events.New(
		events.KindSubmissionReceived,
		email,
		fmt.Sprintf("Your submission for %q was received.", assignment.Title),
		map[string]interface{}{
			"assignment_id": assignment.ID,
			"submission_id": submission.ID,
		},
	))

	return dto.NewSubmissionResponse(submission), nil
}

// storeSubmission performs the serialized find-or-replace. It is called
// under the pair lock; the unique index catches cross-process races, which
// are retried once as a replacement.
func (s *submissionService) storeSubmission(ctx context.Context, assignment models.Assignment, email, filename string, document []byte) (models.Submission, bool, error) {
	existing, err := s.submissions.GetByPair(ctx, assignment.ID, email)
	switch {
	case err == nil:
		updated, err := s.replaceDocument(ctx, existing, filename, document)
		return updated, true, err
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return models.Submission{}, false, err
	}

	key, err := s.blobs.Put(ctx, filename, document)
	if err != nil {
		return models.Submission{}, false, fmt.Errorf("store document: %w", err)
	}

	submission := models.Submission{
		AssignmentID: assignment.ID,
		StudentEmail: email,
		DocumentKey:  key,
		UploadedAt:   s.now(),
		Graded:       false,
	}

	if err := s.submissions.Create(ctx, &submission); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", key).Msg("failed to release orphaned document")
		}
		if isDuplicateKey(err) {
			raced, findErr := s.submissions.GetByPair(ctx, assignment.ID, email)
			if findErr != nil {
				return models.Submission{}, false, findErr
			}
			updated, repErr := s.replaceDocument(ctx, raced, filename, document)
			return updated, true, repErr
		}
		return models.Submission{}, false, err
	}

	submission.Assignment = assignment
	return submission, false, nil
}

// replaceDocument swaps the stored document on an ungraded record and
// releases the prior blob key. Graded records are frozen.
func (s *submissionService) replaceDocument(ctx context.Context, submission models.Submission, filename string, document []byte) (models.Submission, error) {
	if submission.Graded {
		return models.Submission{}, ErrSubmissionAlreadyGraded
	}

	key, err := s.blobs.Put(ctx, filename, document)
	if err != nil {
		return models.Submission{}, fmt.Errorf("store document: %w", err)
	}

	oldKey := submission.DocumentKey
	submission.DocumentKey = key
	submission.UploadedAt = s.now()

	if err := s.submissions.Update(ctx, &submission); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Warn().Err(delErr).Str("key", key).Msg("failed to release orphaned document")
		}
		return models.Submission{}, err
	}

	if err := s.blobs.Delete(ctx, oldKey); err != nil {
		s.logger.Warn().Err(err).Str("key", oldKey).Msg("failed to release replaced document")
	}

	return submission, nil
}

func (s *submissionService) ListByAssignment(ctx context.Context, assignmentID uint) ([]dto.SubmissionResponse, error) {
	submissions, err := s.submissions.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) FindOne(ctx context.Context, assignmentID uint, studentEmail string) (*dto.SubmissionResponse, error) {
	email := strings.ToLower(strings.TrimSpace(studentEmail))

	submission, err := s.submissions.GetByPair(ctx, assignmentID, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	response := dto.NewSubmissionResponse(submission)
	return &response, nil
}

func (s *submissionService) Document(ctx context.Context, assignmentID, submissionID uint) ([]byte, error) {
	submission, err := s.find(ctx, assignmentID, submissionID)
	if err != nil {
		return nil, err
	}
	return s.blobs.Get(ctx, submission.DocumentKey)
}

func (s *submissionService) Feedback(ctx context.Context, assignmentID, submissionID uint) ([]byte, error) {
	submission, err := s.find(ctx, assignmentID, submissionID)
	if err != nil {
		return nil, err
	}
	if submission.FeedbackKey == nil {
		return nil, ErrFeedbackNotAvailable
	}
	return s.blobs.Get(ctx, *submission.FeedbackKey)
}

func (s *submissionService) find(ctx context.Context, assignmentID, submissionID uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, assignmentID, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

func (s *submissionService) readDocument(file *multipart.FileHeader) ([]byte, error) {
	if file == nil {
		return nil, fmt.Errorf("submission file is required")
	}
	if file.Size > s.maxSize {
		return nil, ErrDocumentTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(buf.Len()) > s.maxSize {
		return nil, ErrDocumentTooLarge
	}

	if !mimetype.Detect(buf.Bytes()).Is("application/pdf") {
		return nil, ErrDocumentTypeNotAllowed
	}

	return buf.Bytes(), nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "duplicate") || strings.Contains(message, "unique constraint")
}
