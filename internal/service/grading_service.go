package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/campuscore/coursework-api/internal/dto"
	"github.com/campuscore/coursework-api/internal/events"
	"github.com/campuscore/coursework-api/internal/models"
	"github.com/campuscore/coursework-api/internal/observability"
	"github.com/campuscore/coursework-api/internal/repository"
	"github.com/campuscore/coursework-api/pkg/annotate"
	"github.com/campuscore/coursework-api/pkg/blobstore"
)

const defaultMergeTimeout = 10 * time.Second

// GradingService drives the grading transition: optional annotation merge,
// grade/comment persistence, and event emission. Regrading reuses the same
// operation; only the stored document is frozen, never the grade.
type GradingService interface {
	Grade(ctx context.Context, assignmentID, submissionID uint, payload dto.GradeRequest, raster *multipart.FileHeader) (dto.SubmissionResponse, error)
}

type gradingService struct {
	submissions  repository.SubmissionRepository
	blobs        blobstore.Store
	engine       annotate.Engine
	bus          *events.Bus
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	tracer       trace.Tracer
	mergeTimeout time.Duration
	now          func() time.Time
}

// NewGradingService constructs the grading service.
func NewGradingService(subRepo repository.SubmissionRepository, blobs blobstore.Store, engine annotate.Engine, bus *events.Bus, validate *validator.Validate, mergeTimeout time.Duration, logger zerolog.Logger) GradingService {
	if mergeTimeout <= 0 {
		mergeTimeout = defaultMergeTimeout
	}
	return &gradingService{
		submissions:  subRepo,
		blobs:        blobs,
		engine:       engine,
		bus:          bus,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger.With().Str("component", "grading_service").Logger(),
		tracer:       otel.Tracer("github.com/campuscore/coursework-api/internal/service/grading"),
		mergeTimeout: mergeTimeout,
		now:          time.Now,
	}
}

func (s *gradingService) Grade(ctx context.Context, assignmentID, submissionID uint, payload dto.GradeRequest, raster *multipart.FileHeader) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.grade", trace.WithAttributes(
		attribute.Int64("grading.assignment_id", int64(assignmentID)),
		attribute.Int64("grading.submission_id", int64(submissionID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.SubmissionResponse{}, err
	}

	submission, err := s.submissions.GetByID(ctx, assignmentID, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		span.RecordError(err)
		return dto.SubmissionResponse{}, err
	}

	regrade := submission.Graded
	span.SetAttributes(attribute.Bool("grading.regrade", regrade))

	// Artifact production is best effort: a failed or timed-out merge is
	// logged and grading proceeds with the feedback reference untouched.
	var newFeedbackKey *string
	var oldFeedbackKey *string
	if overlay := s.readRaster(raster); len(overlay) > 0 {
		if key, ok := s.produceFeedback(ctx, submission, overlay); ok {
			oldFeedbackKey = submission.FeedbackKey
			newFeedbackKey = &key
			submission.FeedbackKey = &key
		}
	}

	score := payload.Score
	comments := strings.TrimSpace(s.sanitizer.Sanitize(payload.Comments))
	submission.Graded = true
	submission.Grade = &score
	submission.Comments = &comments

	if err := s.submissions.Update(ctx, &submission); err != nil {
		if newFeedbackKey != nil {
			if delErr := s.blobs.Delete(ctx, *newFeedbackKey); delErr != nil {
				s.logger.Warn().Err(delErr).Str("key", *newFeedbackKey).Msg("failed to release orphaned feedback document")
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_update_failed")
		return dto.SubmissionResponse{}, err
	}

	if oldFeedbackKey != nil {
		if err := s.blobs.Delete(ctx, *oldFeedbackKey); err != nil {
			s.logger.Warn().Err(err).Str("key", *oldFeedbackKey).Msg("failed to release replaced feedback document")
		}
	}

	observability.GradesPosted().Inc()
	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("assignment_id", assignmentID).
		Float64("score", score).
		Bool("regrade", regrade).
		Bool("feedback_attached", newFeedbackKey != nil).
		Msg("grade posted")

	s.bus.Publish(ctx, events.New(
		events.KindGradePosted,
		submission.StudentEmail,
		fmt.Sprintf("Your submission for %q has been graded.", submission.Assignment.Title),
		map[string]interface{}{
			"assignment_id": submission.AssignmentID,
			"submission_id": submission.ID,
			"score":         score,
		},
	))

	return dto.NewSubmissionResponse(submission), nil
}

// produceFeedback merges the overlay onto the stored document and persists
// the result under a new blob key. Any failure, including a timeout, is
// treated as MERGE_FAILED: logged, counted, and non-fatal.
func (s *gradingService) produceFeedback(ctx context.Context, submission models.Submission, overlay []byte) (string, bool) {
	source, err := s.blobs.Get(ctx, submission.DocumentKey)
	if err != nil {
		s.reportMergeFailure(submission.ID, fmt.Errorf("%w: %v", annotate.ErrMergeFailed, err))
		return "", false
	}

	merged, err := s.mergeWithTimeout(ctx, source, overlay)
	if err != nil {
		s.reportMergeFailure(submission.ID, err)
		return "", false
	}

	key, err := s.blobs.Put(ctx, "feedback.pdf", merged)
	if err != nil {
		s.reportMergeFailure(submission.ID, fmt.Errorf("%w: %v", annotate.ErrMergeFailed, err))
		return "", false
	}

	return key, true
}

func (s *gradingService) mergeWithTimeout(ctx context.Context, source, overlay []byte) ([]byte, error) {
	mergeCtx, cancel := context.WithTimeout(ctx, s.mergeTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	go func() {
		data, err := s.engine.Merge(source, overlay)
		done <- result{data: data, err: err}
	}()

	select {
	case <-mergeCtx.Done():
		return nil, fmt.Errorf("%w: %v", annotate.ErrMergeFailed, mergeCtx.Err())
	case r := <-done:
		return r.data, r.err
	}
}

func (s *gradingService) reportMergeFailure(submissionID uint, err error) {
	observability.MergeFailures().Inc()
	s.logger.Error().Err(err).Uint("submission_id", submissionID).Msg("annotation merge failed, grading proceeds without feedback document")
}

func (s *gradingService) readRaster(raster *multipart.FileHeader) []byte {
	if raster == nil || raster.Size == 0 {
		return nil
	}

	handle, err := raster.Open()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to open annotation raster")
		return nil
	}
	defer handle.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, handle); err != nil {
		s.logger.Warn().Err(err).Msg("failed to read annotation raster")
		return nil
	}

	return buf.Bytes()
}
