package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/campuscore/coursework-api/internal/dto"
	"github.com/campuscore/coursework-api/internal/models"
	"github.com/campuscore/coursework-api/internal/repository"
)

// DashboardService aggregates a student's coursework state. Results are
// cached in Redis with a TTL; the cache is an optimization only and every
// read path works without it.
type DashboardService interface {
	GetDashboard(ctx context.Context, studentEmail string) (dto.DashboardSummary, error)
}

type dashboardService struct {
	assignments   repository.AssignmentRepository
	submissions   repository.SubmissionRepository
	notifications repository.NotificationRepository
	cache         *redis.Client
	cacheTTL      time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// NewDashboardService builds the dashboard aggregator.
func NewDashboardService(assignments repository.AssignmentRepository, submissions repository.SubmissionRepository, notifications repository.NotificationRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) DashboardService {
	return &dashboardService{
		assignments:   assignments,
		submissions:   submissions,
		notifications: notifications,
		cache:         cache,
		cacheTTL:      ttl,
		logger:        logger.With().Str("component", "dashboard_service").Logger(),
		now:           time.Now,
	}
}

func (s *dashboardService) GetDashboard(ctx context.Context, studentEmail string) (dto.DashboardSummary, error) {
	email := strings.ToLower(strings.TrimSpace(studentEmail))
	cacheKey := fmt.Sprintf("dashboard:student:%s", email)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var summary dto.DashboardSummary
			if unmarshalErr := json.Unmarshal([]byte(cached), &summary); unmarshalErr == nil {
				s.logger.Debug().Str("student_email", email).Msg("dashboard cache hit")
				return summary, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read dashboard cache")
		}
	}

	assignments, err := s.assignments.List(ctx)
	if err != nil {
		return dto.DashboardSummary{}, err
	}

	submissions, err := s.submissions.ListByStudent(ctx, email)
	if err != nil {
		return dto.DashboardSummary{}, err
	}

	unread, err := s.notifications.CountUnread(ctx, email)
	if err != nil {
		return dto.DashboardSummary{}, err
	}

	summary := s.buildSummary(assignments, submissions, unread)

	if s.cache != nil {
		if payload, err := json.Marshal(summary); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store dashboard cache")
			}
		}
	}

	return summary, nil
}

func (s *dashboardService) buildSummary(assignments []models.Assignment, submissions []models.Submission, unread int64) dto.DashboardSummary {
	now := s.now()
	byAssignment := make(map[uint]models.Submission, len(submissions))
	for _, submission := range submissions {
		byAssignment[submission.AssignmentID] = submission
	}

	summary := dto.DashboardSummary{
		UnreadNotifications: unread,
		RecentGrades:        make([]*dto.Grade, 0, len(submissions)),
	}

	var gradeTotal float64
	var gradedCount int

	for _, assignment := range assignments {
		summary.TotalAssignments++

		submission, submitted := byAssignment[assignment.ID]
		if !submitted {
			summary.Pending++
			if assignment.IsPastDue(now) {
				summary.Overdue++
			}
			continue
		}

		summary.Submitted++
		if !submission.Graded {
			summary.Pending++
			continue
		}

		summary.Graded++
		if submission.Grade != nil {
			gradeTotal += *submission.Grade
			gradedCount++
			summary.RecentGrades = append(summary.RecentGrades, &dto.Grade{
				AssignmentID:    assignment.ID,
				AssignmentTitle: assignment.Title,
				Score:           *submission.Grade,
				GradedAt:        submission.UpdatedAt,
			})
		}
	}

	if gradedCount > 0 {
		summary.AverageGrade = gradeTotal / float64(gradedCount)
	}

	return summary
}
