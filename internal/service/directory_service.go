package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campuscore/coursework-api/internal/dto"
	"github.com/campuscore/coursework-api/internal/events"
	"github.com/campuscore/coursework-api/internal/repository"
)

// DirectoryService administers the gate flags on student directory records.
// The submission workflow itself only reads the directory, through the
// access gate.
type DirectoryService interface {
	List(ctx context.Context) ([]dto.StudentResponse, error)
	UpdateFlags(ctx context.Context, email string, payload dto.StudentFlagsRequest) (dto.StudentResponse, error)
}

type directoryService struct {
	students repository.StudentRepository
	bus      *events.Bus
	logger   zerolog.Logger
}

// NewDirectoryService constructs the directory administration service.
func NewDirectoryService(students repository.StudentRepository, bus *events.Bus, logger zerolog.Logger) DirectoryService {
	return &directoryService{
		students: students,
		bus:      bus,
		logger:   logger.With().Str("component", "directory_service").Logger(),
	}
}

func (s *directoryService) List(ctx context.Context) ([]dto.StudentResponse, error) {
	students, err := s.students.List(ctx)
	if err != nil {
		return nil, err
	}
	return dto.NewStudentResponseSlice(students), nil
}

func (s *directoryService) UpdateFlags(ctx context.Context, email string, payload dto.StudentFlagsRequest) (dto.StudentResponse, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))

	student, err := s.students.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.StudentResponse{}, ErrStudentNotFound
		}
		return dto.StudentResponse{}, err
	}

	changed := false
	if payload.Approved != nil && *payload.Approved != student.Approved {
		student.Approved = *payload.Approved
		changed = true
	}
	if payload.Muted != nil && *payload.Muted != student.Muted {
		student.Muted = *payload.Muted
		changed = true
	}

	if !changed {
		return dto.NewStudentResponse(student), nil
	}

	if err := s.students.Update(ctx, &student); err != nil {
		return dto.StudentResponse{}, err
	}

	s.logger.Info().
		Str("student_email", student.Email).
		Bool("approved", student.Approved).
		Bool("muted", student.Muted).
		Msg("directory flags updated")

	s.bus.Publish(ctx, events.New(
		events.KindRegistrationUpdated,
		student.Email,
		fmt.Sprintf("Your registration state changed: approved=%t, muted=%t.", student.Approved, student.Muted),
		map[string]interface{}{
			"approved": student.Approved,
			"muted":    student.Muted,
		},
	))

	return dto.NewStudentResponse(student), nil
}
