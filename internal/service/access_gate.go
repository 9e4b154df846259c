package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/campuscore/coursework-api/internal/repository"
)

// Gate rejection sentinels, surfaced verbatim to callers and never retried.
var (
	// ErrStudentNotFound indicates no directory record exists for the email.
	ErrStudentNotFound = errors.New("student not found in directory")
	// ErrStudentNotApproved indicates the directory record is not approved.
	ErrStudentNotApproved = errors.New("student not approved")
	// ErrStudentMuted indicates the student is muted.
	ErrStudentMuted = errors.New("student muted")
)

// Gate decision reasons.
const (
	GateReasonNotFound    = "NOT_FOUND"
	GateReasonNotApproved = "NOT_APPROVED"
	GateReasonMuted       = "MUTED"
)

// GateDecision is the outcome of an access gate check.
type GateDecision struct {
	Allowed bool
	Reason  string
}

// Err maps a denial to its sentinel error; an allowing decision maps to nil.
func (d GateDecision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case GateReasonNotApproved:
		return ErrStudentNotApproved
	case GateReasonMuted:
		return ErrStudentMuted
	default:
		return ErrStudentNotFound
	}
}

// AccessGate resolves whether a student may submit or comment based on the
// approval and mute flags in the directory.
type AccessGate interface {
	CanAct(ctx context.Context, studentEmail string) (GateDecision, error)
}

type accessGate struct {
	directory repository.StudentRepository
	logger    zerolog.Logger
}

// NewAccessGate constructs the gate over the student directory.
func NewAccessGate(directory repository.StudentRepository, logger zerolog.Logger) AccessGate {
	return &accessGate{
		directory: directory,
		logger:    logger.With().Str("component", "access_gate").Logger(),
	}
}

// CanAct consults the directory on every call. Approval and mute state can
// change between attempts, so decisions are never cached.
func (g *accessGate) CanAct(ctx context.Context, studentEmail string) (GateDecision, error) {
	email := strings.ToLower(strings.TrimSpace(studentEmail))

	student, err := g.directory.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return GateDecision{Reason: GateReasonNotFound}, nil
		}
		return GateDecision{}, err
	}

	if !student.Approved {
		return GateDecision{Reason: GateReasonNotApproved}, nil
	}
	if student.Muted {
		return GateDecision{Reason: GateReasonMuted}, nil
	}

	return GateDecision{Allowed: true}, nil
}
