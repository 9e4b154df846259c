package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campuscore/coursework-api/internal/models"
)

func TestAccessGateDecisions(t *testing.T) {
	cases := []struct {
		name    string
		student *models.Student
		allowed bool
		reason  string
	}{
		{name: "unknown student", student: nil, allowed: false, reason: GateReasonNotFound},
		{name: "not approved", student: &models.Student{Approved: false}, allowed: false, reason: GateReasonNotApproved},
		{name: "approved but muted", student: &models.Student{Approved: true, Muted: true}, allowed: false, reason: GateReasonMuted},
		{name: "approved", student: &models.Student{Approved: true}, allowed: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeStudentRepo{students: map[string]models.Student{}}
			if tc.student != nil {
				student := *tc.student
				student.Email = "dewi@example.edu"
				repo.students[student.Email] = student
			}

			gate := NewAccessGate(repo, testLogger())
			decision, err := gate.CanAct(context.Background(), "dewi@example.edu")
			require.NoError(t, err)
			require.Equal(t, tc.allowed, decision.Allowed)
			if !tc.allowed {
				require.Equal(t, tc.reason, decision.Reason)
				require.Error(t, decision.Err())
			} else {
				require.NoError(t, decision.Err())
			}
		})
	}
}

func TestAccessGateNormalizesEmail(t *testing.T) {
	repo := &fakeStudentRepo{students: map[string]models.Student{
		"dewi@example.edu": {Email: "dewi@example.edu", Approved: true},
	}}
	gate := NewAccessGate(repo, testLogger())

	decision, err := gate.CanAct(context.Background(), "  Dewi@Example.EDU ")
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestAccessGateConsultsDirectoryEveryCall(t *testing.T) {
	repo := &fakeStudentRepo{students: map[string]models.Student{
		"dewi@example.edu": {Email: "dewi@example.edu", Approved: true},
	}}
	gate := NewAccessGate(repo, testLogger())

	decision, err := gate.CanAct(context.Background(), "dewi@example.edu")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// A flag flip must take effect on the next attempt.
	repo.students["dewi@example.edu"] = models.Student{Email: "dewi@example.edu", Approved: true, Muted: true}

	decision, err = gate.CanAct(context.Background(), "dewi@example.edu")
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, GateReasonMuted, decision.Reason)
	require.Equal(t, 2, repo.lookups)
}
