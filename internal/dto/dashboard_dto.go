package dto

import "time"

// DashboardSummary aggregates a student's coursework state.
type DashboardSummary struct {
	TotalAssignments    int      `json:"total_assignments"`
	Submitted           int      `json:"submitted"`
	Graded              int      `json:"graded"`
	Pending             int      `json:"pending"`
	Overdue             int      `json:"overdue"`
	AverageGrade        float64  `json:"average_grade"`
	UnreadNotifications int64    `json:"unread_notifications"`
	RecentGrades        []*Grade `json:"recent_grades"`
}

// Grade summarizes one graded submission on the dashboard.
type Grade struct {
	AssignmentID    uint      `json:"assignment_id"`
	AssignmentTitle string    `json:"assignment_title"`
	Score           float64   `json:"score"`
	GradedAt        time.Time `json:"graded_at"`
}
