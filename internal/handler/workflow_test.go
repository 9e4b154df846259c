package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/campuscore/coursework-api/internal/config"
	"github.com/campuscore/coursework-api/internal/dto"
	"github.com/campuscore/coursework-api/internal/events"
	"github.com/campuscore/coursework-api/internal/handler"
	"github.com/campuscore/coursework-api/internal/middleware"
	"github.com/campuscore/coursework-api/internal/models"
	"github.com/campuscore/coursework-api/internal/repository"
	"github.com/campuscore/coursework-api/internal/router"
	"github.com/campuscore/coursework-api/internal/service"
	"github.com/campuscore/coursework-api/pkg/annotate"
	"github.com/campuscore/coursework-api/pkg/blobstore"
)

const testSecret = "workflow-test-secret"

type silentMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *silentMailer) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+"|"+subject)
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	app *fiber.App
	db  *gorm.DB
}

func setupApp(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Student{}, &models.Assignment{}, &models.Submission{}, &models.Notification{}))

	logger := zerolog.New(io.Discard)
	blobs, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	validate := validator.New(validator.WithRequiredStructEnabled())
	bus := events.NewBus(nil, nil, "", logger)

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	gate := service.NewAccessGate(studentRepo, logger)
	engine := annotate.NewPDF(logger)

	assignmentService := service.NewAssignmentService(assignmentRepo, validate, nil, logger)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, gate, blobs, bus, validate, 1, logger)
	gradingService := service.NewGradingService(submissionRepo, blobs, engine, bus, validate, 5*time.Second, logger)
	notificationService := service.NewNotificationService(notificationRepo, &silentMailer{}, bus, logger)
	directoryService := service.NewDirectoryService(studentRepo, bus, logger)
	dashboardService := service.NewDashboardService(assignmentRepo, submissionRepo, notificationRepo, nil, time.Minute, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bus.Start(ctx)

	app := fiber.New(fiber.Config{BodyLimit: 8 << 20})
	cfg := config.Config{AppName: "coursework-api-test", JWTSecret: testSecret}
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler:   handler.NewAssignmentHandler(assignmentService, logger),
		SubmissionHandler:   handler.NewSubmissionHandler(submissionService, logger),
		GradingHandler:      handler.NewGradingHandler(gradingService, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, logger, time.Second),
		DirectoryHandler:    handler.NewDirectoryHandler(directoryService, logger),
		DashboardHandler:    handler.NewDashboardHandler(dashboardService, logger),
		JWTMiddleware:       middleware.JWTProtected(testSecret),
	})

	return &fixture{app: app, db: db}
}

func (f *fixture) seedStudent(t *testing.T, email string, approved, muted bool) {
	t.Helper()
	student := models.Student{Name: "Student", Email: email, Approved: approved, Muted: muted}
	require.NoError(t, f.db.Create(&student).Error)
}

func (f *fixture) seedAssignment(t *testing.T, title string) models.Assignment {
	t.Helper()
	assignment := models.Assignment{Title: title, DueDate: time.Now().Add(72 * time.Hour)}
	require.NoError(t, f.db.Create(&assignment).Error)
	return assignment
}

func signToken(t *testing.T, email, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"role":  role,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func pdfDocument(tail string) []byte {
	return []byte("%PDF-1.4\n" + tail + "\n%%EOF")
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = part.Write(fileContent)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (f *fixture) do(t *testing.T, method, target, token string, body io.Reader, contentType string) (*http.Response, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)

	var env envelope
	if resp.Header.Get("Content-Type") != "" && resp.Header.Get("Content-Type") != "application/pdf" {
		raw, readErr := io.ReadAll(resp.Body)
		require.NoError(t, readErr)
		resp.Body.Close()
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &env))
		}
	}
	return resp, env
}

func (f *fixture) submit(t *testing.T, assignmentID uint, token string, document []byte) (*http.Response, envelope) {
	t.Helper()
	body, contentType := multipartBody(t, nil, "document", "essay.pdf", document)
	target := fmt.Sprintf("/api/v1/assignments/%d/submissions", assignmentID)
	return f.do(t, http.MethodPost, target, token, body, contentType)
}

func (f *fixture) grade(t *testing.T, assignmentID, submissionID uint, token string, score, comments string) (*http.Response, envelope) {
	t.Helper()
	body, contentType := multipartBody(t, map[string]string{"score": score, "comments": comments}, "", "", nil)
	target := fmt.Sprintf("/api/v1/assignments/%d/submissions/%d/grade", assignmentID, submissionID)
	return f.do(t, http.MethodPost, target, token, body, contentType)
}

func decodeSubmission(t *testing.T, env envelope) dto.SubmissionResponse {
	t.Helper()
	var submission dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(env.Data, &submission))
	return submission
}

func TestSubmissionGradingWorkflow(t *testing.T) {
	f := setupApp(t)
	f.seedStudent(t, "dewi@example.edu", true, false)
	assignment := f.seedAssignment(t, "Essay on Rivers")

	student := signToken(t, "dewi@example.edu", "student")
	teacher := signToken(t, "guru@example.edu", "teacher")

	// First upload creates the submission.
	resp, env := f.submit(t, assignment.ID, student, pdfDocument("draft one"))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	first := decodeSubmission(t, env)
	require.False(t, first.Graded)

	// A second upload before grading replaces the document in place.
	resp, env = f.submit(t, assignment.ID, student, pdfDocument("draft two"))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	second := decodeSubmission(t, env)
	require.Equal(t, first.ID, second.ID)
	require.NotEqual(t, first.DocumentKey, second.DocumentKey)

	// The teacher still sees a single queue entry.
	resp, env = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/assignments/%d/submissions", assignment.ID), teacher, nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var queue []dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(env.Data, &queue))
	require.Len(t, queue, 1)

	// Grade without an annotation.
	resp, env = f.grade(t, assignment.ID, first.ID, teacher, "88", "Good work")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	graded := decodeSubmission(t, env)
	require.True(t, graded.Graded)
	require.NotNil(t, graded.Grade)
	require.Equal(t, 88.0, *graded.Grade)

	// The graded submission is frozen against re-upload.
	resp, _ = f.submit(t, assignment.ID, student, pdfDocument("too late"))
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	// A regrade adjusts score and comments but never touches the document.
	resp, env = f.grade(t, assignment.ID, first.ID, teacher, "92", "Even better on review")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	regraded := decodeSubmission(t, env)
	require.Equal(t, 92.0, *regraded.Grade)
	require.Equal(t, second.DocumentKey, regraded.DocumentKey)

	// Two uploads and two grades fan out four notifications to the student.
	require.Eventually(t, func() bool {
		resp, env := f.do(t, http.MethodGet, "/api/v1/notifications/", student, nil, "")
		if resp.StatusCode != fiber.StatusOK {
			return false
		}
		var notifications []dto.NotificationResponse
		if err := json.Unmarshal(env.Data, &notifications); err != nil {
			return false
		}
		return len(notifications) == 4
	}, 3*time.Second, 50*time.Millisecond)
}

func TestSubmitRequiresApprovedStudent(t *testing.T) {
	f := setupApp(t)
	assignment := f.seedAssignment(t, "Essay on Rivers")

	// Unknown in the directory.
	resp, _ := f.submit(t, assignment.ID, signToken(t, "ghost@example.edu", "student"), pdfDocument("draft"))
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	// Known but muted.
	f.seedStudent(t, "muted@example.edu", true, true)
	resp, _ = f.submit(t, assignment.ID, signToken(t, "muted@example.edu", "student"), pdfDocument("draft"))
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestSubmitRejectsNonPDF(t *testing.T) {
	f := setupApp(t)
	f.seedStudent(t, "dewi@example.edu", true, false)
	assignment := f.seedAssignment(t, "Essay on Rivers")

	resp, _ := f.submit(t, assignment.ID, signToken(t, "dewi@example.edu", "student"), []byte("plain text, not a document"))
	require.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestSubmitUnknownAssignment(t *testing.T) {
	f := setupApp(t)
	f.seedStudent(t, "dewi@example.edu", true, false)

	resp, _ := f.submit(t, 999, signToken(t, "dewi@example.edu", "student"), pdfDocument("draft"))
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGradeValidatesScoreRange(t *testing.T) {
	f := setupApp(t)
	f.seedStudent(t, "dewi@example.edu", true, false)
	assignment := f.seedAssignment(t, "Essay on Rivers")
	student := signToken(t, "dewi@example.edu", "student")
	teacher := signToken(t, "guru@example.edu", "teacher")

	_, env := f.submit(t, assignment.ID, student, pdfDocument("draft"))
	submission := decodeSubmission(t, env)

	resp, _ := f.grade(t, assignment.ID, submission.ID, teacher, "150", "")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = f.grade(t, assignment.ID, submission.ID, teacher, "not-a-number", "")
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestStudentCannotUseTeacherRoutes(t *testing.T) {
	f := setupApp(t)
	f.seedStudent(t, "dewi@example.edu", true, false)
	assignment := f.seedAssignment(t, "Essay on Rivers")
	student := signToken(t, "dewi@example.edu", "student")

	resp, _ := f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/assignments/%d/submissions", assignment.ID), student, nil, "")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = f.grade(t, assignment.ID, 1, student, "90", "")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestSubmissionRoutesRequireToken(t *testing.T) {
	f := setupApp(t)
	assignment := f.seedAssignment(t, "Essay on Rivers")

	resp, _ := f.submit(t, assignment.ID, "", pdfDocument("draft"))
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestStudentFetchesOwnSubmission(t *testing.T) {
	f := setupApp(t)
	f.seedStudent(t, "dewi@example.edu", true, false)
	assignment := f.seedAssignment(t, "Essay on Rivers")
	student := signToken(t, "dewi@example.edu", "student")

	target := fmt.Sprintf("/api/v1/assignments/%d/submissions/me", assignment.ID)
	resp, _ := f.do(t, http.MethodGet, target, student, nil, "")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	_, env := f.submit(t, assignment.ID, student, pdfDocument("draft"))
	created := decodeSubmission(t, env)

	resp, env = f.do(t, http.MethodGet, target, student, nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	mine := decodeSubmission(t, env)
	require.Equal(t, created.ID, mine.ID)
}

func TestTeacherDownloadsDocument(t *testing.T) {
	f := setupApp(t)
	f.seedStudent(t, "dewi@example.edu", true, false)
	assignment := f.seedAssignment(t, "Essay on Rivers")
	student := signToken(t, "dewi@example.edu", "student")
	teacher := signToken(t, "guru@example.edu", "teacher")

	document := pdfDocument("final draft")
	_, env := f.submit(t, assignment.ID, student, document)
	submission := decodeSubmission(t, env)

	target := fmt.Sprintf("/api/v1/assignments/%d/submissions/%d/document", assignment.ID, submission.ID)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer "+teacher)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, document, raw)
}

func TestMarkNotificationRead(t *testing.T) {
	f := setupApp(t)
	notification := models.Notification{RecipientEmail: "dewi@example.edu", Kind: "grade_posted", Message: "Graded."}
	require.NoError(t, f.db.Create(&notification).Error)

	student := signToken(t, "dewi@example.edu", "student")
	other := signToken(t, "made@example.edu", "student")
	target := fmt.Sprintf("/api/v1/notifications/%d/read", notification.ID)

	// Another student cannot touch the record.
	resp, _ := f.do(t, http.MethodPatch, target, other, nil, "")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, env := f.do(t, http.MethodPatch, target, student, nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var updated dto.NotificationResponse
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	require.True(t, updated.Read)

	// Marking again stays a success.
	resp, _ = f.do(t, http.MethodPatch, target, student, nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestDirectoryRequiresAdmin(t *testing.T) {
	f := setupApp(t)
	f.seedStudent(t, "dewi@example.edu", false, false)

	teacher := signToken(t, "guru@example.edu", "teacher")
	admin := signToken(t, "admin@example.edu", "admin")

	resp, _ := f.do(t, http.MethodGet, "/api/v1/students/", teacher, nil, "")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, env := f.do(t, http.MethodGet, "/api/v1/students/", admin, nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var students []dto.StudentResponse
	require.NoError(t, json.Unmarshal(env.Data, &students))
	require.Len(t, students, 1)

	payload, err := json.Marshal(map[string]bool{"approved": true})
	require.NoError(t, err)
	resp, env = f.do(t, http.MethodPatch, "/api/v1/students/dewi%40example.edu/flags", admin, bytes.NewReader(payload), fiber.MIMEApplicationJSON)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var updated dto.StudentResponse
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	require.True(t, updated.Approved)
}

func TestDashboardSummary(t *testing.T) {
	f := setupApp(t)
	f.seedStudent(t, "dewi@example.edu", true, false)
	assignment := f.seedAssignment(t, "Essay on Rivers")
	f.seedAssignment(t, "Essay on Mountains")
	student := signToken(t, "dewi@example.edu", "student")

	_, _ = f.submit(t, assignment.ID, student, pdfDocument("draft"))

	resp, env := f.do(t, http.MethodGet, "/api/v1/dashboard/", student, nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var summary dto.DashboardSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	require.EqualValues(t, 2, summary.TotalAssignments)
	require.EqualValues(t, 1, summary.Submitted)
	require.EqualValues(t, 1, summary.Pending)
}

func TestHealthEndpoint(t *testing.T) {
	f := setupApp(t)
	resp, env := f.do(t, http.MethodGet, "/api/v1/health", "", nil, "")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, env.Success)
}
