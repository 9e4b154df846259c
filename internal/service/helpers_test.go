package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campuscore/coursework-api/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// makeFileHeader builds a real multipart.FileHeader backed by the given bytes.
func makeFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })

	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}

// pdfBytes is a minimal document that passes the PDF sniff.
func pdfBytes(tail string) []byte {
	return []byte("%PDF-1.4\n" + tail + "\n%%EOF")
}

type fakeStudentRepo struct {
	students map[string]models.Student
	err      error
	lookups  int
}

func (f *fakeStudentRepo) GetByEmail(_ context.Context, email string) (models.Student, error) {
	f.lookups++
	if f.err != nil {
		return models.Student{}, f.err
	}
	student, ok := f.students[email]
	if !ok {
		return models.Student{}, gorm.ErrRecordNotFound
	}
	return student, nil
}

func (f *fakeStudentRepo) List(_ context.Context) ([]models.Student, error) {
	out := make([]models.Student, 0, len(f.students))
	for _, student := range f.students {
		out = append(out, student)
	}
	return out, nil
}

func (f *fakeStudentRepo) Update(_ context.Context, student *models.Student) error {
	if f.students == nil {
		f.students = make(map[string]models.Student)
	}
	f.students[student.Email] = *student
	return nil
}

type fakeAssignmentRepo struct {
	assignments map[uint]models.Assignment
}

func (f *fakeAssignmentRepo) List(_ context.Context) ([]models.Assignment, error) {
	out := make([]models.Assignment, 0, len(f.assignments))
	for _, assignment := range f.assignments {
		out = append(out, assignment)
	}
	return out, nil
}

func (f *fakeAssignmentRepo) GetByID(_ context.Context, id uint) (models.Assignment, error) {
	assignment, ok := f.assignments[id]
	if !ok {
		return models.Assignment{}, gorm.ErrRecordNotFound
	}
	return assignment, nil
}

func (f *fakeAssignmentRepo) Create(_ context.Context, assignment *models.Assignment) error {
	if f.assignments == nil {
		f.assignments = make(map[uint]models.Assignment)
	}
	assignment.ID = uint(len(f.assignments) + 1)
	f.assignments[assignment.ID] = *assignment
	return nil
}

type fakeSubmissionRepo struct {
	byID        map[uint]models.Submission
	nextID      uint
	createErr   error
	updateErr   error
	updateCalls int
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{byID: make(map[uint]models.Submission), nextID: 1}
}

func (f *fakeSubmissionRepo) GetByID(_ context.Context, assignmentID, id uint) (models.Submission, error) {
	submission, ok := f.byID[id]
	if !ok || submission.AssignmentID != assignmentID {
		return models.Submission{}, gorm.ErrRecordNotFound
	}
	return submission, nil
}

func (f *fakeSubmissionRepo) GetByPair(_ context.Context, assignmentID uint, studentEmail string) (models.Submission, error) {
	for _, submission := range f.byID {
		if submission.AssignmentID == assignmentID && submission.StudentEmail == studentEmail {
			return submission, nil
		}
	}
	return models.Submission{}, gorm.ErrRecordNotFound
}

func (f *fakeSubmissionRepo) ListByAssignment(_ context.Context, assignmentID uint) ([]models.Submission, error) {
	out := make([]models.Submission, 0)
	for _, submission := range f.byID {
		if submission.AssignmentID == assignmentID {
			out = append(out, submission)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) ListByStudent(_ context.Context, studentEmail string) ([]models.Submission, error) {
	out := make([]models.Submission, 0)
	for _, submission := range f.byID {
		if submission.StudentEmail == studentEmail {
			out = append(out, submission)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) Create(_ context.Context, submission *models.Submission) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.byID {
		if existing.AssignmentID == submission.AssignmentID && existing.StudentEmail == submission.StudentEmail {
			return gorm.ErrDuplicatedKey
		}
	}
	submission.ID = f.nextID
	f.nextID++
	f.byID[submission.ID] = *submission
	return nil
}

func (f *fakeSubmissionRepo) Update(_ context.Context, submission *models.Submission) error {
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.byID[submission.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	f.byID[submission.ID] = *submission
	return nil
}

type fakeNotificationRepo struct {
	mu        sync.Mutex
	created   []models.Notification
	createErr error
	nextID    uint
}

func (f *fakeNotificationRepo) Create(_ context.Context, notification *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	notification.ID = f.nextID
	f.created = append(f.created, *notification)
	return nil
}

func (f *fakeNotificationRepo) countCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeNotificationRepo) ListByRecipient(_ context.Context, recipientEmail string, _, _ int) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Notification, 0)
	for _, notification := range f.created {
		if notification.RecipientEmail == recipientEmail {
			out = append(out, notification)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) MarkRead(_ context.Context, id uint, recipientEmail string) (models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, notification := range f.created {
		if notification.ID == id && notification.RecipientEmail == recipientEmail {
			f.created[i].Read = true
			return f.created[i], nil
		}
	}
	return models.Notification{}, gorm.ErrRecordNotFound
}

func (f *fakeNotificationRepo) CountUnread(_ context.Context, recipientEmail string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, notification := range f.created {
		if notification.RecipientEmail == recipientEmail && !notification.Read {
			count++
		}
	}
	return count, nil
}

// memoryBlobs is an in-memory blob store for service tests.
type memoryBlobs struct {
	blobs  map[string][]byte
	nextID int
	putErr error
}

func newMemoryBlobs() *memoryBlobs {
	return &memoryBlobs{blobs: make(map[string][]byte)}
}

func (m *memoryBlobs) Put(_ context.Context, name string, data []byte) (string, error) {
	if m.putErr != nil {
		return "", m.putErr
	}
	m.nextID++
	key := strconv.Itoa(m.nextID) + "-" + name
	m.blobs[key] = append([]byte(nil), data...)
	return key, nil
}

func (m *memoryBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.blobs[key]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func (m *memoryBlobs) Delete(_ context.Context, key string) error {
	delete(m.blobs, key)
	return nil
}
