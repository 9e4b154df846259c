package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/campuscore/coursework-api/internal/service"
	"github.com/campuscore/coursework-api/internal/utils"
)

// SubmissionHandler manages submission upload, listing and document retrieval.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches the routes under /assignments/:id/submissions. Listing and
// raw document access sit behind the teacher role guard.
func (h *SubmissionHandler) Register(router fiber.Router, teacherGuard fiber.Handler) {
	router.Post("", h.submit)
	router.Get("", teacherGuard, h.list)
	router.Get("/me", h.mine)
	router.Get("/me/feedback", h.myFeedback)
	router.Get("/:submissionID/document", teacherGuard, h.document)
	router.Get("/:submissionID/feedback", teacherGuard, h.feedback)
}

func (h *SubmissionHandler) submit(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment identifier")
	}

	email := userEmailFromContext(c)
	if email == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	file, err := c.FormFile("document")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "document file is required")
	}

	submission, err := h.service.Submit(c.Context(), assignmentID, email, file)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission received", submission)
}

func (h *SubmissionHandler) list(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment identifier")
	}

	submissions, err := h.service.ListByAssignment(c.Context(), assignmentID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", submissions)
}

func (h *SubmissionHandler) mine(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment identifier")
	}

	email := userEmailFromContext(c)
	if email == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	submission, err := h.service.FindOne(c.Context(), assignmentID, email)
	if err != nil {
		return h.handleError(c, err)
	}
	if submission == nil {
		return utils.SendError(c, fiber.StatusNotFound, "no submission for this assignment")
	}

	return utils.SendSuccess(c, "submission retrieved", submission)
}

func (h *SubmissionHandler) myFeedback(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment identifier")
	}

	email := userEmailFromContext(c)
	if email == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	submission, err := h.service.FindOne(c.Context(), assignmentID, email)
	if err != nil {
		return h.handleError(c, err)
	}
	if submission == nil {
		return utils.SendError(c, fiber.StatusNotFound, "no submission for this assignment")
	}

	document, err := h.service.Feedback(c.Context(), assignmentID, submission.ID)
	if err != nil {
		return h.handleError(c, err)
	}

	return sendPDF(c, "feedback.pdf", document)
}

func (h *SubmissionHandler) document(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment identifier")
	}
	submissionID, err := parseUintParam(c, "submissionID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission identifier")
	}

	document, err := h.service.Document(c.Context(), assignmentID, submissionID)
	if err != nil {
		return h.handleError(c, err)
	}

	return sendPDF(c, "submission.pdf", document)
}

func (h *SubmissionHandler) feedback(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment identifier")
	}
	submissionID, err := parseUintParam(c, "submissionID")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid submission identifier")
	}

	document, err := h.service.Feedback(c.Context(), assignmentID, submissionID)
	if err != nil {
		return h.handleError(c, err)
	}

	return sendPDF(c, "feedback.pdf", document)
}

func (h *SubmissionHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrStudentNotFound),
		errors.Is(err, service.ErrStudentNotApproved),
		errors.Is(err, service.ErrStudentMuted):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrAssignmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrSubmissionNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrSubmissionAlreadyGraded):
		return utils.SendError(c, fiber.StatusConflict, "submission already graded")
	case errors.Is(err, service.ErrDocumentTypeNotAllowed):
		return utils.SendError(c, fiber.StatusUnsupportedMediaType, "only PDF documents are accepted")
	case errors.Is(err, service.ErrDocumentTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, "document exceeds the size limit")
	case errors.Is(err, service.ErrFeedbackNotAvailable):
		return utils.SendError(c, fiber.StatusNotFound, "feedback not available")
	case isValidationError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("submission request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func sendPDF(c *fiber.Ctx, filename string, document []byte) error {
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(document)
}
