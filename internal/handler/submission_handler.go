package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/souffle-edu/souffle-api/internal/dto"
	"github.com/souffle-edu/souffle-api/internal/middleware"
	"github.com/souffle-edu/souffle-api/internal/observability"
	"github.com/souffle-edu/souffle-api/internal/service"
	"github.com/souffle-edu/souffle-api/internal/utils"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// SubmissionHandler serves submission creation, polling and the status stream.
type SubmissionHandler struct {
	service      service.SubmissionService
	events       service.EventService
	logger       zerolog.Logger
	pollInterval time.Duration
}

// NewSubmissionHandler builds a submission handler instance.
func NewSubmissionHandler(svc service.SubmissionService, events service.EventService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service:      svc,
		events:       events,
		logger:       logger.With().Str("component", "submission_handler").Logger(),
		pollInterval: service.PollRetryAfterSeconds * time.Second,
	}
}

// Register attaches the routes to the provided router group.
func (h *SubmissionHandler) Register(router fiber.Router) {
	router.Post("", middleware.WithAuth(h.create, middleware.AuthOptions{Role: middleware.AuthRoleStudent}))
	router.Get("/:id", h.analysis)
	router.Get("/:id/ws", h.upgrade, websocket.New(h.stream))
}

func (h *SubmissionHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return utils.SendError(c, fiber.StatusUpgradeRequired, "websocket upgrade required")
	}
	c.Locals("request_ctx", requestContext(c))
	c.Locals("viewer", viewerFromContext(c))
	return c.Next()
}

func (h *SubmissionHandler) create(c *fiber.Ctx) error {
	payload, err := parseSubmissionForm(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	payload.UserID = userIDFromContext(c)

	form, err := c.MultipartForm()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "multipart form required")
	}

	result, err := h.service.Create(requestContext(c), payload, form.File["files"])
	if err != nil {
		return respondError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission recorded", result)
}

func (h *SubmissionHandler) analysis(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	result, err := h.service.GetAnalysis(requestContext(c), viewerFromContext(c), id)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	if result.RetryAfter != nil {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(*result.RetryAfter))
	}

	return utils.SendSuccess(c, "submission analysis", result)
}

// stream pushes the polling document whenever the submission changes and closes
// once the analysis reaches a terminal status.
func (h *SubmissionHandler) stream(conn *websocket.Conn) {
	defer conn.Close()

	viewer, _ := conn.Locals("viewer").(service.Viewer)
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	id, err := strconv.ParseUint(conn.Params("id"), 10, 64)
	if err != nil || id == 0 {
		closeStream(conn, 4400, "invalid submission id")
		return
	}
	submissionID := uint(id)

	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	// Subscribe before the first read so no transition is missed in between.
	updates, unsubscribe := h.events.Subscribe(submissionID)
	defer unsubscribe()

	current, err := h.service.GetAnalysis(ctx, viewer, submissionID)
	if err != nil {
		if errors.Is(err, service.ErrSubmissionNotFound) {
			closeStream(conn, 4404, err.Error())
			return
		}
		h.logger.Error().Err(err).Uint("submission_id", submissionID).Msg("status stream lookup failed")
		closeStream(conn, websocket.CloseInternalServerErr, "lookup failed")
		return
	}

	observability.StatusStreamsActive().Inc()
	defer observability.StatusStreamsActive().Dec()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeStream(conn, current); err != nil {
		return
	}
	if current.Terminal() {
		closeStream(conn, websocket.CloseNormalClosure, current.Status)
		return
	}

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
			continue
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-poll.C:
		}

		next, err := h.service.GetAnalysis(ctx, viewer, submissionID)
		if err != nil {
			h.logger.Warn().Err(err).Uint("submission_id", submissionID).Msg("status stream refresh failed")
			continue
		}
		if sameStatus(current, next) {
			continue
		}
		current = next
		if err := writeStream(conn, current); err != nil {
			return
		}
		if current.Terminal() {
			closeStream(conn, websocket.CloseNormalClosure, current.Status)
			return
		}
	}
}

func sameStatus(a, b dto.SubmissionAnalysisResponse) bool {
	return a.Status == b.Status && len(a.Steps) == len(b.Steps) && ptrEqual(a.IsCorrect, b.IsCorrect)
}

func ptrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func writeStream(conn *websocket.Conn, doc dto.SubmissionAnalysisResponse) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(doc)
}

func closeStream(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(streamWriteTimeout))
}

// parseSubmissionForm decodes the non-file fields of the multipart submission.
// answer, full_step and steps arrive as JSON strings.
func parseSubmissionForm(c *fiber.Ctx) (dto.SubmissionCreateRequest, error) {
	var payload dto.SubmissionCreateRequest

	problemID, err := strconv.ParseUint(strings.TrimSpace(c.FormValue("problem_id")), 10, 64)
	if err != nil || problemID == 0 {
		return payload, errors.New("problem_id must be a positive integer")
	}
	payload.ProblemID = uint(problemID)

	if err := json.Unmarshal([]byte(c.FormValue("answer")), &payload.Answer); err != nil {
		return payload, errors.New("answer must be a JSON object with file_name")
	}
	if raw := strings.TrimSpace(c.FormValue("full_step")); raw != "" {
		var fullStep dto.SubmissionFileRef
		if err := json.Unmarshal([]byte(raw), &fullStep); err != nil {
			return payload, errors.New("full_step must be a JSON object with file_name")
		}
		payload.FullStep = &fullStep
	}
	if raw := strings.TrimSpace(c.FormValue("steps")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload.Steps); err != nil {
			return payload, errors.New("steps must be a JSON array")
		}
	}

	times := map[string]**int{
		"total_solve_time": &payload.TotalSolveTime,
		"understand_time":  &payload.UnderstandTime,
		"solve_time":       &payload.SolveTime,
		"review_time":      &payload.ReviewTime,
	}
	for field, target := range times {
		raw := strings.TrimSpace(c.FormValue(field))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			return payload, errors.New(field + " must be an integer")
		}
		*target = &value
	}

	return payload, nil
}
