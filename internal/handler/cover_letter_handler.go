package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/coverletter-api/internal/dto"
	"github.com/noah-isme/coverletter-api/internal/service"
	"github.com/noah-isme/coverletter-api/internal/utils"
)

// CoverLetterHandler exposes cover letter queue and transition endpoints.
type CoverLetterHandler struct {
	service service.CoverLetterService
	logger  zerolog.Logger
}

// NewCoverLetterHandler constructs the handler.
func NewCoverLetterHandler(service service.CoverLetterService, logger zerolog.Logger) *CoverLetterHandler {
	return &CoverLetterHandler{
		service: service,
		logger:  logger.With().Str("component", "cover_letter_handler").Logger(),
	}
}

// RegisterChair attaches the department chair routes. signGuards run in front of the
// sign endpoint only.
func (h *CoverLetterHandler) RegisterChair(router fiber.Router, signGuards ...fiber.Handler) {
	router.Get("", h.queue)
	router.Get("/:entryId", h.get)

	handlers := append(append([]fiber.Handler{}, signGuards...), h.sign)
	router.Post("/:entryId/sign", handlers...)
}

// RegisterSecretary attaches the department secretary routes.
func (h *CoverLetterHandler) RegisterSecretary(router fiber.Router) {
	router.Get("", h.queue)
	router.Post("", h.create)
}

// RegisterWorkflow attaches the routes used by the faculty level reviewers.
func (h *CoverLetterHandler) RegisterWorkflow(router fiber.Router) {
	router.Get("", h.queue)
	router.Get("/:entryId", h.get)
	router.Post("/:entryId/advance", h.advance)
}

func (h *CoverLetterHandler) queue(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	response, err := h.service.Queue(c.UserContext(), activityActorFromContext(c))
	if err != nil {
		return writeServiceError(c, logger, err, "failed to load cover letter queue")
	}

	return utils.OK(c, response.Items, "cover letter queue", fiber.Map{
		"stage":      response.Stage,
		"department": response.Department,
		"count":      response.Count,
		"cache_hit":  response.CacheHit,
	})
}

func (h *CoverLetterHandler) get(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	entryID := strings.TrimSpace(c.Params("entryId"))
	if entryID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "entry id is required")
	}

	response, err := h.service.Get(c.UserContext(), entryID, activityActorFromContext(c))
	if err != nil {
		return writeServiceError(c, logger, err, "failed to load cover letter")
	}

	return utils.SendSuccess(c, "cover letter", response)
}

func (h *CoverLetterHandler) create(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	var payload dto.CoverLetterCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.service.Create(c.UserContext(), payload, activityActorFromContext(c))
	if err != nil {
		return writeServiceError(c, logger, err, "failed to create cover letter")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "cover letter created", response)
}

func (h *CoverLetterHandler) sign(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	entryID := strings.TrimSpace(c.Params("entryId"))
	if entryID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "entry id is required")
	}

	actor := activityActorFromContext(c)
	response, err := h.service.Sign(c.UserContext(), entryID, actor)
	if err != nil {
		return writeServiceError(c, logger, err, "failed to sign cover letter")
	}

	logger.Info().Str("entry_id", entryID).Str("actor_id", actor.ID).Msg("cover letter signed")
	return utils.SendSuccess(c, response.Message, response.CoverLetter)
}

func (h *CoverLetterHandler) advance(c *fiber.Ctx) error {
	logger := requestLogger(h.logger, c)

	entryID := strings.TrimSpace(c.Params("entryId"))
	if entryID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "entry id is required")
	}

	response, err := h.service.Advance(c.UserContext(), entryID, activityActorFromContext(c))
	if err != nil {
		return writeServiceError(c, logger, err, "failed to advance cover letter")
	}

	return utils.SendSuccess(c, response.Message, response.CoverLetter)
}
