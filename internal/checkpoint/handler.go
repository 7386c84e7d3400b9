package checkpoint

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/biosync/biosync/internal/store"
)

// Handler exposes checkpoint endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a checkpoint handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	DeviceID string `json:"dispositivo_id"`
	Label    string `json:"etiqueta"`
	Notes    string `json:"notas"`
}

type checkpointResponse struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"dispositivo_id"`
	Label     string    `json:"etiqueta,omitempty"`
	Notes     string    `json:"notas,omitempty"`
	CreatedAt time.Time `json:"fecha_creacion"`
}

// Create records a checkpoint for the caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("identity_id").(string)
	cp, err := h.service.Create(c.UserContext(), uid, req.DeviceID, req.Label, req.Notes)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"success": true, "checkpoint": toResponse(cp)})
}

// List returns the caller's checkpoints, newest first.
func (h *Handler) List(c *fiber.Ctx) error {
	uid, _ := c.Locals("identity_id").(string)
	cps, err := h.service.List(c.UserContext(), uid, c.Query("dispositivo_id"), c.QueryInt("limit", defaultListLimit))
	if err != nil {
		return mapError(err)
	}
	out := make([]checkpointResponse, 0, len(cps))
	for _, cp := range cps {
		out = append(out, toResponse(cp))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "checkpoints": out})
}

func toResponse(cp Checkpoint) checkpointResponse {
	return checkpointResponse{ID: cp.ID, DeviceID: cp.DeviceID, Label: cp.Label, Notes: cp.Notes, CreatedAt: cp.CreatedAt}
}

func mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrInvalid):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
