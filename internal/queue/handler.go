package queue

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/biosync/biosync/internal/store"
)

// Handler exposes queue endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a queue handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type itemResponse struct {
	ID          string     `json:"id_cola"`
	EntityType  string     `json:"tipo_entidad"`
	EntityID    string     `json:"id_entidad"`
	Operation   string     `json:"operacion"`
	Payload     any        `json:"datos_json,omitempty"`
	DeviceID    string     `json:"dispositivo_id"`
	ClientRef   string     `json:"referencia_cliente,omitempty"`
	Attempts    int        `json:"intentos_envio"`
	NextRetryAt *time.Time `json:"proximo_reintento,omitempty"`
	State       string     `json:"estado"`
	CreatedAt   time.Time  `json:"fecha_creacion"`
}

func toResponse(item Item) itemResponse {
	var payload any
	if len(item.Payload) > 0 {
		payload = item.Payload
	}
	return itemResponse{
		ID:          item.ID,
		EntityType:  item.EntityType,
		EntityID:    item.EntityID,
		Operation:   item.Operation,
		Payload:     payload,
		DeviceID:    item.DeviceID,
		ClientRef:   item.ClientRef,
		Attempts:    item.Attempts,
		NextRetryAt: item.NextRetryAt,
		State:       item.State,
		CreatedAt:   item.CreatedAt,
	}
}

// Pending lists the caller's pending queue.
func (h *Handler) Pending(c *fiber.Ctx) error {
	uid, _ := c.Locals("identity_id").(string)
	items, err := h.service.ListPending(c.UserContext(), uid, c.Query("dispositivo_id"), c.QueryInt("limit", defaultPageSize))
	if err != nil {
		return mapError(err)
	}
	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toResponse(item))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":    true,
		"cola":       out,
		"pendientes": len(out),
	})
}

type confirmRequest struct {
	IDs []string `json:"ids_cola"`
}

// Confirm marks queue items as delivered. The route is open; a session, when present,
// restricts confirmation to the caller's own items.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.IDs == nil {
		return fiber.NewError(http.StatusBadRequest, "ids_cola must be an array")
	}
	uid, _ := c.Locals("identity_id").(string)
	n, err := h.service.MarkSent(c.UserContext(), uid, req.IDs)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "confirmados": n})
}

// Retry requeues a single item.
func (h *Handler) Retry(c *fiber.Ctx) error {
	uid, _ := c.Locals("identity_id").(string)
	item, err := h.service.Requeue(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrRetriesExhausted) {
			return c.Status(http.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "retries exhausted",
				"item":    toResponse(item),
			})
		}
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success": true,
		"mensaje": "retry scheduled",
		"item":    toResponse(item),
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "queue item not found")
	case errors.Is(err, store.ErrUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
