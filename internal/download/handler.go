package download

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/biosync/biosync/internal/store"
)

// Handler exposes the download endpoint.
type Handler struct {
	provider *Provider
}

// NewHandler constructs a download handler.
func NewHandler(provider *Provider) *Handler {
	return &Handler{provider: provider}
}

type downloadRequest struct {
	DeviceID string `json:"dispositivo_id"`
	LastSync string `json:"ultima_sync"`
}

// Download returns the full snapshot for the session identity.
func (h *Handler) Download(c *fiber.Ctx) error {
	var req downloadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	uid, _ := c.Locals("identity_id").(string)
	reqID, _ := c.Locals("request_id").(string)

	snap, err := h.provider.Snapshot(c.UserContext(), Request{
		IdentityID: uid,
		DeviceID:   req.DeviceID,
		RequestID:  reqID,
		LastSync:   req.LastSync,
	})
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return fiber.NewError(http.StatusServiceUnavailable, "datastore unavailable")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":   true,
		"timestamp": snap.GeneratedAt.Format(time.RFC3339),
		"id_sync":   snap.AttemptID,
		"datos":     snap.Encoded,
	})
}
