package reconcile

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/biosync/biosync/internal/store"
)

// Handler exposes the upload endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs an upload handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Upload ingests a device batch. The session is optional: anonymous devices may
// register identities offline.
func (h *Handler) Upload(c *fiber.Ctx) error {
	var req UploadRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	uid, _ := c.Locals("identity_id").(string)
	reqID, _ := c.Locals("request_id").(string)

	res, err := h.service.Upload(c.UserContext(), UploadInput{
		DeviceID:    req.DeviceID,
		IdentityID:  uid,
		RequestID:   reqID,
		Creations:   req.Creations,
		Validations: req.Validations,
		Bytes:       int64(len(c.Body())),
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalid):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrUnavailable):
			return fiber.NewError(http.StatusServiceUnavailable, "datastore unavailable")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	mappings := make([]mappingResponse, 0, len(res.Mappings))
	for _, m := range res.Mappings {
		mappings = append(mappings, mappingResponse{
			LocalUUID:   m.LocalUUID,
			EntityType:  m.EntityType,
			RemoteID:    m.RemoteID,
			ClientRef:   m.ClientRef,
			QueueItemID: m.QueueItemID,
			Replayed:    m.Replayed,
		})
	}
	body := fiber.Map{
		"success":   true,
		"id_sync":   res.AttemptID,
		"exitosas":  res.Succeeded,
		"mappings":  mappings,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(res.Errors) > 0 {
		errs := make([]itemErrorResponse, 0, len(res.Errors))
		for _, e := range res.Errors {
			errs = append(errs, itemErrorResponse(e))
		}
		body["errores"] = errs
	}
	return c.Status(http.StatusOK).JSON(body)
}
