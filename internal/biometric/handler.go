package biometric

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/biosync/biosync/internal/store"
)

// Handler exposes credential integrity checks.
type Handler struct {
	service *Service
}

// NewHandler constructs a biometric handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Verify recomputes a credential hash. The caller must own the credential.
func (h *Handler) Verify(c *fiber.Ctx) error {
	uid, _ := c.Locals("identity_id").(string)
	cred, err := h.service.Verify(c.UserContext(), c.Params("credentialId"), c.Query("hash"))
	if err == nil && cred.IdentityID != uid {
		err = store.ErrNotFound
	}
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fiber.NewError(http.StatusNotFound, "credential not found")
		case errors.Is(err, store.ErrIntegrity):
			return c.Status(http.StatusConflict).JSON(fiber.Map{
				"id_credencial":   cred.ID,
				"valido":          false,
				"hash_almacenado": cred.IntegrityHash,
				"hash_calculado":  Hash(cred.Template),
			})
		case errors.Is(err, store.ErrUnavailable):
			return fiber.NewError(http.StatusServiceUnavailable, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"id_credencial":   cred.ID,
		"valido":          true,
		"hash_almacenado": cred.IntegrityHash,
	})
}
