package status

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/biosync/biosync/internal/store"
)

// Handler exposes the read-only status endpoints.
type Handler struct {
	agg *Aggregator
}

func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

type summaryResponse struct {
	IdentityID    string     `json:"id_usuario"`
	LastSyncAt    *time.Time `json:"fecha_ultima_sync"`
	LastOutcome   string     `json:"estado_sync,omitempty"`
	LastDirection string     `json:"direccion,omitempty"`
	Attempts      int        `json:"total_sincronizaciones"`
	Pending       int        `json:"cola_pendientes"`
	Sent          int        `json:"cola_enviados"`
	Failed        int        `json:"cola_fallidos"`
	OpenConflicts int        `json:"conflictos_abiertos"`
	Checkpoints   int        `json:"checkpoints"`
}

type attemptResponse struct {
	ID         string    `json:"id_sync"`
	DeviceID   string    `json:"dispositivo_id"`
	Direction  string    `json:"direccion"`
	Outcome    string    `json:"estado_sync"`
	Items      int       `json:"cantidad_items"`
	Errors     int       `json:"cantidad_errores"`
	Message    string    `json:"mensaje_error,omitempty"`
	Bytes      int64     `json:"tamano_bytes"`
	DurationMS int64     `json:"duracion_ms"`
	CreatedAt  time.Time `json:"fecha_ultima_sync"`
}

func toSummary(s Summary) summaryResponse {
	return summaryResponse{
		IdentityID:    s.IdentityID,
		LastSyncAt:    s.LastSyncAt,
		LastOutcome:   s.LastOutcome,
		LastDirection: s.LastDirection,
		Attempts:      s.Attempts,
		Pending:       s.Queue.Pending,
		Sent:          s.Queue.Sent,
		Failed:        s.Queue.Failed,
		OpenConflicts: s.OpenConflicts,
		Checkpoints:   s.Checkpoints,
	}
}

// History returns the caller's last ten sync attempts with a summary.
func (h *Handler) History(c *fiber.Ctx) error {
	uid, _ := c.Locals("identity_id").(string)
	ctx := c.UserContext()
	recs, err := h.agg.History(ctx, uid, 10)
	if err != nil {
		return mapError(err)
	}
	summary, err := h.agg.Summary(ctx, uid)
	if err != nil {
		return mapError(err)
	}
	out := make([]attemptResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, attemptResponse{
			ID:         r.ID,
			DeviceID:   r.DeviceID,
			Direction:  r.Direction,
			Outcome:    r.Outcome,
			Items:      r.Items,
			Errors:     r.Errors,
			Message:    r.ErrorMessage,
			Bytes:      r.Bytes,
			DurationMS: r.Duration.Milliseconds(),
			CreatedAt:  r.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":          true,
		"sincronizaciones": out,
		"resumen":          toSummary(summary),
	})
}

// Status returns the caller's summary, or every identity's with ?scope=all.
func (h *Handler) Status(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if c.Query("scope") == "all" {
		all, err := h.agg.All(ctx)
		if err != nil {
			return mapError(err)
		}
		out := make([]summaryResponse, 0, len(all))
		for _, s := range all {
			out = append(out, toSummary(s))
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "estados": out})
	}
	uid, _ := c.Locals("identity_id").(string)
	s, err := h.agg.Summary(ctx, uid)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "estado": toSummary(s)})
}

func mapError(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	}
	return fiber.NewError(http.StatusInternalServerError, err.Error())
}
