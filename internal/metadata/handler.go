package metadata

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/biosync/biosync/internal/store"
)

// Handler exposes the sync flag endpoints backed by the tracker.
type Handler struct {
	tracker *Tracker
}

// NewHandler constructs a metadata handler.
func NewHandler(tracker *Tracker) *Handler {
	return &Handler{tracker: tracker}
}

type recordResponse struct {
	ID           string     `json:"id_metadata"`
	EntityType   string     `json:"tipo_entidad"`
	EntityID     string     `json:"id_entidad"`
	DeviceID     string     `json:"dispositivo_id"`
	LastModified time.Time  `json:"fecha_modificacion"`
	State        string     `json:"estado_sync"`
	Conflict     bool       `json:"tiene_conflicto"`
	Resolution   string     `json:"resolucion_conflicto,omitempty"`
	SyncedAt     *time.Time `json:"fecha_sincronizacion,omitempty"`
}

func toResponse(rec Record) recordResponse {
	return recordResponse{
		ID:           rec.ID,
		EntityType:   rec.EntityType,
		EntityID:     rec.EntityID,
		DeviceID:     rec.DeviceID,
		LastModified: rec.LastModified,
		State:        rec.State,
		Conflict:     rec.Conflict,
		Resolution:   rec.Resolution,
		SyncedAt:     rec.SyncedAt,
	}
}

func toResponses(recs []Record) []recordResponse {
	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec))
	}
	return out
}

// Pending returns the pending set of a device.
func (h *Handler) Pending(c *fiber.Ctx) error {
	uid, _ := c.Locals("identity_id").(string)
	device := c.Query("dispositivo_id")
	if device == "" {
		return fiber.NewError(http.StatusBadRequest, "dispositivo_id is required")
	}
	recs, err := h.tracker.Pending(c.UserContext(), uid, device, c.Query("tipo_entidad"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":    true,
		"pendientes": toResponses(recs),
		"total":      len(recs),
	})
}

// Conflicts lists the caller's open conflicts.
func (h *Handler) Conflicts(c *fiber.Ctx) error {
	uid, _ := c.Locals("identity_id").(string)
	recs, err := h.tracker.Conflicts(c.UserContext(), uid, c.Query("dispositivo_id"))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":    true,
		"conflictos": toResponses(recs),
		"total":      len(recs),
	})
}

type markItem struct {
	EntityType string     `json:"tipo_entidad"`
	EntityID   string     `json:"id_entidad"`
	ModifiedAt *time.Time `json:"fecha_modificacion"`
}

type markRequest struct {
	DeviceID string `json:"dispositivo_id"`
	markItem
	Items []markItem `json:"items"`
}

type markResult struct {
	EntityType string `json:"tipo_entidad"`
	EntityID   string `json:"id_entidad"`
	Synced     bool   `json:"sincronizado"`
	Conflict   bool   `json:"tiene_conflicto"`
	Error      string `json:"error,omitempty"`
}

// MarkSynced records that the device holds the given entities. An item carrying a
// modification time is touched first so concurrent writers surface as conflicts.
func (h *Handler) MarkSynced(c *fiber.Ctx) error {
	var req markRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.DeviceID == "" {
		return fiber.NewError(http.StatusBadRequest, "dispositivo_id is required")
	}
	items := req.Items
	if len(items) == 0 {
		if req.EntityType == "" || req.EntityID == "" {
			return fiber.NewError(http.StatusBadRequest, "tipo_entidad and id_entidad are required")
		}
		items = []markItem{req.markItem}
	}

	uid, _ := c.Locals("identity_id").(string)
	ctx := c.UserContext()
	results := make([]markResult, 0, len(items))
	synced := 0
	for _, item := range items {
		res := markResult{EntityType: item.EntityType, EntityID: item.EntityID}
		if item.ModifiedAt != nil {
			rec, err := h.tracker.Touch(ctx, Touch{
				EntityType: item.EntityType,
				EntityID:   item.EntityID,
				IdentityID: uid,
				DeviceID:   req.DeviceID,
				ModifiedAt: *item.ModifiedAt,
			})
			if errors.Is(err, store.ErrUnavailable) {
				return mapError(err)
			}
			if err != nil {
				res.Error = err.Error()
				results = append(results, res)
				continue
			}
			res.Conflict = rec.Conflict
		}
		ok, err := h.tracker.MarkSynced(ctx, item.EntityType, item.EntityID, req.DeviceID)
		if errors.Is(err, store.ErrUnavailable) {
			return mapError(err)
		}
		if err != nil {
			res.Error = err.Error()
		}
		res.Synced = ok
		res.Conflict = res.Conflict || (!ok && err == nil)
		if ok {
			synced++
		}
		results = append(results, res)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":  true,
		"exitosos": synced,
		"fallidos": len(items) - synced,
		"detalles": results,
	})
}

type resolveRequest struct {
	MetadataID string `json:"id_metadata"`
	Strategy   string `json:"resolucion"`
}

// Resolve clears a conflict with the given strategy.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.MetadataID == "" {
		return fiber.NewError(http.StatusBadRequest, "id_metadata is required")
	}
	uid, _ := c.Locals("identity_id").(string)
	rec, err := h.tracker.repo.Get(c.UserContext(), req.MetadataID)
	if err == nil && rec.IdentityID != uid {
		err = store.ErrNotFound
	}
	if err == nil {
		rec, err = h.tracker.ResolveConflict(c.UserContext(), req.MetadataID, req.Strategy)
	}
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"success": true, "metadata": toResponse(rec)})
}

type pruneRequest struct {
	ActiveDevices []string `json:"dispositivos_activos"`
}

// Prune drops metadata of devices the caller no longer uses.
func (h *Handler) Prune(c *fiber.Ctx) error {
	var req pruneRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.ActiveDevices == nil {
		return fiber.NewError(http.StatusBadRequest, "dispositivos_activos must be an array")
	}
	uid, _ := c.Locals("identity_id").(string)
	devices, n, err := h.tracker.PruneDevices(c.UserContext(), uid, req.ActiveDevices)
	if err != nil {
		return mapError(err)
	}
	if devices == nil {
		devices = []string{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"success":      true,
		"eliminados":   len(devices),
		"registros":    n,
		"dispositivos": devices,
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrInvalid):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "metadata not found")
	case errors.Is(err, store.ErrUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
